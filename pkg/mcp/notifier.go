package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// ThreadNotifier pushes progress notifications to the session driving a thread.
type ThreadNotifier interface {
	Notify(ctx context.Context, threadID string, payload map[string]any) error
}

// MCPNotifier implements ThreadNotifier using MCP push notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes over the thread's MCP session.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the session that owns the thread.
// Best-effort: returns nil if no session is mapped.
func (n *MCPNotifier) Notify(_ context.Context, threadID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(threadID)
	if !ok {
		return nil // no session captured, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
