// Package mcp exposes the research workflow over the Model Context Protocol
// so agent clients can drive threads through a stdio transport.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Milix-M/DeepReSearch/internal/service"
)

// ResearchServerDeps holds the dependencies for creating a ResearchServer.
type ResearchServerDeps struct {
	Service *service.WorkflowService
	Logger  *slog.Logger
}

// ResearchServer wraps an MCP server with research workflow tool handlers.
type ResearchServer struct {
	svc       *service.WorkflowService
	sessions  *SessionRegistry
	notifier  ThreadNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewResearchServer creates a ResearchServer with all 4 tools registered.
func NewResearchServer(deps ResearchServerDeps) *ResearchServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ResearchServer{
		svc:      deps.Service,
		sessions: NewSessionRegistry(),
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"deepresearch",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("DeepReSearch runs multi-step research workflows with an optional plan review pause. Use start_research to open a thread (mode 'review' pauses for plan approval, mode 'auto' runs to completion), resume_research to answer a pending review with 'y' or 'n' and an optional replacement plan, get_research_state to inspect a thread, and list_research_threads to enumerate threads."),
	)

	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ResearchServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ResearchServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *ResearchServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startResearchTool(), Handler: s.handleStartResearch},
		{Tool: resumeResearchTool(), Handler: s.handleResumeResearch},
		{Tool: getStateTool(), Handler: s.handleGetState},
		{Tool: listThreadsTool(), Handler: s.handleListThreads},
	}
}

// --- Tool definitions ---

func startResearchTool() mcp.Tool {
	return mcp.NewTool("start_research",
		mcp.WithDescription("Start a research thread for a query"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Research question to investigate")),
		mcp.WithString("thread_id", mcp.Description("Thread id to use (default: generated UUID)")),
		mcp.WithString("mode",
			mcp.Enum(modeReview, modeAuto),
			mcp.Description("review pauses for plan approval, auto answers the review with the default decision (default: review)"),
		),
	)
}

func resumeResearchTool() mcp.Tool {
	return mcp.NewTool("resume_research",
		mcp.WithDescription("Answer a thread's pending plan review"),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("ID of the paused thread")),
		mcp.WithString("decision", mcp.Required(), mcp.Description("'y' requests plan edits, 'n' continues with the generated plan")),
		mcp.WithObject("plan", mcp.Description("Replacement plan document applied before the thread continues")),
	)
}

func getStateTool() mcp.Tool {
	return mcp.NewTool("get_research_state",
		mcp.WithDescription("Get a research thread's status and state snapshot"),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("ID of the thread to inspect")),
	)
}

func listThreadsTool() mcp.Tool {
	return mcp.NewTool("list_research_threads",
		mcp.WithDescription("List known research threads"),
		mcp.WithString("filter",
			mcp.Enum(filterAll, filterPendingReview),
			mcp.Description("all lists every thread, pending_review only threads awaiting plan review (default: all)"),
		),
	)
}
