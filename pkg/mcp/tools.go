package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/events"
	"github.com/Milix-M/DeepReSearch/internal/streaming"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

const (
	modeReview = "review"
	modeAuto   = "auto"

	filterAll           = "all"
	filterPendingReview = "pending_review"
)

// handleStartResearch opens a new research thread and runs it until it
// pauses or finishes.
func (s *ResearchServer) handleStartResearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}
	mode := req.GetString("mode", modeReview)
	if mode != modeReview && mode != modeAuto {
		return mcp.NewToolResultError("mode must be review or auto"), nil
	}
	threadID := req.GetString("thread_id", "")
	if threadID == "" {
		threadID = s.svc.NewThreadID()
	}

	// Map the session before the run so in-flight notifications find it.
	s.captureSession(ctx, threadID)
	stop := s.relayEvents(ctx, threadID)
	defer stop()

	var outcome *engine.RunOutcome
	var runErr error
	if mode == modeAuto {
		outcome, runErr = s.svc.RunAuto(ctx, threadID, query)
	} else {
		outcome, runErr = s.svc.StartResearch(ctx, threadID, query)
	}
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("research failed: %v", runErr)), nil
	}

	return marshalResult(outcomePayload(outcome))
}

// handleResumeResearch answers a thread's pending plan review.
func (s *ResearchServer) handleResumeResearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	decision, err := req.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("decision is required"), nil
	}
	plan := mcp.ParseStringMap(req, "plan", nil)

	s.captureSession(ctx, threadID)
	stop := s.relayEvents(ctx, threadID)
	defer stop()

	outcome, runErr := s.svc.ResumeResearch(ctx, threadID, decision, plan)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", runErr)), nil
	}

	return marshalResult(outcomePayload(outcome))
}

// handleGetState returns the thread's snapshot.
func (s *ResearchServer) handleGetState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError("thread_id is required"), nil
	}

	snapshot, snapErr := s.svc.GetState(ctx, threadID)
	if snapErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("state lookup failed: %v", snapErr)), nil
	}

	return marshalResult(snapshot)
}

// handleListThreads enumerates threads, optionally narrowed to pending reviews.
func (s *ResearchServer) handleListThreads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := req.GetString("filter", filterAll)

	switch filter {
	case filterAll:
		threads, err := s.svc.ListThreads(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"threads": threads})
	case filterPendingReview:
		pending, err := s.svc.ListPendingInterrupts(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"pending_reviews": pending})
	default:
		return mcp.NewToolResultError("filter must be all or pending_review"), nil
	}
}

// --- Internal helpers ---

// relayEvents forwards the thread's progress events to its session while a
// run is in flight. The returned stop function drains the remaining buffered
// events before returning, so every notification is sent by the time the
// handler's result goes out.
func (s *ResearchServer) relayEvents(ctx context.Context, threadID string) func() {
	sub, err := s.svc.Subscribe(ctx, streaming.Filter{ThreadID: threadID})
	if err != nil {
		// No hub configured. Tool results still carry the full event list.
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events {
			if nErr := s.notifier.Notify(ctx, threadID, eventPayload(ev)); nErr != nil {
				s.logger.Warn("progress notification failed",
					slog.String("thread_id", threadID), slog.String("event", ev.Name), slog.String("error", nErr.Error()))
			}
		}
	}()

	return func() {
		s.svc.Unsubscribe(sub.ID)
		<-done
	}
}

// captureSession maps the thread to its MCP session for progress notifications.
func (s *ResearchServer) captureSession(ctx context.Context, threadID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(threadID, session.SessionID())
	}
}

// outcomePayload shapes one engine invocation's result for JSON tool results.
func outcomePayload(outcome *engine.RunOutcome) map[string]any {
	body := map[string]any{
		"thread_id": outcome.ThreadID,
		"status":    outcome.Status,
		"state":     events.Sanitize(outcome.State),
		"events":    outcome.Events,
	}
	if outcome.Interrupt != nil {
		body["pending_interrupt"] = outcome.Interrupt.ExportFields()
	}
	return body
}

// eventPayload renders a progress event as a notification payload.
func eventPayload(ev schema.ProgressEvent) map[string]any {
	payload := map[string]any{
		"thread_id": ev.ThreadID,
		"name":      ev.Name,
		"sequence":  ev.Sequence,
		"timestamp": ev.Timestamp,
	}
	if ev.Step != "" {
		payload["step"] = ev.Step
	}
	if len(ev.Payload) > 0 {
		payload["payload"] = ev.Payload
	}
	if ev.Level != "" {
		payload["level"] = ev.Level
		payload["message"] = ev.Message
	}
	return payload
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
