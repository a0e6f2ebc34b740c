package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleHealth reports liveness plus the workflow diagnostics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	diag, err := s.svc.Diagnostics(r.Context())
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"details":   diag,
	})
}

// handleListThreads returns a summary of every known thread.
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.svc.ListThreads(r.Context())
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// handleThreadState returns the sanitized snapshot for one thread.
func (s *Server) handleThreadState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.GetState(r.Context(), r.PathValue("thread_id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStartResearch launches a new research thread and runs it until the
// plan review pause or completion.
func (s *Server) handleStartResearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	outcome, err := s.svc.StartResearch(r.Context(), "", body.Query)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runOutcomePayload(outcome))
}

// handleResume answers a pending pause and runs the thread forward.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision string         `json:"decision"`
		Plan     map[string]any `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	outcome, err := s.svc.ResumeResearch(r.Context(), r.PathValue("thread_id"), body.Decision, body.Plan)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runOutcomePayload(outcome))
}
