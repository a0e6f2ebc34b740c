package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Milix-M/DeepReSearch/internal/streaming"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// handleThreadEvents streams a thread's progress events via Server-Sent
// Events. The optional filter query param is a jq expression evaluated
// against each event; only truthy results are delivered.
func (s *Server) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter := streaming.Filter{
		ThreadID:   r.PathValue("thread_id"),
		Expression: r.URL.Query().Get("filter"),
	}
	sub, err := s.svc.Subscribe(r.Context(), filter)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeValidation) {
			writeAgentError(w, err)
			return
		}
		s.logger.Error("SSE subscribe failed", "error", err)
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer s.svc.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, data)
			flusher.Flush()
		}
	}
}
