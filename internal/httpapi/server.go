// Package httpapi exposes the research workflow over HTTP: a small JSON API,
// an SSE event stream per thread, and the interactive WebSocket session the
// frontend drives. All handlers delegate to service.WorkflowService.
package httpapi

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/Milix-M/DeepReSearch/internal/service"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Config holds the dependencies and settings for the HTTP server.
type Config struct {
	Service *service.WorkflowService
	// AllowOrigins is the CORS allow-list. Requests from other origins get
	// no CORS headers and fail the browser's check.
	AllowOrigins []string
	Logger       *slog.Logger
}

// Server routes HTTP traffic to the workflow service.
type Server struct {
	svc     *service.WorkflowService
	origins map[string]struct{}
	logger  *slog.Logger
}

// New builds a Server. The workflow service is required.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "httpapi requires a workflow service")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	origins := make(map[string]struct{}, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		if o != "" {
			origins[o] = struct{}{}
		}
	}
	return &Server{svc: cfg.Service, origins: origins, logger: cfg.Logger}, nil
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /threads", s.handleListThreads)
	mux.HandleFunc("GET /threads/{thread_id}/state", s.handleThreadState)
	mux.HandleFunc("GET /threads/{thread_id}/events", s.handleThreadEvents)
	mux.HandleFunc("POST /research", s.handleStartResearch)
	mux.HandleFunc("POST /threads/{thread_id}/resume", s.handleResume)

	mux.HandleFunc("GET /ws/research", s.handleResearchSocket)

	return s.cors(mux)
}

// cors applies the allow-list. Preflight requests are answered here so the
// mux never sees OPTIONS.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if _, ok := s.origins[origin]; ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
