package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// SessionLister is the subset of session.Service the status server needs,
// narrowed so this package doesn't import session and create a cycle.
type SessionLister interface {
	ListSummaries() []SessionSummary
}

// SessionSummary is the status server's read-only view of one session.
type SessionSummary struct {
	ID             string    `json:"id"`
	TasksTotal     int       `json:"tasks_total"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksFailed    int       `json:"tasks_failed"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// StatusServer is the optional local HTTP server started with
// --status-addr, mirroring the teacher's Server lifecycle shape
// (NewServer/Start/Shutdown over an explicit net.Listener) but serving
// plain HTTP via chi instead of gRPC.
type StatusServer struct {
	addr     string
	sessions SessionLister
	metrics  *Metrics
	srv      *http.Server
}

func NewStatusServer(addr string, sessions SessionLister, metrics *Metrics) *StatusServer {
	return &StatusServer{addr: addr, sessions: sessions, metrics: metrics}
}

func (s *StatusServer) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/sessions", s.handleSessions)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	return r
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *StatusServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.sessions == nil {
		_ = json.NewEncoder(w).Encode([]SessionSummary{})
		return
	}
	_ = json.NewEncoder(w).Encode(s.sessions.ListSummaries())
}

// Start listens on Addr and serves in the background; it returns once the
// listener is bound so callers know the server is actually up.
func (s *StatusServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("observability: listen on %s: %w", s.addr, err)
	}
	s.srv = &http.Server{Handler: s.router()}
	go func() { _ = s.srv.Serve(listener) }()
	return nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
