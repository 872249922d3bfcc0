package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rzbill/historykit/internal/runtime"
	"github.com/rzbill/historykit/pkg/kit"
	logpkg "github.com/rzbill/historykit/pkg/log"
)

const shutdownTimeout = 5 * time.Second

// Server serves the ops endpoints of a running kit.
type Server struct {
	rt     *runtime.Runtime
	kit    *kit.Kit
	logger logpkg.Logger
	srv    *http.Server

	mu  sync.Mutex
	lis net.Listener
}

// StatusResponse is the body of /v1/status.
type StatusResponse struct {
	Kit        string            `json:"kit"`
	Author     string            `json:"author"`
	Running    bool              `json:"running"`
	Store      string            `json:"store"`
	Strategy   string            `json:"strategy"`
	Timestamps map[string]string `json:"timestamps"`
	Watermark  string            `json:"watermark,omitempty"`
}

// New builds a Server over rt and k. A nil logger discards output.
func New(rt *runtime.Runtime, k *kit.Kit, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	mux := http.NewServeMux()
	s := &Server{
		rt:     rt,
		kit:    k,
		logger: logger.WithComponent("http"),
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.Handle("/metrics", rt.Metrics().Handler())
	return s
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lis = l
	s.mu.Unlock()
	s.logger.Info("ops endpoint listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound address once listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Close closes the listener, which makes ListenAndServe return.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		s.logger.Warn("health check failed", logpkg.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cfg := s.rt.Config()
	tm := s.kit.Timestamps()
	snap, err := tm.Snapshot(r.Context(), cfg.Kit.Authors)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := StatusResponse{
		Kit:        s.kit.ID(),
		Author:     cfg.Kit.CurrentAuthor,
		Running:    s.kit.Running(),
		Store:      s.rt.History().Store(),
		Strategy:   s.rt.Strategy().String(),
		Timestamps: make(map[string]string, len(snap)),
	}
	for a, ts := range snap {
		resp.Timestamps[a] = formatTime(ts)
	}
	wm, err := tm.CommonSafeTimestamp(r.Context(), cfg.Kit.Authors, cfg.Kit.BatchAuthors)
	if err == nil {
		resp.Watermark = formatTime(wm)
	}
	writeJSON(w, http.StatusOK, resp)
}

func formatTime(t time.Time) string {
	if t.Equal(kit.DistantPast) {
		return "never"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
