// Package server exposes health probes, the status document and a delayed
// playback feed over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/delaycam/framebuffer"
)

const (
	shutdownTimeout = 5 * time.Second
	writeTimeout    = 5 * time.Second
	pollInterval    = 10 * time.Millisecond
)

// Backend is the running delaycam as seen by the HTTP surface.
type Backend interface {
	// Ready reports whether a camera is delivering frames
	Ready() bool
	// Status returns the status document
	Status() map[string]any
	// Delayed returns the frames with after < timestamp ≤ newest-delay,
	// oldest first
	Delayed(after, delay time.Duration) []framebuffer.Frame
	// Window returns the configured delay window
	Window() time.Duration
}

// Server serves /health, /readiness, /status and /ws/playback.
type Server struct {
	addr     string
	backend  Backend
	upgrader websocket.Upgrader
	started  time.Time
	poll     time.Duration

	viewers atomic.Int64
}

// New creates a server for addr.
func New(addr string, backend Backend) *Server {
	return &Server{
		addr:    addr,
		backend: backend,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
		poll:    pollInterval,
	}
}

// Viewers returns the number of connected playback clients.
func (s *Server) Viewers() int64 {
	return s.viewers.Load()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws/playback", s.handlePlayback)
	return mux
}

// Run listens on the configured address and serves until ctx is cancelled.
// A bind failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	slog.Info("server: stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if !s.backend.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	doc := s.backend.Status()
	doc["viewers"] = s.viewers.Load()
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: failed to write response", "error", err)
	}
}
