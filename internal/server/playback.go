package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/delaycam/framebuffer"
	"github.com/e7canasta/delaycam/internal/export"
)

// ParseDelay reads the delay query value. Empty means the full window;
// values above the window are clamped to it.
func ParseDelay(raw string, window time.Duration) (time.Duration, error) {
	if raw == "" {
		return window, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid delay %q: negative", raw)
	}
	if d > window {
		d = window
	}
	return d, nil
}

// cursor tracks what a viewer has already been sent.
type cursor struct {
	delay time.Duration
	last  time.Duration
	begun bool
}

// after is the timestamp the next fetch starts from.
func (c *cursor) after() time.Duration {
	if !c.begun {
		return math.MinInt64
	}
	return c.last
}

// advance takes the frames that became due since the last call. The first
// call keeps only the newest one so a viewer does not receive the whole
// backlog.
func (c *cursor) advance(frames []framebuffer.Frame) []framebuffer.Frame {
	if len(frames) == 0 {
		return nil
	}
	if !c.begun {
		frames = frames[len(frames)-1:]
		c.begun = true
	}
	c.last = frames[len(frames)-1].Timestamp
	return frames
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	delay, err := ParseDelay(r.URL.Query().Get("delay"), s.backend.Window())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	s.viewers.Add(1)
	defer s.viewers.Add(-1)

	slog.Info("server: playback viewer connected", "remote", r.RemoteAddr, "delay", delay)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent, err := s.stream(ctx, conn, delay)
	slog.Info("server: playback viewer disconnected",
		"remote", r.RemoteAddr,
		"frames_sent", sent,
		"error", err)
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, delay time.Duration) (int, error) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	cur := &cursor{delay: delay}
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}

		for _, f := range cur.advance(s.backend.Delayed(cur.after(), cur.delay)) {
			payload, err := export.MarshalFrame(f)
			if err != nil {
				return sent, err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return sent, fmt.Errorf("server: write frame %d: %w", f.Seq, err)
			}
			sent++
		}
	}
}
