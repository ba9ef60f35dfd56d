package gstpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig configures exponential backoff.
type ReconnectConfig struct {
	MaxRetries    int           // default 5
	RetryDelay    time.Duration // default 1s
	MaxRetryDelay time.Duration // default 30s
}

// DefaultReconnectConfig returns 5 retries starting at 1s, capped at 30s.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// ReconnectState tracks retries across attempts.
type ReconnectState struct {
	currentRetries int32
	Reconnects     *uint32 // atomic, total attempts
}

// NewReconnectState returns a zeroed state.
func NewReconnectState() *ReconnectState {
	return &ReconnectState{Reconnects: new(uint32)}
}

// Retries returns the consecutive failures since the last reset.
func (s *ReconnectState) Retries() int {
	return int(atomic.LoadInt32(&s.currentRetries))
}

// Reset clears the consecutive failure count. Called once the pipeline
// reaches PLAYING again.
func (s *ReconnectState) Reset() {
	atomic.StoreInt32(&s.currentRetries, 0)
}

// ConnectFunc runs one connection attempt until it fails or ctx ends. A nil
// return means a clean stop.
type ConnectFunc func(ctx context.Context) error

// PermanentError wraps an error that must not be retried.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// RunWithReconnect calls connectFn until it returns nil, returns a
// *PermanentError, ctx ends, or MaxRetries consecutive failures occur.
//
// Backoff: RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func RunWithReconnect(ctx context.Context, connectFn ConnectFunc, cfg ReconnectConfig, state *ReconnectState) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := connectFn(ctx)
		if err == nil {
			state.Reset()
			return nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			slog.Error("gstpipe: unrecoverable pipeline error", "error", perm.Err)
			return perm.Err
		}

		attempt := int(atomic.AddInt32(&state.currentRetries, 1))
		atomic.AddUint32(state.Reconnects, 1)

		if attempt > cfg.MaxRetries {
			return fmt.Errorf("gstpipe: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := CalculateBackoff(attempt, cfg)
		slog.Warn("gstpipe: retrying pipeline",
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// CalculateBackoff returns the delay before the given (1-based) attempt.
func CalculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxRetryDelay {
			return cfg.MaxRetryDelay
		}
	}
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
