package core

// scheduler.go runs periodic maintenance tasks such as the rate limiter
// janitor. Jobs are context-aware for graceful shutdown and never fail the
// application.

import (
	"context"
	"log/slog"
	"time"
)

// RunEvery calls job every interval until ctx is cancelled.
func RunEvery(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	if interval <= 0 {
		return
	}
	slog.Info("scheduler started", "job", name, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped", "job", name)
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// SweepJob adapts a limiter's Sweep for RunEvery.
func SweepJob(l *SlidingWindowLimiter) func(context.Context) {
	return func(context.Context) {
		if n := l.Sweep(); n > 0 {
			slog.Debug("rate limiter swept idle keys", "dropped", n, "remaining", l.Keys())
		}
	}
}
