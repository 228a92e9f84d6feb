// Package ingest feeds raw platform payloads from the configured adapters
// into a single pipeline goroutine that normalizes and routes them.
package ingest

import (
	"context"
	"log/slog"
	"time"
)

// SendNonBlocking hands env to the pipeline, dropping it when the channel is
// full.
func SendNonBlocking(ctx context.Context, out chan<- Envelope, env Envelope, logger *slog.Logger) bool {
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = time.Now()
	}
	select {
	case out <- env:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "platform", env.Platform, "source", env.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
