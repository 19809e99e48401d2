// Package sweeper periodically retires expired credentials.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"chatroom/internal/dto"
)

// Sweeper is the part of the token service the loop needs.
type Sweeper interface {
	Sweep(ctx context.Context) (dto.SweepResult, error)
}

// Run sweeps every interval until ctx is done. A failed sweep is logged and
// the loop waits for the next tick.
func Run(ctx context.Context, s Sweeper, interval, timeout time.Duration) {
	if interval <= 0 {
		slog.Info("credential sweeper disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			Once(ctx, s, timeout)
		case <-ctx.Done():
			return
		}
	}
}

// Once runs a single bounded sweep.
func Once(ctx context.Context, s Sweeper, timeout time.Duration) (dto.SweepResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.Sweep(ctx)
	if err != nil {
		slog.Warn("credential sweep failed", "error", err)
		return res, err
	}
	if res.Expired > 0 || res.Purged > 0 {
		slog.Info("credential sweep", "expired", res.Expired, "purged", res.Purged)
	}
	return res, nil
}
