package alarms

import (
	"context"
	"errors"
	"time"

	"github.com/technosupport/ts-alarms/internal/logger"
)

// SweepInterval is the period of the expiry/refresh pass.
const SweepInterval = time.Second

// RunSweeper calls engine.Sweep on every tick until ctx is cancelled or the
// engine stops.
func RunSweeper(ctx context.Context, engine *Engine, interval time.Duration) error {
	if interval <= 0 {
		interval = SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := engine.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				logger.ErrorKV(ctx, "sweep failed", "err", err)
			}
		}
	}
}
