package alarms

import (
	"context"
	"errors"
	"time"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/metrics"
)

// RestartDelay is the constant pause between source runs.
const RestartDelay = time.Second

// Supervisor keeps one event source running.
type Supervisor struct {
	CameraID string
	Source   adapters.EventSource
	Sink     adapters.Sink
	Delay    time.Duration
}

func restartReason(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, adapters.ErrStreamTimeout):
		return "timeout"
	case errors.Is(err, adapters.ErrPullPointUnsupported):
		return "unsupported"
	default:
		return "error"
	}
}

// Run restarts the source after every failure or normal exit, resetting it
// first. It returns only when ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	delay := s.Delay
	if delay <= 0 {
		delay = RestartDelay
	}
	ctx = logger.WithKV(ctx, "source", s.Source.Kind())

	for {
		err := s.Source.Run(ctx, s.Sink)
		if ctx.Err() != nil {
			logger.DebugKV(ctx, "source stopped")
			return nil
		}

		reason := restartReason(err)
		if err != nil {
			logger.WarnKV(ctx, "source failed, restarting", "err", err, "reason", reason, "delay", delay)
		} else {
			logger.InfoKV(ctx, "source closed, restarting", "delay", delay)
		}
		metrics.SourceRestartsTotal.WithLabelValues(s.CameraID, s.Source.Kind(), reason).Inc()
		s.Source.Reset()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}
