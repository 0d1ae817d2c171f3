package alarms

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/metrics"
)

// Publisher delivers envelopes to one downstream system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
}

// LogPublisher writes every envelope to the context logger.
type LogPublisher struct{}

func (LogPublisher) Name() string { return "log" }

func (LogPublisher) Publish(ctx context.Context, env Envelope) error {
	logger.InfoKV(ctx, "alarm",
		"camera", env.CameraID,
		"identity", env.Identity,
		"active", env.Active,
		"reason", env.Reason,
		"type", env.EventType,
	)
	return nil
}

// PublishTimeout bounds a single Publish call.
const PublishTimeout = 5 * time.Second

// dispatch drains q into every publisher until ctx is cancelled. Each
// publisher has its own queue and goroutine, so a slow or failing sink only
// delays itself.
func dispatch(ctx context.Context, q *Queue[Emission], vendor string, pubs []Publisher, observe func(Emission)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	sinks := make([]*Queue[Envelope], len(pubs))
	for i, p := range pubs {
		sinks[i] = NewQueue[Envelope](nil)
		wg.Add(1)
		go func(p Publisher, in *Queue[Envelope]) {
			defer wg.Done()
			deliver(ctx, p, in, PublishTimeout)
		}(p, sinks[i])
	}

	for {
		em, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if observe != nil {
			observe(em)
		}

		env := NewEnvelope(em, vendor)
		for _, in := range sinks {
			in.Push(env)
		}
	}
}

// deliver publishes envelopes from in to p, one at a time, each bounded by
// timeout.
func deliver(ctx context.Context, p Publisher, in *Queue[Envelope], timeout time.Duration) {
	for {
		env, err := in.Pop(ctx)
		if err != nil {
			return
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err = p.Publish(pctx, env)
		cancel()
		if err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(p.Name()).Inc()
			logger.ErrorKV(ctx, "publish failed", "sink", p.Name(), "event_id", env.EventID, "err", err)
		}
	}
}
