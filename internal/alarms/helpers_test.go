package alarms

import (
	"context"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// chanPublisher forwards envelopes to a channel.
type chanPublisher struct {
	ch chan Envelope
}

func newChanPublisher() *chanPublisher {
	return &chanPublisher{ch: make(chan Envelope, 256)}
}

func (p *chanPublisher) Name() string { return "chan" }

func (p *chanPublisher) Publish(_ context.Context, env Envelope) error {
	p.ch <- env
	return nil
}
