package alarms

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
)

// stuckPublisher blocks every Publish until its context ends.
type stuckPublisher struct {
	calls atomic.Int32
}

func (p *stuckPublisher) Name() string { return "stuck" }

func (p *stuckPublisher) Publish(ctx context.Context, _ Envelope) error {
	p.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func linkEmission(up bool) Emission {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return Emission{
		ID:        uuid.New(),
		CameraID:  "lobby.cam",
		Event:     adapters.LinkEvent("hikvision", up, now),
		Reason:    ReasonLink,
		EmittedAt: now,
	}
}

func TestDispatch_StuckSinkDoesNotBlockOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue[Emission](nil)
	stuck := &stuckPublisher{}
	fast := newChanPublisher()

	done := make(chan error, 1)
	go func() { done <- dispatch(ctx, q, "hikvision", []Publisher{stuck, fast}, nil) }()

	for i := 0; i < 3; i++ {
		q.Push(linkEmission(i%2 == 0))
	}

	for i := 0; i < 3; i++ {
		select {
		case env := <-fast.ch:
			assert.Equal(t, "lobby.cam", env.CameraID)
		case <-time.After(2 * time.Second):
			t.Fatalf("fast sink received %d of 3 envelopes", i)
		}
	}
	assert.Zero(t, q.Len())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not stop after cancel")
	}
	assert.Equal(t, int32(1), stuck.calls.Load())
}

func TestDeliver_TimesOutEachPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := NewQueue[Envelope](nil)
	stuck := &stuckPublisher{}
	go deliver(ctx, stuck, in, 20*time.Millisecond)

	in.Push(sampleEnvelope("Motion Detection", true))
	in.Push(sampleEnvelope("Motion Detection", false))

	require.Eventually(t, func() bool { return stuck.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, in.Len())
}

func TestDeliver_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := NewQueue[Envelope](nil)
	stopped := make(chan struct{})
	go func() {
		deliver(ctx, LogPublisher{}, in, time.Second)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("deliver kept running")
	}
}
