package alarms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/metrics"
)

const (
	// RefreshMargin is added to the cancel interval to get the re-send period
	// of an alarm that stays active.
	RefreshMargin = 5 * time.Second

	DefaultCancelInterval = 30 * time.Second
)

// ErrEngineStopped is returned by calls made after the engine's Run ended.
var ErrEngineStopped = fmt.Errorf("debounce engine stopped: %w", context.Canceled)

// CloneFunc derives the event reported when an alarm expires.
type CloneFunc func(current adapters.Event, active bool) adapters.Event

// DefaultClone copies current with the new Active value.
func DefaultClone(current adapters.Event, active bool) adapters.Event {
	return current.WithActive(active)
}

type EngineConfig struct {
	CameraID       string
	CancelInterval time.Duration
	Clone          CloneFunc
	Clock          adapters.Clock
}

// record is the per-identity state. Invariant: state implies lastReceived
// is running.
type record struct {
	state        bool
	lastReceived adapters.Stopwatch
	lastUpdated  adapters.Stopwatch
	current      adapters.Event
}

// RecordSnapshot is a read-only view of one record.
type RecordSnapshot struct {
	Identity      string
	Kind          string
	Active        bool
	SinceReceived time.Duration // zero when inactive
	SinceUpdated  time.Duration
	Current       adapters.Event
}

type msgKind int

const (
	msgEvent msgKind = iota
	msgSweep
	msgSnapshot
)

type request struct {
	kind  msgKind
	event adapters.Event
	reply chan []RecordSnapshot
}

// Engine debounces the events of one camera. A single goroutine (Run) owns
// the record map; every operation is a message to it, so events and sweeps
// are applied strictly one at a time in arrival order.
type Engine struct {
	cfg     EngineConfig
	out     *Queue[Emission]
	records map[string]*record
	mailbox chan request
	done    chan struct{}
}

func NewEngine(cfg EngineConfig, out *Queue[Emission]) (*Engine, error) {
	if out == nil {
		return nil, errors.New("debounce engine: nil output queue")
	}
	if cfg.CancelInterval <= 0 {
		cfg.CancelInterval = DefaultCancelInterval
	}
	if cfg.Clone == nil {
		cfg.Clone = DefaultClone
	}
	cfg.Clock = adapters.ClockOrDefault(cfg.Clock)

	return &Engine{
		cfg:     cfg,
		out:     out,
		records: make(map[string]*record),
		mailbox: make(chan request),
		done:    make(chan struct{}),
	}, nil
}

func (e *Engine) CancelInterval() time.Duration { return e.cfg.CancelInterval }

// Run serves the mailbox until ctx is cancelled. It must be called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-e.mailbox:
			var snap []RecordSnapshot
			switch req.kind {
			case msgEvent:
				e.handleEvent(ctx, req.event)
			case msgSweep:
				e.handleSweep(ctx)
			case msgSnapshot:
				snap = e.snapshot()
			}
			req.reply <- snap
		}
	}
}

func (e *Engine) call(ctx context.Context, req request) ([]RecordSnapshot, error) {
	req.reply = make(chan []RecordSnapshot, 1)
	select {
	case e.mailbox <- req:
	case <-e.done:
		return nil, ErrEngineStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// An accepted request is always answered.
	return <-req.reply, nil
}

// ProcessNewAlarm applies one normalized event. It implements adapters.Sink.
func (e *Engine) ProcessNewAlarm(ctx context.Context, ev adapters.Event) error {
	_, err := e.call(ctx, request{kind: msgEvent, event: ev})
	return err
}

// Sweep runs one expiry/refresh pass.
func (e *Engine) Sweep(ctx context.Context) error {
	_, err := e.call(ctx, request{kind: msgSweep})
	return err
}

// Snapshot returns the records sorted by identity.
func (e *Engine) Snapshot(ctx context.Context) ([]RecordSnapshot, error) {
	return e.call(ctx, request{kind: msgSnapshot})
}

func (e *Engine) emit(ev adapters.Event, reason Reason, now time.Time) {
	e.out.Push(Emission{
		ID:        uuid.New(),
		CameraID:  e.cfg.CameraID,
		Event:     ev,
		Reason:    reason,
		EmittedAt: now,
	})
	metrics.EmissionsTotal.WithLabelValues(e.cfg.CameraID, string(reason)).Inc()
}

func (e *Engine) handleEvent(ctx context.Context, ev adapters.Event) {
	now := e.cfg.Clock.Now()
	metrics.EventsReceivedTotal.WithLabelValues(e.cfg.CameraID, ev.Kind().String()).Inc()

	if ev.IsLink() {
		e.emit(ev, ReasonLink, now)
		return
	}

	rec, ok := e.records[ev.Identity]
	reason := ReasonFirstSight
	sendNow := !ok
	if !ok {
		rec = &record{}
		e.records[ev.Identity] = rec
	}

	if ev.Active {
		if !rec.state && ok {
			sendNow = true
			reason = ReasonRisingEdge
		}
		rec.state = true
		rec.current = ev
		rec.lastReceived.Restart(now)
	}

	if sendNow {
		rec.lastUpdated.Restart(now)
		rec.current = ev
		e.emit(ev, reason, now)
		logger.DebugKV(ctx, "alarm emitted", "identity", ev.Identity, "active", ev.Active, "reason", reason)
	}
	e.updateActiveGauge()
}

func (e *Engine) handleSweep(ctx context.Context) {
	now := e.cfg.Clock.Now()
	refresh := e.cfg.CancelInterval + RefreshMargin

	for _, identity := range e.sortedIdentities() {
		rec := e.records[identity]
		if !rec.state {
			continue
		}
		switch {
		case rec.lastReceived.Elapsed(now) >= e.cfg.CancelInterval:
			rec.state = false
			rec.lastReceived.Reset()
			cleared := e.cfg.Clone(rec.current, false)
			rec.current = cleared
			rec.lastUpdated.Restart(now)
			e.emit(cleared, ReasonExpired, now)
			logger.DebugKV(ctx, "alarm expired", "identity", identity)
		case rec.lastUpdated.Elapsed(now) >= refresh:
			rec.lastUpdated.Restart(now)
			e.emit(rec.current, ReasonRefresh, now)
		}
	}
	e.updateActiveGauge()
}

// sortedIdentities gives sweeps a deterministic emission order.
func (e *Engine) sortedIdentities() []string {
	ids := make([]string, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) updateActiveGauge() {
	n := 0
	for _, rec := range e.records {
		if rec.state {
			n++
		}
	}
	metrics.ActiveIdentities.WithLabelValues(e.cfg.CameraID).Set(float64(n))
}

func (e *Engine) snapshot() []RecordSnapshot {
	now := e.cfg.Clock.Now()
	out := make([]RecordSnapshot, 0, len(e.records))
	for _, id := range e.sortedIdentities() {
		rec := e.records[id]
		out = append(out, RecordSnapshot{
			Identity:      id,
			Kind:          rec.current.Kind().String(),
			Active:        rec.state,
			SinceReceived: rec.lastReceived.Elapsed(now),
			SinceUpdated:  rec.lastUpdated.Elapsed(now),
			Current:       rec.current,
		})
	}
	return out
}
