package feed

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/metrics"
)

const (
	DefaultReplaySize = 4096
	DefaultBuffer     = 256
)

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	CameraID string
	// Allow, when set, must accept the camera id.
	Allow func(cameraID string) bool
}

func (f Filter) match(env alarms.Envelope) bool {
	if f.CameraID != "" && env.CameraID != f.CameraID {
		return false
	}
	return f.Allow == nil || f.Allow(env.CameraID)
}

// Subscription receives envelopes on C until Close.
type Subscription struct {
	C <-chan alarms.Envelope

	id      uint64
	ch      chan alarms.Envelope
	filter  Filter
	hub     *Hub
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped counts envelopes lost because the subscriber was too slow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s.id) })
}

// Hub fans envelopes out to live subscribers and remembers the latest
// envelope per camera identity so new subscribers start with current state.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	last   *lru.Cache[string, alarms.Envelope]
	buffer int
}

func NewHub(replaySize, buffer int) (*Hub, error) {
	if replaySize <= 0 {
		replaySize = DefaultReplaySize
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	cache, err := lru.New[string, alarms.Envelope](replaySize)
	if err != nil {
		return nil, err
	}
	return &Hub{subs: make(map[uint64]*Subscription), last: cache, buffer: buffer}, nil
}

func cacheKey(env alarms.Envelope) string {
	return env.CameraID + "\x00" + env.Identity
}

func (h *Hub) Name() string { return "feed" }

// Publish implements alarms.Publisher. It never blocks on subscribers.
func (h *Hub) Publish(_ context.Context, env alarms.Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.last.Add(cacheKey(env), env)
	for _, s := range h.subs {
		if !s.filter.match(env) {
			continue
		}
		select {
		case s.ch <- env:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber. The latest known envelope of every
// matching identity is queued first, oldest first.
func (h *Hub) Subscribe(f Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	var replay []alarms.Envelope
	for _, env := range h.last.Values() {
		if f.match(env) {
			replay = append(replay, env)
		}
	}

	ch := make(chan alarms.Envelope, h.buffer+len(replay))
	for _, env := range replay {
		ch <- env
	}

	h.nextID++
	s := &Subscription{C: ch, id: h.nextID, ch: ch, filter: f, hub: h}
	h.subs[s.id] = s
	metrics.FeedSubscribers.Set(float64(len(h.subs)))
	return s
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
	metrics.FeedSubscribers.Set(float64(len(h.subs)))
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
