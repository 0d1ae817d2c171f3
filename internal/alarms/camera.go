package alarms

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/metrics"
)

// SourceConfig selects one ingestion protocol for a camera.
type SourceConfig struct {
	Kind    string // "hikvision" / "alarm_stream" or "onvif" / "pull_point"
	Options adapters.Options
}

// CameraConfig is everything needed to run one camera.
type CameraConfig struct {
	ID             string
	Vendor         string
	Target         adapters.Target
	Credential     adapters.Credential
	Sources        []SourceConfig
	CancelInterval time.Duration

	Clone         CloneFunc
	Clock         adapters.Clock
	RestartDelay  time.Duration
	SweepInterval time.Duration
}

// Fingerprint identifies the settings that require a restart when changed.
func (c CameraConfig) Fingerprint() string {
	parts := fmt.Sprintf("%s|%s|%+v|%s|%s", c.ID, c.Vendor, c.Target,
		adapters.HashCredential(c.Credential.Username, c.Credential.Password), c.CancelInterval)
	for _, s := range c.Sources {
		parts += fmt.Sprintf("|%s/%s/%s/%s", adapters.NormalizeKind(s.Kind), s.Options.Variant,
			s.Options.InactivityTimeout, s.Options.TerminationTime)
	}
	return parts
}

// BuildSources creates the configured event sources through the adapter registry.
func BuildSources(cfg CameraConfig) ([]adapters.EventSource, error) {
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("camera %s: no sources configured", cfg.ID)
	}
	target := cfg.Target
	target.CameraID = cfg.ID

	out := make([]adapters.EventSource, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		opts := sc.Options
		if opts.Clock == nil {
			opts.Clock = cfg.Clock
		}
		src, err := adapters.NewSource(sc.Kind, target, cfg.Credential, opts)
		if err != nil {
			return nil, fmt.Errorf("camera %s: %w", cfg.ID, err)
		}
		out = append(out, src)
	}
	return out, nil
}

// Camera wires the sources, engine, sweeper and dispatcher of one device.
type Camera struct {
	cfg     CameraConfig
	engine  *Engine
	queue   *Queue[Emission]
	sources []adapters.EventSource
	pubs    []Publisher

	mu        sync.RWMutex
	links     map[string]bool
	startedAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCamera(cfg CameraConfig, sources []adapters.EventSource, pubs []Publisher) (*Camera, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("camera id is required")
	}
	q := NewQueue[Emission](metrics.QueueDepth.WithLabelValues(cfg.ID))
	engine, err := NewEngine(EngineConfig{
		CameraID:       cfg.ID,
		CancelInterval: cfg.CancelInterval,
		Clone:          cfg.Clone,
		Clock:          cfg.Clock,
	}, q)
	if err != nil {
		return nil, err
	}

	links := make(map[string]bool, len(sources))
	for _, s := range sources {
		links[s.Kind()] = false
	}
	return &Camera{
		cfg:     cfg,
		engine:  engine,
		queue:   q,
		sources: sources,
		pubs:    pubs,
		links:   links,
	}, nil
}

func (c *Camera) ID() string { return c.cfg.ID }

// Start launches the camera goroutines; they all stop when ctx is cancelled
// or Stop is called.
func (c *Camera) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	ctx = logger.WithKV(ctx, "camera", c.cfg.ID)
	c.cancel = cancel

	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.wg.Add(3 + len(c.sources))
	go func() {
		defer c.wg.Done()
		_ = c.engine.Run(ctx)
	}()
	go func() {
		defer c.wg.Done()
		_ = RunSweeper(ctx, c.engine, c.cfg.SweepInterval)
	}()
	go func() {
		defer c.wg.Done()
		if err := dispatch(ctx, c.queue, c.cfg.Vendor, c.pubs, c.observe); err != nil {
			logger.ErrorKV(ctx, "dispatcher stopped", "err", err)
		}
	}()
	for _, src := range c.sources {
		sup := &Supervisor{CameraID: c.cfg.ID, Source: src, Sink: c.engine, Delay: c.cfg.RestartDelay}
		go func() {
			defer c.wg.Done()
			_ = sup.Run(ctx)
		}()
	}
	logger.InfoKV(ctx, "camera started", "sources", len(c.sources), "cancel_interval", c.engine.CancelInterval())
}

// Stop cancels the camera and waits for its goroutines.
func (c *Camera) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Camera) observe(em Emission) {
	if lm, ok := em.Event.Meta.(adapters.LinkMeta); ok {
		c.mu.Lock()
		c.links[lm.Source] = em.Event.Active
		c.mu.Unlock()
	}
}

// Snapshot returns the engine records of this camera.
func (c *Camera) Snapshot(ctx context.Context) ([]RecordSnapshot, error) {
	return c.engine.Snapshot(ctx)
}

// CameraStatus summarizes a running camera for the status API.
type CameraStatus struct {
	ID        string          `json:"id"`
	Vendor    string          `json:"vendor,omitempty"`
	Host      string          `json:"host"`
	Links     map[string]bool `json:"links"`
	Queued    int             `json:"queued"`
	StartedAt time.Time       `json:"started_at"`
}

func (c *Camera) Status() CameraStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	links := make(map[string]bool, len(c.links))
	for k, v := range c.links {
		links[k] = v
	}
	return CameraStatus{
		ID:        c.cfg.ID,
		Vendor:    c.cfg.Vendor,
		Host:      c.cfg.Target.Host,
		Links:     links,
		Queued:    c.queue.Len(),
		StartedAt: c.startedAt,
	}
}

// sortCameras orders cameras by id.
func sortCameras(cams []*Camera) {
	sort.Slice(cams, func(i, j int) bool { return cams[i].ID() < cams[j].ID() })
}
