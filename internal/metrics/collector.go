package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CameraSample is one camera's point-in-time state as seen by the collector.
type CameraSample struct {
	ID        string
	LinksUp   int
	LinksDown int
	Queued    int
	Uptime    time.Duration
}

// SampleSource yields the current set of running cameras.
type SampleSource interface {
	Samples() []CameraSample
}

// SampleFunc adapts a function to SampleSource.
type SampleFunc func() []CameraSample

func (f SampleFunc) Samples() []CameraSample { return f() }

// Collector periodically snapshots running cameras into gauges on its own
// registry, next to the package-level event counters.
type Collector struct {
	source   SampleSource
	registry *prometheus.Registry

	mu           sync.RWMutex
	lastSnapshot time.Time

	camerasRunning prometheus.Gauge
	snapshotAge    prometheus.Gauge
	linksUp        *prometheus.GaugeVec
	uptime         *prometheus.GaugeVec
}

func NewCollector(source SampleSource) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		source:   source,
		registry: reg,
	}

	c.camerasRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alarm_cameras_running",
		Help: "Cameras currently supervised by the manager",
	})
	reg.MustRegister(c.camerasRunning)

	c.snapshotAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alarm_collector_snapshot_age_seconds",
		Help: "Age of the last successful collection",
	})
	reg.MustRegister(c.snapshotAge)

	c.linksUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alarm_camera_links",
		Help: "Ingestion links per camera by state",
	}, []string{"camera", "state"})
	reg.MustRegister(c.linksUp)

	c.uptime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alarm_camera_uptime_seconds",
		Help: "Time since the camera was started",
	}, []string{"camera"})
	reg.MustRegister(c.uptime)

	return c
}

func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Handler exposes the default registry (promauto counters) merged with the
// collector's own gauges.
func (c *Collector) Handler() http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, c.registry}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

// Collect takes one sample. Cameras that disappeared since the last pass
// are dropped from the per-camera vectors.
func (c *Collector) Collect() {
	samples := c.source.Samples()

	c.linksUp.Reset()
	c.uptime.Reset()
	c.camerasRunning.Set(float64(len(samples)))
	for _, s := range samples {
		c.linksUp.WithLabelValues(s.ID, "up").Set(float64(s.LinksUp))
		c.linksUp.WithLabelValues(s.ID, "down").Set(float64(s.LinksDown))
		c.uptime.WithLabelValues(s.ID).Set(s.Uptime.Seconds())
	}

	c.mu.Lock()
	c.lastSnapshot = time.Now()
	c.mu.Unlock()
	c.snapshotAge.Set(0)
}

// LastSnapshot reports when Collect last completed.
func (c *Collector) LastSnapshot() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSnapshot
}
