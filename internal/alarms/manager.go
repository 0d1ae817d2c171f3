package alarms

import (
	"context"
	"errors"
	"sync"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
	"github.com/technosupport/ts-alarms/internal/logger"
)

// SourceBuilder creates the event sources of a camera.
type SourceBuilder func(cfg CameraConfig) ([]adapters.EventSource, error)

type managedCamera struct {
	cam         *Camera
	fingerprint string
}

// Manager runs the configured cameras and applies configuration changes.
type Manager struct {
	mu      sync.RWMutex
	cameras map[string]*managedCamera
	pubs    []Publisher
	build   SourceBuilder
}

type ManagerOption func(*Manager)

// WithSourceBuilder replaces the registry-based source construction.
func WithSourceBuilder(b SourceBuilder) ManagerOption {
	return func(m *Manager) { m.build = b }
}

func NewManager(pubs []Publisher, opts ...ManagerOption) *Manager {
	m := &Manager{
		cameras: make(map[string]*managedCamera),
		pubs:    pubs,
		build:   BuildSources,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Apply reconciles the running cameras with cfgs: removed or changed cameras
// are stopped, new or changed ones are started under ctx. Cameras that fail
// to build are skipped and reported in the joined error.
func (m *Manager) Apply(ctx context.Context, cfgs []CameraConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]CameraConfig, len(cfgs))
	for _, c := range cfgs {
		wanted[c.ID] = c
	}

	for id, mc := range m.cameras {
		c, ok := wanted[id]
		if ok && c.Fingerprint() == mc.fingerprint {
			continue
		}
		mc.cam.Stop()
		delete(m.cameras, id)
		reason := "removed"
		if ok {
			reason = "changed"
		}
		logger.InfoKV(ctx, "camera stopped", "camera", id, "reason", reason)
	}

	var errs []error
	for _, c := range cfgs {
		if _, running := m.cameras[c.ID]; running {
			continue
		}
		sources, err := m.build(c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cam, err := NewCamera(c, sources, m.pubs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cam.Start(ctx)
		m.cameras[c.ID] = &managedCamera{cam: cam, fingerprint: c.Fingerprint()}
	}
	return errors.Join(errs...)
}

func (m *Manager) Camera(id string) (*Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.cameras[id]
	if !ok {
		return nil, false
	}
	return mc.cam, true
}

// Cameras lists running cameras ordered by id.
func (m *Manager) Cameras() []*Camera {
	m.mu.RLock()
	out := make([]*Camera, 0, len(m.cameras))
	for _, mc := range m.cameras {
		out = append(out, mc.cam)
	}
	m.mu.RUnlock()
	sortCameras(out)
	return out
}

// Stop stops every camera.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mc := range m.cameras {
		mc.cam.Stop()
		delete(m.cameras, id)
	}
}
