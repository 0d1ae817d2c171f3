package adapters

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registryMu sync.RWMutex
	// Registry of source factories keyed by source type.
	registry = map[string]Factory{}
)

// Register adds a factory for a source type.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(kind)] = f
}

// NormalizeKind maps configured names onto registered source types.
func NormalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch {
	case strings.Contains(k, "onvif"), k == "pullpoint", k == "pull_point":
		return "onvif"
	case strings.Contains(k, "hikvision"), strings.Contains(k, "isapi"), k == "alarm_stream":
		return "hikvision"
	}
	return k
}

// NewSource returns an initialized source of the given type for the target.
func NewSource(kind string, target Target, cred Credential, opts Options) (EventSource, error) {
	k := NormalizeKind(kind)

	registryMu.RLock()
	factory, ok := registry[k]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source type %q", kind)
	}

	return factory(target, cred, opts)
}

// Registered lists known source types in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
