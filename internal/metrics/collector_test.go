package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestCollector_Collect(t *testing.T) {
	samples := []CameraSample{
		{ID: "lobby", LinksUp: 1, LinksDown: 1, Uptime: 90 * time.Second},
		{ID: "dock", LinksUp: 2},
	}
	c := NewCollector(SampleFunc(func() []CameraSample { return samples }))

	c.Collect()
	body := scrape(t, c)
	assert.Contains(t, body, "alarm_cameras_running 2")
	assert.Contains(t, body, `alarm_camera_links{camera="lobby",state="down"} 1`)
	assert.Contains(t, body, `alarm_camera_uptime_seconds{camera="lobby"} 90`)
	assert.False(t, c.LastSnapshot().IsZero())

	samples = samples[1:]
	c.Collect()
	body = scrape(t, c)
	assert.Contains(t, body, "alarm_cameras_running 1")
	assert.NotContains(t, body, `camera="lobby"`)
}

func TestCollector_HandlerIncludesDefaultRegistry(t *testing.T) {
	c := NewCollector(SampleFunc(func() []CameraSample { return nil }))
	c.Collect()
	EmissionsTotal.WithLabelValues("gate", "first_sight").Inc()

	assert.Contains(t, scrape(t, c), `alarm_emissions_total{camera="gate",reason="first_sight"}`)
}
