package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
	"github.com/technosupport/ts-alarms/internal/config"
)

func publisherNames(s *sinks) []string {
	var names []string
	for _, p := range s.publishers {
		names = append(names, p.Name())
	}
	return names
}

func TestNewSinks_Defaults(t *testing.T) {
	s, err := newSinks(context.Background(), &config.Config{})
	require.NoError(t, err)
	defer s.close()

	assert.Equal(t, []string{"log", "feed"}, publisherNames(s))
	assert.NotNil(t, s.hub)
	assert.Nil(t, s.journal)
}

func TestNewSinks_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := &config.Config{Redis: config.RedisConfig{Addr: mr.Addr(), Channel: alarms.DefaultRedisChannel, StateTTL: time.Hour}}
	s, err := newSinks(context.Background(), cfg)
	require.NoError(t, err)
	defer s.close()

	assert.Equal(t, []string{"log", "feed", "redis"}, publisherNames(s))
}

func TestNewSinks_RedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = newSinks(context.Background(), &config.Config{Redis: config.RedisConfig{Addr: addr}})
	assert.ErrorContains(t, err, "redis ping")
}

func TestNewSinks_NATSUnreachable(t *testing.T) {
	_, err := newSinks(context.Background(), &config.Config{NATS: config.NATSConfig{URL: "nats://127.0.0.1:1"}})
	assert.ErrorContains(t, err, "nats connect")
}

// idleSource never produces events.
type idleSource struct{}

func (idleSource) Run(ctx context.Context, _ adapters.Sink) error {
	<-ctx.Done()
	return ctx.Err()
}
func (idleSource) Reset()       {}
func (idleSource) Kind() string { return "pull_point" }

func TestCameraSamples(t *testing.T) {
	m := alarms.NewManager(nil, alarms.WithSourceBuilder(func(alarms.CameraConfig) ([]adapters.EventSource, error) {
		return []adapters.EventSource{idleSource{}}, nil
	}))
	defer m.Stop()
	require.NoError(t, m.Apply(context.Background(), []alarms.CameraConfig{{
		ID:      "lobby",
		Target:  adapters.Target{Host: "10.0.0.5"},
		Sources: []alarms.SourceConfig{{Kind: "onvif"}},
	}}))

	samples := cameraSamples(m)()
	require.Len(t, samples, 1)
	assert.Equal(t, "lobby", samples[0].ID)
	assert.Equal(t, 0, samples[0].LinksUp)
	assert.Equal(t, 1, samples[0].LinksDown)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func writeConfig(t *testing.T, httpAddr, grpcAddr string) string {
	t.Helper()
	for _, k := range []string{"NATS_URL", "REDIS_ADDR", "DATABASE_URL", "FEED_SIGNING_KEY", "ALARMD_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	t.Setenv("ALARMD_DATA_ROOT", t.TempDir())

	path := filepath.Join(t.TempDir(), "alarmd.yaml")
	contents := fmt.Sprintf(`log_level: error
http: {addr: %q}
grpc: {addr: %q}
cameras:
  - id: lobby
    host: 127.0.0.1
    port: 1
    sources:
      - kind: hikvision
`, httpAddr, grpcAddr)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestRun_GRPCListenFailureLeavesHTTPDown(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	httpAddr := freeAddr(t)
	path := writeConfig(t, httpAddr, busy.Addr().String())

	err = Run(context.Background(), &Options{ConfigPath: path})
	require.ErrorContains(t, err, "grpc listen")

	conn, err := net.DialTimeout("tcp", httpAddr, 200*time.Millisecond)
	if err == nil {
		conn.Close()
	}
	assert.Error(t, err, "status API must not keep serving after a failed start")
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	httpAddr := freeAddr(t)
	path := writeConfig(t, httpAddr, freeAddr(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, &Options{ConfigPath: path}) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + httpAddr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get("http://" + httpAddr + "/api/v1/cameras/lobby/states")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode, "no redis configured")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
