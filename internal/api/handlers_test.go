package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
	"github.com/technosupport/ts-alarms/internal/api"
	"github.com/technosupport/ts-alarms/internal/feed"
	"github.com/technosupport/ts-alarms/internal/journal"
	"github.com/technosupport/ts-alarms/internal/middleware"
	"github.com/technosupport/ts-alarms/internal/tokens"
)

// oneShotSource reports a single active motion alarm and then idles.
type oneShotSource struct{}

func (oneShotSource) Run(ctx context.Context, sink adapters.Sink) error {
	ev := adapters.Event{
		Identity:   "Motion Detection",
		Active:     true,
		OccurredAt: time.Now(),
		Meta:       adapters.StreamMeta{EventType: "VMD", Category: "Motion Detection"},
	}
	if err := sink.ProcessNewAlarm(ctx, ev); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (oneShotSource) Reset()       {}
func (oneShotSource) Kind() string { return "alarm_stream" }

type fakeHistory struct {
	mu   sync.Mutex
	last journal.Filter
	out  []alarms.Envelope
	next int64
}

func (f *fakeHistory) Query(_ context.Context, flt journal.Filter) ([]alarms.Envelope, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = flt
	return f.out, f.next, nil
}

type fixture struct {
	manager *alarms.Manager
	hub     *feed.Hub
	history *fakeHistory
	tokens  *tokens.Manager
	router  http.Handler
}

func newFixture(t *testing.T, withAuth bool) *fixture {
	t.Helper()
	hub, err := feed.NewHub(64, 16)
	require.NoError(t, err)

	m := alarms.NewManager([]alarms.Publisher{hub}, alarms.WithSourceBuilder(
		func(alarms.CameraConfig) ([]adapters.EventSource, error) {
			return []adapters.EventSource{oneShotSource{}}, nil
		}))
	t.Cleanup(m.Stop)

	cfgs := []alarms.CameraConfig{
		{ID: "lobby", Vendor: "hikvision", Target: adapters.Target{Host: "10.0.0.5"},
			Sources: []alarms.SourceConfig{{Kind: "hikvision"}}, CancelInterval: 30 * time.Second},
		{ID: "dock", Target: adapters.Target{Host: "10.0.0.6"},
			Sources: []alarms.SourceConfig{{Kind: "hikvision"}}, CancelInterval: 30 * time.Second},
	}
	require.NoError(t, m.Apply(context.Background(), cfgs))

	fx := &fixture{manager: m, hub: hub, history: &fakeHistory{}, tokens: tokens.NewManager("test-key")}
	deps := api.Deps{Cameras: m, History: fx.history, Hub: hub, Metrics: http.NotFoundHandler()}
	if withAuth {
		deps.Auth = middleware.NewJWTAuth(fx.tokens)
	}
	fx.router = api.NewRouter(deps)
	return fx
}

func (fx *fixture) get(t *testing.T, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t, true)
	w := fx.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestListCameras(t *testing.T) {
	fx := newFixture(t, false)
	w := fx.get(t, "/api/v1/cameras", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out []alarms.CameraStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "dock", out[0].ID)
	assert.Equal(t, "lobby", out[1].ID)
	assert.Equal(t, "10.0.0.5", out[1].Host)
}

func TestCameraAlarms(t *testing.T) {
	fx := newFixture(t, false)

	var views []api.AlarmView
	require.Eventually(t, func() bool {
		w := fx.get(t, "/api/v1/cameras/lobby/alarms", "")
		if w.Code != http.StatusOK {
			return false
		}
		views = nil
		if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
			return false
		}
		return len(views) == 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "Motion Detection", views[0].Identity)
	assert.Equal(t, "alarm_stream", views[0].Kind)
	assert.True(t, views[0].Active)

	assert.Equal(t, http.StatusNotFound, fx.get(t, "/api/v1/cameras/garage/alarms", "").Code)
}

func TestCameraHistory(t *testing.T) {
	fx := newFixture(t, false)
	fx.history.out = []alarms.Envelope{{EventID: uuid.New(), CameraID: "lobby", Identity: "Motion Detection", Active: true}}
	fx.history.next = 41

	w := fx.get(t, "/api/v1/cameras/lobby/history?identity=Motion+Detection&active=true&limit=5&cursor=42&since=2026-01-02T03:04:05Z", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Items      []alarms.Envelope `json:"items"`
		NextCursor int64             `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)
	assert.EqualValues(t, 41, page.NextCursor)

	f := fx.history.last
	assert.Equal(t, "lobby", f.CameraID)
	assert.Equal(t, "Motion Detection", f.Identity)
	require.NotNil(t, f.Active)
	assert.True(t, *f.Active)
	assert.Equal(t, 5, f.Limit)
	assert.EqualValues(t, 42, f.Cursor)
	require.NotNil(t, f.Since)
	assert.Equal(t, 2026, f.Since.Year())

	assert.Equal(t, http.StatusBadRequest, fx.get(t, "/api/v1/cameras/lobby/history?active=maybe", "").Code)
	assert.Equal(t, http.StatusBadRequest, fx.get(t, "/api/v1/cameras/lobby/history?cursor=-1", "").Code)
}

func TestAuth_CameraRestriction(t *testing.T) {
	fx := newFixture(t, true)

	assert.Equal(t, http.StatusUnauthorized, fx.get(t, "/api/v1/cameras", "").Code)

	tok, err := fx.tokens.GenerateViewerToken("dash", []string{"lobby"}, time.Hour)
	require.NoError(t, err)

	w := fx.get(t, "/api/v1/cameras", tok)
	require.Equal(t, http.StatusOK, w.Code)
	var out []alarms.CameraStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "lobby", out[0].ID)

	assert.Equal(t, http.StatusOK, fx.get(t, "/api/v1/cameras/lobby", tok).Code)
	assert.Equal(t, http.StatusForbidden, fx.get(t, "/api/v1/cameras/dock", tok).Code)
	assert.Equal(t, http.StatusForbidden, fx.get(t, "/api/v1/cameras/dock/history", tok).Code)
}

func TestFeedWebSocket(t *testing.T) {
	fx := newFixture(t, true)
	srv := httptest.NewServer(fx.router)
	defer srv.Close()

	tok, err := fx.tokens.GenerateViewerToken("dash", []string{"lobby"}, time.Hour)
	require.NoError(t, err)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?token=" + tok

	// Forbidden camera is rejected before the upgrade.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"&camera=dock", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return fx.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	// dock is filtered out by the token, lobby is delivered.
	require.NoError(t, fx.hub.Publish(context.Background(), alarms.Envelope{CameraID: "dock", Identity: "Tamper", Active: true}))
	require.NoError(t, fx.hub.Publish(context.Background(), alarms.Envelope{CameraID: "lobby", Identity: "Line Crossing", Active: true}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env alarms.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		require.Equal(t, "lobby", env.CameraID)
		if env.Identity == "Line Crossing" {
			break
		}
	}
}

func TestCameraStates(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	states := alarms.NewRedisPublisher(rdb, "", time.Hour)

	env := alarms.Envelope{EventID: uuid.New(), CameraID: "lobby", Kind: "alarm_stream", Identity: "Motion Detection", Active: true}
	require.NoError(t, states.Publish(context.Background(), env))

	tm := tokens.NewManager("test-key")
	router := api.NewRouter(api.Deps{
		Cameras: alarms.NewManager(nil),
		States:  states,
		Auth:    middleware.NewJWTAuth(tm),
	})
	tok, err := tm.GenerateViewerToken("dash", []string{"lobby"}, time.Hour)
	require.NoError(t, err)

	get := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// lobby is not running here; the stored state is still served.
	w := get("/api/v1/cameras/lobby/states")
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]alarms.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Contains(t, out, "Motion Detection")
	assert.Equal(t, env.EventID, out["Motion Detection"].EventID)

	assert.Equal(t, http.StatusForbidden, get("/api/v1/cameras/dock/states").Code)

	mr.Close()
	assert.Equal(t, http.StatusBadGateway, get("/api/v1/cameras/lobby/states").Code)
}

func TestOptionalStoresDisabled(t *testing.T) {
	router := api.NewRouter(api.Deps{Cameras: alarms.NewManager(nil)})
	for _, target := range []string{"/api/v1/cameras/lobby/history", "/api/v1/cameras/lobby/states"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotImplemented, w.Code, target)
	}
}
