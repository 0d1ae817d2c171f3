package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-alarms/internal/middleware"
	"github.com/technosupport/ts-alarms/internal/tokens"
)

// MockTokenValidator accepts the literal token "valid-viewer".
type MockTokenValidator struct{}

func (m MockTokenValidator) ValidateToken(token string) (*tokens.Claims, error) {
	if token == "valid-viewer" {
		return &tokens.Claims{ViewerID: "dash", TokenType: tokens.Viewer, Cameras: []string{"lobby"}}, nil
	}
	return nil, tokens.ErrInvalidToken
}

func protected(t *testing.T) http.Handler {
	auth := middleware.NewJWTAuth(MockTokenValidator{})
	return auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetViewer(r.Context())
		require.True(t, ok)
		assert.Equal(t, "dash", claims.ViewerID)
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestJWTAuth(t *testing.T) {
	h := protected(t)
	cases := []struct {
		name   string
		setup  func(r *http.Request)
		target string
		want   int
	}{
		{"missing", func(*http.Request) {}, "/ws/events", http.StatusUnauthorized},
		{"bad scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, "/", http.StatusUnauthorized},
		{"invalid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "/", http.StatusUnauthorized},
		{"header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer valid-viewer") }, "/", http.StatusNoContent},
		{"query", func(*http.Request) {}, "/ws/events?token=valid-viewer", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	h := middleware.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "upstream-1", w.Header().Get("X-Request-ID"))
}

func TestCORS_Preflight(t *testing.T) {
	h := middleware.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached handler")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/cameras", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
