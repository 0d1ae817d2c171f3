package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/feed"
	"github.com/technosupport/ts-alarms/internal/journal"
	"github.com/technosupport/ts-alarms/internal/middleware"
)

// CameraDirectory is the read side of the camera manager.
type CameraDirectory interface {
	Cameras() []*alarms.Camera
	Camera(id string) (*alarms.Camera, bool)
}

// HistoryStore answers journal queries.
type HistoryStore interface {
	Query(ctx context.Context, f journal.Filter) ([]alarms.Envelope, int64, error)
}

// StateStore returns the latest envelope per identity of a camera.
type StateStore interface {
	LatestStates(ctx context.Context, cameraID string) (map[string]alarms.Envelope, error)
}

// Deps wires the router. History, States, Hub and Auth are optional; a nil
// Auth leaves the API open.
type Deps struct {
	Cameras CameraDirectory
	History HistoryStore
	States  StateStore
	Hub     *feed.Hub
	Auth    *middleware.JWTAuth
	Metrics http.Handler
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS)

	// Health & Metrics
	r.Get("/healthz", Healthz)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	cams := NewCameraHandler(d.Cameras, d.History, d.States)
	r.Group(func(r chi.Router) {
		if d.Auth != nil {
			r.Use(d.Auth.Middleware)
		}
		r.Route("/api/v1/cameras", func(r chi.Router) {
			// Snapshot calls go through the engine mailbox.
			r.Use(chimiddleware.Timeout(10 * time.Second))
			r.Get("/", cams.List)
			r.Get("/{id}", cams.Get)
			r.Get("/{id}/alarms", cams.Alarms)
			r.Get("/{id}/history", cams.History)
			r.Get("/{id}/states", cams.States)
		})
		if d.Hub != nil {
			r.Get("/ws/events", NewFeedHandler(d.Hub).ServeWS)
		}
	})
	return r
}
