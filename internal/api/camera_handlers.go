package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/journal"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/middleware"
)

type CameraHandler struct {
	Cameras CameraDirectory
	Journal HistoryStore
	Latest  StateStore
}

func NewCameraHandler(cams CameraDirectory, history HistoryStore, states StateStore) *CameraHandler {
	return &CameraHandler{Cameras: cams, Journal: history, Latest: states}
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// allowed applies the viewer token's camera restriction, if any.
func allowed(r *http.Request, cameraID string) bool {
	claims, ok := middleware.GetViewer(r.Context())
	return !ok || claims.AllowsCamera(cameraID)
}

// camera resolves {id} and writes the error response when it cannot.
func (h *CameraHandler) camera(w http.ResponseWriter, r *http.Request) (*alarms.Camera, bool) {
	id := chi.URLParam(r, "id")
	if !allowed(r, id) {
		respondError(w, http.StatusForbidden, "camera not allowed")
		return nil, false
	}
	cam, ok := h.Cameras.Camera(id)
	if !ok {
		respondError(w, http.StatusNotFound, "camera not found")
		return nil, false
	}
	return cam, true
}

// GET /api/v1/cameras
func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	out := []alarms.CameraStatus{}
	for _, cam := range h.Cameras.Cameras() {
		if allowed(r, cam.ID()) {
			out = append(out, cam.Status())
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// GET /api/v1/cameras/{id}
func (h *CameraHandler) Get(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.camera(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cam.Status())
}

// AlarmView is one debounce record as exposed by the status API.
type AlarmView struct {
	Identity             string    `json:"identity"`
	Kind                 string    `json:"kind"`
	Active               bool      `json:"active"`
	SinceReceivedSeconds float64   `json:"since_received_seconds,omitempty"`
	SinceUpdatedSeconds  float64   `json:"since_updated_seconds"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// GET /api/v1/cameras/{id}/alarms
func (h *CameraHandler) Alarms(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.camera(w, r)
	if !ok {
		return
	}

	snap, err := cam.Snapshot(r.Context())
	if err != nil {
		if errors.Is(err, alarms.ErrEngineStopped) {
			respondError(w, http.StatusServiceUnavailable, "camera stopped")
			return
		}
		logger.WarnKV(r.Context(), "snapshot failed", "camera", cam.ID(), "err", err)
		respondError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}

	out := make([]AlarmView, 0, len(snap))
	for _, s := range snap {
		out = append(out, AlarmView{
			Identity:             s.Identity,
			Kind:                 s.Kind,
			Active:               s.Active,
			SinceReceivedSeconds: s.SinceReceived.Seconds(),
			SinceUpdatedSeconds:  s.SinceUpdated.Seconds(),
			OccurredAt:           s.Current.OccurredAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type historyPage struct {
	Items      []alarms.Envelope `json:"items"`
	NextCursor int64             `json:"next_cursor,omitempty"`
}

// GET /api/v1/cameras/{id}/history?identity=&active=&since=&limit=&cursor=
func (h *CameraHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		respondError(w, http.StatusNotImplemented, "journal disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if !allowed(r, id) {
		respondError(w, http.StatusForbidden, "camera not allowed")
		return
	}

	q := r.URL.Query()
	f := journal.Filter{CameraID: id, Identity: q.Get("identity")}
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid active")
			return
		}
		f.Active = &b
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since")
			return
		}
		f.Since = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	if v := q.Get("cursor"); v != "" {
		c, err := strconv.ParseInt(v, 10, 64)
		if err != nil || c < 0 {
			respondError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		f.Cursor = c
	}

	items, next, err := h.Journal.Query(r.Context(), f)
	if err != nil {
		logger.WarnKV(r.Context(), "journal query failed", "camera", id, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if items == nil {
		items = []alarms.Envelope{}
	}
	respondJSON(w, http.StatusOK, historyPage{Items: items, NextCursor: next})
}

// GET /api/v1/cameras/{id}/states
// Served from the Redis state hash, so it also answers for cameras that are
// not running in this process.
func (h *CameraHandler) States(w http.ResponseWriter, r *http.Request) {
	if h.Latest == nil {
		respondError(w, http.StatusNotImplemented, "state store disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if !allowed(r, id) {
		respondError(w, http.StatusForbidden, "camera not allowed")
		return
	}
	states, err := h.Latest.LatestStates(r.Context(), id)
	if err != nil {
		logger.WarnKV(r.Context(), "state lookup failed", "camera", id, "err", err)
		respondError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, states)
}
