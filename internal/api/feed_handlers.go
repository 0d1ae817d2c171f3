package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-alarms/internal/feed"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // token-authenticated, origin is not a boundary
	},
}

type FeedHandler struct {
	Hub *feed.Hub
}

func NewFeedHandler(hub *feed.Hub) *FeedHandler {
	return &FeedHandler{Hub: hub}
}

// ServeWS streams envelopes as JSON text frames. ?camera= narrows the feed
// to one camera; the viewer token may narrow it further.
func (h *FeedHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	f := feed.Filter{CameraID: r.URL.Query().Get("camera")}
	if claims, ok := middleware.GetViewer(r.Context()); ok {
		if f.CameraID != "" && !claims.AllowsCamera(f.CameraID) {
			http.Error(w, "camera not allowed", http.StatusForbidden)
			return
		}
		f.Allow = claims.AllowsCamera
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.DebugKV(r.Context(), "websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := h.Hub.Subscribe(f)
	defer sub.Close()

	ctx := r.Context()
	logger.DebugKV(ctx, "feed subscriber connected", "camera", f.CameraID)

	// Reader: handles pongs and notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				logger.DebugKV(ctx, "feed write failed", "err", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
