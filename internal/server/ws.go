package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/kinectkart/internal/telemetry"
)

const writeTimeout = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// TelemetryHandler pushes loop snapshots to WebSocket clients.
type TelemetryHandler struct {
	hub *telemetry.Hub
}

// NewTelemetryHandler creates a new TelemetryHandler reading from hub.
func NewTelemetryHandler(hub *telemetry.Hub) *TelemetryHandler {
	return &TelemetryHandler{hub: hub}
}

// ServeHTTP upgrades the connection and writes one JSON message per snapshot.
// A client that falls behind skips stale snapshots.
func (h *TelemetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}
	defer conn.Close()

	snapshots, cancel := h.hub.Subscribe(4)
	defer cancel()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snap, ok := h.hub.Latest(); ok {
		if !writeSnapshot(conn, snap) {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-snapshots:
			if !ok || !writeSnapshot(conn, snap) {
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap telemetry.Snapshot) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(snap); err != nil {
		log.Debug().Err(err).Msg("telemetry client gone")
		return false
	}
	return true
}
