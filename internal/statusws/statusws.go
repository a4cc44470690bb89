// Package statusws is a secondary, operator-facing WebSocket endpoint that
// streams periodic channel/session diagnostics. It is not part of the
// player protocol and is built on gorilla/websocket rather than the
// hand-rolled framing the player connections use.
package statusws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ChannelStatus summarizes one channel's live state.
type ChannelStatus struct {
	Name           string `json:"name"`
	ActiveSessions int    `json:"activeSessions"`
	VCleanFrontier *int64 `json:"vCleanFrontier,omitempty"`
	ACleanFrontier *int64 `json:"aCleanFrontier,omitempty"`
}

// Snapshot is one status push.
type Snapshot struct {
	Channels      []ChannelStatus `json:"channels"`
	TotalSessions int             `json:"totalSessions"`
	UptimeS       float64         `json:"uptimeSeconds"`
}

// Provider produces the current status snapshot. The wsserver package
// implements this without statusws needing to import it.
type Provider interface {
	Snapshot() Snapshot
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades incoming requests and pushes a Snapshot from provider
// every interval until the client disconnects.
func Handler(provider Provider, interval time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("status websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go readPump(conn, done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := conn.WriteJSON(provider.Snapshot()); err != nil {
			return
		}
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteJSON(provider.Snapshot()); err != nil {
					return
				}
			}
		}
	}
}

// readPump drains and discards client frames so ping/pong and close
// control frames are processed, closing done when the peer goes away.
func readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
