package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/mealmood/internal/auth"
)

// HandleWebSocket returns an HTTP handler that upgrades authenticated
// connections to WebSocket and runs them as Hub clients of the caller.
func HandleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := auth.UserID(r.Context())
		if owner == 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // API clients connect from any origin; the token authenticates them
		})
		if err != nil {
			hub.logger.Warn("websocket accept", "error", err)
			return
		}
		client := NewClient(hub, conn, owner)
		client.Run(r.Context())
	}
}
