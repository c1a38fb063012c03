// Package server exposes the HTTP surface of the relay: the WebSocket
// upgrade endpoint and the health check.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Gateway upgrades HTTP requests into WebSocket connections and hands
// them to the hub. It is the only component that touches raw sockets;
// the coordinator sees clients, never connections.
type Gateway struct {
	hub      *Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewGateway wires a Gateway to the given hub. The origin allow-list
// comes from the hub's config.
func NewGateway(hub *Hub) *Gateway {
	policy := newOriginPolicy(hub.cfg.AllowedOrigins, hub.log)
	return &Gateway{
		hub: hub,
		log: hub.log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
	}
}

// ServeWS handles WebSocket upgrade requests. A valid admin token in
// the token query parameter marks the whole connection as admin, so
// later admin broadcasts need no per-event token.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	admin := verifyAdminToken(g.hub.cfg.AdminSecret, r.URL.Query().Get("token"))

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, g.hub, r.RemoteAddr, admin)
	// The hub launches the pump goroutines on registration.
	g.hub.register <- client
}

// Health responds with a plain text liveness message.
func (g *Gateway) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Nexus chat server is running!")
}
