// Package server wires HTTP handlers into a router for the chat relay.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures the application routes: health check,
// WebSocket endpoint, and metrics. The metrics handler is provided by
// the caller so it shares the registry the hub records into.
func SetupRoutes(g *Gateway, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", g.Health).Methods(http.MethodGet)
	r.HandleFunc("/ws", g.ServeWS).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	return r
}
