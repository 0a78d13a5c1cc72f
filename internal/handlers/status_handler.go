package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type LeaderStatus interface {
	IsLeader() bool
}

// RegisterStatusRoutes mounts the unauthenticated probes.
func RegisterStatusRoutes(r chi.Router, leader LeaderStatus, nodeID string) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/leader", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"node_id": nodeID,
			"leader":  leader.IsLeader(),
		})
	})
}
