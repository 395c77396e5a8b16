package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moleworks/burrow/internal/session"
)

// Handler serves the WebSocket endpoint plus the out-of-band diagnostics:
// a liveness probe and a debug listing of room metadata.
type Handler struct {
	cm       *ConnectionManager
	registry *session.Registry
}

// NewHandler returns the HTTP surface of the gateway.
func NewHandler(cm *ConnectionManager, registry *session.Registry) *Handler {
	return &Handler{cm: cm, registry: registry}
}

// HandleWS upgrades the request to a WebSocket connection.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := h.cm.Upgrade(w, r); err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleHealth reports process status and the live room count.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "OK",
		"activeSessions": h.registry.Len(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// HandleSessions lists room metadata for debugging.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.All()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Snapshot())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

// RegisterRoutes registers the gateway routes on an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/sessions", h.HandleSessions)
}
