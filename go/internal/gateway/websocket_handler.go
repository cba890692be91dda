package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/caucus/go/internal/caucus"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades committee subscriptions.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	stateProvider     StateProvider
}

func NewWebSocketHandler(cm *ConnectionManager, provider StateProvider) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		stateProvider:     provider,
	}
}

// HandleCommitteeConnection upgrades /ws/committee?committee_id=... and sends
// the current committee document as the first frame.
func (h *WebSocketHandler) HandleCommitteeConnection(w http.ResponseWriter, r *http.Request) {
	committeeID := r.URL.Query().Get("committee_id")
	if committeeID == "" {
		http.Error(w, "committee_id is required", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.CommitteeState(r.Context(), committeeID)
	if errors.Is(err, ErrCommitteeNotFound) {
		http.Error(w, "committee not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("committee_id", committeeID).Msg("failed to load committee state")
		http.Error(w, "failed to load committee state", http.StatusInternalServerError)
		return
	}

	actor := r.URL.Query().Get("actor")
	if actor == "" {
		actor = r.Header.Get(caucus.ActorHeader)
	}
	if actor == "" {
		actor = "anonymous"
	}

	snapshot := &Message{
		Type:        MessageSnapshot,
		CommitteeID: committeeID,
		DocumentKey: caucus.CommitteePath(committeeID),
		Version:     state.Version,
		Data:        state.Document,
	}
	if err := h.connectionManager.UpgradeConnection(w, r, actor, committeeID, snapshot); err != nil {
		// The upgrader has already written an error response.
		log.Error().
			Err(err).
			Str("committee_id", committeeID).
			Str("actor", actor).
			Msg("failed to upgrade WebSocket connection")
	}
}

func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/committee", h.HandleCommitteeConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
