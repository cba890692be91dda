package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/caucus/go/internal/caucus"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/rs/zerolog/log"
)

var ErrCommitteeNotFound = errors.New("committee not found")

// CommitteeState is the stored committee document at a given version.
type CommitteeState struct {
	CommitteeID string          `json:"committee_id"`
	Version     int64           `json:"version"`
	Document    json.RawMessage `json:"document"`
}

// StateProvider loads the current committee document for new clients.
type StateProvider interface {
	CommitteeState(ctx context.Context, committeeID string) (*CommitteeState, error)
}

// DocumentLoader reads raw document rows. *store.Documents implements it.
type DocumentLoader interface {
	LoadDocument(ctx context.Context, key string) (store.Document, error)
}

type documentStateProvider struct {
	docs DocumentLoader
}

// NewDocumentStateProvider serves committee state straight from the
// documents table.
func NewDocumentStateProvider(docs DocumentLoader) StateProvider {
	return &documentStateProvider{docs: docs}
}

func (p *documentStateProvider) CommitteeState(ctx context.Context, committeeID string) (*CommitteeState, error) {
	doc, err := p.docs.LoadDocument(ctx, caucus.CommitteePath(committeeID))
	if err != nil {
		return nil, err
	}
	if doc.Version == 0 || len(doc.Value) == 0 || string(doc.Value) == "null" {
		return nil, ErrCommitteeNotFound
	}
	return &CommitteeState{
		CommitteeID: committeeID,
		Version:     doc.Version,
		Document:    doc.Value,
	}, nil
}

type StateHandler struct {
	stateProvider StateProvider
}

func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{stateProvider: provider}
}

// HandleGetCommitteeState handles GET /api/committees/{committee}/state.
func (h *StateHandler) HandleGetCommitteeState(w http.ResponseWriter, r *http.Request) {
	committeeID := r.PathValue("committee")

	state, err := h.stateProvider.CommitteeState(r.Context(), committeeID)
	if errors.Is(err, ErrCommitteeNotFound) {
		http.Error(w, "committee not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("committee_id", committeeID).Msg("failed to get committee state")
		http.Error(w, "failed to get committee state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode committee state response")
	}
}

func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/committees/{committee}/state", h.HandleGetCommitteeState)
}
