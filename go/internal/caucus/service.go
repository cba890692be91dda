package caucus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ActorHeader names the acting delegate or chair. Identity is asserted by the
// caller; authenticating it is left to whatever fronts the service.
const ActorHeader = "X-Caucus-Actor"

// Service exposes the App as HTTP JSON.
type Service struct {
	app     *App
	watcher *Watcher
}

// NewService creates a new caucus HTTP service. A nil watcher disables the
// watch stream.
func NewService(app *App, watcher *Watcher) *Service {
	return &Service{app: app, watcher: watcher}
}

// RegisterRoutes registers the service routes on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/time", s.handleTime)

	mux.HandleFunc("POST /api/committees", s.handleCreateCommittee)
	mux.HandleFunc("GET /api/committees/{committee}", s.handleGetCommittee)
	mux.HandleFunc("PUT /api/committees/{committee}/chairs/{chair}", s.handleSetChair(true))
	mux.HandleFunc("DELETE /api/committees/{committee}/chairs/{chair}", s.handleSetChair(false))
	mux.HandleFunc("POST /api/committees/{committee}/timer", s.handleTimer(TimerUnmoderated))

	mux.HandleFunc("POST /api/committees/{committee}/caucuses", s.handleCreateCaucus)
	mux.HandleFunc("GET /api/committees/{committee}/caucuses/{caucus}", s.handleGetCaucus)
	mux.HandleFunc("GET /api/committees/{committee}/caucuses/{caucus}/watch", s.handleWatch)
	mux.HandleFunc("POST /api/committees/{committee}/caucuses/{caucus}/close", s.handleCloseCaucus)
	mux.HandleFunc("POST /api/committees/{committee}/caucuses/{caucus}/queue", s.handleQueueSpeaker)
	mux.HandleFunc("DELETE /api/committees/{committee}/caucuses/{caucus}/queue/{key}", s.handleRemoveSpeaker)
	mux.HandleFunc("POST /api/committees/{committee}/caucuses/{caucus}/next", s.handleNextSpeaker)
	mux.HandleFunc("POST /api/committees/{committee}/caucuses/{caucus}/stop", s.handleStopSpeaking)
	mux.HandleFunc("POST /api/committees/{committee}/caucuses/{caucus}/yield", s.handleYield)
	mux.HandleFunc("POST /api/committees/{committee}/caucuses/{caucus}/interlace", s.handleInterlace)
	mux.HandleFunc("POST /api/committees/{committee}/caucuses/{caucus}/reorder", s.handleReorder)
	mux.HandleFunc("POST /api/committees/{committee}/caucuses/{caucus}/timers/speaker", s.handleTimer(TimerSpeaker))
	mux.HandleFunc("POST /api/committees/{committee}/caucuses/{caucus}/timers/caucus", s.handleTimer(TimerCaucus))

	mux.HandleFunc("GET /api/committees/{committee}/motions", s.handlePendingMotions)
	mux.HandleFunc("POST /api/committees/{committee}/motions", s.handleProposeMotion)
	mux.HandleFunc("DELETE /api/committees/{committee}/motions/{motion}", s.handleDeleteMotion)
	mux.HandleFunc("POST /api/committees/{committee}/motions/{motion}/votes", s.handleVoteMotion)
	mux.HandleFunc("POST /api/committees/{committee}/motions/{motion}/approve", s.handleApproveMotion)
}

// TimeResponse lets a client estimate its clock offset from the server.
type TimeResponse struct {
	ServerTimeMs int64 `json:"server_time_ms"`
}

func (s *Service) handleTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TimeResponse{ServerTimeMs: s.app.clock.Now().UnixMilli()})
}

// handleWatch streams caucus views as server-sent events until the client
// goes away.
func (s *Service) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		http.Error(w, "watching is not enabled", http.StatusNotImplemented)
		return
	}
	committeeID, caucusID := r.PathValue("committee"), r.PathValue("caucus")
	if _, err := s.app.GetCaucus(r.Context(), committeeID, caucusID); err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	views, err := s.watcher.Watch(r.Context(), committeeID, caucusID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for v := range views {
		data, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode caucus view")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

type idResponse struct {
	ID string `json:"id"`
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

func (s *Service) handleCreateCommittee(w http.ResponseWriter, r *http.Request) {
	var req CreateCommitteeRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.app.CreateCommittee(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Service) handleGetCommittee(w http.ResponseWriter, r *http.Request) {
	c, err := s.app.GetCommittee(r.Context(), r.PathValue("committee"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Service) handleSetChair(grant bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.app.SetChair(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("chair"), grant)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) handleCreateCaucus(w http.ResponseWriter, r *http.Request) {
	var req CreateCaucusRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.app.CreateCaucus(r.Context(), actor(r), r.PathValue("committee"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Service) handleGetCaucus(w http.ResponseWriter, r *http.Request) {
	v, err := s.app.ViewCaucus(r.Context(), r.PathValue("committee"), r.PathValue("caucus"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Service) handleCloseCaucus(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r, s.app.CloseCaucus(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("caucus")))
}

func (s *Service) handleQueueSpeaker(w http.ResponseWriter, r *http.Request) {
	var req QueueSpeakerRequest
	if !decode(w, r, &req) {
		return
	}
	key, err := s.app.QueueSpeaker(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("caucus"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: key})
}

func (s *Service) handleRemoveSpeaker(w http.ResponseWriter, r *http.Request) {
	err := s.app.RemoveSpeaker(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("caucus"), r.PathValue("key"))
	s.respondView(w, r, err)
}

func (s *Service) handleNextSpeaker(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r, s.app.NextSpeaker(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("caucus")))
}

func (s *Service) handleStopSpeaking(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r, s.app.StopSpeaking(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("caucus")))
}

type yieldRequest struct {
	QueueKey string `json:"queue_key"`
}

func (s *Service) handleYield(w http.ResponseWriter, r *http.Request) {
	// The body is optional: without one the now-speaking turn yields.
	var req yieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	err := s.app.Yield(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("caucus"), req.QueueKey)
	s.respondView(w, r, err)
}

func (s *Service) handleInterlace(w http.ResponseWriter, r *http.Request) {
	changed, err := s.app.Interlace(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("caucus"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

type reorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s *Service) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !decode(w, r, &req) {
		return
	}
	changed, err := s.app.Reorder(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("caucus"), req.From, req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (s *Service) handleTimer(kind TimerKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TimerRequest
		if !decode(w, r, &req) {
			return
		}
		state, err := s.app.RunTimer(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("caucus"), kind, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func (s *Service) handlePendingMotions(w http.ResponseWriter, r *http.Request) {
	pending, err := s.app.PendingMotions(r.Context(), r.PathValue("committee"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Service) handleProposeMotion(w http.ResponseWriter, r *http.Request) {
	var m models.Motion
	if !decode(w, r, &m) {
		return
	}
	id, err := s.app.ProposeMotion(r.Context(), actor(r), r.PathValue("committee"), m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Service) handleDeleteMotion(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteMotion(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("motion")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type voteRequest struct {
	Voter string      `json:"voter"`
	Vote  models.Vote `json:"vote"`
}

func (s *Service) handleVoteMotion(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.app.VoteMotion(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("motion"), req.Voter, req.Vote)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleApproveMotion(w http.ResponseWriter, r *http.Request) {
	opened, err := s.app.ApproveMotion(r.Context(), actor(r), r.PathValue("committee"), r.PathValue("motion"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: opened})
}

// respondView answers a caucus write with the caucus as it now stands.
func (s *Service) respondView(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	s.handleGetCaucus(w, r)
}

func actor(r *http.Request) string {
	return r.Header.Get(ActorHeader)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(errorCode(err))
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}
