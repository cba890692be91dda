package caucus

import (
	"context"
	"encoding/json"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/caucus/go/internal/models"
)

// RPCServiceName is the Connect service the RPC handlers are mounted under.
const RPCServiceName = "caucus.v1.CaucusService"

// jsonCodec lets Connect carry plain Go structs as JSON. It replaces the
// protobuf JSON codec registered under the same name.
type jsonCodec struct {
	name string
}

func (c jsonCodec) Name() string { return c.name }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// JSONCodecs returns the codec options for talking to the RPC service.
func JSONCodecs() []connect.Option {
	return []connect.Option{
		connect.WithCodec(jsonCodec{name: "json"}),
		connect.WithCodec(jsonCodec{name: "json; charset=utf-8"}),
	}
}

// CaucusRef names one caucus of a committee.
type CaucusRef struct {
	CommitteeID string `json:"committee_id"`
	CaucusID    string `json:"caucus_id"`
}

// CommitteeRef names a committee.
type CommitteeRef struct {
	CommitteeID string `json:"committee_id"`
}

type CreateCaucusRPCRequest struct {
	CommitteeID string `json:"committee_id"`
	CreateCaucusRequest
}

type QueueSpeakerRPCRequest struct {
	CaucusRef
	QueueSpeakerRequest
}

type RemoveSpeakerRPCRequest struct {
	CaucusRef
	Key string `json:"key"`
}

type YieldRPCRequest struct {
	CaucusRef
	QueueKey string `json:"queue_key"`
}

type ReorderRPCRequest struct {
	CaucusRef
	From int `json:"from"`
	To   int `json:"to"`
}

type RunTimerRPCRequest struct {
	CaucusRef
	Kind TimerKind `json:"kind"`
	TimerRequest
}

type ProposeMotionRPCRequest struct {
	CommitteeID string        `json:"committee_id"`
	Motion      models.Motion `json:"motion"`
}

type MotionRef struct {
	CommitteeID string `json:"committee_id"`
	MotionID    string `json:"motion_id"`
}

type VoteMotionRPCRequest struct {
	MotionRef
	Voter string      `json:"voter"`
	Vote  models.Vote `json:"vote"`
}

type IDResponse struct {
	ID string `json:"id"`
}

type ChangedResponse struct {
	Changed bool `json:"changed"`
}

type MotionsResponse struct {
	Motions []models.KeyedMotion `json:"motions"`
}

// Empty is the response of RPCs that return nothing.
type Empty struct{}

// RPC serves the App over Connect with JSON messages. The actor is read from
// ActorHeader, as for the HTTP API.
type RPC struct {
	app *App
}

func NewRPC(app *App) *RPC {
	return &RPC{app: app}
}

// Handler returns the path to mount the service on and its handler.
func (s *RPC) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	for _, c := range JSONCodecs() {
		opts = append(opts, c)
	}

	mux := http.NewServeMux()
	unary(mux, "CreateCommittee", s.createCommittee, opts)
	unary(mux, "GetCommittee", s.getCommittee, opts)
	unary(mux, "CreateCaucus", s.createCaucus, opts)
	unary(mux, "GetCaucus", s.getCaucus, opts)
	unary(mux, "CloseCaucus", s.closeCaucus, opts)
	unary(mux, "QueueSpeaker", s.queueSpeaker, opts)
	unary(mux, "RemoveSpeaker", s.removeSpeaker, opts)
	unary(mux, "NextSpeaker", s.nextSpeaker, opts)
	unary(mux, "StopSpeaking", s.stopSpeaking, opts)
	unary(mux, "Yield", s.yield, opts)
	unary(mux, "Interlace", s.interlace, opts)
	unary(mux, "Reorder", s.reorder, opts)
	unary(mux, "RunTimer", s.runTimer, opts)
	unary(mux, "ListMotions", s.listMotions, opts)
	unary(mux, "ProposeMotion", s.proposeMotion, opts)
	unary(mux, "DeleteMotion", s.deleteMotion, opts)
	unary(mux, "VoteMotion", s.voteMotion, opts)
	unary(mux, "ApproveMotion", s.approveMotion, opts)

	return "/" + RPCServiceName + "/", mux
}

// Procedure returns the full procedure path of method.
func Procedure(method string) string {
	return "/" + RPCServiceName + "/" + method
}

func unary[Req, Res any](mux *http.ServeMux, method string, fn func(context.Context, string, *Req) (*Res, error), opts []connect.HandlerOption) {
	procedure := Procedure(method)
	mux.Handle(procedure, connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Header().Get(ActorHeader), req.Msg)
			if err != nil {
				code := errorCode(err)
				if code == connect.CodeInternal {
					log.Error().Err(err).Str("procedure", procedure).Msg("rpc failed")
				}
				return nil, connect.NewError(code, err)
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	))
}

func (s *RPC) createCommittee(ctx context.Context, _ string, req *CreateCommitteeRequest) (*IDResponse, error) {
	id, err := s.app.CreateCommittee(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &IDResponse{ID: id}, nil
}

func (s *RPC) getCommittee(ctx context.Context, _ string, req *CommitteeRef) (*models.Committee, error) {
	return s.app.GetCommittee(ctx, req.CommitteeID)
}

func (s *RPC) createCaucus(ctx context.Context, actor string, req *CreateCaucusRPCRequest) (*IDResponse, error) {
	id, err := s.app.CreateCaucus(ctx, actor, req.CommitteeID, req.CreateCaucusRequest)
	if err != nil {
		return nil, err
	}
	return &IDResponse{ID: id}, nil
}

func (s *RPC) getCaucus(ctx context.Context, _ string, req *CaucusRef) (*View, error) {
	return s.app.ViewCaucus(ctx, req.CommitteeID, req.CaucusID)
}

// view answers a caucus write with the caucus as it now stands.
func (s *RPC) view(ctx context.Context, ref CaucusRef, err error) (*View, error) {
	if err != nil {
		return nil, err
	}
	return s.app.ViewCaucus(ctx, ref.CommitteeID, ref.CaucusID)
}

func (s *RPC) closeCaucus(ctx context.Context, actor string, req *CaucusRef) (*View, error) {
	return s.view(ctx, *req, s.app.CloseCaucus(ctx, actor, req.CommitteeID, req.CaucusID))
}

func (s *RPC) queueSpeaker(ctx context.Context, actor string, req *QueueSpeakerRPCRequest) (*IDResponse, error) {
	key, err := s.app.QueueSpeaker(ctx, actor, req.CommitteeID, req.CaucusID, req.QueueSpeakerRequest)
	if err != nil {
		return nil, err
	}
	return &IDResponse{ID: key}, nil
}

func (s *RPC) removeSpeaker(ctx context.Context, actor string, req *RemoveSpeakerRPCRequest) (*View, error) {
	return s.view(ctx, req.CaucusRef, s.app.RemoveSpeaker(ctx, actor, req.CommitteeID, req.CaucusID, req.Key))
}

func (s *RPC) nextSpeaker(ctx context.Context, actor string, req *CaucusRef) (*View, error) {
	return s.view(ctx, *req, s.app.NextSpeaker(ctx, actor, req.CommitteeID, req.CaucusID))
}

func (s *RPC) stopSpeaking(ctx context.Context, actor string, req *CaucusRef) (*View, error) {
	return s.view(ctx, *req, s.app.StopSpeaking(ctx, actor, req.CommitteeID, req.CaucusID))
}

func (s *RPC) yield(ctx context.Context, actor string, req *YieldRPCRequest) (*View, error) {
	return s.view(ctx, req.CaucusRef, s.app.Yield(ctx, actor, req.CommitteeID, req.CaucusID, req.QueueKey))
}

func (s *RPC) interlace(ctx context.Context, actor string, req *CaucusRef) (*ChangedResponse, error) {
	changed, err := s.app.Interlace(ctx, actor, req.CommitteeID, req.CaucusID)
	if err != nil {
		return nil, err
	}
	return &ChangedResponse{Changed: changed}, nil
}

func (s *RPC) reorder(ctx context.Context, actor string, req *ReorderRPCRequest) (*ChangedResponse, error) {
	changed, err := s.app.Reorder(ctx, actor, req.CommitteeID, req.CaucusID, req.From, req.To)
	if err != nil {
		return nil, err
	}
	return &ChangedResponse{Changed: changed}, nil
}

func (s *RPC) runTimer(ctx context.Context, actor string, req *RunTimerRPCRequest) (*models.TimerState, error) {
	state, err := s.app.RunTimer(ctx, actor, req.CommitteeID, req.CaucusID, req.Kind, req.TimerRequest)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *RPC) listMotions(ctx context.Context, _ string, req *CommitteeRef) (*MotionsResponse, error) {
	pending, err := s.app.PendingMotions(ctx, req.CommitteeID)
	if err != nil {
		return nil, err
	}
	return &MotionsResponse{Motions: pending}, nil
}

func (s *RPC) proposeMotion(ctx context.Context, actor string, req *ProposeMotionRPCRequest) (*IDResponse, error) {
	id, err := s.app.ProposeMotion(ctx, actor, req.CommitteeID, req.Motion)
	if err != nil {
		return nil, err
	}
	return &IDResponse{ID: id}, nil
}

func (s *RPC) deleteMotion(ctx context.Context, actor string, req *MotionRef) (*Empty, error) {
	if err := s.app.DeleteMotion(ctx, actor, req.CommitteeID, req.MotionID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *RPC) voteMotion(ctx context.Context, actor string, req *VoteMotionRPCRequest) (*Empty, error) {
	if err := s.app.VoteMotion(ctx, actor, req.CommitteeID, req.MotionID, req.Voter, req.Vote); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *RPC) approveMotion(ctx context.Context, actor string, req *MotionRef) (*IDResponse, error) {
	opened, err := s.app.ApproveMotion(ctx, actor, req.CommitteeID, req.MotionID)
	if err != nil {
		return nil, err
	}
	return &IDResponse{ID: opened}, nil
}
