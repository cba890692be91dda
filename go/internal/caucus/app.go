// Package caucus binds the timer, speaker, queue and motion engines to
// committee documents and guards writes with chair authority.
package caucus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/mcdev12/caucus/go/internal/motion"
	"github.com/mcdev12/caucus/go/internal/queue"
	"github.com/mcdev12/caucus/go/internal/speaker"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/mcdev12/caucus/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// App handles committee business logic
type App struct {
	store store.Store
	repo  *Repository
	clock timer.Clock
}

// NewApp creates a new caucus App. clock should be server-corrected.
func NewApp(s store.Store, clock timer.Clock) *App {
	return &App{
		store: s,
		repo:  NewRepository(s),
		clock: clock,
	}
}

// Store returns the store the app writes to.
func (a *App) Store() store.Store {
	return a.store
}

// Clock returns the corrected clock used for timer writes.
func (a *App) Clock() timer.Clock {
	return a.clock
}

// CreateCommittee creates a committee and grants its chairs write authority.
func (a *App) CreateCommittee(ctx context.Context, req CreateCommitteeRequest) (string, error) {
	if strings.TrimSpace(req.Name) == "" {
		return "", fmt.Errorf("%w: committee name is required", ErrInvalidInput)
	}

	chairs := make(map[string]bool, len(req.Chairs))
	for _, c := range req.Chairs {
		if c = strings.TrimSpace(c); c != "" {
			chairs[c] = true
		}
	}

	id := uuid.New().String()
	committee := models.Committee{
		Name:      req.Name,
		Topic:     req.Topic,
		Chairs:    chairs,
		Timer:     models.NewTimerState(models.DefaultCaucusSeconds),
		CreatedAt: a.clock.Now().UTC(),
	}
	if err := a.repo.CreateCommittee(ctx, id, committee); err != nil {
		return "", err
	}

	log.Info().Str("committee_id", id).Str("name", req.Name).Int("chairs", len(chairs)).Msg("created committee")
	return id, nil
}

// GetCommittee retrieves a committee
func (a *App) GetCommittee(ctx context.Context, committeeID string) (*models.Committee, error) {
	return a.repo.GetCommittee(ctx, committeeID)
}

// SetChair grants or revokes chair authority. Only a chair may do so.
func (a *App) SetChair(ctx context.Context, actor, committeeID, chair string, grant bool) error {
	if err := a.requireChair(ctx, committeeID, actor); err != nil {
		return err
	}
	if actor == chair && !grant {
		return fmt.Errorf("%w: a chair cannot revoke themselves", ErrInvalidInput)
	}
	return a.repo.SetChair(ctx, committeeID, chair, grant)
}

// CreateCaucus opens a new caucus in a committee.
func (a *App) CreateCaucus(ctx context.Context, actor, committeeID string, req CreateCaucusRequest) (string, error) {
	if err := a.requireChair(ctx, committeeID, actor); err != nil {
		return "", err
	}

	c := models.NewCaucus(req.Name, req.Topic)
	if c.Name == "" {
		c.Name = "Moderated Caucus"
	}
	if req.SpeakerDuration != 0 {
		seconds, err := timer.Seconds(req.SpeakerDuration, unitOrSeconds(req.SpeakerUnit))
		if err != nil {
			return "", err
		}
		c.SpeakerDuration = req.SpeakerDuration
		c.SpeakerUnit = unitOrSeconds(req.SpeakerUnit)
		c.SpeakerTimer = models.NewTimerState(seconds)
	}
	if req.CaucusDuration != 0 {
		seconds, err := timer.Seconds(req.CaucusDuration, unitOrSeconds(req.CaucusUnit))
		if err != nil {
			return "", err
		}
		c.CaucusTimer = models.NewTimerState(seconds)
	}

	id := uuid.New().String()
	if err := a.repo.CreateCaucus(ctx, committeeID, id, c); err != nil {
		return "", err
	}

	log.Info().Str("committee_id", committeeID).Str("caucus_id", id).Str("name", c.Name).Msg("opened caucus")
	return id, nil
}

// GetCaucus retrieves a caucus
func (a *App) GetCaucus(ctx context.Context, committeeID, caucusID string) (*models.Caucus, error) {
	return a.repo.GetCaucus(ctx, committeeID, caucusID)
}

// ViewCaucus renders a caucus as of the corrected current time.
func (a *App) ViewCaucus(ctx context.Context, committeeID, caucusID string) (*View, error) {
	c, err := a.repo.GetCaucus(ctx, committeeID, caucusID)
	if err != nil {
		return nil, err
	}
	v := Render(*c, a.clock.Now())
	return &v, nil
}

// CloseCaucus marks a caucus closed and stops its caucus timer.
func (a *App) CloseCaucus(ctx context.Context, actor, committeeID, caucusID string) error {
	c, err := a.writableCaucus(ctx, actor, committeeID, caucusID)
	if err != nil {
		return err
	}
	if err := a.repo.UpdateCaucus(ctx, committeeID, caucusID, map[string]any{
		"status":      models.CaucusStatusClosed,
		"caucusTimer": timer.Settle(c.CaucusTimer, a.clock.Now()),
	}); err != nil {
		return err
	}
	log.Info().Str("committee_id", committeeID).Str("caucus_id", caucusID).Msg("closed caucus")
	return nil
}

// QueueSpeaker appends a delegate to a caucus queue and returns the queue key.
func (a *App) QueueSpeaker(ctx context.Context, actor, committeeID, caucusID string, req QueueSpeakerRequest) (string, error) {
	c, err := a.writableCaucus(ctx, actor, committeeID, caucusID)
	if err != nil {
		return "", err
	}
	if c.Status == models.CaucusStatusClosed {
		return "", ErrCaucusClosed
	}
	if strings.TrimSpace(req.Who) == "" {
		return "", fmt.Errorf("%w: speaker is required", ErrInvalidInput)
	}
	if !req.Stance.Valid() {
		return "", fmt.Errorf("%w: unknown stance %q", ErrInvalidInput, req.Stance)
	}

	duration := c.SpeakerSeconds()
	if req.Duration != 0 {
		if duration, err = timer.Seconds(req.Duration, unitOrSeconds(req.Unit)); err != nil {
			return "", err
		}
	}

	key, err := a.store.Push(ctx, QueuePath(committeeID, caucusID), models.SpeakerEvent{
		Who:      req.Who,
		Stance:   req.Stance,
		Duration: duration,
	})
	if err != nil {
		return "", fmt.Errorf("failed to queue speaker: %w", err)
	}
	log.Info().Str("caucus_id", caucusID).Str("who", req.Who).Str("stance", string(req.Stance)).Msg("speaker queued")
	return key, nil
}

// RemoveSpeaker drops a queue entry.
func (a *App) RemoveSpeaker(ctx context.Context, actor, committeeID, caucusID, key string) error {
	c, err := a.writableCaucus(ctx, actor, committeeID, caucusID)
	if err != nil {
		return err
	}
	if _, ok := c.Queue[key]; !ok {
		return fmt.Errorf("%w: queue entry %s", ErrNotFound, key)
	}
	if err := a.store.Remove(ctx, store.Join(QueuePath(committeeID, caucusID), key)); err != nil {
		return fmt.Errorf("failed to remove speaker: %w", err)
	}
	return nil
}

// NextSpeaker archives the current speaker and gives the floor to the head of
// the queue.
func (a *App) NextSpeaker(ctx context.Context, actor, committeeID, caucusID string) error {
	if _, err := a.writableCaucus(ctx, actor, committeeID, caucusID); err != nil {
		return err
	}
	return a.advance(ctx, committeeID, caucusID, speaker.NextSpeaker(a.clock.Now()))
}

// StopSpeaking archives the current speaker without bringing anyone in.
func (a *App) StopSpeaking(ctx context.Context, actor, committeeID, caucusID string) error {
	if _, err := a.writableCaucus(ctx, actor, committeeID, caucusID); err != nil {
		return err
	}
	return a.advance(ctx, committeeID, caucusID, speaker.StopSpeaker(a.clock.Now()))
}

// Yield hands the yielding speaker's unused time to the next speaker. An
// empty queueKey yields the now-speaking turn.
func (a *App) Yield(ctx context.Context, actor, committeeID, caucusID, queueKey string) error {
	if _, err := a.writableCaucus(ctx, actor, committeeID, caucusID); err != nil {
		return err
	}
	err := a.advance(ctx, committeeID, caucusID, speaker.YieldTurn(a.clock.Now(), queueKey))
	if errors.Is(err, speaker.ErrNoTurn) {
		return ErrNothingToMove
	}
	return err
}

func (a *App) advance(ctx context.Context, committeeID, caucusID string, build speaker.Builder) error {
	_, err := speaker.Advance(ctx, a.store, CaucusPath(committeeID, caucusID), build)
	return err
}

// Interlace alternates the stances in a caucus queue. It reports false when
// the queue was too short to change.
func (a *App) Interlace(ctx context.Context, actor, committeeID, caucusID string) (bool, error) {
	if _, err := a.writableCaucus(ctx, actor, committeeID, caucusID); err != nil {
		return false, err
	}
	return queue.InterlaceStored(ctx, a.store, QueuePath(committeeID, caucusID))
}

// Reorder moves one queue entry. Anyone may view the queue but only chairs
// may reorder it.
func (a *App) Reorder(ctx context.Context, actor, committeeID, caucusID string, from, to int) (bool, error) {
	chair, err := a.repo.IsChair(ctx, committeeID, actor)
	if err != nil {
		return false, err
	}
	return queue.Reorder(ctx, a.store, QueuePath(committeeID, caucusID), chair, from, to)
}

// Timer returns a controller for one of the committee's timers.
func (a *App) Timer(committeeID, caucusID string, kind TimerKind) (*timer.Controller, error) {
	path, err := TimerPath(committeeID, caucusID, kind)
	if err != nil {
		return nil, err
	}
	return timer.NewController(a.store, path, a.clock), nil
}

// RunTimer applies req to a timer and returns the stored state afterwards.
func (a *App) RunTimer(ctx context.Context, actor, committeeID, caucusID string, kind TimerKind, req TimerRequest) (models.TimerState, error) {
	if kind == TimerSpeaker || kind == TimerCaucus {
		if _, err := a.writableCaucus(ctx, actor, committeeID, caucusID); err != nil {
			return models.TimerState{}, err
		}
	} else if err := a.requireChair(ctx, committeeID, actor); err != nil {
		return models.TimerState{}, err
	}
	ctrl, err := a.Timer(committeeID, caucusID, kind)
	if err != nil {
		return models.TimerState{}, err
	}

	switch req.Action {
	case TimerStart:
		err = ctrl.Start(ctx)
	case TimerStop:
		err = ctrl.Stop(ctx)
	case TimerToggle:
		err = ctrl.Toggle(ctx)
	case TimerSet:
		err = ctrl.Set(ctx, req.Duration, unitOrSeconds(req.Unit))
	case TimerExtend:
		var seconds int
		if seconds, err = timer.Seconds(req.Duration, unitOrSeconds(req.Unit)); err == nil {
			_, err = ctrl.Extend(ctx, seconds)
		}
	default:
		err = fmt.Errorf("%w: unknown timer action %q", ErrInvalidInput, req.Action)
	}
	if errors.Is(err, timer.ErrNoTimer) {
		return models.TimerState{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if err != nil {
		return models.TimerState{}, err
	}

	log.Debug().Str("timer", ctrl.Path()).Str("action", string(req.Action)).Str("actor", actor).Msg("timer updated")
	return ctrl.State(ctx)
}

// ProposeMotion records a motion for the chair's action list.
func (a *App) ProposeMotion(ctx context.Context, actor, committeeID string, m models.Motion) (string, error) {
	if err := a.requireChair(ctx, committeeID, actor); err != nil {
		return "", err
	}
	return motion.Propose(ctx, a.store, MotionsPath(committeeID), m)
}

// DeleteMotion tombstones a motion.
func (a *App) DeleteMotion(ctx context.Context, actor, committeeID, motionID string) error {
	if err := a.requireChair(ctx, committeeID, actor); err != nil {
		return err
	}
	return mapMotionErr(motion.Delete(ctx, a.store, MotionsPath(committeeID), motionID))
}

// VoteMotion records a delegate's vote.
func (a *App) VoteMotion(ctx context.Context, actor, committeeID, motionID, voter string, v models.Vote) error {
	if err := a.requireChair(ctx, committeeID, actor); err != nil {
		return err
	}
	return mapMotionErr(motion.Vote(ctx, a.store, MotionsPath(committeeID), motionID, voter, v))
}

// PendingMotions lists live motions, least disruptive first.
func (a *App) PendingMotions(ctx context.Context, committeeID string) ([]models.KeyedMotion, error) {
	return motion.Pending(ctx, a.store, MotionsPath(committeeID))
}

// ApproveMotion carries out a passed motion and tombstones it. Caucus and
// unmoderated-timer motions act on the committee; the rest are only recorded.
// It returns the id of a caucus the motion opened, if any.
func (a *App) ApproveMotion(ctx context.Context, actor, committeeID, motionID string) (string, error) {
	if err := a.requireChair(ctx, committeeID, actor); err != nil {
		return "", err
	}
	var m models.Motion
	if err := a.repo.get(ctx, store.Join(MotionsPath(committeeID), motionID), &m); err != nil {
		return "", err
	}
	if m.Deleted {
		return "", fmt.Errorf("%w: motion %s was withdrawn", ErrNotFound, motionID)
	}

	var opened string
	var err error
	switch m.Type {
	case models.MotionOpenModeratedCaucus:
		opened, err = a.CreateCaucus(ctx, actor, committeeID, CreateCaucusRequest{
			Name:            m.Proposal,
			Topic:           m.Proposal,
			SpeakerDuration: m.SpeakerDuration,
			SpeakerUnit:     m.SpeakerUnit,
			CaucusDuration:  m.CaucusDuration,
			CaucusUnit:      m.CaucusUnit,
		})
	case models.MotionExtendModeratedCaucus:
		_, err = a.RunTimer(ctx, actor, committeeID, m.CaucusTarget, TimerCaucus, TimerRequest{
			Action: TimerExtend, Duration: m.CaucusDuration, Unit: m.CaucusUnit,
		})
	case models.MotionCloseModeratedCaucus:
		err = a.CloseCaucus(ctx, actor, committeeID, m.CaucusTarget)
	case models.MotionOpenUnmoderatedCaucus:
		if _, err = a.RunTimer(ctx, actor, committeeID, "", TimerUnmoderated, TimerRequest{
			Action: TimerSet, Duration: m.CaucusDuration, Unit: m.CaucusUnit,
		}); err == nil {
			_, err = a.RunTimer(ctx, actor, committeeID, "", TimerUnmoderated, TimerRequest{Action: TimerStart})
		}
	case models.MotionExtendUnmoderatedCaucus:
		_, err = a.RunTimer(ctx, actor, committeeID, "", TimerUnmoderated, TimerRequest{
			Action: TimerExtend, Duration: m.CaucusDuration, Unit: m.CaucusUnit,
		})
	}
	if err != nil {
		return "", fmt.Errorf("failed to carry out %s: %w", m.Type, err)
	}

	if err := motion.Delete(ctx, a.store, MotionsPath(committeeID), motionID); err != nil {
		return opened, err
	}
	log.Info().Str("committee_id", committeeID).Str("motion_id", motionID).Str("type", string(m.Type)).Msg("motion approved")
	return opened, nil
}

func (a *App) requireChair(ctx context.Context, committeeID, actor string) error {
	chair, err := a.repo.IsChair(ctx, committeeID, actor)
	if err != nil {
		return err
	}
	if !chair {
		log.Warn().Str("committee_id", committeeID).Str("actor", actor).Msg("write rejected, actor is not a chair")
		return ErrForbidden
	}
	return nil
}

func (a *App) writableCaucus(ctx context.Context, actor, committeeID, caucusID string) (*models.Caucus, error) {
	if err := a.requireChair(ctx, committeeID, actor); err != nil {
		return nil, err
	}
	return a.repo.GetCaucus(ctx, committeeID, caucusID)
}

func unitOrSeconds(u models.Unit) models.Unit {
	if u == "" {
		return models.UnitSeconds
	}
	return u
}

func mapMotionErr(err error) error {
	if errors.Is(err, motion.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
