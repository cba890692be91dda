// Package speaker moves turns between the queue, the now-speaking slot and
// the history of a caucus.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/mcdev12/caucus/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// ErrNoTurn is returned when the turn asked to yield does not exist.
var ErrNoTurn = errors.New("no such turn")

// Caucus fields written by an advance, relative to the caucus path.
const (
	FieldSpeaking     = "speaking"
	FieldQueue        = "queue"
	FieldHistory      = "history"
	FieldSpeakerTimer = "speakerTimer"
)

// Current is the turn being ended.
type Current struct {
	// QueueKey is set when the turn ending is a queue entry yielding rather
	// than the now-speaking slot.
	QueueKey string
	Event    models.SpeakerEvent
	// Timer is the speaker timer as of the advance, already settled.
	Timer models.TimerState
}

// Next is the queue entry taking the floor.
type Next struct {
	Key   string
	Event models.SpeakerEvent
}

// AdvanceRequest describes one transition of the speaker slot.
type AdvanceRequest struct {
	Current  *Current
	Next     *Next
	Yielding bool
	// ResetDurationSeconds is what the speaker timer resets to when nobody
	// takes the floor.
	ResetDurationSeconds int
}

// Writes is a multi-path update relative to the caucus path. A nil value
// removes the field.
type Writes map[string]any

// Plan computes the writes for req. The current turn is archived with the
// time it actually used, and when yielding its unused time is added to the
// next speaker's allotment. historyKey is the push key the archived turn is
// stored under. An empty Writes means there is nothing to do.
//
// A yield only carries positive time: a speaker who ran over hands on
// nothing, and the next speaker keeps their full allotment.
func Plan(req AdvanceRequest, historyKey string) Writes {
	w := Writes{}

	yielded := 0
	if cur := req.Current; cur != nil {
		archived := cur.Event
		archived.Duration = cur.Timer.Elapsed
		w[store.Join(FieldHistory, historyKey)] = archived

		if cur.QueueKey == "" {
			w[FieldSpeaking] = nil
		} else {
			w[store.Join(FieldQueue, cur.QueueKey)] = nil
		}

		if req.Yielding && cur.Timer.Remaining > 0 {
			yielded = cur.Timer.Remaining
		}
		w[FieldSpeakerTimer] = models.NewTimerState(req.ResetDurationSeconds)
	}

	if next := req.Next; next != nil {
		speaking := next.Event
		speaking.Duration += yielded
		w[FieldSpeaking] = speaking
		w[FieldSpeakerTimer] = models.NewTimerState(speaking.Duration)
		w[store.Join(FieldQueue, next.Key)] = nil
	}

	return w
}

// Builder derives the advance to apply from the caucus as currently stored.
type Builder func(c models.Caucus) (AdvanceRequest, error)

// Advance builds and applies one advance of the caucus at caucusPath inside a
// store transaction. The request is recomputed from the latest value on every
// retry, so two chairs advancing from the same view archive one turn each
// rather than the same turn twice.
func Advance(ctx context.Context, s store.Store, caucusPath string, build Builder) (Writes, error) {
	var (
		req    AdvanceRequest
		writes Writes
	)
	_, err := s.Transaction(ctx, caucusPath, func(cur store.Snapshot) (any, error) {
		var c models.Caucus
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		r, err := build(c)
		if err != nil {
			return nil, err
		}
		// A fresh key per attempt keeps history in commit order.
		w := Plan(r, s.NewKey())
		if len(w) == 0 {
			return nil, store.ErrAbortTransaction
		}
		req, writes = r, w
		return store.Merge(cur, w)
	})
	if errors.Is(err, store.ErrAbortTransaction) {
		log.Debug().Str("caucus", caucusPath).Msg("advance with no current or next speaker, nothing to do")
		return Writes{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to advance speakers in %s: %w", caucusPath, err)
	}

	logAdvance(caucusPath, req)
	return writes, nil
}

// NextSpeaker is the Builder for NextRequest.
func NextSpeaker(now time.Time) Builder {
	return func(c models.Caucus) (AdvanceRequest, error) {
		return NextRequest(c, now), nil
	}
}

// StopSpeaker is the Builder for StopRequest.
func StopSpeaker(now time.Time) Builder {
	return func(c models.Caucus) (AdvanceRequest, error) {
		return StopRequest(c, now), nil
	}
}

// YieldTurn is the Builder for YieldRequest. It fails with ErrNoTurn when
// the yielding turn is gone.
func YieldTurn(now time.Time, queueKey string) Builder {
	return func(c models.Caucus) (AdvanceRequest, error) {
		req, ok := YieldRequest(c, now, queueKey)
		if !ok {
			return req, ErrNoTurn
		}
		return req, nil
	}
}

func logAdvance(caucusPath string, req AdvanceRequest) {
	ev := log.Info().Str("caucus", caucusPath).Bool("yielding", req.Yielding)
	if req.Current != nil {
		ev = ev.Str("archived", req.Current.Event.Who).Int("used_sec", req.Current.Timer.Elapsed)
	}
	if req.Next != nil {
		ev = ev.Str("speaking", req.Next.Event.Who)
	}
	ev.Msg("speaker advanced")
}

// NextRequest ends the now-speaking turn (if any) and brings in the head of
// the queue (if any).
func NextRequest(c models.Caucus, now time.Time) AdvanceRequest {
	return AdvanceRequest{
		Current:              currentSpeaking(c, now),
		Next:                 head(c, ""),
		ResetDurationSeconds: c.SpeakerSeconds(),
	}
}

// StopRequest ends the now-speaking turn without bringing anyone in.
func StopRequest(c models.Caucus, now time.Time) AdvanceRequest {
	return AdvanceRequest{
		Current:              currentSpeaking(c, now),
		ResetDurationSeconds: c.SpeakerSeconds(),
	}
}

// YieldRequest yields the floor. With an empty queueKey the now-speaking turn
// yields; otherwise the queue entry under queueKey yields in its place. The
// next speaker is the first queue entry other than the yielding one. It
// returns false when the yielding entry does not exist.
func YieldRequest(c models.Caucus, now time.Time, queueKey string) (AdvanceRequest, bool) {
	req := AdvanceRequest{
		Next:                 head(c, queueKey),
		Yielding:             true,
		ResetDurationSeconds: c.SpeakerSeconds(),
	}

	if queueKey == "" {
		req.Current = currentSpeaking(c, now)
		return req, req.Current != nil
	}

	ev, ok := c.Queue[queueKey]
	if !ok {
		return req, false
	}
	req.Current = &Current{
		QueueKey: queueKey,
		Event:    ev,
		Timer:    timer.Settle(c.SpeakerTimer, now),
	}
	return req, true
}

func currentSpeaking(c models.Caucus, now time.Time) *Current {
	if c.Speaking == nil {
		return nil
	}
	return &Current{
		Event: *c.Speaking,
		Timer: timer.Settle(c.SpeakerTimer, now),
	}
}

func head(c models.Caucus, skipKey string) *Next {
	for _, e := range c.QueueOrder() {
		if e.Key == skipKey {
			continue
		}
		return &Next{Key: e.Key, Event: e.Event}
	}
	return nil
}
