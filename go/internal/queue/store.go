package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/rs/zerolog/log"
)

// ErrForbidden is returned when an actor without write authority tries to
// reorder the queue.
var ErrForbidden = errors.New("actor may not modify the queue")

// Load reads the queue at queuePath in push-key order.
func Load(ctx context.Context, s store.Store, queuePath string) ([]models.KeyedSpeaker, error) {
	snap, err := s.Get(ctx, queuePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue %s: %w", queuePath, err)
	}
	var c models.Caucus
	if err := snap.Decode(&c.Queue); err != nil {
		return nil, fmt.Errorf("failed to decode queue %s: %w", queuePath, err)
	}
	return c.QueueOrder(), nil
}

// Rewrite replaces the whole queue with events, in order, under fresh push
// keys. The queue is cleared and rewritten by a single write.
func Rewrite(ctx context.Context, s store.Store, queuePath string, events []models.SpeakerEvent) error {
	q := make(map[string]models.SpeakerEvent, len(events))
	for _, ev := range events {
		q[s.NewKey()] = ev
	}

	var value any = q
	if len(q) == 0 {
		value = nil
	}
	if err := s.Set(ctx, queuePath, value); err != nil {
		return fmt.Errorf("failed to rewrite queue %s: %w", queuePath, err)
	}
	return nil
}

// InterlaceStored interlaces the stored queue. Queues with fewer than two
// entries are left alone and false is returned.
func InterlaceStored(ctx context.Context, s store.Store, queuePath string) (bool, error) {
	entries, err := Load(ctx, s, queuePath)
	if err != nil {
		return false, err
	}
	if len(entries) <= 1 {
		return false, nil
	}

	ordered := Interlace(entries, func(e models.KeyedSpeaker) models.Stance { return e.Event.Stance })
	if err := Rewrite(ctx, s, queuePath, events(ordered)); err != nil {
		return false, err
	}
	log.Info().Str("queue", queuePath).Int("entries", len(ordered)).Msg("queue interlaced")
	return true, nil
}

// Reorder moves the entry at from to to in the stored queue. A destination
// outside the queue is a no-op and returns false.
func Reorder(ctx context.Context, s store.Store, queuePath string, canWrite bool, from, to int) (bool, error) {
	if !canWrite {
		return false, ErrForbidden
	}

	entries, err := Load(ctx, s, queuePath)
	if err != nil {
		return false, err
	}
	moved, ok := Move(entries, from, to)
	if !ok {
		log.Debug().Str("queue", queuePath).Int("from", from).Int("to", to).Msg("reorder outside queue ignored")
		return false, nil
	}
	if from == to {
		return false, nil
	}

	if err := Rewrite(ctx, s, queuePath, events(moved)); err != nil {
		return false, err
	}
	log.Info().Str("queue", queuePath).Int("from", from).Int("to", to).Msg("queue reordered")
	return true, nil
}

func events(entries []models.KeyedSpeaker) []models.SpeakerEvent {
	out := make([]models.SpeakerEvent, len(entries))
	for i, e := range entries {
		out[i] = e.Event
	}
	return out
}
