package motion

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownType = errors.New("unknown motion type")
	ErrNoProposer  = errors.New("motion needs a proposer")
	ErrInvalidVote = errors.New("vote must be For, Against or Abstain")
	ErrNotFound    = errors.New("motion not found")
)

// Propose validates m and pushes it under motionsPath, returning its key.
func Propose(ctx context.Context, s store.Store, motionsPath string, m models.Motion) (string, error) {
	if _, ok := Disruptiveness[m.Type]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if m.Proposer == "" {
		return "", ErrNoProposer
	}
	m.Deleted = false
	m.Votes = nil

	key, err := s.Push(ctx, motionsPath, m)
	if err != nil {
		return "", fmt.Errorf("failed to propose motion: %w", err)
	}
	log.Info().Str("motions", motionsPath).Str("motion_id", key).Str("type", string(m.Type)).Msg("motion proposed")
	return key, nil
}

// Delete marks a motion deleted. It stays in the store.
func Delete(ctx context.Context, s store.Store, motionsPath, key string) error {
	if _, err := find(ctx, s, motionsPath, key); err != nil {
		return err
	}
	if err := s.Update(ctx, store.Join(motionsPath, key), map[string]any{"deleted": true}); err != nil {
		return fmt.Errorf("failed to delete motion %s: %w", key, err)
	}
	return nil
}

// Vote records voter's vote, replacing any earlier one.
func Vote(ctx context.Context, s store.Store, motionsPath, key, voter string, v models.Vote) error {
	switch v {
	case models.VoteFor, models.VoteAgainst, models.VoteAbstain:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidVote, v)
	}
	m, err := find(ctx, s, motionsPath, key)
	if err != nil {
		return err
	}
	if m.Deleted {
		return fmt.Errorf("%w: %s was deleted", ErrNotFound, key)
	}
	if err := s.Set(ctx, store.Join(motionsPath, key, "votes", voter), v); err != nil {
		return fmt.Errorf("failed to record vote on %s: %w", key, err)
	}
	return nil
}

// All returns every stored motion, deleted ones included, in push-key order.
func All(ctx context.Context, s store.Store, motionsPath string) ([]models.KeyedMotion, error) {
	snap, err := s.Get(ctx, motionsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read motions: %w", err)
	}
	var stored map[string]models.Motion
	if err := snap.Decode(&stored); err != nil {
		return nil, fmt.Errorf("failed to decode motions: %w", err)
	}

	out := make([]models.KeyedMotion, 0, len(stored))
	for k, m := range stored {
		out = append(out, models.KeyedMotion{Key: k, Motion: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Pending returns the chair's action list: live motions, least disruptive
// first.
func Pending(ctx context.Context, s store.Store, motionsPath string) ([]models.KeyedMotion, error) {
	all, err := All(ctx, s, motionsPath)
	if err != nil {
		return nil, err
	}
	return Sort(all), nil
}

// Tally counts the votes cast on a motion.
type Tally struct {
	For     int `json:"for"`
	Against int `json:"against"`
	Abstain int `json:"abstain"`
}

// Passes reports a simple majority of votes cast, abstentions excluded.
func (t Tally) Passes() bool {
	return t.For > t.Against
}

// Count tallies m's votes.
func Count(m models.Motion) Tally {
	var t Tally
	for _, v := range m.Votes {
		switch v {
		case models.VoteFor:
			t.For++
		case models.VoteAgainst:
			t.Against++
		case models.VoteAbstain:
			t.Abstain++
		}
	}
	return t
}

func find(ctx context.Context, s store.Store, motionsPath, key string) (models.Motion, error) {
	snap, err := s.Get(ctx, store.Join(motionsPath, key))
	if err != nil {
		return models.Motion{}, fmt.Errorf("failed to read motion %s: %w", key, err)
	}
	if !snap.Exists() {
		return models.Motion{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	var m models.Motion
	if err := snap.Decode(&m); err != nil {
		return models.Motion{}, fmt.Errorf("failed to decode motion %s: %w", key, err)
	}
	return m, nil
}
