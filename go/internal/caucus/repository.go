package caucus

import (
	"context"
	"fmt"

	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/mcdev12/caucus/go/internal/store"
)

const committeesRoot = "committees"

// CommitteePath is the document holding a committee.
func CommitteePath(committeeID string) string {
	return store.Join(committeesRoot, committeeID)
}

// CaucusPath is where a caucus lives inside its committee.
func CaucusPath(committeeID, caucusID string) string {
	return store.Join(committeesRoot, committeeID, "caucuses", caucusID)
}

// QueuePath is a caucus speaker queue.
func QueuePath(committeeID, caucusID string) string {
	return store.Join(CaucusPath(committeeID, caucusID), "queue")
}

// MotionsPath holds a committee's motions.
func MotionsPath(committeeID string) string {
	return store.Join(committeesRoot, committeeID, "motions")
}

// ChairPath is true when actor may write to the committee.
func ChairPath(committeeID, actor string) string {
	return store.Join(committeesRoot, committeeID, "chairs", actor)
}

// TimerPath returns the store path of the timer of kind.
func TimerPath(committeeID, caucusID string, kind TimerKind) (string, error) {
	switch kind {
	case TimerSpeaker:
		return store.Join(CaucusPath(committeeID, caucusID), "speakerTimer"), nil
	case TimerCaucus:
		return store.Join(CaucusPath(committeeID, caucusID), "caucusTimer"), nil
	case TimerUnmoderated:
		return store.Join(committeesRoot, committeeID, "timer"), nil
	}
	return "", fmt.Errorf("%w: unknown timer %q", ErrInvalidInput, kind)
}

// Repository reads and writes committee documents.
type Repository struct {
	store store.Store
}

// NewRepository creates a new committee repository
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// CreateCommittee writes a new committee document.
func (r *Repository) CreateCommittee(ctx context.Context, id string, c models.Committee) error {
	if err := r.store.Set(ctx, CommitteePath(id), c); err != nil {
		return fmt.Errorf("failed to create committee: %w", err)
	}
	return nil
}

// GetCommittee reads a committee document.
func (r *Repository) GetCommittee(ctx context.Context, id string) (*models.Committee, error) {
	var c models.Committee
	if err := r.get(ctx, CommitteePath(id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCaucus writes a new caucus into a committee.
func (r *Repository) CreateCaucus(ctx context.Context, committeeID, caucusID string, c models.Caucus) error {
	if err := r.store.Set(ctx, CaucusPath(committeeID, caucusID), c); err != nil {
		return fmt.Errorf("failed to create caucus: %w", err)
	}
	return nil
}

// GetCaucus reads one caucus.
func (r *Repository) GetCaucus(ctx context.Context, committeeID, caucusID string) (*models.Caucus, error) {
	var c models.Caucus
	if err := r.get(ctx, CaucusPath(committeeID, caucusID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCaucus merges fields into a caucus.
func (r *Repository) UpdateCaucus(ctx context.Context, committeeID, caucusID string, fields map[string]any) error {
	if err := r.store.Update(ctx, CaucusPath(committeeID, caucusID), fields); err != nil {
		return fmt.Errorf("failed to update caucus: %w", err)
	}
	return nil
}

// IsChair reports whether actor holds write authority on the committee.
func (r *Repository) IsChair(ctx context.Context, committeeID, actor string) (bool, error) {
	if actor == "" {
		return false, nil
	}
	snap, err := r.store.Get(ctx, ChairPath(committeeID, actor))
	if err != nil {
		return false, fmt.Errorf("failed to read chair %s: %w", actor, err)
	}
	var chair bool
	if err := snap.Decode(&chair); err != nil {
		return false, fmt.Errorf("failed to decode chair %s: %w", actor, err)
	}
	return chair, nil
}

// SetChair grants or revokes write authority.
func (r *Repository) SetChair(ctx context.Context, committeeID, actor string, chair bool) error {
	var v any
	if chair {
		v = true
	}
	if err := r.store.Set(ctx, ChairPath(committeeID, actor), v); err != nil {
		return fmt.Errorf("failed to update chair %s: %w", actor, err)
	}
	return nil
}

func (r *Repository) get(ctx context.Context, path string, v any) error {
	snap, err := r.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !snap.Exists() {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := snap.Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
