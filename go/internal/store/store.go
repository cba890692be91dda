// Package store defines the document store the caucus engine reads from and
// writes to, and provides in-memory and Postgres implementations of it.
//
// Documents are JSON trees addressed by slash-separated paths. Empty objects
// do not exist: writing an empty object or null to a path removes it.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ServerTimeOffsetPath holds the live server-minus-local clock offset in
// milliseconds. It is read-only for clients.
const ServerTimeOffsetPath = ".info/serverTimeOffset"

var (
	// ErrAbortTransaction may be returned by a TransactionFunc to leave the
	// value untouched.
	ErrAbortTransaction = errors.New("transaction aborted")
	// ErrTooManyRetries is returned when a transaction keeps conflicting.
	ErrTooManyRetries = errors.New("transaction retries exhausted")
	// ErrReadOnlyPath is returned for writes under .info.
	ErrReadOnlyPath = errors.New("path is read-only")
	// ErrInvalidPath is returned for an empty or malformed path.
	ErrInvalidPath = errors.New("invalid path")
)

// maxTransactionRetries bounds how often a conflicting transaction re-runs.
const maxTransactionRetries = 25

// Snapshot is the full value at a path at one point in time.
type Snapshot struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// Exists reports whether the path held a value.
func (s Snapshot) Exists() bool {
	v := bytes.TrimSpace(s.Value)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// Decode unmarshals the value into v. A missing value leaves v untouched.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

// TransactionFunc computes the new value at a path from its current value.
// It may be called several times if other writers race with it, so it must
// not have side effects.
type TransactionFunc func(current Snapshot) (any, error)

// Store is the document store consumed by the engine.
type Store interface {
	// Get returns the current value at path.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Subscribe streams full snapshots of path, starting with the current
	// value. Slow readers only see the latest value. The channel is closed
	// when ctx is done.
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, error)
	// Set overwrites the subtree at path.
	Set(ctx context.Context, path string, value any) error
	// Update merges fields into path atomically. Field keys may be relative
	// paths ("a/b"); a nil value removes that field.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Transaction runs a retrying compare-and-swap on path and returns the
	// committed snapshot.
	Transaction(ctx context.Context, path string, fn TransactionFunc) (Snapshot, error)
	// Push appends value under a new time-ordered key and returns the key.
	Push(ctx context.Context, path string, value any) (string, error)
	// Remove deletes the subtree at path.
	Remove(ctx context.Context, path string) error
	// NewKey returns a fresh time-ordered key without writing anything, for
	// multi-path updates that need to append.
	NewKey() string
}

// SplitPath splits a path into its segments, ignoring empty ones.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// Join joins path segments with slashes.
func Join(parts ...string) string {
	var segs []string
	for _, p := range parts {
		segs = append(segs, SplitPath(p)...)
	}
	return strings.Join(segs, "/")
}

func isReadOnly(segs []string) bool {
	return len(segs) > 0 && segs[0] == ".info"
}
