// Package clockskew keeps the process-wide estimate of server time minus local
// time and stamps corrected timestamps with it.
package clockskew

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/rs/zerolog/log"
)

// Resolver holds the latest server offset. It has no write path to the store;
// the offset only changes when the store pushes a new value.
type Resolver struct {
	clock  clockwork.Clock
	offset atomic.Int64 // milliseconds
}

// NewResolver creates a resolver with a zero offset.
func NewResolver(clock clockwork.Clock) *Resolver {
	return &Resolver{clock: clock}
}

// Offset returns the current server-minus-local offset.
func (r *Resolver) Offset() time.Duration {
	return time.Duration(r.offset.Load()) * time.Millisecond
}

// Now returns local time corrected to the server's clock.
func (r *Resolver) Now() time.Time {
	return r.clock.Now().Add(r.Offset())
}

// Run follows the offset published by s until ctx is done.
func (r *Resolver) Run(ctx context.Context, s store.Store) error {
	snaps, err := s.Subscribe(ctx, store.ServerTimeOffsetPath)
	if err != nil {
		return fmt.Errorf("subscribe to server time offset: %w", err)
	}

	for snap := range snaps {
		r.apply(snap)
	}
	return nil
}

func (r *Resolver) apply(snap store.Snapshot) {
	var ms float64
	if err := snap.Decode(&ms); err != nil {
		log.Warn().Err(err).RawJSON("value", snap.Value).Msg("ignoring malformed server time offset")
		return
	}
	prev := r.offset.Swap(int64(ms))
	if prev != int64(ms) {
		log.Debug().Int64("offset_ms", int64(ms)).Msg("server time offset updated")
	}
}
