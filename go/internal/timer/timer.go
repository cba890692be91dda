// Package timer implements the shared countdown timer. Stored state only
// changes on start, stop, set and extend; the displayed value is derived from
// that state and the corrected current time, so every client converges on the
// same reading without a central tick.
package timer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/rs/zerolog/log"
)

// ErrInvalidDuration is returned for non-numeric, zero or negative durations.
// It is raised before anything is written.
var ErrInvalidDuration = errors.New("duration must be a positive whole number")

// ErrNoTimer is returned when starting, stopping or extending a timer that
// was never set. Timers are created with their caucus or committee.
var ErrNoTimer = errors.New("timer does not exist")

// Clock supplies server-corrected time. *clockskew.Resolver implements it.
type Clock interface {
	Now() time.Time
}

// Remaining returns the seconds left to display at now. A running timer never
// displays less than zero; a stopped one shows its stored value, which may be
// negative after an overrun.
func Remaining(s models.TimerState, now time.Time) int {
	if !s.Ticking.IsTicking() {
		return s.Remaining
	}
	r := s.Remaining - secondsSince(s.Ticking, now)
	if r < 0 {
		return 0
	}
	return r
}

// Settle returns the stopped state equivalent to s at now: the running time
// is folded into Elapsed and Remaining.
func Settle(s models.TimerState, now time.Time) models.TimerState {
	if !s.Ticking.IsTicking() {
		return s
	}
	d := secondsSince(s.Ticking, now)
	return models.TimerState{
		Elapsed:   s.Elapsed + d,
		Remaining: s.Remaining - d,
		Ticking:   models.NotTicking,
	}
}

// Extended applies an extension of seconds to s at now.
//
// An expired timer restarts from the extension, a stopped timer gains the
// extension, and a running timer is reset to the extension rather than
// added to. The last case is deliberate and kept as is until the chairs'
// expected behaviour is confirmed. A running timer is re-stamped at now with
// the time it already ran moved into Elapsed, so it displays exactly the
// extension.
func Extended(s models.TimerState, seconds int, now time.Time) models.TimerState {
	switch {
	case !s.Ticking.IsTicking() && s.Remaining <= 0:
		s.Remaining = seconds
	case !s.Ticking.IsTicking():
		s.Remaining += seconds
	default:
		s.Elapsed += secondsSince(s.Ticking, now)
		s.Remaining = seconds
		s.Ticking = models.TickingAt(now)
	}
	return s
}

// ParseDuration validates a duration typed by a chair and converts it to
// seconds.
func ParseDuration(text string, unit models.Unit) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, text)
	}
	return Seconds(n, unit)
}

// Seconds validates n in unit and converts it to seconds.
func Seconds(n int, unit models.Unit) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDuration, n)
	}
	if !unit.Valid() {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidDuration, unit)
	}
	return unit.Seconds(n), nil
}

func secondsSince(t models.Ticking, now time.Time) int {
	d := now.Sub(t.Since())
	if d < 0 {
		// Another client's clock ran ahead of ours.
		return 0
	}
	return int(d / time.Second)
}

// Controller drives one stored timer. Writes are not echoed locally: callers
// observe the outcome through the next store snapshot.
type Controller struct {
	store store.Store
	path  string
	clock Clock
}

// NewController creates a controller for the timer stored at path.
func NewController(s store.Store, path string, clock Clock) *Controller {
	return &Controller{store: s, path: path, clock: clock}
}

// Path returns the store path of the timer.
func (c *Controller) Path() string {
	return c.path
}

// State reads the stored timer.
func (c *Controller) State(ctx context.Context) (models.TimerState, error) {
	snap, err := c.store.Get(ctx, c.path)
	if err != nil {
		return models.TimerState{}, fmt.Errorf("failed to read timer %s: %w", c.path, err)
	}
	var s models.TimerState
	if err := snap.Decode(&s); err != nil {
		return models.TimerState{}, fmt.Errorf("failed to decode timer %s: %w", c.path, err)
	}
	return s, nil
}

// existing reads the stored timer and fails with ErrNoTimer when it is absent.
func (c *Controller) existing(ctx context.Context) (models.TimerState, error) {
	snap, err := c.store.Get(ctx, c.path)
	if err != nil {
		return models.TimerState{}, fmt.Errorf("failed to read timer %s: %w", c.path, err)
	}
	if !snap.Exists() {
		return models.TimerState{}, fmt.Errorf("%w: %s", ErrNoTimer, c.path)
	}
	var s models.TimerState
	if err := snap.Decode(&s); err != nil {
		return models.TimerState{}, fmt.Errorf("failed to decode timer %s: %w", c.path, err)
	}
	return s, nil
}

// Start stamps the corrected start time. Starting a running timer is a no-op,
// since several clients may press start at once.
func (c *Controller) Start(ctx context.Context) error {
	s, err := c.existing(ctx)
	if err != nil {
		return err
	}
	if s.Ticking.IsTicking() {
		log.Debug().Str("timer", c.path).Msg("start ignored, timer already ticking")
		return nil
	}

	if err := c.store.Update(ctx, c.path, map[string]any{
		"ticking": models.TickingAt(c.clock.Now()),
	}); err != nil {
		return fmt.Errorf("failed to start timer %s: %w", c.path, err)
	}
	return nil
}

// Stop folds the running time into elapsed and remaining. The three fields
// are written together so no reader sees a half-stopped timer. Stopping a
// stopped timer is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	s, err := c.existing(ctx)
	if err != nil {
		return err
	}
	if !s.Ticking.IsTicking() {
		log.Debug().Str("timer", c.path).Msg("stop ignored, timer not ticking")
		return nil
	}

	settled := Settle(s, c.clock.Now())
	if err := c.store.Update(ctx, c.path, map[string]any{
		"elapsed":   settled.Elapsed,
		"remaining": settled.Remaining,
		"ticking":   settled.Ticking,
	}); err != nil {
		return fmt.Errorf("failed to stop timer %s: %w", c.path, err)
	}
	return nil
}

// Pause is Stop.
func (c *Controller) Pause(ctx context.Context) error {
	return c.Stop(ctx)
}

// Toggle starts a stopped timer and stops a running one.
func (c *Controller) Toggle(ctx context.Context) error {
	s, err := c.existing(ctx)
	if err != nil {
		return err
	}
	if s.Ticking.IsTicking() {
		return c.Stop(ctx)
	}
	return c.Start(ctx)
}

// Set resets the timer to duration in unit, stopped and with nothing elapsed.
func (c *Controller) Set(ctx context.Context, duration int, unit models.Unit) error {
	seconds, err := Seconds(duration, unit)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.path, models.NewTimerState(seconds)); err != nil {
		return fmt.Errorf("failed to set timer %s: %w", c.path, err)
	}
	return nil
}

// Extend applies Extended inside a store transaction, so extensions by
// several chairs at once are each applied to the latest value.
func (c *Controller) Extend(ctx context.Context, seconds int) (models.TimerState, error) {
	if seconds <= 0 {
		return models.TimerState{}, fmt.Errorf("%w: %d", ErrInvalidDuration, seconds)
	}

	now := c.clock.Now()
	snap, err := c.store.Transaction(ctx, c.path, func(cur store.Snapshot) (any, error) {
		if !cur.Exists() {
			return nil, store.ErrAbortTransaction
		}
		var s models.TimerState
		if err := cur.Decode(&s); err != nil {
			return nil, err
		}
		return Extended(s, seconds, now), nil
	})
	if errors.Is(err, store.ErrAbortTransaction) {
		return models.TimerState{}, fmt.Errorf("%w: %s", ErrNoTimer, c.path)
	}
	if err != nil {
		return models.TimerState{}, fmt.Errorf("failed to extend timer %s: %w", c.path, err)
	}

	var out models.TimerState
	if err := snap.Decode(&out); err != nil {
		return models.TimerState{}, err
	}
	return out, nil
}
