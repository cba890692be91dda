package caucus

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/mcdev12/caucus/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// DefaultRedrawInterval is how often a watched caucus is redrawn between
// store changes.
const DefaultRedrawInterval = 250 * time.Millisecond

// Render derives the view of c at the corrected time now.
func Render(c models.Caucus, now time.Time) View {
	return View{
		Caucus:           c,
		Queue:            c.QueueOrder(),
		History:          c.HistoryOrder(),
		SpeakerRemaining: timer.Remaining(c.SpeakerTimer, now),
		CaucusRemaining:  timer.Remaining(c.CaucusTimer, now),
		ServerTimeMs:     now.UnixMilli(),
	}
}

// Watcher redraws a caucus on every store change and on a local tick. The
// tick only recomputes from the latest snapshot; it never writes.
type Watcher struct {
	store    store.Store
	ticks    clockwork.Clock
	now      timer.Clock
	interval time.Duration
}

// NewWatcher creates a watcher. ticks drives the redraw tick and now supplies
// the corrected time views are rendered at.
func NewWatcher(s store.Store, ticks clockwork.Clock, now timer.Clock, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultRedrawInterval
	}
	return &Watcher{store: s, ticks: ticks, now: now, interval: interval}
}

// Watch streams views of a caucus until ctx is done. Slow readers only see
// the latest view.
func (w *Watcher) Watch(ctx context.Context, committeeID, caucusID string) (<-chan View, error) {
	path := CaucusPath(committeeID, caucusID)
	snaps, err := w.store.Subscribe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to watch caucus %s: %w", path, err)
	}

	out := make(chan View, 1)
	go func() {
		defer close(out)
		ticker := w.ticks.NewTicker(w.interval)
		defer ticker.Stop()

		var (
			latest models.Caucus
			have   bool
		)
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				var c models.Caucus
				if err := snap.Decode(&c); err != nil {
					log.Error().Err(err).Str("caucus", path).Msg("failed to decode caucus snapshot")
					continue
				}
				latest, have = c, true
			case <-ticker.Chan():
				if !have {
					continue
				}
			}
			sendLatest(out, Render(latest, w.now.Now()))
		}
	}()
	return out, nil
}

func sendLatest(ch chan View, v View) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
