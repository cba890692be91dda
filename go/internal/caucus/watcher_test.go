package caucus

import (
	"context"
	"testing"
	"time"

	"github.com/mcdev12/caucus/go/internal/models"
)

func nextView(t *testing.T, views <-chan View) View {
	t.Helper()
	select {
	case v, ok := <-views:
		if !ok {
			t.Fatal("view stream closed")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("no view received")
	}
	return View{}
}

func TestWatcherRedrawsOnChangeAndTick(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(f.mem, f.clock, f.clock, time.Second)
	views, err := w.Watch(ctx, f.committeeID, f.caucusID)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	first := nextView(t, views)
	if first.SpeakerRemaining != 60 || first.CaucusRemaining != models.DefaultCaucusSeconds {
		t.Errorf("initial view: speaker %d caucus %d", first.SpeakerRemaining, first.CaucusRemaining)
	}

	if _, err := f.app.RunTimer(ctx, chair, f.committeeID, f.caucusID, TimerSpeaker, TimerRequest{Action: TimerStart}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	started := nextView(t, views)
	if !started.Caucus.SpeakerTimer.Ticking.IsTicking() {
		t.Fatal("view did not pick up the started timer")
	}

	// No store writes from here on: only the local tick moves the display.
	if err := f.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker never registered: %v", err)
	}
	f.clock.Advance(5 * time.Second)
	var ticked View
	for ticked.SpeakerRemaining != 55 {
		ticked = nextView(t, views)
	}
	if ticked.ServerTimeMs != f.clock.Now().UnixMilli() {
		t.Errorf("rendered at %d, want %d", ticked.ServerTimeMs, f.clock.Now().UnixMilli())
	}

	cancel()
	for range views {
	}
}

func TestRenderOrdersQueueAndHistory(t *testing.T) {
	c := models.NewCaucus("Access", "")
	c.Queue = map[string]models.SpeakerEvent{"-b": {Who: "B"}, "-a": {Who: "A"}}
	c.History = map[string]models.SpeakerEvent{"-2": {Who: "Y"}, "-1": {Who: "X"}}

	v := Render(c, time.Unix(0, 0))
	if v.Queue[0].Event.Who != "A" || v.History[0].Event.Who != "X" {
		t.Errorf("got queue %+v history %+v", v.Queue, v.History)
	}
}
