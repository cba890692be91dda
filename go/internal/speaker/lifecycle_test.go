package speaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/caucus/go/internal/models"
	"github.com/mcdev12/caucus/go/internal/store"
)

const caucusPath = "committees/c1/caucuses/k1"

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, c models.Caucus) *store.Memory {
	t.Helper()
	mem := store.NewMemory(clockwork.NewFakeClockAt(t0))
	if err := mem.Set(context.Background(), caucusPath, c); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return mem
}

func load(t *testing.T, mem *store.Memory) models.Caucus {
	t.Helper()
	snap, err := mem.Get(context.Background(), caucusPath)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var c models.Caucus
	if err := snap.Decode(&c); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return c
}

func historyEvents(c models.Caucus) []models.SpeakerEvent {
	var out []models.SpeakerEvent
	for _, e := range c.HistoryOrder() {
		out = append(out, e.Event)
	}
	return out
}

func TestAdvanceLastSpeakerArchivesActualTime(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	c.Speaking = &models.SpeakerEvent{Who: "France", Stance: models.StanceFor, Duration: 60}
	c.SpeakerTimer = models.TimerState{Elapsed: 42, Remaining: 18}
	mem := seed(t, c)

	if _, err := Advance(context.Background(), mem, caucusPath, NextSpeaker(t0)); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	got := load(t, mem)
	want := []models.SpeakerEvent{{Who: "France", Stance: models.StanceFor, Duration: 42}}
	if diff := cmp.Diff(want, historyEvents(got)); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if got.Speaking != nil {
		t.Errorf("now-speaking should be empty, got %+v", got.Speaking)
	}
	if diff := cmp.Diff(models.NewTimerState(60), got.SpeakerTimer); diff != "" {
		t.Errorf("speaker timer mismatch (-want +got):\n%s", diff)
	}
}

func TestAdvanceYieldCarriesUnusedTime(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	c.Speaking = &models.SpeakerEvent{Who: "France", Stance: models.StanceFor, Duration: 60}
	c.SpeakerTimer = models.TimerState{Elapsed: 23, Remaining: 37}
	c.Queue = map[string]models.SpeakerEvent{
		"-a": {Who: "Chad", Stance: models.StanceAgainst, Duration: 60},
		"-b": {Who: "Peru", Stance: models.StanceNeutral, Duration: 60},
	}
	mem := seed(t, c)

	if _, err := Advance(context.Background(), mem, caucusPath, YieldTurn(t0, "")); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	got := load(t, mem)
	want := &models.SpeakerEvent{Who: "Chad", Stance: models.StanceAgainst, Duration: 97}
	if diff := cmp.Diff(want, got.Speaking); diff != "" {
		t.Errorf("now-speaking mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(models.NewTimerState(97), got.SpeakerTimer); diff != "" {
		t.Errorf("speaker timer mismatch (-want +got):\n%s", diff)
	}
	if _, ok := got.Queue["-a"]; ok {
		t.Error("next speaker was not removed from the queue")
	}
	if len(got.Queue) != 1 {
		t.Errorf("queue length: got %d, want 1", len(got.Queue))
	}
	if h := historyEvents(got); len(h) != 1 || h[0].Duration != 23 {
		t.Errorf("history: got %+v, want France with 23s", h)
	}
}

func TestAdvanceWithoutYieldDropsUnusedTime(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	c.Speaking = &models.SpeakerEvent{Who: "France", Stance: models.StanceFor, Duration: 60}
	c.SpeakerTimer = models.TimerState{Elapsed: 23, Remaining: 37}
	c.Queue = map[string]models.SpeakerEvent{"-a": {Who: "Chad", Stance: models.StanceAgainst, Duration: 60}}

	w := Plan(NextRequest(c, t0), "-h")
	if got := w[FieldSpeaking].(models.SpeakerEvent).Duration; got != 60 {
		t.Errorf("next speaker duration: got %d, want 60", got)
	}
}

func TestAdvanceNothingIsNoop(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	mem := seed(t, c)
	before, _ := mem.Get(context.Background(), caucusPath)

	w, err := Advance(context.Background(), mem, caucusPath, NextSpeaker(t0))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(w) != 0 {
		t.Errorf("expected no writes, got %v", w)
	}
	after, _ := mem.Get(context.Background(), caucusPath)
	if string(before.Value) != string(after.Value) {
		t.Errorf("state changed:\nbefore %s\nafter  %s", before.Value, after.Value)
	}
}

func TestAdvanceFirstSpeakerFromQueue(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	c.Queue = map[string]models.SpeakerEvent{
		"-b": {Who: "Peru", Stance: models.StanceNeutral, Duration: 45},
		"-a": {Who: "Chad", Stance: models.StanceAgainst, Duration: 30},
	}
	mem := seed(t, c)

	if _, err := Advance(context.Background(), mem, caucusPath, NextSpeaker(t0)); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	got := load(t, mem)
	if got.Speaking == nil || got.Speaking.Who != "Chad" {
		t.Fatalf("now-speaking: got %+v, want Chad (lowest key)", got.Speaking)
	}
	if len(got.History) != 0 {
		t.Errorf("nothing should be archived, got %v", got.History)
	}
	if diff := cmp.Diff(models.NewTimerState(30), got.SpeakerTimer); diff != "" {
		t.Errorf("speaker timer mismatch (-want +got):\n%s", diff)
	}
}

func TestYieldWithEmptyQueueStopsSpeaking(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	c.Speaking = &models.SpeakerEvent{Who: "France", Stance: models.StanceFor, Duration: 60}
	c.SpeakerTimer = models.TimerState{Elapsed: 10, Remaining: 50}
	mem := seed(t, c)

	if _, err := Advance(context.Background(), mem, caucusPath, YieldTurn(t0, "")); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	got := load(t, mem)
	if got.Speaking != nil {
		t.Errorf("now-speaking should be empty, got %+v", got.Speaking)
	}
	if diff := cmp.Diff(models.NewTimerState(60), got.SpeakerTimer); diff != "" {
		t.Errorf("yielded time must be dropped (-want +got):\n%s", diff)
	}
}

func TestYieldFromQueueEntry(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	c.SpeakerTimer = models.TimerState{Elapsed: 5, Remaining: 25}
	c.Queue = map[string]models.SpeakerEvent{
		"-a": {Who: "Chad", Stance: models.StanceAgainst, Duration: 30},
		"-b": {Who: "Peru", Stance: models.StanceNeutral, Duration: 30},
	}
	mem := seed(t, c)

	if _, err := Advance(context.Background(), mem, caucusPath, YieldTurn(t0, "-a")); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	got := load(t, mem)
	if h := historyEvents(got); len(h) != 1 || h[0].Who != "Chad" || h[0].Duration != 5 {
		t.Errorf("history: got %+v, want Chad with 5s", h)
	}
	want := &models.SpeakerEvent{Who: "Peru", Stance: models.StanceNeutral, Duration: 55}
	if diff := cmp.Diff(want, got.Speaking); diff != "" {
		t.Errorf("now-speaking mismatch (-want +got):\n%s", diff)
	}
	if len(got.Queue) != 0 {
		t.Errorf("queue should be empty, got %v", got.Queue)
	}
}

func TestYieldRequestUnknownQueueKey(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	if _, ok := YieldRequest(c, t0, "-missing"); ok {
		t.Error("expected ok=false for unknown key")
	}
	if _, ok := YieldRequest(c, t0, ""); ok {
		t.Error("expected ok=false with nobody speaking")
	}
}

func TestAdvanceSettlesRunningTimer(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	c.Speaking = &models.SpeakerEvent{Who: "France", Stance: models.StanceFor, Duration: 60}
	c.SpeakerTimer = models.TimerState{Elapsed: 10, Remaining: 50, Ticking: models.TickingAt(t0)}

	w := Plan(NextRequest(c, t0.Add(15*time.Second)), "-h")
	archived := w[store.Join(FieldHistory, "-h")].(models.SpeakerEvent)
	if archived.Duration != 25 {
		t.Errorf("archived duration: got %d, want 25", archived.Duration)
	}
}

func TestYieldNeverCarriesOverrun(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	c.Speaking = &models.SpeakerEvent{Who: "France", Stance: models.StanceFor, Duration: 60}
	c.SpeakerTimer = models.TimerState{Elapsed: 70, Remaining: -10}
	c.Queue = map[string]models.SpeakerEvent{"-a": {Who: "Chad", Stance: models.StanceAgainst, Duration: 60}}

	req, _ := YieldRequest(c, t0, "")
	w := Plan(req, "-h")
	if got := w[FieldSpeaking].(models.SpeakerEvent).Duration; got != 60 {
		t.Errorf("next speaker duration: got %d, want 60", got)
	}
}

func TestYieldTurnGoneIsReported(t *testing.T) {
	mem := seed(t, models.NewCaucus("General", "Water"))
	if _, err := Advance(context.Background(), mem, caucusPath, YieldTurn(t0, "-missing")); !errors.Is(err, ErrNoTurn) {
		t.Errorf("got %v, want ErrNoTurn", err)
	}
}

func TestConcurrentAdvancesArchiveEachTurnOnce(t *testing.T) {
	c := models.NewCaucus("General", "Water")
	c.Speaking = &models.SpeakerEvent{Who: "France", Stance: models.StanceFor, Duration: 60}
	c.Queue = map[string]models.SpeakerEvent{
		"-a": {Who: "Chad", Stance: models.StanceAgainst, Duration: 60},
		"-b": {Who: "Peru", Stance: models.StanceNeutral, Duration: 60},
	}
	mem := seed(t, c)
	ctx := context.Background()

	// A second chair presses next while the first one's advance is about to
	// commit.
	raced := false
	mem.BeforeCommit = func(string) {
		if raced {
			return
		}
		raced = true
		if _, err := Advance(ctx, mem, caucusPath, NextSpeaker(t0)); err != nil {
			t.Errorf("racing Advance failed: %v", err)
		}
	}
	if _, err := Advance(ctx, mem, caucusPath, NextSpeaker(t0)); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	got := load(t, mem)
	var archived []string
	for _, e := range historyEvents(got) {
		archived = append(archived, e.Who)
	}
	if diff := cmp.Diff([]string{"France", "Chad"}, archived); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}
	if got.Speaking == nil || got.Speaking.Who != "Peru" {
		t.Errorf("now-speaking: got %+v, want Peru", got.Speaking)
	}
	if len(got.Queue) != 0 {
		t.Errorf("queue should be empty, got %v", got.Queue)
	}
}
