package clockskew

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/caucus/go/internal/store"
)

func TestResolverFollowsStoreOffset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	mem := store.NewMemory(clock)
	r := NewResolver(clock)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, mem) }()

	mem.SetServerTimeOffset(1500)
	waitFor(t, func() bool { return r.Offset() == 1500*time.Millisecond })
	if got, want := r.Now(), start.Add(1500*time.Millisecond); !got.Equal(want) {
		t.Errorf("Now: got %v, want %v", got, want)
	}

	mem.SetServerTimeOffset(-250)
	waitFor(t, func() bool { return r.Offset() == -250*time.Millisecond })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestResolverDefaultsToLocalTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewResolver(clock)
	if !r.Now().Equal(clock.Now()) {
		t.Errorf("got %v, want %v", r.Now(), clock.Now())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
