package store

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestKeyGeneratorOrdering(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	g := NewKeyGenerator(clock)

	prev := g.Next()
	if len(prev) != 20 {
		t.Fatalf("key length: got %d, want 20", len(prev))
	}
	for i := 0; i < 200; i++ {
		if i%50 == 0 {
			clock.Advance(time.Millisecond)
		}
		k := g.Next()
		if k <= prev {
			t.Fatalf("key %q does not sort after %q", k, prev)
		}
		prev = k
	}
}

func TestKeyGeneratorClockStepsBack(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	g := NewKeyGenerator(clock)
	first := g.Next()

	clock.Advance(-time.Second)
	if second := g.Next(); second <= first {
		t.Errorf("key %q generated after clock step back sorts before %q", second, first)
	}
}

func TestKeyGeneratorTimestampPrefixSorts(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	g := NewKeyGenerator(clock)
	a := g.Next()
	clock.Advance(time.Hour)
	b := g.Next()
	if a[:8] >= b[:8] {
		t.Errorf("timestamp prefix %q should sort before %q", a[:8], b[:8])
	}
}

func TestEstimateOffset(t *testing.T) {
	local := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		sent     time.Time
		server   time.Time
		received time.Time
		want     time.Duration
	}{
		{"in sync", local, local.Add(50 * time.Millisecond), local.Add(100 * time.Millisecond), 0},
		{"server ahead", local, local.Add(2050 * time.Millisecond), local.Add(100 * time.Millisecond), 2 * time.Second},
		{"server behind", local, local.Add(-950 * time.Millisecond), local.Add(100 * time.Millisecond), -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateOffset(tt.sent, tt.server, tt.received); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitPathAndJoin(t *testing.T) {
	segs := SplitPath("/committees//c1/caucuses/")
	if len(segs) != 3 || segs[0] != "committees" || segs[2] != "caucuses" {
		t.Errorf("SplitPath: got %v", segs)
	}
	if got := Join("committees/c1", "/caucuses/", "k1"); got != "committees/c1/caucuses/k1" {
		t.Errorf("Join: got %q", got)
	}
}
