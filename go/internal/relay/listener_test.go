package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/caucus/go/internal/events"
	"github.com/mcdev12/caucus/go/internal/store"
)

type fakeNotifier struct {
	ch     chan *pq.Notification
	closed bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan *pq.Notification, 4)}
}

func (n *fakeNotifier) NotificationChannel() <-chan *pq.Notification { return n.ch }
func (n *fakeNotifier) Ping() error                                  { return nil }
func (n *fakeNotifier) Close() error {
	n.closed = true
	return nil
}

type fakeSource struct {
	mu   sync.Mutex
	docs map[string]store.Document
}

func (s *fakeSource) put(key string, version int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = map[string]store.Document{}
	}
	s.docs[key] = store.Document{
		Key:       key,
		Value:     json.RawMessage(`{"name":"` + key + `"}`),
		Version:   version,
		UpdatedAt: at,
	}
}

func (s *fakeSource) LoadDocument(_ context.Context, key string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[key]; ok {
		return d, nil
	}
	return store.Document{Key: key}, nil
}

func (s *fakeSource) ChangedSince(_ context.Context, after store.Cursor, limit int) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Document
	for _, d := range s.docs {
		if after.After(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []events.Envelope
	notify   chan struct{}
}

func newFakePublisher(failures int) *fakePublisher {
	return &fakePublisher{failures: failures, notify: make(chan struct{}, 16)}
}

func (p *fakePublisher) Publish(_ context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("nats unavailable")
	}
	p.sent = append(p.sent, env)
	p.notify <- struct{}{}
	return nil
}

func (p *fakePublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, e := range p.sent {
		ids = append(ids, e.EventID)
	}
	return ids
}

func waitPublished(t *testing.T, p *fakePublisher) {
	t.Helper()
	select {
	case <-p.notify:
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestListenerRelaysNotifiedDocument(t *testing.T) {
	src := &fakeSource{}
	src.put("committees/a", 3, epoch)
	n := newFakeNotifier()
	pub := newFakePublisher(0)
	clock := clockwork.NewFakeClockAt(epoch)

	l := NewListenerWithNotifier(src, n, pub, clock, DefaultListenerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	// Initial sweep relays the existing document.
	waitPublished(t, pub)

	src.put("committees/a", 4, epoch.Add(time.Second))
	n.ch <- &pq.Notification{Channel: "document_changes", Extra: "committees/a"}
	waitPublished(t, pub)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if !n.closed {
		t.Error("notifier was not closed on shutdown")
	}

	want := []string{"committees/a@3", "committees/a@4"}
	if diff := cmp.Diff(want, pub.ids()); diff != "" {
		t.Errorf("published ids (-want +got):\n%s", diff)
	}
	if got := pub.sent[1].Payload; string(got) != `{"name":"committees/a"}` {
		t.Errorf("payload = %s", got)
	}
}

func TestSweepPagesAndAdvancesCursor(t *testing.T) {
	src := &fakeSource{}
	for i, key := range []string{"committees/a", "committees/b", "committees/c"} {
		src.put(key, 1, epoch.Add(time.Duration(i)*time.Second))
	}
	pub := newFakePublisher(0)
	cfg := DefaultListenerConfig()
	cfg.BatchSize = 2
	l := NewListenerWithNotifier(src, newFakeNotifier(), pub, clockwork.NewFakeClockAt(epoch), cfg)

	if err := l.sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	want := []string{"committees/a@1", "committees/b@1", "committees/c@1"}
	if diff := cmp.Diff(want, pub.ids()); diff != "" {
		t.Errorf("first sweep (-want +got):\n%s", diff)
	}
	if !l.cursor.UpdatedAt.Equal(epoch.Add(2*time.Second)) || l.cursor.Key != "committees/c" {
		t.Errorf("cursor = %+v", l.cursor)
	}

	// Nothing new: the overlap re-reads old rows but publishes nothing.
	if err := l.sweep(context.Background()); err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if got := len(pub.ids()); got != 3 {
		t.Errorf("second sweep republished: %d events", got)
	}
}

func TestSweepKeepsRowsSharingATimestamp(t *testing.T) {
	src := &fakeSource{}
	for _, key := range []string{"committees/a", "committees/b", "committees/c", "committees/d", "committees/e"} {
		src.put(key, 1, epoch)
	}
	pub := newFakePublisher(0)
	cfg := DefaultListenerConfig()
	cfg.BatchSize = 2
	l := NewListenerWithNotifier(src, newFakeNotifier(), pub, clockwork.NewFakeClockAt(epoch), cfg)

	if err := l.sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	want := []string{"committees/a@1", "committees/b@1", "committees/c@1", "committees/d@1", "committees/e@1"}
	if diff := cmp.Diff(want, pub.ids()); diff != "" {
		t.Errorf("published (-want +got):\n%s", diff)
	}
}

func TestSweepPicksUpLateCommit(t *testing.T) {
	src := &fakeSource{}
	src.put("committees/a", 1, epoch.Add(5*time.Second))
	pub := newFakePublisher(0)
	l := NewListenerWithNotifier(src, newFakeNotifier(), pub, clockwork.NewFakeClockAt(epoch), DefaultListenerConfig())

	if err := l.sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	// A transaction stamped before the cursor commits after the sweep.
	src.put("committees/b", 4, epoch.Add(2*time.Second))
	if err := l.sweep(context.Background()); err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}

	want := []string{"committees/a@1", "committees/b@4"}
	if diff := cmp.Diff(want, pub.ids()); diff != "" {
		t.Errorf("published (-want +got):\n%s", diff)
	}
	if !l.cursor.UpdatedAt.Equal(epoch.Add(5 * time.Second)) {
		t.Errorf("cursor moved backwards: %+v", l.cursor)
	}
}

func TestRelaySkipsVersionsAlreadyPublished(t *testing.T) {
	src := &fakeSource{}
	src.put("committees/a", 2, epoch)
	pub := newFakePublisher(0)
	l := NewListenerWithNotifier(src, newFakeNotifier(), pub, clockwork.NewFakeClockAt(epoch), DefaultListenerConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.handleNotification(ctx, "committees/a"); err != nil {
			t.Fatalf("handleNotification failed: %v", err)
		}
	}
	if err := l.sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if diff := cmp.Diff([]string{"committees/a@2"}, pub.ids()); diff != "" {
		t.Errorf("published (-want +got):\n%s", diff)
	}
}

func TestPublishWithRetry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	pub := newFakePublisher(2)
	cfg := DefaultListenerConfig()
	l := NewListenerWithNotifier(&fakeSource{}, newFakeNotifier(), pub, clock, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env := events.DocumentChanged("committees/a", 7, json.RawMessage(`{}`), epoch)
	done := make(chan error, 1)
	go func() { done <- l.publishWithRetry(ctx, env) }()

	for attempt := 1; attempt <= 2; attempt++ {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("retry %d never waited: %v", attempt, err)
		}
		clock.Advance(cfg.RetryDelay * time.Duration(attempt))
	}

	if err := <-done; err != nil {
		t.Fatalf("publishWithRetry failed: %v", err)
	}
	if pub.calls != 3 {
		t.Errorf("calls = %d, want 3", pub.calls)
	}
}

func TestPublishWithRetryGivesUp(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	pub := newFakePublisher(100)
	cfg := DefaultListenerConfig()
	cfg.MaxRetries = 0
	l := NewListenerWithNotifier(&fakeSource{}, newFakeNotifier(), pub, clock, cfg)

	env := events.DocumentChanged("committees/a", 1, nil, epoch)
	if err := l.publishWithRetry(context.Background(), env); err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
}

func TestEmptyNotificationIsRejected(t *testing.T) {
	l := NewListenerWithNotifier(&fakeSource{}, newFakeNotifier(), newFakePublisher(0), clockwork.NewFakeClock(), DefaultListenerConfig())
	if err := l.handleNotification(context.Background(), ""); err == nil {
		t.Error("expected error for empty key")
	}
}
