package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/caucus/go/internal/events"
	"github.com/mcdev12/caucus/go/internal/store"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLoader map[string]store.Document

func (f fakeLoader) LoadDocument(_ context.Context, key string) (store.Document, error) {
	if d, ok := f[key]; ok {
		return d, nil
	}
	return store.Document{Key: key}, nil
}

func newLoader() fakeLoader {
	return fakeLoader{
		"committees/unsc": {
			Key:     "committees/unsc",
			Value:   json.RawMessage(`{"name":"UNSC"}`),
			Version: 4,
		},
	}
}

type harness struct {
	clock  *clockwork.FakeClock
	cm     *ConnectionManager
	server *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	cm := NewConnectionManager(DefaultConnectionConfig(), clock)
	provider := NewDocumentStateProvider(newLoader())

	mux := http.NewServeMux()
	NewWebSocketHandler(cm, provider).RegisterRoutes(mux)
	NewStateHandler(provider).RegisterStateRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &harness{clock: clock, cm: cm, server: server}
}

func (h *harness) dial(t *testing.T, committeeID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/committee?committee_id=" + committeeID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestConnectSendsSnapshotWithServerTime(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "unsc")

	got := readMessage(t, conn)
	want := Message{
		Type:         MessageSnapshot,
		CommitteeID:  "unsc",
		DocumentKey:  "committees/unsc",
		Version:      4,
		ServerTimeMs: epoch.UnixMilli(),
		Data:         json.RawMessage(`{"name":"UNSC"}`),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot (-want +got):\n%s", diff)
	}

	if stats := h.cm.GetConnectionStats(); stats.TotalConnections != 1 || stats.Committees["unsc"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBroadcastDropsStaleVersions(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "unsc")
	readMessage(t, conn)

	for _, v := range []int64{5, 3, 6} {
		h.cm.BroadcastToCommittee("unsc", &Message{
			Type:        MessageDocumentChanged,
			CommitteeID: "unsc",
			DocumentKey: "committees/unsc",
			Version:     v,
		})
	}

	if got := readMessage(t, conn).Version; got != 5 {
		t.Errorf("first change version = %d, want 5", got)
	}
	if got := readMessage(t, conn).Version; got != 6 {
		t.Errorf("second change version = %d, want 6", got)
	}
}

func TestTimeRequestEchoesClientTime(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "unsc")
	readMessage(t, conn)

	h.clock.Advance(1500 * time.Millisecond)
	if err := conn.WriteJSON(map[string]any{"type": "time", "client_time_ms": 1234}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readMessage(t, conn)
	if got.Type != MessageServerTime || got.ClientTimeMs != 1234 || got.ServerTimeMs != epoch.Add(1500*time.Millisecond).UnixMilli() {
		t.Errorf("time reply = %+v", got)
	}
}

func TestConnectRejectsUnknownCommittee(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusBadRequest},
		{"?committee_id=nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(h.server.URL + "/ws/committee" + tt.query)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%q: status %d, want %d", tt.query, resp.StatusCode, tt.want)
		}
	}
}

func TestStateHandler(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.server.URL + "/api/committees/unsc/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var state CommitteeState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Version != 4 || string(state.Document) != `{"name":"UNSC"}` {
		t.Errorf("state = %+v", state)
	}

	resp, err = http.Get(h.server.URL + "/api/committees/nope/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing committee: status %d", resp.StatusCode)
	}
}

func TestDocumentStateProviderTreatsNullAsMissing(t *testing.T) {
	loader := fakeLoader{"committees/gone": {Key: "committees/gone", Value: json.RawMessage("null"), Version: 9}}
	_, err := NewDocumentStateProvider(loader).CommitteeState(context.Background(), "gone")
	if !errors.Is(err, ErrCommitteeNotFound) {
		t.Errorf("err = %v, want ErrCommitteeNotFound", err)
	}
}

type recordingBroadcaster struct {
	committees []string
	messages   []*Message
}

func (r *recordingBroadcaster) BroadcastToCommittee(committeeID string, m *Message) {
	r.committees = append(r.committees, committeeID)
	r.messages = append(r.messages, m)
}

func TestProcessMessage(t *testing.T) {
	rec := &recordingBroadcaster{}
	ec := &EventConsumer{broadcaster: rec, config: DefaultJetStreamConsumerConfig()}

	env := events.DocumentChanged("committees/unsc", 7, json.RawMessage(`{"name":"UNSC"}`), epoch)
	data, _ := json.Marshal(env)
	if err := ec.processMessage(data); err != nil {
		t.Fatalf("processMessage: %v", err)
	}
	if len(rec.messages) != 1 || rec.committees[0] != "unsc" {
		t.Fatalf("broadcasts = %v", rec.committees)
	}
	if m := rec.messages[0]; m.Type != MessageDocumentChanged || m.Version != 7 || m.DocumentKey != "committees/unsc" {
		t.Errorf("message = %+v", m)
	}

	other, _ := json.Marshal(events.DocumentChanged("elsewhere/x", 1, nil, epoch))
	if err := ec.processMessage(other); err == nil {
		t.Error("expected error for a non-committee document")
	}
	if err := ec.processMessage([]byte("{")); err == nil {
		t.Error("expected error for malformed envelope")
	}
}

func TestConsumerConfigFiltersCommittees(t *testing.T) {
	cfg := ConsumerConfig(DefaultJetStreamConsumerConfig())
	if cfg.FilterSubject != "caucus.changes.committees.>" {
		t.Errorf("filter = %q", cfg.FilterSubject)
	}
}
