package caucus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcdev12/caucus/go/internal/models"
)

func do(t *testing.T, h http.Handler, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newMux(f *fixture) *http.ServeMux {
	mux := http.NewServeMux()
	NewService(f.app, NewWatcher(f.mem, f.clock, f.clock, time.Second)).RegisterRoutes(mux)
	return mux
}

func TestServiceSpeakerFlow(t *testing.T) {
	f := newFixture(t)
	mux := newMux(f)
	base := "/api/committees/" + f.committeeID + "/caucuses/" + f.caucusID

	rec := do(t, mux, http.MethodPost, base+"/queue", chair, QueueSpeakerRequest{Who: "France", Stance: models.StanceFor})
	if rec.Code != http.StatusCreated {
		t.Fatalf("queue: status %d body %s", rec.Code, rec.Body)
	}

	rec = do(t, mux, http.MethodPost, base+"/next", chair, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("next: status %d body %s", rec.Code, rec.Body)
	}
	var v View
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if v.Caucus.Speaking == nil || v.Caucus.Speaking.Who != "France" || v.SpeakerRemaining != 60 {
		t.Errorf("view after next: %+v", v)
	}

	rec = do(t, mux, http.MethodPost, base+"/yield", chair, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("yield without body: status %d body %s", rec.Code, rec.Body)
	}
}

func TestServiceErrorStatuses(t *testing.T) {
	f := newFixture(t)
	mux := newMux(f)
	base := "/api/committees/" + f.committeeID

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		want   int
	}{
		{"non-chair reorder", http.MethodPost, base + "/caucuses/" + f.caucusID + "/reorder", "delegate", reorderRequest{From: 0, To: 1}, http.StatusForbidden},
		{"unknown caucus", http.MethodGet, base + "/caucuses/nope", "", nil, http.StatusNotFound},
		{"bad duration", http.MethodPost, base + "/caucuses/" + f.caucusID + "/timers/speaker", chair, TimerRequest{Action: TimerSet, Duration: 0}, http.StatusBadRequest},
		{"nobody to yield", http.MethodPost, base + "/caucuses/" + f.caucusID + "/yield", chair, nil, http.StatusConflict},
		{"unknown motion type", http.MethodPost, base + "/motions", chair, models.Motion{Type: "Nap", Proposer: "Chad"}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/committees", "", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, tt.method, tt.path, tt.actor, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestServiceTime(t *testing.T) {
	f := newFixture(t)
	rec := do(t, newMux(f), http.MethodGet, "/api/time", "", nil)
	var resp TimeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ServerTimeMs != f.clock.Now().UnixMilli() {
		t.Errorf("got %d, want %d", resp.ServerTimeMs, f.clock.Now().UnixMilli())
	}
}

func TestServicePendingMotionsIsPublic(t *testing.T) {
	f := newFixture(t)
	mux := newMux(f)
	path := "/api/committees/" + f.committeeID + "/motions"

	rec := do(t, mux, http.MethodPost, path, chair, models.Motion{Type: models.MotionAdjournDebate, Proposer: "Chad"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("propose: status %d body %s", rec.Code, rec.Body)
	}
	rec = do(t, mux, http.MethodGet, path, "", nil)
	var pending []models.KeyedMotion
	if err := json.NewDecoder(rec.Body).Decode(&pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pending) != 1 || pending[0].Motion.Type != models.MotionAdjournDebate {
		t.Errorf("pending: %+v", pending)
	}
}

func TestServiceWatchStreamsViews(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(newMux(f))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := server.URL + "/api/committees/" + f.committeeID + "/caucuses/" + f.caucusID + "/watch"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var v View
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		if v.SpeakerRemaining != 60 {
			t.Errorf("speaker remaining = %d, want 60", v.SpeakerRemaining)
		}
		return
	}
	t.Fatalf("stream ended without a view: %v", scanner.Err())
}

func TestServiceWatchUnknownCaucus(t *testing.T) {
	f := newFixture(t)
	rec := do(t, newMux(f), http.MethodGet, "/api/committees/"+f.committeeID+"/caucuses/nope/watch", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}
