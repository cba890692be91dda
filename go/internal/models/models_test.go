package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTickingJSON(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		state TimerState
		want  string
	}{
		{"stopped", NewTimerState(60), `{"elapsed":0,"remaining":60,"ticking":false}`},
		{"running", TimerState{Elapsed: 5, Remaining: 55, Ticking: TickingAt(start)}, `{"elapsed":5,"remaining":55,"ticking":1709294400000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.state)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
			var back TimerState
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back != tt.state {
				t.Errorf("round trip: %+v", back)
			}
		})
	}
}

func TestTickingAcceptsLooseValues(t *testing.T) {
	tests := []struct {
		in   string
		want Ticking
	}{
		{"null", NotTicking},
		{"true", NotTicking},
		{"1709294400000.0", Ticking(1709294400000)},
	}
	for _, tt := range tests {
		var got Ticking
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.in, got, tt.want)
		}
	}

	var bad Ticking
	if err := json.Unmarshal([]byte(`"soon"`), &bad); err == nil {
		t.Error("expected error for a string value")
	}
}

func TestCaucusSpeakerSeconds(t *testing.T) {
	c := NewCaucus("Access", "")
	c.SpeakerDuration, c.SpeakerUnit = 2, UnitMinutes
	if got := c.SpeakerSeconds(); got != 120 {
		t.Errorf("got %d, want 120", got)
	}
	c.SpeakerDuration = 0
	if got := c.SpeakerSeconds(); got != DefaultSpeakerSeconds {
		t.Errorf("zero duration: got %d", got)
	}
}
