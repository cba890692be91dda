package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Unit is the unit a duration was entered in.
type Unit string

const (
	UnitSeconds Unit = "sec"
	UnitMinutes Unit = "min"
)

// Seconds converts n of this unit to seconds. Unknown units are treated as seconds.
func (u Unit) Seconds(n int) int {
	if u == UnitMinutes {
		return n * 60
	}
	return n
}

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	return u == UnitSeconds || u == UnitMinutes
}

// Ticking is the instant a timer started running, or the zero value when it
// is stopped. It is stored as `false` or as Unix milliseconds.
type Ticking int64

// NotTicking is the stopped value.
const NotTicking Ticking = 0

// TickingAt returns a Ticking value that started at t.
func TickingAt(t time.Time) Ticking {
	return Ticking(t.UnixMilli())
}

// IsTicking reports whether the timer is running.
func (t Ticking) IsTicking() bool {
	return t != NotTicking
}

// Since returns the start instant. Only meaningful when IsTicking is true.
func (t Ticking) Since() time.Time {
	return time.UnixMilli(int64(t))
}

func (t Ticking) MarshalJSON() ([]byte, error) {
	if !t.IsTicking() {
		return []byte("false"), nil
	}
	return json.Marshal(int64(t))
}

func (t *Ticking) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "false", "null":
		*t = NotTicking
		return nil
	case "true":
		// A bare true carries no start instant; treat it as stopped.
		*t = NotTicking
		return nil
	}

	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("ticking must be false or a timestamp: %w", err)
	}
	*t = Ticking(int64(ms))
	return nil
}

// TimerState is the shared, stored state of one countdown timer. While
// Ticking is set, Remaining and Elapsed are the values at the Ticking instant
// and the live values must be derived from the current time.
type TimerState struct {
	Elapsed   int     `json:"elapsed"`
	Remaining int     `json:"remaining"`
	Ticking   Ticking `json:"ticking"`
}

// NewTimerState returns a stopped timer with the given duration remaining.
func NewTimerState(remainingSeconds int) TimerState {
	return TimerState{Elapsed: 0, Remaining: remainingSeconds, Ticking: NotTicking}
}
