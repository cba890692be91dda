package models

import (
	"sort"
)

// Stance is the position a speaker takes on the caucus topic.
type Stance string

const (
	StanceFor     Stance = "For"
	StanceNeutral Stance = "Neutral"
	StanceAgainst Stance = "Against"
)

// Valid reports whether s is a known stance.
func (s Stance) Valid() bool {
	switch s {
	case StanceFor, StanceNeutral, StanceAgainst:
		return true
	}
	return false
}

// CaucusStatus defines whether a caucus is still running.
type CaucusStatus string

const (
	CaucusStatusOpen   CaucusStatus = "Open"
	CaucusStatusClosed CaucusStatus = "Closed"
)

// Default timer lengths for a new caucus.
const (
	DefaultSpeakerSeconds = 60
	DefaultCaucusSeconds  = 10 * 60
)

// SpeakerEvent is a single speaking turn. In the queue and the now-speaking
// slot Duration is the allotted time; in history it is the time actually used.
type SpeakerEvent struct {
	Who      string `json:"who"`
	Stance   Stance `json:"stance"`
	Duration int    `json:"duration"`
}

// KeyedSpeaker is a SpeakerEvent together with the push key it is stored under.
type KeyedSpeaker struct {
	Key   string       `json:"key"`
	Event SpeakerEvent `json:"event"`
}

// Caucus is a debate segment: one now-speaking slot, a queue, a history and
// two timers.
type Caucus struct {
	Name            string                  `json:"name"`
	Topic           string                  `json:"topic"`
	Status          CaucusStatus            `json:"status"`
	SpeakerDuration int                     `json:"speakerDuration"`
	SpeakerUnit     Unit                    `json:"speakerUnit"`
	Speaking        *SpeakerEvent           `json:"speaking,omitempty"`
	Queue           map[string]SpeakerEvent `json:"queue,omitempty"`
	History         map[string]SpeakerEvent `json:"history,omitempty"`
	SpeakerTimer    TimerState              `json:"speakerTimer"`
	CaucusTimer     TimerState              `json:"caucusTimer"`
}

// NewCaucus returns an open caucus with default timers.
func NewCaucus(name, topic string) Caucus {
	return Caucus{
		Name:            name,
		Topic:           topic,
		Status:          CaucusStatusOpen,
		SpeakerDuration: DefaultSpeakerSeconds,
		SpeakerUnit:     UnitSeconds,
		SpeakerTimer:    NewTimerState(DefaultSpeakerSeconds),
		CaucusTimer:     NewTimerState(DefaultCaucusSeconds),
	}
}

// SpeakerSeconds is the configured per-speaker allotment in seconds.
func (c Caucus) SpeakerSeconds() int {
	if c.SpeakerDuration <= 0 {
		return DefaultSpeakerSeconds
	}
	return c.SpeakerUnit.Seconds(c.SpeakerDuration)
}

// QueueOrder returns the queue sorted by push key, which is insertion order.
func (c Caucus) QueueOrder() []KeyedSpeaker {
	return byKey(c.Queue)
}

// HistoryOrder returns the history sorted by push key.
func (c Caucus) HistoryOrder() []KeyedSpeaker {
	return byKey(c.History)
}

func byKey(m map[string]SpeakerEvent) []KeyedSpeaker {
	out := make([]KeyedSpeaker, 0, len(m))
	for k, ev := range m {
		out = append(out, KeyedSpeaker{Key: k, Event: ev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
