package models

import "time"

// Committee is the top-level document. Caucuses, motions and the
// unmoderated-caucus timer live underneath it.
type Committee struct {
	Name      string            `json:"name"`
	Topic     string            `json:"topic,omitempty"`
	Chairs    map[string]bool   `json:"chairs,omitempty"`
	Caucuses  map[string]Caucus `json:"caucuses,omitempty"`
	Motions   map[string]Motion `json:"motions,omitempty"`
	Timer     TimerState        `json:"timer"`
	CreatedAt time.Time         `json:"createdAt"`
}
