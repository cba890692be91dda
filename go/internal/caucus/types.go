package caucus

import (
	"github.com/mcdev12/caucus/go/internal/models"
)

// CreateCommitteeRequest represents the data needed to create a committee
type CreateCommitteeRequest struct {
	Name   string   `json:"name"`
	Topic  string   `json:"topic"`
	Chairs []string `json:"chairs"`
}

// CreateCaucusRequest represents the data needed to open a caucus
type CreateCaucusRequest struct {
	Name            string      `json:"name"`
	Topic           string      `json:"topic"`
	SpeakerDuration int         `json:"speaker_duration"`
	SpeakerUnit     models.Unit `json:"speaker_unit"`
	CaucusDuration  int         `json:"caucus_duration"`
	CaucusUnit      models.Unit `json:"caucus_unit"`
}

// QueueSpeakerRequest adds a delegate to a caucus queue. A zero Duration
// uses the caucus speaker time.
type QueueSpeakerRequest struct {
	Who      string        `json:"who"`
	Stance   models.Stance `json:"stance"`
	Duration int           `json:"duration"`
	Unit     models.Unit   `json:"unit"`
}

// TimerKind selects one of the timers a committee runs.
type TimerKind string

const (
	TimerSpeaker TimerKind = "speaker"
	TimerCaucus  TimerKind = "caucus"
	// TimerUnmoderated is the committee-wide unmoderated caucus timer; it
	// ignores the caucus id.
	TimerUnmoderated TimerKind = "unmod"
)

// TimerAction is an operation on a timer.
type TimerAction string

const (
	TimerStart  TimerAction = "start"
	TimerStop   TimerAction = "stop"
	TimerToggle TimerAction = "toggle"
	TimerSet    TimerAction = "set"
	TimerExtend TimerAction = "extend"
)

// TimerRequest is a timer operation. Duration and Unit are used by set and
// extend.
type TimerRequest struct {
	Action   TimerAction `json:"action"`
	Duration int         `json:"duration"`
	Unit     models.Unit `json:"unit"`
}

// View is what a client draws for a caucus at one instant.
type View struct {
	Caucus           models.Caucus         `json:"caucus"`
	Queue            []models.KeyedSpeaker `json:"queue"`
	History          []models.KeyedSpeaker `json:"history"`
	SpeakerRemaining int                   `json:"speaker_remaining_sec"`
	CaucusRemaining  int                   `json:"caucus_remaining_sec"`
	ServerTimeMs     int64                 `json:"server_time_ms"`
}
