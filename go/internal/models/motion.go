package models

// MotionType is the procedural motion being proposed.
type MotionType string

const (
	MotionOpenUnmoderatedCaucus              MotionType = "Open Unmoderated Caucus"
	MotionOpenModeratedCaucus                MotionType = "Open Moderated Caucus"
	MotionExtendUnmoderatedCaucus            MotionType = "Extend Unmoderated Caucus"
	MotionExtendModeratedCaucus              MotionType = "Extend Moderated Caucus"
	MotionCloseModeratedCaucus               MotionType = "Close Moderated Caucus"
	MotionIntroduceDraftResolution           MotionType = "Introduce Draft Resolution"
	MotionIntroduceAmendment                 MotionType = "Introduce Amendment"
	MotionSuspendDraftResolutionSpeakersList MotionType = "Suspend Draft Resolution Speakers List"
	MotionReorderDraftResolutions            MotionType = "Reorder Draft Resolutions"
	MotionProposeStrawpoll                   MotionType = "Propose Strawpoll"
	MotionOpenDebate                         MotionType = "Open Debate"
	MotionSuspendDebate                      MotionType = "Suspend Debate"
	MotionResumeDebate                       MotionType = "Resume Debate"
	MotionCloseDebate                        MotionType = "Close Debate"
	MotionAdjournDebate                      MotionType = "Adjourn Debate"
)

// Vote is a single delegate's vote on a motion.
type Vote string

const (
	VoteFor     Vote = "For"
	VoteAgainst Vote = "Against"
	VoteAbstain Vote = "Abstain"
)

// Motion is a pending procedural motion. Deleted is a tombstone; motions are
// never physically removed.
type Motion struct {
	Type             MotionType      `json:"type"`
	Proposal         string          `json:"proposal,omitempty"`
	Proposer         string          `json:"proposer"`
	Seconder         string          `json:"seconder,omitempty"`
	SpeakerDuration  int             `json:"speakerDuration,omitempty"`
	SpeakerUnit      Unit            `json:"speakerUnit,omitempty"`
	CaucusDuration   int             `json:"caucusDuration,omitempty"`
	CaucusUnit       Unit            `json:"caucusUnit,omitempty"`
	CaucusTarget     string          `json:"caucusTarget,omitempty"`
	ResolutionTarget string          `json:"resolutionTarget,omitempty"`
	AmendmentTarget  string          `json:"amendmentTarget,omitempty"`
	Deleted          bool            `json:"deleted,omitempty"`
	Votes            map[string]Vote `json:"votes,omitempty"`
}

// RequestedSeconds is the duration the motion asks for: the caucus duration
// when one is given, otherwise the speaker duration.
func (m Motion) RequestedSeconds() int {
	if m.CaucusDuration > 0 {
		return m.CaucusUnit.Seconds(m.CaucusDuration)
	}
	if m.SpeakerDuration > 0 {
		return m.SpeakerUnit.Seconds(m.SpeakerDuration)
	}
	return 0
}

// KeyedMotion is a Motion together with its push key.
type KeyedMotion struct {
	Key    string `json:"key"`
	Motion Motion `json:"motion"`
}
