// Package motion ranks and records procedural motions.
package motion

import (
	"math"
	"sort"

	"github.com/mcdev12/caucus/go/internal/models"
)

// MaxDisruptiveness ranks motion types missing from the table. They sort last.
const MaxDisruptiveness = math.MaxInt32

// Disruptiveness ranks each motion type from least to most disruptive to the
// running debate. Lower ranks are put to the chair first.
var Disruptiveness = map[models.MotionType]int{
	models.MotionExtendUnmoderatedCaucus:            1,
	models.MotionExtendModeratedCaucus:              2,
	models.MotionCloseModeratedCaucus:               3,
	models.MotionOpenUnmoderatedCaucus:              4,
	models.MotionOpenModeratedCaucus:                5,
	models.MotionProposeStrawpoll:                   6,
	models.MotionIntroduceAmendment:                 7,
	models.MotionIntroduceDraftResolution:           8,
	models.MotionReorderDraftResolutions:            9,
	models.MotionSuspendDraftResolutionSpeakersList: 10,
	models.MotionOpenDebate:                         11,
	models.MotionResumeDebate:                       12,
	models.MotionCloseDebate:                        13,
	models.MotionSuspendDebate:                      14,
	models.MotionAdjournDebate:                      15,
}

// Rank returns the disruptiveness of t.
func Rank(t models.MotionType) int {
	if r, ok := Disruptiveness[t]; ok {
		return r
	}
	return MaxDisruptiveness
}

// Sort drops deleted motions and orders the rest by disruptiveness, least
// first, then by requested duration, longest first. Motions equal on both keep
// their input order.
func Sort(motions []models.KeyedMotion) []models.KeyedMotion {
	return SortBy(motions, Rank)
}

// SortBy is Sort with a caller-supplied ranking.
func SortBy(motions []models.KeyedMotion, rank func(models.MotionType) int) []models.KeyedMotion {
	out := make([]models.KeyedMotion, 0, len(motions))
	for _, m := range motions {
		if m.Motion.Deleted {
			continue
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Motion.Type), rank(out[j].Motion.Type)
		if ri != rj {
			return ri < rj
		}
		return out[i].Motion.RequestedSeconds() > out[j].Motion.RequestedSeconds()
	})
	return out
}
