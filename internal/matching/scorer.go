package matching

import (
	"time"

	"github.com/google/uuid"
)

// ScoreBreakdown records each factor's weighted contribution plus the
// penalty multipliers that were applied (1.0 when a penalty did not
// fire). Fields that do not participate in a given direction stay zero.
type ScoreBreakdown struct {
	WaitTime           float64 `json:"wait_time"`
	Priority           float64 `json:"priority"`
	ProviderPreference float64 `json:"provider_preference"`
	SpecialtyMatch     float64 `json:"specialty_match"`
	ModalityMatch      float64 `json:"modality_match"`
	Telehealth         float64 `json:"telehealth"`
	TimeWindow         float64 `json:"time_window"`
	TelehealthPenalty  float64 `json:"telehealth_penalty"`
	NoShowPenalty      float64 `json:"no_show_penalty"`
}

type PatientMatch struct {
	PatientID uuid.UUID      `json:"patient_id"`
	EntryID   uuid.UUID      `json:"entry_id"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

type SlotMatch struct {
	SlotID     uuid.UUID      `json:"slot_id"`
	ProviderID uuid.UUID      `json:"provider_id"`
	Score      float64        `json:"score"`
	Breakdown  ScoreBreakdown `json:"breakdown"`
}

// ScorePatientForSlot computes the weighted match score of one active
// waitlist candidate against one open slot. Sub-scores are normalized
// to [0,1], multiplied by their weight and summed; the telehealth
// mismatch penalty is applied first, then the no-show penalty. The
// result is never negative but has no upper clamp after penalties.
func ScorePatientForSlot(now time.Time, w MatchWeights, slot *AppointmentSlot, provider *Provider, cand WaitlistCandidate) (float64, ScoreBreakdown) {
	prefs := cand.Patient.Preferences

	daysWaiting := now.Sub(cand.Entry.CreatedAt).Hours() / 24
	waitTime := daysWaiting / waitTimeSaturationDays
	if waitTime > 1 {
		waitTime = 1
	}
	if waitTime < 0 {
		waitTime = 0
	}

	b := ScoreBreakdown{
		WaitTime: w.WaitTime * waitTime,
		// priority_score arrives pre-normalized; used as-is.
		Priority:           w.Priority * cand.Entry.PriorityScore,
		ProviderPreference: w.ProviderPreference * providerPreferenceShare(cand.Entry.PreferredProviderID, provider.ID),
		SpecialtyMatch:     w.SpecialtyMatch * overlapRatio(provider.Specialties, prefs.Specialties),
		ModalityMatch:      w.ModalityMatch * overlapRatio(provider.Modalities, prefs.Modalities),
		TelehealthPenalty:  1,
		NoShowPenalty:      1,
	}

	score := b.WaitTime + b.Priority + b.ProviderPreference + b.SpecialtyMatch + b.ModalityMatch

	if prefs.Telehealth != nil && *prefs.Telehealth != (slot.SlotType == SlotTelehealth) {
		b.TelehealthPenalty = telehealthMismatchPenalty
		score *= b.TelehealthPenalty
	}
	if prefs.NoShowCount > 0 {
		p := 1 - noShowPenaltyStep*float64(prefs.NoShowCount)
		if p < noShowPenaltyFloor {
			p = noShowPenaltyFloor
		}
		b.NoShowPenalty = p
		score *= p
	}

	return score, b
}

// ScoreSlotForPatient computes the reverse-direction score of one open
// slot for one patient, using the fixed slot-search weights. entry is
// the patient's active waitlist entry in the slot's practice. No
// penalties apply on this path.
func ScoreSlotForPatient(patient *Patient, entry *WaitlistEntry, cand SlotCandidate) (float64, ScoreBreakdown) {
	prefs := patient.Preferences

	b := ScoreBreakdown{
		ProviderPreference: slotProviderPrefWeight * providerPreferenceShare(entry.PreferredProviderID, cand.Provider.ID),
		SpecialtyMatch:     slotSpecialtyWeight * overlapRatio(cand.Provider.Specialties, prefs.Specialties),
		ModalityMatch:      slotModalityWeight * overlapRatio(cand.Provider.Modalities, prefs.Modalities),
		TelehealthPenalty:  1,
		NoShowPenalty:      1,
	}

	isTelehealth := cand.Slot.SlotType == SlotTelehealth
	switch {
	case prefs.Telehealth == nil:
		b.Telehealth = slotTelehealthNeutral
	case *prefs.Telehealth == isTelehealth:
		b.Telehealth = slotTelehealthWeight
	}

	if inPreferredWindow(prefs.PreferredTimes, cand.Slot.StartTime) {
		b.TimeWindow = slotTimeWindowBonus
	}

	score := b.ProviderPreference + b.SpecialtyMatch + b.ModalityMatch + b.Telehealth + b.TimeWindow
	return score, b
}

// providerPreferenceShare: 1 when the preferred provider is the slot's
// provider, 0 when the patient prefers a different specific provider,
// 0.5 when there is no preference.
func providerPreferenceShare(preferred *uuid.UUID, providerID uuid.UUID) float64 {
	if preferred == nil {
		return providerPrefNeutralShare
	}
	if *preferred == providerID {
		return 1
	}
	return 0
}

// overlapRatio is |offered ∩ wanted| / max(1, |wanted|), clamped to 1.
// An empty wanted set contributes zero, not an error.
func overlapRatio(offered, wanted []string) float64 {
	if len(wanted) == 0 {
		return 0
	}
	offeredSet := make(map[string]struct{}, len(offered))
	for _, s := range offered {
		offeredSet[s] = struct{}{}
	}
	matched := 0
	for _, s := range wanted {
		if _, ok := offeredSet[s]; ok {
			matched++
		}
	}
	r := float64(matched) / float64(len(wanted))
	if r > 1 {
		r = 1
	}
	return r
}

func inPreferredWindow(windows []TimeWindow, start time.Time) bool {
	day := start.Weekday()
	hour := start.Hour()
	for _, w := range windows {
		if hour < w.StartHour || hour >= w.EndHour {
			continue
		}
		for _, d := range w.Days {
			if d == day {
				return true
			}
		}
	}
	return false
}
