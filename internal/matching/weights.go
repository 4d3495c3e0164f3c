package matching

// MatchWeights are the per-practice weights for the slot-to-patients
// scoring formula. Each sub-score is normalized to [0,1] before being
// multiplied by its weight, so the weight is also the factor's maximum
// contribution. The engine uses overrides exactly as stored and does
// not require them to sum to 1.0.
type MatchWeights struct {
	WaitTime           float64 `json:"wait_time"`
	Priority           float64 `json:"priority"`
	ProviderPreference float64 `json:"provider_preference"`
	SpecialtyMatch     float64 `json:"specialty_match"`
	ModalityMatch      float64 `json:"modality_match"`
}

// DefaultMatchWeights apply whenever a practice has no override
// configured.
func DefaultMatchWeights() MatchWeights {
	return MatchWeights{
		WaitTime:           0.30,
		Priority:           0.25,
		ProviderPreference: 0.20,
		SpecialtyMatch:     0.15,
		ModalityMatch:      0.10,
	}
}

// The patient-to-slots formula uses its own fixed weights. They are
// deliberately not practice-configurable and deliberately different
// from MatchWeights; the two directions rank by different criteria and
// unifying them would change observable orderings.
const (
	slotProviderPrefWeight   = 0.30
	slotSpecialtyWeight      = 0.25
	slotModalityWeight       = 0.20
	slotTelehealthWeight     = 0.15
	slotTimeWindowBonus      = 0.10
	slotTelehealthNeutral    = 0.075 // patient stated no telehealth preference
	providerPrefNeutralShare = 0.5   // no preferred provider at all
)

// Penalty multipliers on the slot-to-patients path only.
const (
	telehealthMismatchPenalty = 0.8
	noShowPenaltyStep         = 0.1
	noShowPenaltyFloor        = 0.5
	waitTimeSaturationDays    = 90.0
)
