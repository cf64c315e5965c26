package policy

import "threat-response/internal/model"

// Thresholds are the confidence breakpoints between response tiers.
type Thresholds struct {
	High       float64
	MediumHigh float64
	MediumLow  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.90, MediumHigh: 0.80, MediumLow: 0.70}
}

// Engine maps a classifier verdict to a response tier. It is pure: no
// side effects, total over confidence in [0,1].
type Engine struct {
	thresholds  Thresholds
	benignClass string
}

func NewEngine(thresholds Thresholds, benignClass string) Engine {
	return Engine{thresholds: thresholds, benignClass: benignClass}
}

// Tier picks the response tier for a verdict. Comparisons are strict:
// a confidence exactly equal to a breakpoint falls to the lower tier.
func (e Engine) Tier(verdict model.Verdict) model.ResponseTier {
	if verdict.PredictedClass == e.benignClass {
		return model.TierLogOnly
	}

	switch {
	case verdict.Confidence > e.thresholds.High:
		return model.TierAutomaticResponse
	case verdict.Confidence > e.thresholds.MediumHigh:
		return model.TierAutoCreateProposal
	case verdict.Confidence > e.thresholds.MediumLow:
		return model.TierManualDecisionAlert
	default:
		return model.TierLogOnly
	}
}
