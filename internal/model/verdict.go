package model

// Verdict is a single classifier decision over a traffic sample.
type Verdict struct {
	PredictedClass string
	Confidence     float64
}

// ResponseTier is one of the four discrete response levels derived
// from a verdict's confidence.
type ResponseTier string

const (
	TierAutomaticResponse   ResponseTier = "automatic_response"
	TierAutoCreateProposal  ResponseTier = "auto_create_proposal"
	TierManualDecisionAlert ResponseTier = "manual_decision_alert"
	TierLogOnly             ResponseTier = "log_only"
)

func (t ResponseTier) String() string {
	return string(t)
}
