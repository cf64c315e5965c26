package model

import "time"

// Detection is a recorded classifier verdict together with the
// response action that was taken for it.
type Detection struct {
	ID          uint64
	ThreatType  string
	Confidence  float64
	Tier        ResponseTier
	SourceIP    string
	TargetIP    string
	ActionTaken string
	// ProposalID links the detection to the proposal it spawned, if any.
	ProposalID uint64
	DetectedAt time.Time
}

// ExecutionLog records one executed response action, automatic or
// proposal-approved.
type ExecutionLog struct {
	ID          uint64
	ProposalID  uint64
	ActionType  string
	Target      string
	ThreatType  string
	Confidence  float64
	Status      string
	Details     string
	RewardTxRef string
	ExecutedAt  time.Time
}
