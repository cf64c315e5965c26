package mongodb

import (
	"time"

	"threat-response/internal/model"
)

type storedProposal struct {
	ProposalID         uint64    `bson:"_id"`
	ThreatType         string    `bson:"threat_type"`
	Confidence         float64   `bson:"confidence"`
	Type               string    `bson:"proposal_type"`
	Status             string    `bson:"status"`
	Target             string    `bson:"target"`
	ActionType         string    `bson:"action_type"`
	Creator            string    `bson:"creator"`
	RequiredSignatures int       `bson:"required_signatures"`
	Signers            []string  `bson:"signers"`
	RewardRecipient    string    `bson:"reward_recipient,omitempty"`
	RewardTxRef        string    `bson:"reward_tx_ref,omitempty"`
	CreatedAt          time.Time `bson:"created_at"`
	ApprovedAt         time.Time `bson:"approved_at,omitempty"`
	ExecutedAt         time.Time `bson:"executed_at,omitempty"`
}

func newStoredProposal(proposal model.Proposal) storedProposal {
	return storedProposal{
		ProposalID:         proposal.ID,
		ThreatType:         proposal.ThreatType,
		Confidence:         proposal.Confidence,
		Type:               string(proposal.Type),
		Status:             string(proposal.Status),
		Target:             proposal.Target,
		ActionType:         proposal.ActionType,
		Creator:            proposal.Creator,
		RequiredSignatures: proposal.RequiredSignatures,
		Signers:            proposal.Signers,
		RewardRecipient:    proposal.RewardRecipient,
		RewardTxRef:        proposal.RewardTxRef,
		CreatedAt:          proposal.CreatedAt,
		ApprovedAt:         proposal.ApprovedAt,
		ExecutedAt:         proposal.ExecutedAt,
	}
}

func (stored storedProposal) toModel() model.Proposal {
	return model.Proposal{
		ID:                 stored.ProposalID,
		ThreatType:         stored.ThreatType,
		Confidence:         stored.Confidence,
		Type:               model.ProposalType(stored.Type),
		Status:             model.ProposalStatus(stored.Status),
		Target:             stored.Target,
		ActionType:         stored.ActionType,
		Creator:            stored.Creator,
		RequiredSignatures: stored.RequiredSignatures,
		Signers:            stored.Signers,
		RewardRecipient:    stored.RewardRecipient,
		RewardTxRef:        stored.RewardTxRef,
		CreatedAt:          stored.CreatedAt,
		ApprovedAt:         stored.ApprovedAt,
		ExecutedAt:         stored.ExecutedAt,
	}
}

type storedContribution struct {
	AuthorizerID         string    `bson:"_id"`
	TotalSignatures      int       `bson:"total_signatures"`
	TotalResponseTimeSec float64   `bson:"total_response_time_sec"`
	QualityScore         int       `bson:"quality_score"`
	LastSignatureTime    time.Time `bson:"last_signature_time"`
}

func newStoredContribution(record model.ContributionRecord) storedContribution {
	return storedContribution{
		AuthorizerID:         record.AuthorizerID,
		TotalSignatures:      record.TotalSignatures,
		TotalResponseTimeSec: record.TotalResponseTime.Seconds(),
		QualityScore:         record.QualityScore,
		LastSignatureTime:    record.LastSignatureTime,
	}
}

func (stored storedContribution) toModel() model.ContributionRecord {
	return model.ContributionRecord{
		AuthorizerID:      stored.AuthorizerID,
		TotalSignatures:   stored.TotalSignatures,
		TotalResponseTime: time.Duration(stored.TotalResponseTimeSec * float64(time.Second)),
		QualityScore:      stored.QualityScore,
		LastSignatureTime: stored.LastSignatureTime,
	}
}

type storedDetection struct {
	DetectionID uint64    `bson:"_id"`
	ThreatType  string    `bson:"threat_type"`
	Confidence  float64   `bson:"confidence"`
	Tier        string    `bson:"response_tier"`
	SourceIP    string    `bson:"source_ip,omitempty"`
	TargetIP    string    `bson:"target_ip,omitempty"`
	ActionTaken string    `bson:"action_taken"`
	ProposalID  uint64    `bson:"proposal_id,omitempty"`
	DetectedAt  time.Time `bson:"detected_at"`
}

func newStoredDetection(detection model.Detection) storedDetection {
	return storedDetection{
		DetectionID: detection.ID,
		ThreatType:  detection.ThreatType,
		Confidence:  detection.Confidence,
		Tier:        string(detection.Tier),
		SourceIP:    detection.SourceIP,
		TargetIP:    detection.TargetIP,
		ActionTaken: detection.ActionTaken,
		ProposalID:  detection.ProposalID,
		DetectedAt:  detection.DetectedAt,
	}
}

func (stored storedDetection) toModel() model.Detection {
	return model.Detection{
		ID:          stored.DetectionID,
		ThreatType:  stored.ThreatType,
		Confidence:  stored.Confidence,
		Tier:        model.ResponseTier(stored.Tier),
		SourceIP:    stored.SourceIP,
		TargetIP:    stored.TargetIP,
		ActionTaken: stored.ActionTaken,
		ProposalID:  stored.ProposalID,
		DetectedAt:  stored.DetectedAt,
	}
}

type storedExecution struct {
	ExecutionID uint64    `bson:"_id"`
	ProposalID  uint64    `bson:"proposal_id,omitempty"`
	ActionType  string    `bson:"action_type"`
	Target      string    `bson:"target"`
	ThreatType  string    `bson:"threat_type"`
	Confidence  float64   `bson:"confidence"`
	Status      string    `bson:"status"`
	Details     string    `bson:"details,omitempty"`
	RewardTxRef string    `bson:"reward_tx_ref,omitempty"`
	ExecutedAt  time.Time `bson:"executed_at"`
}

func newStoredExecution(execution model.ExecutionLog) storedExecution {
	return storedExecution{
		ExecutionID: execution.ID,
		ProposalID:  execution.ProposalID,
		ActionType:  execution.ActionType,
		Target:      execution.Target,
		ThreatType:  execution.ThreatType,
		Confidence:  execution.Confidence,
		Status:      execution.Status,
		Details:     execution.Details,
		RewardTxRef: execution.RewardTxRef,
		ExecutedAt:  execution.ExecutedAt,
	}
}
