package app

import (
	"context"
	"time"

	"threat-response/internal/model"

	"go.uber.org/zap"
)

const (
	actionAutoBlock           = "automatic_block"
	actionAutoProposalCreated = "auto_proposal_created"
	actionManualAlert         = "manual_alert"
	actionSilentLogging       = "silent_logging"
	actionNoDecision          = "no_decision"
)

// DetectionResult is the outcome of running one sample through the
// classifier and the response policy.
type DetectionResult struct {
	Detection  model.Detection
	ProposalID uint64
}

// HandleDetection classifies a traffic sample and dispatches the
// response for its tier: immediate execution, an auto-created
// proposal, an operator alert, or a silent record. A classifier
// failure yields no decision instead of an error.
func (a *App) HandleDetection(ctx context.Context, sample map[string]interface{}, sourceIP, targetIP string) (DetectionResult, error) {
	verdict, err := a.classifier.Classify(ctx, sample)
	if err != nil {
		a.logger.Warn("classifier unavailable, no decision taken: " + err.Error())
		return DetectionResult{Detection: model.Detection{
			Tier:        model.TierLogOnly,
			ActionTaken: actionNoDecision,
			DetectedAt:  time.Now(),
		}}, nil
	}

	tier := a.policy.Tier(verdict)

	detectionID, err := a.db.NextSequence(ctx, sequenceDetections)
	if err != nil {
		return DetectionResult{}, err
	}

	detection := model.Detection{
		ID:         detectionID,
		ThreatType: verdict.PredictedClass,
		Confidence: verdict.Confidence,
		Tier:       tier,
		SourceIP:   sourceIP,
		TargetIP:   targetIP,
		DetectedAt: time.Now(),
	}

	result := DetectionResult{}
	switch tier {
	case model.TierAutomaticResponse:
		detection.ActionTaken = actionAutoBlock
		if err := a.executeAutomaticResponse(ctx, detection); err != nil {
			a.logger.Error("failed to record the automatic response: " + err.Error())
		}

	case model.TierAutoCreateProposal:
		proposal, err := a.insertProposal(ctx, model.Proposal{
			ThreatType: verdict.PredictedClass,
			Confidence: verdict.Confidence,
			Type:       model.ProposalTypeAuto,
			Target:     targetIP,
			Creator:    systemCreator,
		})
		if err != nil {
			return DetectionResult{}, err
		}
		detection.ActionTaken = actionAutoProposalCreated
		detection.ProposalID = proposal.ID
		result.ProposalID = proposal.ID

	case model.TierManualDecisionAlert:
		detection.ActionTaken = actionManualAlert

	default:
		detection.ActionTaken = actionSilentLogging
	}

	if err := a.db.InsertDetection(ctx, detection); err != nil {
		return DetectionResult{}, err
	}

	a.logger.Info("detection handled",
		zap.Uint64("detectionID", detection.ID),
		zap.String("threatType", detection.ThreatType),
		zap.Float64("confidence", detection.Confidence),
		zap.String("tier", tier.String()),
		zap.String("actionTaken", detection.ActionTaken))

	result.Detection = detection
	return result, nil
}

// executeAutomaticResponse records the immediate execution taken for a
// high-confidence verdict; no sign-off is involved.
func (a *App) executeAutomaticResponse(ctx context.Context, detection model.Detection) error {
	executionID, err := a.db.NextSequence(ctx, sequenceExecutions)
	if err != nil {
		return err
	}

	return a.db.InsertExecution(ctx, model.ExecutionLog{
		ID:         executionID,
		ActionType: model.DefaultActionType,
		Target:     detection.TargetIP,
		ThreatType: detection.ThreatType,
		Confidence: detection.Confidence,
		Status:     "success",
		Details:    "high confidence threat, target blocked automatically",
		ExecutedAt: time.Now(),
	})
}
