package app

import (
	"context"

	"threat-response/internal/apperrors"
	"threat-response/internal/classifier"
	"threat-response/internal/config"
	"threat-response/internal/consensus"
	"threat-response/internal/contribution"
	"threat-response/internal/ledger"
	"threat-response/internal/model"
	"threat-response/internal/policy"
	"threat-response/internal/repository/mongodb"
	"threat-response/internal/rewards"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	systemCreator = "system"

	sequenceProposals  = "proposals"
	sequenceDetections = "detections"
	sequenceExecutions = "executions"
)

// App wires the governance core together: policy decisions, proposal
// consensus, contribution tracking and reward distribution.
type App struct {
	logger     *zap.Logger
	db         mongodb.Repository
	classifier classifier.Classifier

	policy      policy.Engine
	tracker     *contribution.Tracker
	engine      *consensus.Engine
	distributor *rewards.Distributor

	authorizers map[string]model.Authorizer
}

func NewApp(logger *zap.Logger, db mongodb.Repository, clf classifier.Classifier, gateway ledger.Gateway) *App {
	high, mediumHigh, mediumLow := config.GetConfidenceThresholds()
	policyEngine := policy.NewEngine(policy.Thresholds{
		High:       high,
		MediumHigh: mediumHigh,
		MediumLow:  mediumLow,
	}, config.GetBenignClass())

	authorizers := buildAuthorizers(config.GetSigners(), config.GetOperators())
	tracker := contribution.NewTracker(logger, db)

	engine := consensus.NewEngine(
		logger, db, tracker, gateway,
		authorizers,
		config.GetTreasuryAccount(),
		config.GetBaseReward(),
		config.GetLedgerTimeout(),
	)

	distributor := rewards.NewDistributor(
		logger, db, db, gateway,
		config.GetTreasuryAccount(),
		config.GetDisbursementAmount(),
		config.GetMinTransferAmount(),
		config.GetLedgerTimeout(),
	)

	registry := make(map[string]model.Authorizer, len(authorizers))
	for _, authorizer := range authorizers {
		registry[authorizer.ID] = authorizer
	}

	return &App{
		logger:      logger,
		db:          db,
		classifier:  clf,
		policy:      policyEngine,
		tracker:     tracker,
		engine:      engine,
		distributor: distributor,
		authorizers: registry,
	}
}

// buildAuthorizers derives the capability sets of the fixed identity
// lists: signers may sign and veto, operators may propose.
func buildAuthorizers(signers, operators []string) []model.Authorizer {
	authorizers := make([]model.Authorizer, 0, len(signers)+len(operators))
	for _, id := range signers {
		authorizers = append(authorizers, model.Authorizer{
			ID:           id,
			Capabilities: []model.Capability{model.CanSign, model.CanVeto},
		})
	}
	for _, id := range operators {
		authorizers = append(authorizers, model.Authorizer{
			ID:           id,
			Capabilities: []model.Capability{model.CanPropose},
		})
	}
	return authorizers
}

func (a *App) can(actorID string, capability model.Capability) bool {
	authorizer, ok := a.authorizers[actorID]
	return ok && authorizer.Can(capability)
}

// CreateProposal registers a manual proposal by an operator actor.
func (a *App) CreateProposal(ctx context.Context, proposal model.Proposal, creatorID string) (model.Proposal, error) {
	if !a.can(creatorID, model.CanPropose) {
		return model.Proposal{}, apperrors.New(apperrors.KindAuthorization,
			creatorID+" lacks the propose capability")
	}

	proposal.Type = model.ProposalTypeManual
	proposal.Creator = creatorID
	return a.insertProposal(ctx, proposal)
}

// CreateProposalFromDetection promotes a recorded detection into a
// manual proposal (operator decision on a medium-low alert).
func (a *App) CreateProposalFromDetection(ctx context.Context, detectionID uint64, actionType, creatorID string) (model.Proposal, error) {
	if !a.can(creatorID, model.CanPropose) {
		return model.Proposal{}, apperrors.New(apperrors.KindAuthorization,
			creatorID+" lacks the propose capability")
	}

	detection, err := a.db.GetDetection(ctx, detectionID)
	if err != nil {
		return model.Proposal{}, err
	}

	proposal, err := a.insertProposal(ctx, model.Proposal{
		ThreatType: detection.ThreatType,
		Confidence: detection.Confidence,
		Type:       model.ProposalTypeManual,
		Target:     detection.TargetIP,
		ActionType: actionType,
		Creator:    creatorID,
	})
	if err != nil {
		return model.Proposal{}, err
	}

	if err := a.db.MarkDetectionAction(ctx, detectionID, "manual_proposal_created", proposal.ID); err != nil {
		a.logger.Error("failed to link the detection to the proposal: " + err.Error())
	}

	return proposal, nil
}

func (a *App) insertProposal(ctx context.Context, proposal model.Proposal) (model.Proposal, error) {
	proposal.Complete()
	if err := proposal.Validate(); err != nil {
		return model.Proposal{}, apperrors.Wrap(apperrors.KindValidation, "invalid proposal", err)
	}

	id, err := a.db.NextSequence(ctx, sequenceProposals)
	if err != nil {
		return model.Proposal{}, err
	}
	proposal.ID = id

	if err := a.db.InsertProposal(ctx, proposal); err != nil {
		return model.Proposal{}, err
	}

	a.logger.Info("proposal created",
		zap.Uint64("proposalID", proposal.ID),
		zap.String("threatType", proposal.ThreatType),
		zap.String("creator", proposal.Creator),
		zap.String("type", string(proposal.Type)))

	return proposal, nil
}

// Sign forwards to the consensus engine and appends an execution log
// entry once a proposal settles as executed.
func (a *App) Sign(ctx context.Context, proposalID uint64, authorizerID string) (consensus.SignResult, error) {
	result, err := a.engine.Sign(ctx, proposalID, authorizerID)
	if err != nil {
		return consensus.SignResult{}, err
	}

	if result.Status == consensus.SignStatusExecuted {
		if err := a.recordProposalExecution(ctx, proposalID, result); err != nil {
			a.logger.Error("failed to record the proposal execution: " + err.Error())
		}
	}

	return result, nil
}

func (a *App) recordProposalExecution(ctx context.Context, proposalID uint64, result consensus.SignResult) error {
	proposal, err := a.db.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}

	executionID, err := a.db.NextSequence(ctx, sequenceExecutions)
	if err != nil {
		return err
	}

	return a.db.InsertExecution(ctx, model.ExecutionLog{
		ID:          executionID,
		ProposalID:  proposalID,
		ActionType:  proposal.ActionType,
		Target:      proposal.Target,
		ThreatType:  proposal.ThreatType,
		Confidence:  proposal.Confidence,
		Status:      "success",
		Details:     "approved proposal executed, reward sent to " + result.RewardRecipient,
		RewardTxRef: result.RewardTxRef,
		ExecutedAt:  proposal.ExecutedAt,
	})
}

func (a *App) Reject(ctx context.Context, proposalID uint64, authorizerID string) error {
	return a.engine.Reject(ctx, proposalID, authorizerID)
}

func (a *App) Withdraw(ctx context.Context, proposalID uint64, requesterID string) error {
	return a.engine.Withdraw(ctx, proposalID, requesterID)
}

func (a *App) GetProposal(ctx context.Context, proposalID uint64) (model.Proposal, error) {
	return a.db.GetProposal(ctx, proposalID)
}

func (a *App) ListPending(ctx context.Context) ([]model.Proposal, error) {
	return a.db.ListProposalsByStatus(ctx, model.ProposalStatusPending, 0)
}

func (a *App) ListProposals(ctx context.Context, limit int64) ([]model.Proposal, error) {
	return a.db.ListProposals(ctx, limit)
}

func (a *App) GetContribution(ctx context.Context, authorizerID string) (model.ContributionRecord, error) {
	return a.db.GetContribution(ctx, authorizerID)
}

func (a *App) DistributeAvailable(ctx context.Context) (rewards.Result, error) {
	return a.distributor.DistributeAvailable(ctx)
}

// Deposit credits the reward pool with externally supplied funds.
func (a *App) Deposit(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.New(apperrors.KindValidation, "deposit amount must be positive")
	}
	return a.db.CreditPool(ctx, amount)
}

type SystemStatus struct {
	Detections       int64
	Proposals        int64
	PendingProposals int64
	Executions       int64
	Pool             model.RewardPool
	Thresholds       policy.Thresholds
}

func (a *App) GetStatus(ctx context.Context) (SystemStatus, error) {
	stats, err := a.db.GetStats(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	balance, err := a.db.GetPoolBalance(ctx)
	if err != nil {
		return SystemStatus{}, err
	}

	high, mediumHigh, mediumLow := config.GetConfidenceThresholds()
	return SystemStatus{
		Detections:       stats.Detections,
		Proposals:        stats.Proposals,
		PendingProposals: stats.PendingProposals,
		Executions:       stats.Executions,
		Pool:             model.RewardPool{Balance: balance, BaseReward: config.GetBaseReward()},
		Thresholds:       policy.Thresholds{High: high, MediumHigh: mediumHigh, MediumLow: mediumLow},
	}, nil
}
