package consensus

import (
	"context"
	"sync"
	"time"

	"threat-response/internal/apperrors"
	"threat-response/internal/ledger"
	"threat-response/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the durable proposal state the engine works against. Every
// transition is conditional on the current status so that a lost race
// surfaces as a conflict instead of a silent overwrite.
type Store interface {
	GetProposal(ctx context.Context, proposalID uint64) (model.Proposal, error)
	AppendSignature(ctx context.Context, proposalID uint64, authorizerID string) error
	MarkExecuting(ctx context.Context, proposalID uint64) error
	FinalizeExecution(ctx context.Context, proposalID uint64, recipient, txRef string, executedAt time.Time) error
	RollbackExecution(ctx context.Context, proposalID uint64) error
	RejectProposal(ctx context.Context, proposalID uint64) error
	WithdrawProposal(ctx context.Context, proposalID uint64) error
}

// ContributionRecorder is notified of every accepted signature.
type ContributionRecorder interface {
	Record(ctx context.Context, authorizerID string, latency time.Duration) (model.ContributionRecord, error)
}

type SignStatus string

const (
	SignStatusSigned   SignStatus = "signed"
	SignStatusExecuted SignStatus = "executed"
)

type SignResult struct {
	Status          SignStatus
	SignaturesCount int
	Remaining       int
	RewardRecipient string
	RewardTxRef     string
}

// Engine collects signatures on proposals and triggers execution once
// the threshold is reached. All proposal mutations for one id are
// serialized through a per-proposal lock; the ledger call runs outside
// the lock behind the transient executing status.
type Engine struct {
	logger      *zap.Logger
	store       Store
	tracker     ContributionRecorder
	gateway     ledger.Gateway
	authorizers map[string]model.Authorizer

	treasury      string
	baseReward    decimal.Decimal
	ledgerTimeout time.Duration

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex

	now func() time.Time
}

func NewEngine(
	logger *zap.Logger,
	store Store,
	tracker ContributionRecorder,
	gateway ledger.Gateway,
	authorizers []model.Authorizer,
	treasury string,
	baseReward decimal.Decimal,
	ledgerTimeout time.Duration,
) *Engine {
	registry := make(map[string]model.Authorizer, len(authorizers))
	for _, authorizer := range authorizers {
		registry[authorizer.ID] = authorizer
	}

	return &Engine{
		logger:        logger,
		store:         store,
		tracker:       tracker,
		gateway:       gateway,
		authorizers:   registry,
		treasury:      treasury,
		baseReward:    baseReward,
		ledgerTimeout: ledgerTimeout,
		locks:         make(map[uint64]*sync.Mutex),
		now:           time.Now,
	}
}

func (e *Engine) lockFor(proposalID uint64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[proposalID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[proposalID] = lock
	}
	return lock
}

// releaseLock drops the lock entry of a proposal that reached a
// terminal state. A late caller holding the old mutex races only with
// operations that fail on the status precondition in the store, so a
// fresh mutex for the same id is harmless.
func (e *Engine) releaseLock(proposalID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, proposalID)
}

func (e *Engine) authorize(authorizerID string, capability model.Capability) error {
	authorizer, ok := e.authorizers[authorizerID]
	if !ok {
		return apperrors.New(apperrors.KindAuthorization, authorizerID+" is not an authorized signer")
	}
	if !authorizer.Can(capability) {
		return apperrors.Newf(apperrors.KindAuthorization, "%s lacks the %s capability", authorizerID, capability)
	}
	return nil
}

// Sign records the authorizer's signature on a pending proposal. The
// signature that crosses the threshold triggers execution: the base
// reward is transferred to that final signer and the proposal settles
// as executed. A failed ledger call rolls the proposal back to pending
// with the signature retained, so another authorizer can retry.
func (e *Engine) Sign(ctx context.Context, proposalID uint64, authorizerID string) (SignResult, error) {
	if err := e.authorize(authorizerID, model.CanSign); err != nil {
		return SignResult{}, err
	}

	lock := e.lockFor(proposalID)
	lock.Lock()

	proposal, triggered, err := e.appendSignature(ctx, proposalID, authorizerID)
	lock.Unlock()
	if err != nil {
		return SignResult{}, err
	}

	if !triggered {
		return SignResult{
			Status:          SignStatusSigned,
			SignaturesCount: proposal.SignaturesCount(),
			Remaining:       proposal.RemainingSignatures(),
		}, nil
	}

	return e.execute(ctx, proposal, authorizerID)
}

// appendSignature runs the duplicate check, the append, the
// contribution update and the threshold check as one unit under the
// proposal lock. It reports whether this signature crossed the
// threshold, in which case the proposal has been moved to executing.
func (e *Engine) appendSignature(ctx context.Context, proposalID uint64, authorizerID string) (model.Proposal, bool, error) {
	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return model.Proposal{}, false, err
	}

	// executing counts as pending for signing purposes; the in-flight
	// execution attempt is guarded by the status itself
	if proposal.Status != model.ProposalStatusPending && proposal.Status != model.ProposalStatusExecuting {
		return model.Proposal{}, false, apperrors.Newf(apperrors.KindConflict,
			"proposal %d is %s and cannot be signed", proposalID, proposal.Status)
	}

	if proposal.HasSigned(authorizerID) {
		return model.Proposal{}, false, apperrors.Newf(apperrors.KindConflict,
			"%s has already signed proposal %d", authorizerID, proposalID)
	}

	if err := e.store.AppendSignature(ctx, proposalID, authorizerID); err != nil {
		return model.Proposal{}, false, err
	}
	proposal.Signers = append(proposal.Signers, authorizerID)

	latency := e.now().Sub(proposal.CreatedAt)
	if _, err := e.tracker.Record(ctx, authorizerID, latency); err != nil {
		e.logger.Error("failed to record the contribution: "+err.Error(),
			zap.String("authorizerID", authorizerID))
	}

	e.logger.Info("proposal signed",
		zap.Uint64("proposalID", proposalID),
		zap.String("authorizerID", authorizerID),
		zap.Int("signatures", proposal.SignaturesCount()),
		zap.Int("required", proposal.RequiredSignatures))

	if proposal.SignaturesCount() < proposal.RequiredSignatures ||
		proposal.Status != model.ProposalStatusPending {
		return proposal, false, nil
	}

	if err := e.store.MarkExecuting(ctx, proposalID); err != nil {
		return model.Proposal{}, false, err
	}

	return proposal, true, nil
}

// execute performs the ledger transfer for a proposal already marked
// executing. It runs without the proposal lock; the executing status
// keeps any concurrent caller from triggering a second attempt.
func (e *Engine) execute(ctx context.Context, proposal model.Proposal, finalSigner string) (SignResult, error) {
	ledgerCtx, cancel := context.WithTimeout(ctx, e.ledgerTimeout)
	defer cancel()

	transfer, err := e.gateway.Transfer(ledgerCtx, e.treasury, finalSigner, e.baseReward)
	if err != nil {
		e.logger.Error("reward transfer failed, rolling the proposal back to pending: "+err.Error(),
			zap.Uint64("proposalID", proposal.ID),
			zap.String("finalSigner", finalSigner))

		if rollbackErr := e.store.RollbackExecution(ctx, proposal.ID); rollbackErr != nil {
			e.logger.Error("rollback to pending failed, proposal stuck in executing: "+rollbackErr.Error(),
				zap.Uint64("proposalID", proposal.ID))
		}
		return SignResult{}, apperrors.Wrap(apperrors.KindExternalService,
			"proposal approved but the reward transfer failed; signature retained", err)
	}

	executedAt := e.now()
	if err := e.store.FinalizeExecution(ctx, proposal.ID, finalSigner, transfer.TxRef, executedAt); err != nil {
		// the transfer went through but the proposal is stuck in
		// executing; the gateway is not idempotent, so no retry here.
		// Log everything an operator needs to reconcile by hand.
		e.logger.Error("transfer confirmed but finalization failed: "+err.Error(),
			zap.Uint64("proposalID", proposal.ID),
			zap.String("finalSigner", finalSigner),
			zap.String("txRef", transfer.TxRef))
		return SignResult{}, err
	}
	e.releaseLock(proposal.ID)

	e.logger.Info("proposal executed",
		zap.Uint64("proposalID", proposal.ID),
		zap.String("finalSigner", finalSigner),
		zap.String("txRef", transfer.TxRef))

	return SignResult{
		Status:          SignStatusExecuted,
		SignaturesCount: proposal.SignaturesCount(),
		Remaining:       0,
		RewardRecipient: finalSigner,
		RewardTxRef:     transfer.TxRef,
	}, nil
}

// Reject is a veto: any single member of the authorized-signer set
// rejects a still-pending proposal immediately.
func (e *Engine) Reject(ctx context.Context, proposalID uint64, authorizerID string) error {
	if err := e.authorize(authorizerID, model.CanVeto); err != nil {
		return err
	}

	lock := e.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != model.ProposalStatusPending {
		return apperrors.Newf(apperrors.KindConflict,
			"proposal %d is %s and cannot be rejected", proposalID, proposal.Status)
	}

	if err := e.store.RejectProposal(ctx, proposalID); err != nil {
		return err
	}
	e.releaseLock(proposalID)

	e.logger.Info("proposal rejected",
		zap.Uint64("proposalID", proposalID),
		zap.String("authorizerID", authorizerID))
	return nil
}

// Withdraw cancels a pending proposal; only its creator may do so.
func (e *Engine) Withdraw(ctx context.Context, proposalID uint64, requesterID string) error {
	lock := e.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Creator != requesterID {
		return apperrors.Newf(apperrors.KindAuthorization,
			"only the creator may withdraw proposal %d", proposalID)
	}
	if proposal.Status != model.ProposalStatusPending {
		return apperrors.Newf(apperrors.KindConflict,
			"proposal %d is %s and cannot be withdrawn", proposalID, proposal.Status)
	}

	if err := e.store.WithdrawProposal(ctx, proposalID); err != nil {
		return err
	}
	e.releaseLock(proposalID)

	e.logger.Info("proposal withdrawn",
		zap.Uint64("proposalID", proposalID),
		zap.String("requesterID", requesterID))
	return nil
}
