package mongodb

import (
	"context"
	"time"

	"threat-response/internal/model"

	"go.mongodb.org/mongo-driver/bson"
)

// MarkExecuting flips a pending proposal to the transient executing
// marker before the ledger call is made outside the proposal lock.
func (r Repository) MarkExecuting(ctx context.Context, proposalID uint64) error {
	return r.TransitionProposal(ctx, proposalID,
		model.ProposalStatusPending, model.ProposalStatusExecuting, nil)
}

// FinalizeExecution settles an in-flight execution after the ledger
// confirmed the transfer.
func (r Repository) FinalizeExecution(ctx context.Context, proposalID uint64, recipient, txRef string, executedAt time.Time) error {
	return r.TransitionProposal(ctx, proposalID,
		model.ProposalStatusExecuting, model.ProposalStatusExecuted,
		bson.M{
			"reward_recipient": recipient,
			"reward_tx_ref":    txRef,
			"approved_at":      executedAt,
			"executed_at":      executedAt,
		})
}

// RollbackExecution returns an executing proposal to pending after a
// failed ledger call. The signatures collected so far are retained.
func (r Repository) RollbackExecution(ctx context.Context, proposalID uint64) error {
	return r.TransitionProposal(ctx, proposalID,
		model.ProposalStatusExecuting, model.ProposalStatusPending, nil)
}

func (r Repository) RejectProposal(ctx context.Context, proposalID uint64) error {
	return r.TransitionProposal(ctx, proposalID,
		model.ProposalStatusPending, model.ProposalStatusRejected, nil)
}

func (r Repository) WithdrawProposal(ctx context.Context, proposalID uint64) error {
	return r.TransitionProposal(ctx, proposalID,
		model.ProposalStatusPending, model.ProposalStatusWithdrawn, nil)
}
