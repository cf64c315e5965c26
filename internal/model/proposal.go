package model

import (
	"errors"
	"time"

	"go.uber.org/multierr"
)

type ProposalStatus string

const (
	ProposalStatusPending   ProposalStatus = "pending"
	ProposalStatusExecuting ProposalStatus = "executing"
	ProposalStatusExecuted  ProposalStatus = "executed"
	ProposalStatusRejected  ProposalStatus = "rejected"
	ProposalStatusWithdrawn ProposalStatus = "withdrawn"
)

func (status ProposalStatus) String() string {
	return string(status)
}

func (status ProposalStatus) IsValid() bool {
	switch status {
	case ProposalStatusPending, ProposalStatusExecuting, ProposalStatusExecuted,
		ProposalStatusRejected, ProposalStatusWithdrawn:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may be applied.
// The executing status is a transient marker held only while a ledger
// call is in flight; it is not terminal.
func (status ProposalStatus) IsTerminal() bool {
	return status == ProposalStatusExecuted ||
		status == ProposalStatusRejected ||
		status == ProposalStatusWithdrawn
}

type ProposalType string

const (
	ProposalTypeAuto   ProposalType = "auto"
	ProposalTypeManual ProposalType = "manual"
)

const (
	DefaultActionType         = "block"
	DefaultRequiredSignatures = 2
)

// Proposal is a pending request for a sensitive response action,
// gated by multi-party sign-off.
type Proposal struct {
	ID         uint64
	ThreatType string
	Confidence float64

	Type       ProposalType
	Status     ProposalStatus
	Target     string
	ActionType string
	Creator    string

	RequiredSignatures int
	// Signers holds authorizer ids in signing order, no duplicates.
	Signers []string

	RewardRecipient string
	RewardTxRef     string

	CreatedAt  time.Time
	ApprovedAt time.Time
	ExecutedAt time.Time
}

func (p Proposal) Validate() error {
	var err error
	if p.ThreatType == "" {
		err = multierr.Append(err, errors.New("threat type is missing"))
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		err = multierr.Append(err, errors.New("confidence must be within [0,1]"))
	}
	if p.Target == "" {
		err = multierr.Append(err, errors.New("target is missing"))
	}
	if p.RequiredSignatures < 1 {
		err = multierr.Append(err, errors.New("required signatures must be at least 1"))
	}
	if p.Type != ProposalTypeAuto && p.Type != ProposalTypeManual {
		err = multierr.Append(err, errors.New("invalid proposal type: "+string(p.Type)))
	}
	return err
}

// Complete fills in the defaults of a freshly created proposal.
func (p *Proposal) Complete() {
	if p.Status == "" {
		p.Status = ProposalStatusPending
	}
	if p.ActionType == "" {
		p.ActionType = DefaultActionType
	}
	if p.RequiredSignatures == 0 {
		p.RequiredSignatures = DefaultRequiredSignatures
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
}

func (p Proposal) SignaturesCount() int {
	return len(p.Signers)
}

func (p Proposal) HasSigned(authorizerID string) bool {
	for _, signer := range p.Signers {
		if signer == authorizerID {
			return true
		}
	}
	return false
}

func (p Proposal) RemainingSignatures() int {
	remaining := p.RequiredSignatures - len(p.Signers)
	if remaining < 0 {
		return 0
	}
	return remaining
}
