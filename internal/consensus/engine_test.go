package consensus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"threat-response/internal/apperrors"
	"threat-response/internal/ledger"
	"threat-response/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	mu           sync.Mutex
	proposals    map[uint64]model.Proposal
	failFinalize bool
}

func newFakeStore(proposals ...model.Proposal) *fakeStore {
	store := &fakeStore{proposals: make(map[uint64]model.Proposal)}
	for _, proposal := range proposals {
		store.proposals[proposal.ID] = proposal
	}
	return store
}

func (f *fakeStore) GetProposal(_ context.Context, proposalID uint64) (model.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	proposal, ok := f.proposals[proposalID]
	if !ok {
		return model.Proposal{}, apperrors.Newf(apperrors.KindNotFound, "proposal %d not found", proposalID)
	}
	return proposal, nil
}

func (f *fakeStore) AppendSignature(_ context.Context, proposalID uint64, authorizerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	proposal := f.proposals[proposalID]
	proposal.Signers = append(proposal.Signers, authorizerID)
	f.proposals[proposalID] = proposal
	return nil
}

func (f *fakeStore) transition(proposalID uint64, from, to model.ProposalStatus, update func(*model.Proposal)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	proposal, ok := f.proposals[proposalID]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "proposal %d not found", proposalID)
	}
	if proposal.Status != from {
		return apperrors.Newf(apperrors.KindConflict, "proposal %d is %s", proposalID, proposal.Status)
	}
	proposal.Status = to
	if update != nil {
		update(&proposal)
	}
	f.proposals[proposalID] = proposal
	return nil
}

func (f *fakeStore) MarkExecuting(_ context.Context, proposalID uint64) error {
	return f.transition(proposalID, model.ProposalStatusPending, model.ProposalStatusExecuting, nil)
}

func (f *fakeStore) FinalizeExecution(_ context.Context, proposalID uint64, recipient, txRef string, executedAt time.Time) error {
	f.mu.Lock()
	failFinalize := f.failFinalize
	f.mu.Unlock()
	if failFinalize {
		return apperrors.New(apperrors.KindConflict, "finalize write lost")
	}
	return f.transition(proposalID, model.ProposalStatusExecuting, model.ProposalStatusExecuted, func(p *model.Proposal) {
		p.RewardRecipient = recipient
		p.RewardTxRef = txRef
		p.ApprovedAt = executedAt
		p.ExecutedAt = executedAt
	})
}

func (f *fakeStore) RollbackExecution(_ context.Context, proposalID uint64) error {
	return f.transition(proposalID, model.ProposalStatusExecuting, model.ProposalStatusPending, nil)
}

func (f *fakeStore) RejectProposal(_ context.Context, proposalID uint64) error {
	return f.transition(proposalID, model.ProposalStatusPending, model.ProposalStatusRejected, nil)
}

func (f *fakeStore) WithdrawProposal(_ context.Context, proposalID uint64) error {
	return f.transition(proposalID, model.ProposalStatusPending, model.ProposalStatusWithdrawn, nil)
}

func (f *fakeStore) get(proposalID uint64) model.Proposal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proposals[proposalID]
}

type fakeGateway struct {
	mu        sync.Mutex
	transfers []string // recipients, in call order
	failNext  int
}

func (f *fakeGateway) Transfer(_ context.Context, from, to string, amount decimal.Decimal) (ledger.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return ledger.TransferResult{}, apperrors.New(apperrors.KindExternalService, "ledger unavailable")
	}
	f.transfers = append(f.transfers, to)
	return ledger.TransferResult{TxRef: fmt.Sprintf("0xtx%d", len(f.transfers))}, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	latencies map[string]time.Duration
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{latencies: make(map[string]time.Duration)}
}

func (f *fakeRecorder) Record(_ context.Context, authorizerID string, latency time.Duration) (model.ContributionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latencies[authorizerID] = latency
	return model.ContributionRecord{AuthorizerID: authorizerID}, nil
}

func testAuthorizers() []model.Authorizer {
	return []model.Authorizer{
		{ID: "manager_0", Capabilities: []model.Capability{model.CanSign, model.CanVeto}},
		{ID: "manager_1", Capabilities: []model.Capability{model.CanSign, model.CanVeto}},
		{ID: "manager_2", Capabilities: []model.Capability{model.CanSign, model.CanVeto}},
		{ID: "operator_0", Capabilities: []model.Capability{model.CanPropose}},
	}
}

func newTestEngine(store Store, gateway ledger.Gateway) *Engine {
	return NewEngine(zap.NewExample(), store, newFakeRecorder(), gateway,
		testAuthorizers(), "treasury", decimal.RequireFromString("0.01"), time.Second)
}

func pendingProposal(id uint64, required int) model.Proposal {
	return model.Proposal{
		ID:                 id,
		ThreatType:         "DDoS",
		Confidence:         0.85,
		Type:               model.ProposalTypeAuto,
		Status:             model.ProposalStatusPending,
		Target:             "10.0.0.9",
		ActionType:         "block",
		Creator:            "operator_0",
		RequiredSignatures: required,
		CreatedAt:          time.Now().Add(-5 * time.Second),
	}
}

func TestSignUntilExecuted(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 2))
	gateway := &fakeGateway{}
	engine := newTestEngine(store, gateway)

	result, err := engine.Sign(context.Background(), 1, "manager_0")
	require.NoError(t, err)
	assert.Equal(t, SignStatusSigned, result.Status)
	assert.Equal(t, 1, result.SignaturesCount)
	assert.Equal(t, 1, result.Remaining)
	assert.Equal(t, model.ProposalStatusPending, store.get(1).Status)

	result, err = engine.Sign(context.Background(), 1, "manager_1")
	require.NoError(t, err)
	assert.Equal(t, SignStatusExecuted, result.Status)
	assert.Equal(t, "manager_1", result.RewardRecipient, "final signer receives the base reward")
	assert.NotEmpty(t, result.RewardTxRef)

	executed := store.get(1)
	assert.Equal(t, model.ProposalStatusExecuted, executed.Status)
	assert.GreaterOrEqual(t, executed.SignaturesCount(), executed.RequiredSignatures)
	assert.Equal(t, []string{"manager_1"}, gateway.transfers)
	assert.False(t, executed.ExecutedAt.IsZero())
}

func TestSignDuplicateLeavesStateUnchanged(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 3))
	engine := newTestEngine(store, &fakeGateway{})

	_, err := engine.Sign(context.Background(), 1, "manager_0")
	require.NoError(t, err)
	before := store.get(1)

	_, err = engine.Sign(context.Background(), 1, "manager_0")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	assert.Equal(t, before, store.get(1), "a rejected duplicate must not mutate the proposal")
}

func TestSignUnauthorized(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 2))
	engine := newTestEngine(store, &fakeGateway{})

	_, err := engine.Sign(context.Background(), 1, "intruder")
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	// propose capability does not include signing
	_, err = engine.Sign(context.Background(), 1, "operator_0")
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
	assert.Empty(t, store.get(1).Signers)
}

func TestSignUnknownProposal(t *testing.T) {
	engine := newTestEngine(newFakeStore(), &fakeGateway{})

	_, err := engine.Sign(context.Background(), 42, "manager_0")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestSignTerminalProposal(t *testing.T) {
	proposal := pendingProposal(1, 2)
	proposal.Status = model.ProposalStatusRejected
	store := newFakeStore(proposal)
	engine := newTestEngine(store, &fakeGateway{})

	_, err := engine.Sign(context.Background(), 1, "manager_0")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	assert.Contains(t, err.Error(), "rejected")
}

func TestSignLedgerFailureRetainsSignature(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 2))
	gateway := &fakeGateway{failNext: 1}
	engine := newTestEngine(store, gateway)

	_, err := engine.Sign(context.Background(), 1, "manager_0")
	require.NoError(t, err)

	_, err = engine.Sign(context.Background(), 1, "manager_1")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindExternalService))

	rolledBack := store.get(1)
	assert.Equal(t, model.ProposalStatusPending, rolledBack.Status)
	assert.Equal(t, []string{"manager_0", "manager_1"}, rolledBack.Signers,
		"the failed execution attempt must not undo the signature")

	// retry by another authorizer completes the execution
	result, err := engine.Sign(context.Background(), 1, "manager_2")
	require.NoError(t, err)
	assert.Equal(t, SignStatusExecuted, result.Status)
	assert.Equal(t, "manager_2", result.RewardRecipient)
	assert.Equal(t, []string{"manager_2"}, gateway.transfers, "exactly one confirmed transfer")
}

func TestConcurrentSignSingleExecution(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 2))
	gateway := &fakeGateway{}
	engine := newTestEngine(store, gateway)

	signers := []string{"manager_0", "manager_1", "manager_2"}
	var wg sync.WaitGroup
	for _, signer := range signers {
		wg.Add(1)
		go func(signer string) {
			defer wg.Done()
			_, _ = engine.Sign(context.Background(), 1, signer)
		}(signer)
	}
	wg.Wait()

	proposal := store.get(1)
	assert.Equal(t, model.ProposalStatusExecuted, proposal.Status)
	assert.Len(t, gateway.transfers, 1, "threshold crossing must trigger exactly one transfer")
	assert.Len(t, proposal.Signers, len(uniqueStrings(proposal.Signers)), "no double-counted signatures")
	assert.GreaterOrEqual(t, proposal.SignaturesCount(), proposal.RequiredSignatures)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	var unique []string
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			unique = append(unique, v)
		}
	}
	return unique
}

func TestRejectIsImmediate(t *testing.T) {
	proposal := pendingProposal(1, 3)
	store := newFakeStore(proposal)
	engine := newTestEngine(store, &fakeGateway{})

	_, err := engine.Sign(context.Background(), 1, "manager_0")
	require.NoError(t, err)

	// a single veto rejects even though 3 signatures are required
	err = engine.Reject(context.Background(), 1, "manager_2")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusRejected, store.get(1).Status)

	// terminal state, nothing mutates further
	_, err = engine.Sign(context.Background(), 1, "manager_1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestRejectRequiresVetoCapability(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 2))
	engine := newTestEngine(store, &fakeGateway{})

	err := engine.Reject(context.Background(), 1, "operator_0")
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
	assert.Equal(t, model.ProposalStatusPending, store.get(1).Status)
}

func TestWithdrawOnlyByCreator(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 2))
	engine := newTestEngine(store, &fakeGateway{})

	err := engine.Withdraw(context.Background(), 1, "manager_0")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
	assert.Equal(t, model.ProposalStatusPending, store.get(1).Status)

	err = engine.Withdraw(context.Background(), 1, "operator_0")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusWithdrawn, store.get(1).Status)

	// stale withdraw after the state advanced
	err = engine.Withdraw(context.Background(), 1, "operator_0")
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

// an in-flight execution counts as pending for signing, but must not
// trigger a second transfer
func TestSignDuringExecutionDoesNotRetrigger(t *testing.T) {
	proposal := pendingProposal(1, 2)
	proposal.Status = model.ProposalStatusExecuting
	proposal.Signers = []string{"manager_0", "manager_1"}
	store := newFakeStore(proposal)
	gateway := &fakeGateway{}
	engine := newTestEngine(store, gateway)

	result, err := engine.Sign(context.Background(), 1, "manager_2")
	require.NoError(t, err)

	assert.Equal(t, SignStatusSigned, result.Status)
	assert.Equal(t, 3, result.SignaturesCount)
	assert.Empty(t, gateway.transfers, "the in-flight attempt owns the transfer")
	assert.Equal(t, model.ProposalStatusExecuting, store.get(1).Status)
	assert.Equal(t, []string{"manager_0", "manager_1", "manager_2"}, store.get(1).Signers)
}

func TestSignFinalizationFailureReportsTransfer(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 2))
	store.failFinalize = true
	gateway := &fakeGateway{}

	core, logged := observer.New(zap.ErrorLevel)
	engine := NewEngine(zap.New(core), store, newFakeRecorder(), gateway,
		testAuthorizers(), "treasury", decimal.RequireFromString("0.01"), time.Second)

	_, err := engine.Sign(context.Background(), 1, "manager_0")
	require.NoError(t, err)
	_, err = engine.Sign(context.Background(), 1, "manager_1")
	require.Error(t, err)

	// the transfer went through exactly once; an operator reconciles
	// from the logged txRef
	require.Len(t, gateway.transfers, 1)
	entries := logged.FilterField(zap.String("txRef", "0xtx1")).All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "finalization failed")
	assert.Equal(t, model.ProposalStatusExecuting, store.get(1).Status)
}

func TestTerminalProposalReleasesLock(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 2), pendingProposal(2, 3), pendingProposal(3, 3))
	engine := newTestEngine(store, &fakeGateway{})

	_, err := engine.Sign(context.Background(), 1, "manager_0")
	require.NoError(t, err)
	_, err = engine.Sign(context.Background(), 1, "manager_1")
	require.NoError(t, err)

	require.NoError(t, engine.Reject(context.Background(), 2, "manager_0"))
	require.NoError(t, engine.Withdraw(context.Background(), 3, "operator_0"))

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.locks, "terminal proposals must not pin lock entries")
}

func TestSignRecordsContribution(t *testing.T) {
	store := newFakeStore(pendingProposal(1, 2))
	recorder := newFakeRecorder()
	engine := NewEngine(zap.NewExample(), store, recorder, &fakeGateway{},
		testAuthorizers(), "treasury", decimal.RequireFromString("0.01"), time.Second)

	_, err := engine.Sign(context.Background(), 1, "manager_0")
	require.NoError(t, err)

	latency, ok := recorder.latencies["manager_0"]
	require.True(t, ok)
	assert.Greater(t, latency, time.Duration(0), "latency measured from proposal creation")
}
