package rewards

import (
	"context"
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
)

type fakePool struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

func (f *fakePool) GetPoolBalance(_ context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakePool) DebitPool(_ context.Context, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	updated := f.balance.Sub(amount)
	if updated.IsNegative() {
		return apperrors.New(apperrors.KindConflict, "pool balance cannot go negative")
	}
	f.balance = updated
	return nil
}

type fakeLister struct {
	records []model.ContributionRecord
}

func (f *fakeLister) ListContributions(_ context.Context) ([]model.ContributionRecord, error) {
	return f.records, nil
}

type fakeGateway struct {
	mu      sync.Mutex
	payouts map[string]decimal.Decimal
	failFor map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payouts: make(map[string]decimal.Decimal), failFor: make(map[string]bool)}
}

func (f *fakeGateway) Transfer(_ context.Context, from, to string, amount decimal.Decimal) (ledger.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to] {
		return ledger.TransferResult{}, apperrors.New(apperrors.KindExternalService, "transfer to "+to+" failed")
	}
	f.payouts[to] = amount
	return ledger.TransferResult{TxRef: "0xtx-" + to}, nil
}

func record(id string, signatures, quality int) model.ContributionRecord {
	return model.ContributionRecord{AuthorizerID: id, TotalSignatures: signatures, QualityScore: quality}
}

func newTestDistributor(lister ContributionLister, pool PoolStore, gateway ledger.Gateway) *Distributor {
	return NewDistributor(zap.NewExample(), lister, pool, gateway, "treasury",
		decimal.RequireFromString("1.0"), decimal.RequireFromString("0.001"), time.Second)
}

func TestDistributeProportionally(t *testing.T) {
	// equal records give equal scores, so equal shares
	lister := &fakeLister{records: []model.ContributionRecord{
		record("manager_0", 4, 80),
		record("manager_1", 4, 80),
	}}
	pool := &fakePool{balance: decimal.RequireFromString("1.0")}
	gateway := newFakeGateway()

	result, err := newTestDistributor(lister, pool, gateway).DistributeAvailable(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Distributed.Equal(decimal.RequireFromString("1")))
	assert.True(t, result.Payouts["manager_0"].Equal(decimal.RequireFromString("0.5")))
	assert.True(t, result.Payouts["manager_1"].Equal(decimal.RequireFromString("0.5")))
	assert.True(t, pool.balance.IsZero(), "pool decreases by exactly the confirmed sum")
}

func TestDistributeCapsAtPoolBalance(t *testing.T) {
	lister := &fakeLister{records: []model.ContributionRecord{record("manager_0", 10, 100)}}
	pool := &fakePool{balance: decimal.RequireFromString("0.3")}
	gateway := newFakeGateway()

	result, err := newTestDistributor(lister, pool, gateway).DistributeAvailable(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Distributed.Equal(decimal.RequireFromString("0.3")))
	assert.True(t, pool.balance.IsZero())
}

func TestDistributeEmptyPoolIsNoop(t *testing.T) {
	lister := &fakeLister{records: []model.ContributionRecord{record("manager_0", 3, 90)}}
	pool := &fakePool{balance: decimal.Zero}
	gateway := newFakeGateway()

	result, err := newTestDistributor(lister, pool, gateway).DistributeAvailable(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Distributed.IsZero())
	assert.Empty(t, gateway.payouts)
}

func TestDistributeZeroTotalScoreIsNoop(t *testing.T) {
	pool := &fakePool{balance: decimal.RequireFromString("1.0")}
	gateway := newFakeGateway()

	result, err := newTestDistributor(&fakeLister{}, pool, gateway).DistributeAvailable(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Distributed.IsZero())
	assert.True(t, pool.balance.Equal(decimal.RequireFromString("1.0")))
}

func TestDistributeSkipsDustShares(t *testing.T) {
	// manager_1's score is tiny next to manager_0's, its share falls
	// under the minimum and is skipped, not rounded up
	lister := &fakeLister{records: []model.ContributionRecord{
		record("manager_0", 10, 100),
		record("manager_1", 1, 20),
	}}
	pool := &fakePool{balance: decimal.RequireFromString("0.002")}
	gateway := newFakeGateway()

	result, err := newTestDistributor(lister, pool, gateway).DistributeAvailable(context.Background())
	require.NoError(t, err)

	assert.Contains(t, result.Skipped, "manager_1")
	_, paid := result.Payouts["manager_1"]
	assert.False(t, paid)
	_, paid = result.Payouts["manager_0"]
	assert.True(t, paid)
}

func TestDistributeFailedTransferDoesNotDebit(t *testing.T) {
	lister := &fakeLister{records: []model.ContributionRecord{
		record("manager_0", 4, 80),
		record("manager_1", 4, 80),
	}}
	pool := &fakePool{balance: decimal.RequireFromString("1.0")}
	gateway := newFakeGateway()
	gateway.failFor["manager_0"] = true

	result, err := newTestDistributor(lister, pool, gateway).DistributeAvailable(context.Background())
	require.NoError(t, err)

	assert.Contains(t, result.Failed, "manager_0")
	assert.True(t, result.Distributed.Equal(decimal.RequireFromString("0.5")),
		"only the confirmed transfer counts")
	assert.True(t, pool.balance.Equal(decimal.RequireFromString("0.5")),
		"failed transfer must not debit the pool")
}
