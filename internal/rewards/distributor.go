package rewards

import (
	"context"
	"sync"
	"time"

	"threat-response/internal/contribution"
	"threat-response/internal/ledger"
	"threat-response/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PoolStore holds the shared reward pool balance. Debits happen only
// after a transfer was confirmed by the ledger.
type PoolStore interface {
	GetPoolBalance(ctx context.Context) (decimal.Decimal, error)
	DebitPool(ctx context.Context, amount decimal.Decimal) error
}

// ContributionLister exposes the records of everyone who has signed.
type ContributionLister interface {
	ListContributions(ctx context.Context) ([]model.ContributionRecord, error)
}

// Result reports one distribution round. An empty pool or a zero total
// score yields a zero Distributed value, not an error; that is an
// expected steady state.
type Result struct {
	Distributed decimal.Decimal
	Payouts     map[string]decimal.Decimal
	Skipped     []string
	Failed      []string
}

// Distributor pays out pooled funds to authorizers proportionally to
// their contribution score. Rounds are serialized under a pool-scoped
// lock so concurrent calls cannot spend the same balance twice.
type Distributor struct {
	logger        *zap.Logger
	contributions ContributionLister
	pool          PoolStore
	gateway       ledger.Gateway

	treasury            string
	defaultDisbursement decimal.Decimal
	minTransfer         decimal.Decimal
	ledgerTimeout       time.Duration

	mu sync.Mutex
}

func NewDistributor(
	logger *zap.Logger,
	contributions ContributionLister,
	pool PoolStore,
	gateway ledger.Gateway,
	treasury string,
	defaultDisbursement decimal.Decimal,
	minTransfer decimal.Decimal,
	ledgerTimeout time.Duration,
) *Distributor {
	return &Distributor{
		logger:              logger,
		contributions:       contributions,
		pool:                pool,
		gateway:             gateway,
		treasury:            treasury,
		defaultDisbursement: defaultDisbursement,
		minTransfer:         minTransfer,
		ledgerTimeout:       ledgerTimeout,
	}
}

// DistributeAvailable pays out min(pool balance, default disbursement)
// across all eligible authorizers. A failed individual transfer does
// not debit the pool and does not block the other transfers.
func (d *Distributor) DistributeAvailable(ctx context.Context) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := Result{Distributed: decimal.Zero, Payouts: make(map[string]decimal.Decimal)}

	balance, err := d.pool.GetPoolBalance(ctx)
	if err != nil {
		return Result{}, err
	}

	disbursement := d.defaultDisbursement
	if balance.LessThan(disbursement) {
		disbursement = balance
	}
	if !disbursement.IsPositive() {
		d.logger.Info("reward pool is empty, nothing to distribute")
		return result, nil
	}

	records, err := d.contributions.ListContributions(ctx)
	if err != nil {
		return Result{}, err
	}

	scores := make(map[string]decimal.Decimal, len(records))
	totalScore := decimal.Zero
	for _, record := range records {
		score := decimal.NewFromFloat(contribution.Score(record))
		scores[record.AuthorizerID] = score
		totalScore = totalScore.Add(score)
	}

	if totalScore.IsZero() {
		d.logger.Info("no contribution scores yet, nothing to distribute")
		return result, nil
	}

	for _, record := range records {
		share := disbursement.Mul(scores[record.AuthorizerID]).Div(totalScore)
		if share.LessThan(d.minTransfer) {
			result.Skipped = append(result.Skipped, record.AuthorizerID)
			continue
		}

		if err := d.payOut(ctx, record.AuthorizerID, share); err != nil {
			d.logger.Error("reward payout failed: "+err.Error(),
				zap.String("authorizerID", record.AuthorizerID),
				zap.String("amount", share.String()))
			result.Failed = append(result.Failed, record.AuthorizerID)
			continue
		}

		result.Payouts[record.AuthorizerID] = share
		result.Distributed = result.Distributed.Add(share)
	}

	d.logger.Info("distribution round finished",
		zap.String("distributed", result.Distributed.String()),
		zap.Int("payouts", len(result.Payouts)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)))

	return result, nil
}

func (d *Distributor) payOut(ctx context.Context, authorizerID string, amount decimal.Decimal) error {
	ledgerCtx, cancel := context.WithTimeout(ctx, d.ledgerTimeout)
	defer cancel()

	if _, err := d.gateway.Transfer(ledgerCtx, d.treasury, authorizerID, amount); err != nil {
		return err
	}

	// the debit mirrors a confirmed transfer only
	return d.pool.DebitPool(ctx, amount)
}
