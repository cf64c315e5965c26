package contribution

import (
	"context"
	"sync"
	"time"

	"threat-response/internal/apperrors"
	"threat-response/internal/model"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	speedWeight    = 60
	activityWeight = 40
)

// Store persists contribution records. The tracker writes through on
// every update so signing history survives a crash.
type Store interface {
	GetContribution(ctx context.Context, authorizerID string) (model.ContributionRecord, error)
	SaveContribution(ctx context.Context, record model.ContributionRecord) error
	ListContributions(ctx context.Context) ([]model.ContributionRecord, error)
}

// Tracker maintains the per-authorizer signing statistics. Recency
// lookups go through an in-process cache; the store stays the source
// of truth.
type Tracker struct {
	logger *zap.Logger
	store  Store

	mu      sync.Mutex
	records *cache.Cache

	now func() time.Time
}

func NewTracker(logger *zap.Logger, store Store) *Tracker {
	return &Tracker{
		logger:  logger,
		store:   store,
		records: cache.New(cache.NoExpiration, cache.NoExpiration),
		now:     time.Now,
	}
}

// Record registers one signature by the authorizer with the given
// response latency and recomputes the quality score.
func (t *Tracker) Record(ctx context.Context, authorizerID string, latency time.Duration) (model.ContributionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := t.load(ctx, authorizerID)
	if err != nil {
		return model.ContributionRecord{}, err
	}

	now := t.now()

	speed := speedComponent(latency)
	activity := activityWeight
	if record.TotalSignatures > 0 {
		activity = activityComponent(now.Sub(record.LastSignatureTime))
	}

	record.QualityScore = speed + activity
	record.TotalSignatures++
	record.TotalResponseTime += latency
	record.LastSignatureTime = now

	if err := t.store.SaveContribution(ctx, record); err != nil {
		return model.ContributionRecord{}, err
	}
	t.records.SetDefault(authorizerID, record)

	t.logger.Debug("contribution recorded",
		zap.String("authorizerID", authorizerID),
		zap.Int("qualityScore", record.QualityScore),
		zap.Int("totalSignatures", record.TotalSignatures))

	return record, nil
}

func (t *Tracker) Get(ctx context.Context, authorizerID string) (model.ContributionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx, authorizerID)
}

func (t *Tracker) load(ctx context.Context, authorizerID string) (model.ContributionRecord, error) {
	if cached, ok := t.records.Get(authorizerID); ok {
		return cached.(model.ContributionRecord), nil
	}

	record, err := t.store.GetContribution(ctx, authorizerID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		// created lazily on the first signature
		return model.ContributionRecord{AuthorizerID: authorizerID}, nil
	}
	if err != nil {
		return model.ContributionRecord{}, err
	}

	t.records.SetDefault(authorizerID, record)
	return record, nil
}

func speedComponent(latency time.Duration) int {
	switch {
	case latency <= 10*time.Second:
		return speedWeight
	case latency <= 30*time.Second:
		return 50
	case latency <= 60*time.Second:
		return 40
	case latency <= 120*time.Second:
		return 30
	case latency <= 300*time.Second:
		return 20
	default:
		return 10
	}
}

func activityComponent(sinceLast time.Duration) int {
	switch {
	case sinceLast <= 10*time.Minute:
		return activityWeight
	case sinceLast <= 30*time.Minute:
		return 30
	case sinceLast <= 60*time.Minute:
		return 20
	default:
		return 10
	}
}

// Score derives the contribution score in [0,100] used to weight the
// reward distribution. It is computed on the fly and never stored.
func Score(record model.ContributionRecord) float64 {
	frequency := record.TotalSignatures * 10
	if frequency > 100 {
		frequency = 100
	}
	return float64(frequency)*0.5 + float64(record.QualityScore)*0.5
}
