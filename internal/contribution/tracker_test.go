package contribution

import (
	"context"
	"testing"
	"time"

	"threat-response/internal/apperrors"
	"threat-response/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	records map[string]model.ContributionRecord
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]model.ContributionRecord)}
}

func (f *fakeStore) GetContribution(_ context.Context, authorizerID string) (model.ContributionRecord, error) {
	record, ok := f.records[authorizerID]
	if !ok {
		return model.ContributionRecord{}, apperrors.New(apperrors.KindNotFound, "no contribution record for "+authorizerID)
	}
	return record, nil
}

func (f *fakeStore) SaveContribution(_ context.Context, record model.ContributionRecord) error {
	f.records[record.AuthorizerID] = record
	f.saves++
	return nil
}

func (f *fakeStore) ListContributions(_ context.Context) ([]model.ContributionRecord, error) {
	var records []model.ContributionRecord
	for _, record := range f.records {
		if record.TotalSignatures > 0 {
			records = append(records, record)
		}
	}
	return records, nil
}

func TestRecordFirstSignature(t *testing.T) {
	store := newFakeStore()
	tracker := NewTracker(zap.NewExample(), store)

	record, err := tracker.Record(context.Background(), "manager_0", 5*time.Second)
	require.NoError(t, err)

	// fastest speed tier plus full activity for a first signature
	assert.Equal(t, 100, record.QualityScore)
	assert.Equal(t, 1, record.TotalSignatures)
	assert.Equal(t, 5*time.Second, record.TotalResponseTime)
	assert.Equal(t, 1, store.saves, "record must be persisted on every update")
}

func TestRecordSpeedBreakpoints(t *testing.T) {
	cases := []struct {
		latency time.Duration
		speed   int
	}{
		{10 * time.Second, 60},
		{11 * time.Second, 50},
		{30 * time.Second, 50},
		{60 * time.Second, 40},
		{120 * time.Second, 30},
		{300 * time.Second, 20},
		{301 * time.Second, 10},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.speed, speedComponent(tc.latency), "latency %s", tc.latency)
	}
}

func TestRecordActivityBreakpoints(t *testing.T) {
	cases := []struct {
		sinceLast time.Duration
		activity  int
	}{
		{5 * time.Minute, 40},
		{10 * time.Minute, 40},
		{30 * time.Minute, 30},
		{60 * time.Minute, 20},
		{61 * time.Minute, 10},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.activity, activityComponent(tc.sinceLast), "since last %s", tc.sinceLast)
	}
}

func TestRecordSubsequentSignatureUsesRecency(t *testing.T) {
	store := newFakeStore()
	tracker := NewTracker(zap.NewExample(), store)

	now := time.Now()
	tracker.now = func() time.Time { return now }
	_, err := tracker.Record(context.Background(), "manager_1", 400*time.Second)
	require.NoError(t, err)

	// second signature 45 minutes later, slow response
	tracker.now = func() time.Time { return now.Add(45 * time.Minute) }
	record, err := tracker.Record(context.Background(), "manager_1", 400*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 30, record.QualityScore) // speed 10 + activity 20
	assert.Equal(t, 2, record.TotalSignatures)
	assert.Equal(t, 800*time.Second, record.TotalResponseTime)
	assert.Equal(t, 400*time.Second, record.AvgResponseTime())
}

func TestQualityScoreBounds(t *testing.T) {
	store := newFakeStore()
	tracker := NewTracker(zap.NewExample(), store)

	now := time.Now()
	tracker.now = func() time.Time { return now }
	_, err := tracker.Record(context.Background(), "manager_2", time.Hour)
	require.NoError(t, err)

	tracker.now = func() time.Time { return now.Add(2 * time.Hour) }
	record, err := tracker.Record(context.Background(), "manager_2", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 20, record.QualityScore, "slowest tiers still floor at 20")
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0.0, Score(model.ContributionRecord{}))

	score := Score(model.ContributionRecord{TotalSignatures: 3, QualityScore: 80})
	assert.Equal(t, 55.0, score)

	// signature frequency saturates at 100
	score = Score(model.ContributionRecord{TotalSignatures: 50, QualityScore: 100})
	assert.Equal(t, 100.0, score)
}

func TestTrackerReloadsFromStore(t *testing.T) {
	store := newFakeStore()
	store.records["manager_3"] = model.ContributionRecord{
		AuthorizerID:      "manager_3",
		TotalSignatures:   4,
		QualityScore:      90,
		LastSignatureTime: time.Now().Add(-5 * time.Minute),
	}

	tracker := NewTracker(zap.NewExample(), store)
	record, err := tracker.Record(context.Background(), "manager_3", 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 5, record.TotalSignatures)
	assert.Equal(t, 100, record.QualityScore) // 60 speed + 40 recent activity
}
