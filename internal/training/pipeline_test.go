package training

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence/memstore"
)

type metricsMap map[string]domain.PeriodMetrics

func (m metricsMap) Load(ctx context.Context, periodID string) (*domain.PeriodMetrics, error) {
	v, ok := m[periodID]
	if !ok {
		return nil, fmt.Errorf("period %s: %w", periodID, domain.ErrNotFound)
	}
	return &v, nil
}

// labeled seeds n adjudicated assessments whose outcome follows lateness
func labeled(t *testing.T, store *memstore.Store, n int) metricsMap {
	t.Helper()
	ctx := context.Background()
	metrics := metricsMap{}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p-%03d", i)
		k := i % 3
		metrics[id] = domain.PeriodMetrics{
			PeriodID:     id,
			InwardCount:  10,
			OutwardCount: 10,
			DaysPastDue:  k*20 + i%5,
		}
		require.NoError(t, store.Upsert(ctx, &domain.RiskAssessment{ID: "a-" + id, PeriodID: id}))
		require.NoError(t, store.RecordOutcome(ctx, id, domain.OutcomeLabels[k], time.Now()))
	}
	return metrics
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinSamples = 12
	cfg.MinInterval = 0
	cfg.Params.Rounds = 20
	return cfg
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		ready   bool
	}{
		{"empty", 0, false},
		{"below_minimum", 11, false},
		{"at_minimum", 12, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			metrics := labeled(t, store, tt.samples)
			p := NewPipeline(store, store, metrics, nil, testConfig(), nil)

			report, err := p.CheckReadiness(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.samples, report.Count)
			assert.Equal(t, 12, report.Minimum)
			assert.Equal(t, tt.ready, report.Ready)
			assert.Len(t, report.Breakdown, 3)
		})
	}
}

func TestTrainAndStore_InsufficientData(t *testing.T) {
	store := memstore.New()
	metrics := labeled(t, store, 5)

	_, err := NewPipeline(store, store, metrics, nil, testConfig(), nil).TrainAndStore(context.Background(), true)

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5, insufficient.Have)
	assert.Equal(t, 12, insufficient.Need)

	versions, err := store.List(context.Background(), domain.RiskModelName)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestTrainAndStore_PromotesFirstVersion(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	metrics := labeled(t, store, 30)
	p := NewPipeline(store, store, metrics, nil, testConfig(), nil)

	result, err := p.TrainAndStore(ctx, true)
	require.NoError(t, err)
	assert.True(t, result.Promoted)
	assert.Equal(t, 1, result.Artifact.Version)
	assert.Equal(t, 30, result.Artifact.SampleCount)
	assert.NotEmpty(t, result.Artifact.Report)
	assert.Equal(t, 0, result.PreviousVersion)

	active, err := store.Active(ctx, domain.RiskModelName)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, result.Artifact.ID, active.ID)

	second, err := p.TrainAndStore(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Artifact.Version)
	assert.Equal(t, 1, second.PreviousVersion)
	assert.True(t, second.Promoted, "equal macro-F1 promotes")
}

func TestTrainAndStore_NeverRegresses(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	metrics := labeled(t, store, 30)

	require.NoError(t, store.Store(ctx, &domain.ModelArtifact{ID: "incumbent", Name: domain.RiskModelName, Version: 1, MacroF1: 1.01}))
	require.NoError(t, store.Activate(ctx, "incumbent"))

	result, err := NewPipeline(store, store, metrics, nil, testConfig(), nil).TrainAndStore(ctx, true)
	require.NoError(t, err)
	assert.False(t, result.Promoted)
	assert.False(t, result.Artifact.Active)
	assert.Equal(t, 2, result.Artifact.Version)
	assert.Equal(t, 1.01, result.PreviousMacroF1)

	active, err := store.Active(ctx, domain.RiskModelName)
	require.NoError(t, err)
	assert.Equal(t, "incumbent", active.ID)
}

func TestTrainAndStore_WithoutPromotion(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	metrics := labeled(t, store, 15)

	result, err := NewPipeline(store, store, metrics, nil, testConfig(), nil).TrainAndStore(ctx, false)
	require.NoError(t, err)
	assert.False(t, result.Promoted)

	active, err := store.Active(ctx, domain.RiskModelName)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestTrainAndStore_SkipsPeriodsWithoutData(t *testing.T) {
	store := memstore.New()
	metrics := labeled(t, store, 14)
	delete(metrics, "p-000")

	result, err := NewPipeline(store, store, metrics, nil, testConfig(), nil).TrainAndStore(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-000"}, result.Skipped)
	assert.Equal(t, 13, result.Artifact.SampleCount)

	delete(metrics, "p-001")
	delete(metrics, "p-002")
	_, err = NewPipeline(store, store, metrics, nil, testConfig(), nil).TrainAndStore(context.Background(), false)
	var insufficient *InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestTrainAndStore_Throttled(t *testing.T) {
	store := memstore.New()
	metrics := labeled(t, store, 15)
	cfg := testConfig()
	cfg.MinInterval = time.Hour
	p := NewPipeline(store, store, metrics, nil, cfg, nil)

	_, err := p.TrainAndStore(context.Background(), false)
	require.NoError(t, err)
	_, err = p.TrainAndStore(context.Background(), false)
	assert.ErrorIs(t, err, ErrTrainingThrottled)
}

func TestTrainAndStore_InsufficientRunsDoNotStartInterval(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	metrics := labeled(t, store, 5)
	cfg := testConfig()
	cfg.MinInterval = time.Hour
	p := NewPipeline(store, store, metrics, nil, cfg, nil)

	for i := 0; i < 2; i++ {
		_, err := p.TrainAndStore(ctx, false)
		var insufficient *InsufficientDataError
		require.True(t, errors.As(err, &insufficient), "attempt %d: %v", i, err)
		assert.Equal(t, 5, insufficient.Have)
	}

	// label enough periods and retry inside the same interval
	for id, m := range labeled(t, store, 15) {
		metrics[id] = m
	}
	result, err := p.TrainAndStore(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Artifact.Version)

	_, err = p.TrainAndStore(ctx, false)
	assert.ErrorIs(t, err, ErrTrainingThrottled)
}

// flakyLocker refuses the first busy attempts and then grants the lock
type flakyLocker struct {
	busy  int
	local LocalLocker
}

func (l *flakyLocker) TryLock(ctx context.Context) (Lease, bool, error) {
	if l.busy > 0 {
		l.busy--
		return nil, false, nil
	}
	return l.local.TryLock(ctx)
}

func TestTrainAndStore_LockContentionDoesNotStartInterval(t *testing.T) {
	store := memstore.New()
	metrics := labeled(t, store, 15)
	cfg := testConfig()
	cfg.MinInterval = time.Hour
	p := NewPipeline(store, store, metrics, &flakyLocker{busy: 1}, cfg, nil)

	_, err := p.TrainAndStore(context.Background(), false)
	assert.ErrorIs(t, err, ErrTrainingInProgress)

	_, err = p.TrainAndStore(context.Background(), false)
	require.NoError(t, err)
}

type busyLocker struct{}

func (busyLocker) TryLock(ctx context.Context) (Lease, bool, error) { return nil, false, nil }

func TestTrainAndStore_InProgress(t *testing.T) {
	store := memstore.New()
	metrics := labeled(t, store, 15)

	_, err := NewPipeline(store, store, metrics, busyLocker{}, testConfig(), nil).TrainAndStore(context.Background(), false)
	assert.ErrorIs(t, err, ErrTrainingInProgress)
}

func TestLocalLocker(t *testing.T) {
	var l LocalLocker
	ctx := context.Background()

	lease, ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Release(ctx))
	_, ok, _ = l.TryLock(ctx)
	assert.True(t, ok)
}
