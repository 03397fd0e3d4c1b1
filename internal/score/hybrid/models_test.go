package hybrid

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence/memstore"
	"github.com/sawpanic/riskengine/internal/telemetry"
)

type mapCache struct {
	data   map[string][]byte
	getErr error
	gets   int
	// beforeSet runs ahead of each write, standing in for another process
	beforeSet func()
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte) error {
	if c.beforeSet != nil {
		c.beforeSet()
		c.beforeSet = nil
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func storeModel(t *testing.T, store *memstore.Store, id string, version int) {
	t.Helper()
	payload, err := trainedClassifier(t).Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Store(context.Background(), &domain.ModelArtifact{
		ID:      id,
		Name:    domain.RiskModelName,
		Version: version,
		Payload: payload,
	}))
}

func counter(t *testing.T, vec *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(label).Write(&m))
	return m.GetCounter().GetValue()
}

func TestModelLoader_NoActiveModel(t *testing.T) {
	store := memstore.New()
	storeModel(t, store, "m-1", 1)

	model, err := NewModelLoader(store, newMapCache(), domain.RiskModelName, nil).Active(context.Background())
	require.NoError(t, err)
	assert.Nil(t, model)
}

func TestModelLoader_CachesActiveModel(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	storeModel(t, store, "m-1", 1)
	require.NoError(t, store.Activate(ctx, "m-1"))

	reg := telemetry.NewRegistry(prometheus.NewRegistry())
	cache := newMapCache()
	loader := NewModelLoader(store, cache, domain.RiskModelName, reg)

	first, err := loader.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "m-1", first.ID)
	assert.Equal(t, 1, first.Version)
	assert.Len(t, cache.data, 1)

	second, err := loader.Active(ctx)
	require.NoError(t, err)
	assert.Same(t, first.Classifier, second.Classifier)

	assert.Equal(t, 1.0, counter(t, reg.CacheMisses, "model"))
	assert.Equal(t, 1.0, counter(t, reg.CacheHits, "model"))

	storeModel(t, store, "m-2", 2)
	require.NoError(t, store.Activate(ctx, "m-2"))
	loader.Invalidate(ctx)
	assert.Empty(t, cache.data)

	third, err := loader.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m-2", third.ID)
	assert.Equal(t, 2, third.Version)
}

func TestModelLoader_ActivationDuringCacheFillIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	storeModel(t, store, "m-1", 1)
	storeModel(t, store, "m-2", 2)
	require.NoError(t, store.Activate(ctx, "m-1"))

	cache := newMapCache()
	loader := NewModelLoader(store, cache, domain.RiskModelName, nil)
	other := NewModelLoader(store, cache, domain.RiskModelName, nil)

	// another process activates m-2 after this loader read m-1 from the repository
	cache.beforeSet = func() {
		require.NoError(t, store.Activate(ctx, "m-2"))
		other.Invalidate(ctx)
	}

	model, err := loader.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Equal(t, "m-2", model.ID)
	assert.Empty(t, cache.data)

	next, err := loader.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m-2", next.ID)
	assert.Len(t, cache.data, 1)
}

func TestModelLoader_CacheFailureFallsBackToRepository(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	storeModel(t, store, "m-1", 1)
	require.NoError(t, store.Activate(ctx, "m-1"))

	cache := newMapCache()
	cache.getErr = errors.New("circuit breaker is open")

	model, err := NewModelLoader(store, cache, domain.RiskModelName, nil).Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Equal(t, "m-1", model.ID)
}

func TestModelLoader_WithoutCache(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	storeModel(t, store, "m-1", 1)
	require.NoError(t, store.Activate(ctx, "m-1"))

	loader := NewModelLoader(store, nil, domain.RiskModelName, nil)
	model, err := loader.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m-1", model.ID)
	loader.Invalidate(ctx)
}

func TestModelLoader_CorruptPayload(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Store(ctx, &domain.ModelArtifact{ID: "bad", Name: domain.RiskModelName, Version: 1, Payload: []byte("{")}))
	require.NoError(t, store.Activate(ctx, "bad"))

	_, err := NewModelLoader(store, nil, domain.RiskModelName, nil).Active(ctx)
	assert.Error(t, err)
}
