package hybrid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/riskengine/internal/persistence"
	"github.com/sawpanic/riskengine/internal/score/ml"
	"github.com/sawpanic/riskengine/internal/telemetry"
)

// ByteCache is the shared cache the active model payload is kept in
type ByteCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// ActiveModel is a decoded active classifier with the artifact it came from
type ActiveModel struct {
	ID         string
	Version    int
	Classifier *ml.Classifier
}

// ModelSource yields the active model, or nil when none is active
type ModelSource interface {
	Active(ctx context.Context) (*ActiveModel, error)
}

type cachedModel struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Payload []byte `json:"payload"`
}

// ModelLoader reads the active artifact through an optional shared cache and
// keeps decoded classifiers in process, keyed by artifact id
type ModelLoader struct {
	repo    persistence.ModelRepo
	cache   ByteCache
	name    string
	metrics *telemetry.Registry

	mu      sync.Mutex
	decoded map[string]*ml.Classifier
}

// NewModelLoader creates a loader for the named model. cache may be nil.
func NewModelLoader(repo persistence.ModelRepo, cache ByteCache, name string, metrics *telemetry.Registry) *ModelLoader {
	return &ModelLoader{
		repo:    repo,
		cache:   cache,
		name:    name,
		metrics: metrics,
		decoded: make(map[string]*ml.Classifier),
	}
}

func (l *ModelLoader) cacheKey() string {
	return "riskengine:model:active:" + l.name
}

// Active returns the decoded active model
func (l *ModelLoader) Active(ctx context.Context) (*ActiveModel, error) {
	entry, err := l.lookup(ctx)
	if err != nil || entry == nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	clf, ok := l.decoded[entry.ID]
	if !ok {
		clf, err = ml.Unmarshal(entry.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode model %s: %w", entry.ID, err)
		}
		l.decoded = map[string]*ml.Classifier{entry.ID: clf}
	}
	return &ActiveModel{ID: entry.ID, Version: entry.Version, Classifier: clf}, nil
}

func (l *ModelLoader) lookup(ctx context.Context) (*cachedModel, error) {
	if l.cache != nil {
		data, ok, err := l.cache.Get(ctx, l.cacheKey())
		switch {
		case err != nil:
			log.Warn().Err(err).Str("model", l.name).Msg("Model cache read failed, falling back to repository")
		case ok:
			var entry cachedModel
			if err := json.Unmarshal(data, &entry); err == nil {
				l.metrics.RecordCacheHit("model")
				return &entry, nil
			}
			log.Warn().Str("model", l.name).Msg("Discarding undecodable model cache entry")
		}
		l.metrics.RecordCacheMiss("model")
	}

	artifact, err := l.repo.Active(ctx, l.name)
	if err != nil {
		return nil, fmt.Errorf("failed to load active model %s: %w", l.name, err)
	}
	if artifact == nil {
		return nil, nil
	}

	entry := &cachedModel{ID: artifact.ID, Version: artifact.Version, Payload: artifact.Payload}
	if l.cache == nil {
		return entry, nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return entry, nil
	}
	if err := l.cache.Set(ctx, l.cacheKey(), data); err != nil {
		log.Warn().Err(err).Str("model", l.name).Msg("Failed to populate model cache")
		return entry, nil
	}
	return l.verifyCached(ctx, entry)
}

// verifyCached re-reads the active artifact after a cache write. An activation
// that committed (and invalidated) between the repository read and the write
// would otherwise leave the previous version cached until it expires.
func (l *ModelLoader) verifyCached(ctx context.Context, entry *cachedModel) (*cachedModel, error) {
	current, err := l.repo.Active(ctx, l.name)
	if err != nil {
		l.Invalidate(ctx)
		return nil, fmt.Errorf("failed to load active model %s: %w", l.name, err)
	}
	if current != nil && current.ID == entry.ID {
		return entry, nil
	}

	log.Debug().Str("model", l.name).Str("cached", entry.ID).Msg("Active model changed during cache fill, dropping entry")
	l.Invalidate(ctx)
	if current == nil {
		return nil, nil
	}
	return &cachedModel{ID: current.ID, Version: current.Version, Payload: current.Payload}, nil
}

// Invalidate drops the cached active model after an activation
func (l *ModelLoader) Invalidate(ctx context.Context) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Delete(ctx, l.cacheKey()); err != nil {
		log.Warn().Err(err).Str("model", l.name).Msg("Failed to invalidate model cache")
	}
}

var _ ModelSource = (*ModelLoader)(nil)
