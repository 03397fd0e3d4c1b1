package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/riskengine/internal/application"
	"github.com/sawpanic/riskengine/internal/config"
	"github.com/sawpanic/riskengine/internal/infrastructure/cache"
	"github.com/sawpanic/riskengine/internal/infrastructure/db"
	"github.com/sawpanic/riskengine/internal/persistence"
	"github.com/sawpanic/riskengine/internal/persistence/memstore"
	"github.com/sawpanic/riskengine/internal/telemetry"
)

// cliState carries the loaded configuration and the lazily built engine
// across one command invocation
type cliState struct {
	config *config.Config

	service    *application.Service
	telemetry  *telemetry.Registry
	db         *db.Manager
	redis      *redis.Client
	modelCache *cache.ModelCache
	dataset    *memstore.Store
}

// engine builds the service on first use. With the database disabled the
// engine runs over the in-memory store, seeded from the configured dataset.
func (s *cliState) engine(ctx context.Context) (*application.Service, error) {
	if s.service != nil {
		return s.service, nil
	}
	cfg := s.config

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.telemetry = telemetry.NewRegistry(reg)

	repos, err := s.repositories(ctx)
	if err != nil {
		return nil, err
	}

	opts := application.Options{
		Tolerance:   cfg.Reconciliation.Tolerance,
		Metrics:     cfg.MetricsLoaderConfig(),
		BlendWeight: cfg.Scoring.BlendWeight,
		TopFactors:  cfg.Scoring.TopFactors,
		Training:    cfg.PipelineConfig(),
		Concurrency: max(cfg.Reconciliation.Concurrency, cfg.Scoring.Concurrency),
		Telemetry:   s.telemetry,
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.redis = client
		s.modelCache = cache.NewModelCache(client, cfg.Redis.ModelTTL, cfg.Redis.Breaker)
		opts.Cache = s.modelCache
		opts.Locker = cache.NewTrainingLock(client, cfg.Redis.LockTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis model cache and training lock enabled")
	}

	s.service = application.NewService(repos, opts)
	return s.service, nil
}

func (s *cliState) repositories(ctx context.Context) (*persistence.Repository, error) {
	cfg := s.config
	if cfg.Database.Enabled {
		manager, err := db.NewManager(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.db = manager
		return manager.Repository(), nil
	}

	if cfg.Dataset == "" {
		return nil, errors.New("no data source: enable the database or set a dataset file")
	}
	store, err := memstore.LoadDatasetFile(cfg.Dataset)
	if err != nil {
		return nil, err
	}
	s.dataset = store
	log.Warn().Str("dataset", cfg.Dataset).Msg("Database disabled, running over in-memory dataset")
	return store.Repository(), nil
}

// allPeriods lists the periods of the in-memory dataset
func (s *cliState) allPeriods() ([]string, error) {
	if s.dataset == nil {
		return nil, fmt.Errorf("--all is only available with a dataset file")
	}
	return s.dataset.PeriodIDs(), nil
}

func (s *cliState) close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
