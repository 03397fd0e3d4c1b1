package application

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/export"
	"github.com/sawpanic/riskengine/internal/periodmetrics"
	"github.com/sawpanic/riskengine/internal/persistence"
	"github.com/sawpanic/riskengine/internal/reconcile"
	"github.com/sawpanic/riskengine/internal/score/hybrid"
	"github.com/sawpanic/riskengine/internal/score/rules"
	"github.com/sawpanic/riskengine/internal/telemetry"
	"github.com/sawpanic/riskengine/internal/training"
)

// Options configures a Service
type Options struct {
	Tolerance   decimal.Decimal
	Metrics     periodmetrics.Config
	BlendWeight float64
	TopFactors  int
	Training    training.Config
	// Concurrency bounds ScoreMany and ReconcileMany fan-out
	Concurrency int
	// Cache holds the active model payload across processes; nil disables it
	Cache hybrid.ByteCache
	// Locker guards training runs; nil uses an in-process lock
	Locker    training.Locker
	Telemetry *telemetry.Registry
	Now       func() time.Time
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{
		Tolerance:   decimal.NewFromInt(1),
		Metrics:     periodmetrics.DefaultConfig(),
		BlendWeight: 0.4,
		TopFactors:  hybrid.DefaultTopFactors,
		Training:    training.DefaultConfig(),
		Concurrency: 4,
	}
}

// Service is the engine's external surface
type Service struct {
	repos       *persistence.Repository
	reconciler  *reconcile.Engine
	loader      *periodmetrics.Loader
	rules       *rules.Engine
	models      *hybrid.ModelLoader
	blender     *hybrid.Blender
	pipeline    *training.Pipeline
	telemetry   *telemetry.Registry
	modelName   string
	concurrency int
	now         func() time.Time
}

// NewService wires every component over one set of repositories
func NewService(repos *persistence.Repository, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Training.ModelName == "" {
		opts.Training.ModelName = domain.RiskModelName
	}

	matcher := reconcile.NewMatcher(opts.Tolerance)
	matcher.Now = now
	loader := periodmetrics.NewLoader(repos.Source, repos.Matches, opts.Metrics).WithClock(now)
	models := hybrid.NewModelLoader(repos.Models, opts.Cache, opts.Training.ModelName, opts.Telemetry)

	return &Service{
		repos:       repos,
		reconciler:  reconcile.NewEngine(repos.Source, repos.Matches, matcher, opts.Telemetry),
		loader:      loader,
		rules:       rules.NewEngine(),
		models:      models,
		blender:     hybrid.NewBlender(models, opts.BlendWeight, opts.Telemetry).WithTopFactors(opts.TopFactors),
		pipeline:    training.NewPipeline(repos.Assessments, repos.Models, loader, opts.Locker, opts.Training, opts.Telemetry),
		telemetry:   opts.Telemetry,
		modelName:   opts.Training.ModelName,
		concurrency: opts.Concurrency,
		now:         now,
	}
}

// Reconcile matches a period's purchase ledger against its statement
func (s *Service) Reconcile(ctx context.Context, periodID string) (*domain.ReconciliationSummary, error) {
	return s.reconciler.Reconcile(ctx, periodID)
}

// Score computes and stores the risk assessment of a period from its current
// data and match records
func (s *Service) Score(ctx context.Context, periodID string) (*domain.RiskAssessment, error) {
	timer := s.telemetry.StartStepTimer("score")

	assessment, err := s.score(ctx, periodID)
	if err != nil {
		timer.Stop("error")
		return nil, err
	}

	timer.Stop("ok")
	s.telemetry.RecordScore(string(assessment.Mode), assessment.TotalScore)
	return assessment, nil
}

func (s *Service) score(ctx context.Context, periodID string) (*domain.RiskAssessment, error) {
	m, err := s.loader.Load(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics for period %s: %w", periodID, err)
	}

	rr := s.rules.Score(*m)
	result, err := s.blender.Blend(ctx, rr, *m)
	if err != nil {
		return nil, fmt.Errorf("failed to blend scores for period %s: %w", periodID, err)
	}

	now := s.now().UTC()
	assessment := &domain.RiskAssessment{
		ID:                 uuid.NewString(),
		PeriodID:           periodID,
		TotalScore:         result.FinalScore(),
		RuleScore:          rr.Total,
		Level:              result.FinalLevel(),
		Categories:         rr.Categories,
		Flags:              rr.Flags,
		RecommendedActions: rr.Actions,
		Mode:               result.Mode(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if h, ok := result.(hybrid.Hybrid); ok {
		assessment.ML = h.Details()
	}

	if err := s.repos.Assessments.Upsert(ctx, assessment); err != nil {
		return nil, fmt.Errorf("failed to store assessment for period %s: %w", periodID, err)
	}

	log.Info().
		Str("period_id", periodID).
		Int("score", assessment.TotalScore).
		Int("rule_score", assessment.RuleScore).
		Str("level", string(assessment.Level)).
		Str("mode", string(assessment.Mode)).
		Int("flags", len(assessment.Flags)).
		Msg("Scored period")

	return assessment, nil
}

// GetAssessment returns the stored assessment of a period
func (s *Service) GetAssessment(ctx context.Context, periodID string) (*domain.RiskAssessment, error) {
	return s.repos.Assessments.GetByPeriod(ctx, periodID)
}

// CheckTrainingReadiness reports whether enough labeled periods exist to train
func (s *Service) CheckTrainingReadiness(ctx context.Context) (*training.ReadinessReport, error) {
	return s.pipeline.CheckReadiness(ctx)
}

// Train trains and stores a new model version, activating it when promote is
// set and it does not regress macro-F1
func (s *Service) Train(ctx context.Context, promote bool) (*training.TrainingResult, error) {
	result, err := s.pipeline.TrainAndStore(ctx, promote)
	if err != nil {
		return nil, err
	}
	if result.Promoted {
		s.models.Invalidate(ctx)
	}
	return result, nil
}

// ActivateModel makes an artifact the active version of its name
func (s *Service) ActivateModel(ctx context.Context, artifactID string) error {
	artifact, err := s.repos.Models.Get(ctx, artifactID)
	if err != nil {
		return fmt.Errorf("failed to load model artifact: %w", err)
	}
	if err := s.repos.Models.Activate(ctx, artifactID); err != nil {
		return fmt.Errorf("failed to activate model artifact: %w", err)
	}

	s.models.Invalidate(ctx)
	s.telemetry.SetActiveMacroF1(artifact.Name, artifact.MacroF1)

	log.Info().
		Str("model", artifact.Name).
		Int("version", artifact.Version).
		Msg("Activated model version")
	return nil
}

// GetActiveModel returns the active artifact of a name, nil when none
func (s *Service) GetActiveModel(ctx context.Context, name string) (*domain.ModelArtifact, error) {
	if name == "" {
		name = s.modelName
	}
	return s.repos.Models.Active(ctx, name)
}

// ListModels returns every stored version of a name, newest first
func (s *Service) ListModels(ctx context.Context, name string) ([]domain.ModelArtifact, error) {
	if name == "" {
		name = s.modelName
	}
	return s.repos.Models.List(ctx, name)
}

// RecordOutcome stores the adjudicated outcome of a scored period
func (s *Service) RecordOutcome(ctx context.Context, periodID string, label domain.OutcomeLabel) error {
	if label.Index() < 0 {
		return fmt.Errorf("unknown outcome label %q", label)
	}
	if err := s.repos.Assessments.RecordOutcome(ctx, periodID, label, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// ScoreMany scores periods concurrently. Results keep the input order; the
// first error cancels the remaining work.
func (s *Service) ScoreMany(ctx context.Context, periodIDs []string) ([]*domain.RiskAssessment, error) {
	return fanOut(ctx, s.concurrency, periodIDs, s.Score)
}

// ReconcileMany reconciles periods concurrently, see ScoreMany
func (s *Service) ReconcileMany(ctx context.Context, periodIDs []string) ([]*domain.ReconciliationSummary, error) {
	return fanOut(ctx, s.concurrency, periodIDs, s.Reconcile)
}

func fanOut[T any](ctx context.Context, limit int, ids []string, fn func(context.Context, string) (T, error)) ([]T, error) {
	out := make([]T, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			res, err := fn(ctx, id)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportReconciliation writes the period's current match records as an XLSX
// workbook
func (s *Service) ExportReconciliation(ctx context.Context, periodID string, w io.Writer) error {
	if _, err := s.repos.Source.GetPeriod(ctx, periodID); err != nil {
		return fmt.Errorf("failed to load period %s: %w", periodID, err)
	}

	records, err := s.repos.Matches.ListByPeriod(ctx, periodID)
	if err != nil {
		return fmt.Errorf("failed to list match records: %w", err)
	}

	var runID string
	completed := s.now().UTC()
	if len(records) > 0 {
		runID = records[0].RunID
		completed = records[0].CreatedAt
	}

	summary := reconcile.Summarize(periodID, runID, records, completed)
	return export.WriteReconciliationWorkbook(w, summary)
}
