// Package training builds, stores and promotes classifier versions from
// adjudicated assessments.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence"
	"github.com/sawpanic/riskengine/internal/score/features"
	"github.com/sawpanic/riskengine/internal/score/ml"
	"github.com/sawpanic/riskengine/internal/telemetry"
)

// Config controls the training pipeline
type Config struct {
	ModelName   string
	MinSamples  int
	MinInterval time.Duration // minimum time between runs, 0 disables throttling
	Params      ml.Params
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() Config {
	return Config{
		ModelName:   domain.RiskModelName,
		MinSamples:  50,
		MinInterval: 10 * time.Minute,
		Params:      ml.DefaultParams(),
	}
}

// MetricsSource rebuilds the metrics snapshot of a period
type MetricsSource interface {
	Load(ctx context.Context, periodID string) (*domain.PeriodMetrics, error)
}

// ReadinessReport describes whether enough labeled data exists to train
type ReadinessReport struct {
	Count     int                         `json:"count"`
	Minimum   int                         `json:"minimum"`
	Ready     bool                        `json:"ready"`
	Breakdown map[domain.OutcomeLabel]int `json:"breakdown"`
}

// TrainingResult describes a completed run
type TrainingResult struct {
	Artifact        *domain.ModelArtifact `json:"artifact"`
	Report          *ml.TrainReport       `json:"report"`
	Promoted        bool                  `json:"promoted"`
	PreviousVersion int                   `json:"previous_version,omitempty"`
	PreviousMacroF1 float64               `json:"previous_macro_f1,omitempty"`
	Skipped         []string              `json:"skipped_periods,omitempty"`
}

// Pipeline runs training
type Pipeline struct {
	assessments persistence.AssessmentRepo
	models      persistence.ModelRepo
	metrics     MetricsSource
	config      Config
	limiter     *rate.Limiter
	locker      Locker
	telemetry   *telemetry.Registry
	now         func() time.Time
}

// NewPipeline creates a training pipeline. locker may be nil for an in-process lock.
func NewPipeline(assessments persistence.AssessmentRepo, models persistence.ModelRepo, metrics MetricsSource,
	locker Locker, config Config, reg *telemetry.Registry) *Pipeline {
	limit := rate.Inf
	if config.MinInterval > 0 {
		limit = rate.Every(config.MinInterval)
	}
	if locker == nil {
		locker = &LocalLocker{}
	}
	return &Pipeline{
		assessments: assessments,
		models:      models,
		metrics:     metrics,
		config:      config,
		limiter:     rate.NewLimiter(limit, 1),
		locker:      locker,
		telemetry:   reg,
		now:         time.Now,
	}
}

// CheckReadiness counts labeled assessments against the minimum
func (p *Pipeline) CheckReadiness(ctx context.Context) (*ReadinessReport, error) {
	counts, err := p.assessments.LabelCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count labeled assessments: %w", err)
	}

	report := &ReadinessReport{
		Minimum:   p.config.MinSamples,
		Breakdown: make(map[domain.OutcomeLabel]int, len(domain.OutcomeLabels)),
	}
	for _, label := range domain.OutcomeLabels {
		report.Breakdown[label] = counts[label]
		report.Count += counts[label]
	}
	report.Ready = report.Count >= report.Minimum
	return report, nil
}

// TrainAndStore trains the next version from every labeled assessment and
// stores it. With promote set, the new version is activated only when its
// macro-F1 is not worse than the active version's.
func (p *Pipeline) TrainAndStore(ctx context.Context, promote bool) (*TrainingResult, error) {
	lease, ok, err := p.locker.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire training lock: %w", err)
	}
	if !ok {
		p.telemetry.RecordTraining("in_progress")
		return nil, ErrTrainingInProgress
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Failed to release training lock")
		}
	}()

	timer := p.telemetry.StartStepTimer("train")
	result, err := p.run(ctx, promote)
	if err != nil {
		timer.Stop("error")
		var insufficient *InsufficientDataError
		switch {
		case errors.As(err, &insufficient):
			p.telemetry.RecordTraining("insufficient_data")
		case errors.Is(err, ErrTrainingThrottled):
			p.telemetry.RecordTraining("throttled")
		default:
			p.telemetry.RecordTraining("failed")
		}
		return nil, err
	}
	timer.Stop("success")

	if result.Promoted {
		p.telemetry.RecordTraining("promoted")
	} else {
		p.telemetry.RecordTraining("stored")
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, promote bool) (*TrainingResult, error) {
	labeled, err := p.assessments.ListLabeled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list labeled assessments: %w", err)
	}
	if len(labeled) < p.config.MinSamples {
		return nil, &InsufficientDataError{Have: len(labeled), Need: p.config.MinSamples}
	}

	result := &TrainingResult{}
	samples := make([]ml.Sample, 0, len(labeled))
	for _, a := range labeled {
		m, err := p.metrics.Load(ctx, a.PeriodID)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Str("period_id", a.PeriodID).Msg("Skipping labeled assessment without period data")
			result.Skipped = append(result.Skipped, a.PeriodID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild metrics for period %s: %w", a.PeriodID, err)
		}
		samples = append(samples, ml.Sample{
			PeriodID: a.PeriodID,
			Features: features.Build(*m).Slice(),
			Label:    *a.Outcome,
		})
	}
	if len(samples) < p.config.MinSamples {
		return nil, &InsufficientDataError{Have: len(samples), Need: p.config.MinSamples}
	}

	// the run interval is only spent by runs that will train
	if !p.limiter.Allow() {
		return nil, ErrTrainingThrottled
	}

	clf, report, err := ml.Train(ctx, samples, features.Names(), p.config.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to train classifier: %w", err)
	}

	artifact, err := p.store(ctx, clf, report, len(samples))
	if err != nil {
		return nil, err
	}
	result.Artifact = artifact
	result.Report = report

	log.Info().
		Str("model", artifact.Name).
		Int("version", artifact.Version).
		Int("samples", artifact.SampleCount).
		Float64("macro_f1", artifact.MacroF1).
		Msg("Stored model version")

	if promote {
		if err := p.promote(ctx, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (p *Pipeline) store(ctx context.Context, clf *ml.Classifier, report *ml.TrainReport, samples int) (*domain.ModelArtifact, error) {
	payload, err := clf.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialise classifier: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode training report: %w", err)
	}

	latest, err := p.models.MaxVersion(ctx, p.config.ModelName)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest model version: %w", err)
	}

	artifact := &domain.ModelArtifact{
		ID:           uuid.New().String(),
		Name:         p.config.ModelName,
		Version:      latest + 1,
		Payload:      payload,
		SampleCount:  samples,
		Accuracy:     report.Accuracy,
		MacroF1:      report.MacroF1,
		FeatureNames: clf.FeatureNames(),
		Report:       reportJSON,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.models.Store(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to store model version %d: %w", artifact.Version, err)
	}
	return artifact, nil
}

func (p *Pipeline) promote(ctx context.Context, result *TrainingResult) error {
	active, err := p.models.Active(ctx, p.config.ModelName)
	if err != nil {
		return fmt.Errorf("failed to load active model: %w", err)
	}
	if active != nil {
		result.PreviousVersion = active.Version
		result.PreviousMacroF1 = active.MacroF1
		if result.Artifact.MacroF1 < active.MacroF1 {
			log.Info().
				Int("version", result.Artifact.Version).
				Float64("macro_f1", result.Artifact.MacroF1).
				Float64("active_macro_f1", active.MacroF1).
				Msg("New model is worse than the active version, not promoting")
			return nil
		}
	}

	if err := p.models.Activate(ctx, result.Artifact.ID); err != nil {
		return fmt.Errorf("failed to activate model version %d: %w", result.Artifact.Version, err)
	}
	result.Artifact.Active = true
	result.Promoted = true
	p.telemetry.SetActiveMacroF1(result.Artifact.Name, result.Artifact.MacroF1)

	log.Info().
		Int("version", result.Artifact.Version).
		Int("previous_version", result.PreviousVersion).
		Msg("Promoted model version")
	return nil
}
