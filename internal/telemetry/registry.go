package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Registry holds the Prometheus collectors of the risk engine. A nil
// *Registry is valid and records nothing.
type Registry struct {
	gatherer prometheus.Gatherer

	StepDuration *prometheus.HistogramVec

	ReconcileRuns    *prometheus.CounterVec
	ReconcileRecords *prometheus.CounterVec

	Scores     *prometheus.CounterVec
	RiskScore  prometheus.Histogram
	MLDegraded *prometheus.CounterVec

	TrainingRuns  *prometheus.CounterVec
	ActiveMacroF1 *prometheus.GaugeVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// NewRegistry creates the collectors and registers them on reg
func NewRegistry(reg *prometheus.Registry) *Registry {
	r := &Registry{
		gatherer: reg,

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskengine_step_duration_seconds",
				Help:    "Duration of each engine step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"step", "result"},
		),

		ReconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_reconcile_runs_total",
				Help: "Reconciliation runs by result",
			},
			[]string{"result"},
		),

		ReconcileRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_reconcile_records_total",
				Help: "Match records produced by status",
			},
			[]string{"status"},
		),

		Scores: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_scores_total",
				Help: "Risk assessments produced by scoring mode",
			},
			[]string{"mode"},
		),

		RiskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskengine_risk_score",
				Help:    "Distribution of final risk scores",
				Buckets: []float64{10, 20, 30, 45, 60, 70, 80, 90, 100},
			},
		),

		MLDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_ml_degraded_total",
				Help: "Scoring runs that fell back to rule-only output by reason",
			},
			[]string{"reason"},
		),

		TrainingRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_training_runs_total",
				Help: "Training pipeline runs by outcome",
			},
			[]string{"outcome"},
		),

		ActiveMacroF1: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskengine_active_model_macro_f1",
				Help: "Macro-F1 of the active model version",
			},
			[]string{"model"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_cache_hits_total",
				Help: "Model cache hits",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskengine_cache_misses_total",
				Help: "Model cache misses",
			},
			[]string{"cache_type"},
		),
	}

	reg.MustRegister(
		r.StepDuration,
		r.ReconcileRuns,
		r.ReconcileRecords,
		r.Scores,
		r.RiskScore,
		r.MLDegraded,
		r.TrainingRuns,
		r.ActiveMacroF1,
		r.CacheHits,
		r.CacheMisses,
	)

	return r
}

// Gatherer exposes the underlying registry for the /metrics handler
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// StepTimer tracks execution time for engine steps
type StepTimer struct {
	registry *Registry
	step     string
	start    time.Time
}

// StartStepTimer begins timing a step
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{
		registry: r,
		step:     step,
		start:    time.Now(),
	}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	if st.registry != nil {
		st.registry.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	}

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Engine step completed")
}

// RecordReconcile records a finished reconciliation run
func (r *Registry) RecordReconcile(result string, countsByStatus map[string]int) {
	if r == nil {
		return
	}
	r.ReconcileRuns.WithLabelValues(result).Inc()
	for status, n := range countsByStatus {
		r.ReconcileRecords.WithLabelValues(status).Add(float64(n))
	}
}

// RecordScore records a produced assessment
func (r *Registry) RecordScore(mode string, score int) {
	if r == nil {
		return
	}
	r.Scores.WithLabelValues(mode).Inc()
	r.RiskScore.Observe(float64(score))
}

// RecordMLDegraded records a fallback to rule-only scoring
func (r *Registry) RecordMLDegraded(reason string) {
	if r == nil {
		return
	}
	r.MLDegraded.WithLabelValues(reason).Inc()
}

// RecordTraining records a training run outcome
func (r *Registry) RecordTraining(outcome string) {
	if r == nil {
		return
	}
	r.TrainingRuns.WithLabelValues(outcome).Inc()
}

// SetActiveMacroF1 publishes the quality of the active model
func (r *Registry) SetActiveMacroF1(model string, f1 float64) {
	if r == nil {
		return
	}
	r.ActiveMacroF1.WithLabelValues(model).Set(f1)
}

// RecordCacheHit records a cache hit for the specified cache type
func (r *Registry) RecordCacheHit(cacheType string) {
	if r == nil {
		return
	}
	r.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for the specified cache type
func (r *Registry) RecordCacheMiss(cacheType string) {
	if r == nil {
		return
	}
	r.CacheMisses.WithLabelValues(cacheType).Inc()
}
