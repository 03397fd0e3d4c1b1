package hybrid

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/score/features"
	"github.com/sawpanic/riskengine/internal/score/rules"
	"github.com/sawpanic/riskengine/internal/telemetry"
)

// DefaultTopFactors is the number of attributions kept with a hybrid result
const DefaultTopFactors = 5

// Blender combines rule and ML scores
type Blender struct {
	models     ModelSource
	weight     float64
	topFactors int
	metrics    *telemetry.Registry
}

// NewBlender creates a blender. weight is the ML share in [0,1]; models may be
// nil to run rule-only.
func NewBlender(models ModelSource, weight float64, metrics *telemetry.Registry) *Blender {
	return &Blender{
		models:     models,
		weight:     math.Max(0, math.Min(1, weight)),
		topFactors: DefaultTopFactors,
		metrics:    metrics,
	}
}

// WithTopFactors sets how many attributions are kept, 0 disables explanations
func (b *Blender) WithTopFactors(n int) *Blender {
	b.topFactors = max(0, n)
	return b
}

// Weight returns the effective blend weight
func (b *Blender) Weight() float64 {
	return b.weight
}

// BlendScore returns clamp(round((1-w)*rule + w*ml), 0, 100)
func BlendScore(rule, ml int, w float64) int {
	v := math.Round((1-w)*float64(rule) + w*float64(ml))
	return int(math.Max(0, math.Min(100, v)))
}

// Blend produces the final result for a period. Only a feature ordering or
// length mismatch is returned as an error; every other ML failure degrades to
// RuleOnly.
func (b *Blender) Blend(ctx context.Context, rule rules.RuleResult, m domain.PeriodMetrics) (Result, error) {
	if b.models == nil || b.weight <= 0 {
		return RuleOnly{Rule: rule, Reason: ReasonDisabled}, nil
	}

	model, err := b.models.Active(ctx)
	if err != nil {
		return b.degrade(rule, m.PeriodID, ReasonModelLoad, err), nil
	}
	if model == nil {
		return b.degrade(rule, m.PeriodID, ReasonNoModel, nil), nil
	}

	if err := features.CheckOrder(model.Classifier.FeatureNames()); err != nil {
		return nil, err
	}

	vec := features.Build(m).Slice()
	pred, err := model.Classifier.Predict(vec)
	if err != nil {
		if errors.Is(err, domain.ErrFeatureMismatch) {
			return nil, err
		}
		return b.degrade(rule, m.PeriodID, ReasonPrediction, err), nil
	}

	score := BlendScore(rule.Total, pred.RiskScore, b.weight)
	h := Hybrid{
		Rule:         rule,
		Score:        score,
		Level:        domain.FinalLevel(score, rule.Flags),
		Weight:       b.weight,
		ModelID:      model.ID,
		ModelVersion: model.Version,
		Prediction:   pred,
	}
	if b.topFactors > 0 {
		if exp, ok := model.Classifier.Explain(vec, b.topFactors); ok {
			h.Explanation = &exp
		} else {
			log.Debug().Str("period_id", m.PeriodID).Msg("No explanation available for prediction")
		}
	}

	log.Debug().
		Str("period_id", m.PeriodID).
		Int("rule_score", rule.Total).
		Int("ml_score", pred.RiskScore).
		Int("final_score", score).
		Int("model_version", model.Version).
		Msg("Blended risk score")

	return h, nil
}

func (b *Blender) degrade(rule rules.RuleResult, periodID, reason string, err error) RuleOnly {
	ev := log.Warn().Str("period_id", periodID).Str("reason", reason)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("ML scoring unavailable, using rule-only result")
	b.metrics.RecordMLDegraded(reason)
	return RuleOnly{Rule: rule, Reason: reason}
}
