// Package hybrid blends the rule score with the active classifier's
// prediction when one is available.
package hybrid

import (
	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/score/ml"
	"github.com/sawpanic/riskengine/internal/score/rules"
)

// Result is either RuleOnly or Hybrid
type Result interface {
	RuleResult() rules.RuleResult
	FinalScore() int
	FinalLevel() domain.Level
	Mode() domain.ScoringMode
	isResult()
}

// Degradation reasons
const (
	ReasonDisabled   = "disabled"
	ReasonNoModel    = "no_active_model"
	ReasonModelLoad  = "model_load"
	ReasonPrediction = "prediction"
)

// RuleOnly is produced when the ML path is disabled or unavailable
type RuleOnly struct {
	Rule   rules.RuleResult
	Reason string
}

func (r RuleOnly) RuleResult() rules.RuleResult { return r.Rule }
func (r RuleOnly) FinalScore() int              { return r.Rule.Total }
func (r RuleOnly) FinalLevel() domain.Level     { return r.Rule.Level }
func (r RuleOnly) Mode() domain.ScoringMode     { return domain.ModeRuleOnly }
func (RuleOnly) isResult()                      {}

// Hybrid carries the blended score and the prediction behind it
type Hybrid struct {
	Rule         rules.RuleResult
	Score        int
	Level        domain.Level
	Weight       float64
	ModelID      string
	ModelVersion int
	Prediction   ml.Prediction
	Explanation  *ml.Explanation
}

func (h Hybrid) RuleResult() rules.RuleResult { return h.Rule }
func (h Hybrid) FinalScore() int              { return h.Score }
func (h Hybrid) FinalLevel() domain.Level     { return h.Level }
func (h Hybrid) Mode() domain.ScoringMode     { return domain.ModeHybrid }
func (Hybrid) isResult()                      {}

// Details converts the hybrid fields for persistence
func (h Hybrid) Details() *domain.MLDetails {
	d := &domain.MLDetails{
		MLScore:      h.Prediction.RiskScore,
		Confidence:   h.Prediction.Confidence,
		BlendWeight:  h.Weight,
		ModelVersion: h.ModelVersion,
		PredictedAs:  string(h.Prediction.Class),
	}
	if h.Explanation != nil {
		for _, f := range h.Explanation.Factors {
			d.TopFactors = append(d.TopFactors, domain.TopFactor{
				Feature:      f.Feature,
				Value:        f.Value,
				Contribution: f.Contribution,
			})
		}
	}
	return d
}
