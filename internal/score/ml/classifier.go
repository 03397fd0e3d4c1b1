// Package ml implements the gradient-boosted tree classifier that maps feature
// vectors onto adjudicated outcome classes.
package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/riskengine/internal/domain"
)

const formatVersion = 1

// Params controls boosting
type Params struct {
	Rounds         int     `json:"rounds" yaml:"rounds" validate:"gte=1"`
	LearningRate   float64 `json:"learning_rate" yaml:"learning_rate" validate:"gt=0,lte=1"`
	MaxDepth       int     `json:"max_depth" yaml:"max_depth" validate:"gte=1,lte=8"`
	MinSamplesLeaf int     `json:"min_samples_leaf" yaml:"min_samples_leaf" validate:"gte=1"`
	Lambda         float64 `json:"lambda" yaml:"lambda" validate:"gte=0"`
	MinGain        float64 `json:"min_gain" yaml:"min_gain" validate:"gte=0"`
	TestFraction   float64 `json:"test_fraction" yaml:"test_fraction" validate:"gt=0,lt=1"`
	Seed           int64   `json:"seed" yaml:"seed"`
}

// DefaultParams returns the boosting defaults
func DefaultParams() Params {
	return Params{
		Rounds:         60,
		LearningRate:   0.1,
		MaxDepth:       3,
		MinSamplesLeaf: 2,
		Lambda:         1.0,
		MinGain:        1e-6,
		TestFraction:   0.2,
		Seed:           42,
	}
}

// Classifier is a trained multiclass boosted-tree model
type Classifier struct {
	classes      []domain.OutcomeLabel
	featureNames []string
	base         []float64
	trees        [][]tree // [round][class]
	params       Params
	trainedAt    time.Time
}

// Prediction is the output for one feature vector
type Prediction struct {
	Probabilities map[domain.OutcomeLabel]float64 `json:"probabilities"`
	Class         domain.OutcomeLabel             `json:"class"`
	RiskScore     int                             `json:"risk_score"`
	Confidence    float64                         `json:"confidence"`
}

// Attribution is one feature's additive contribution to a class score
type Attribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Explanation decomposes the predicted class's raw score:
// Bias + sum of all contributions == Raw
type Explanation struct {
	Class   domain.OutcomeLabel `json:"class"`
	Bias    float64             `json:"bias"`
	Raw     float64             `json:"raw"`
	Factors []Attribution       `json:"factors"`
}

// FeatureNames returns the ordering the model was trained with
func (c *Classifier) FeatureNames() []string {
	return append([]string(nil), c.featureNames...)
}

// TrainedAt returns the training timestamp
func (c *Classifier) TrainedAt() time.Time {
	return c.trainedAt
}

// Rounds returns the number of boosting rounds actually fitted
func (c *Classifier) Rounds() int {
	return len(c.trees)
}

func (c *Classifier) raw(x []float64) []float64 {
	out := append([]float64(nil), c.base...)
	for _, round := range c.trees {
		for k := range round {
			out[k] += round[k].leaf(x)
		}
	}
	return out
}

func softmax(raw []float64) []float64 {
	top := math.Inf(-1)
	for _, r := range raw {
		top = math.Max(top, r)
	}
	out := make([]float64, len(raw))
	var sum float64
	for k, r := range raw {
		out[k] = math.Exp(r - top)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

func argmax(p []float64) int {
	best := 0
	for k := range p {
		if p[k] > p[best] {
			best = k
		}
	}
	return best
}

func (c *Classifier) checkLength(x []float64) error {
	if len(x) != len(c.featureNames) {
		return fmt.Errorf("%w: got %d features, model expects %d", domain.ErrFeatureMismatch, len(x), len(c.featureNames))
	}
	return nil
}

// Predict scores one feature vector
func (c *Classifier) Predict(x []float64) (Prediction, error) {
	if err := c.checkLength(x); err != nil {
		return Prediction{}, err
	}

	p := softmax(c.raw(x))
	best := argmax(p)

	pred := Prediction{
		Probabilities: make(map[domain.OutcomeLabel]float64, len(p)),
		Class:         c.classes[best],
		Confidence:    p[best],
	}
	var risk float64
	for k, label := range c.classes {
		pred.Probabilities[label] = p[k]
		risk += p[k] * label.RiskValue()
	}
	pred.RiskScore = int(math.Max(0, math.Min(100, math.Round(risk))))
	return pred, nil
}

// Explain returns per-feature attributions for the predicted class, keeping the
// topN largest by magnitude (all when topN <= 0). The second result is false
// when no explanation can be produced.
func (c *Classifier) Explain(x []float64, topN int) (Explanation, bool) {
	if c.checkLength(x) != nil {
		return Explanation{}, false
	}
	k := argmax(softmax(c.raw(x)))

	contrib := make([]float64, len(x))
	bias := c.base[k]
	for _, round := range c.trees {
		bias += round[k].attribute(x, contrib)
	}

	exp := Explanation{Class: c.classes[k], Bias: bias, Raw: bias}
	for f, v := range contrib {
		exp.Raw += v
		if v == 0 {
			continue
		}
		exp.Factors = append(exp.Factors, Attribution{Feature: c.featureNames[f], Value: x[f], Contribution: v})
	}
	if math.IsNaN(exp.Raw) || math.IsInf(exp.Raw, 0) {
		return Explanation{}, false
	}

	sort.SliceStable(exp.Factors, func(i, j int) bool {
		return math.Abs(exp.Factors[i].Contribution) > math.Abs(exp.Factors[j].Contribution)
	})
	if topN > 0 && len(exp.Factors) > topN {
		exp.Factors = exp.Factors[:topN]
	}
	return exp, true
}

// importances returns split-gain importances normalised to sum to 1
func importances(names []string, gain []float64) []Attribution {
	var total float64
	for _, g := range gain {
		total += g
	}
	out := make([]Attribution, 0, len(names))
	for f, name := range names {
		share := 0.0
		if total > 0 {
			share = gain[f] / total
		}
		out = append(out, Attribution{Feature: name, Contribution: share})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Contribution > out[j].Contribution })
	return out
}

type modelFile struct {
	Format       int                   `json:"format"`
	Classes      []domain.OutcomeLabel `json:"classes"`
	FeatureNames []string              `json:"feature_names"`
	Base         []float64             `json:"base"`
	Trees        [][]tree              `json:"trees"`
	Params       Params                `json:"params"`
	TrainedAt    time.Time             `json:"trained_at"`
}

// Marshal serialises the classifier to JSON
func (c *Classifier) Marshal() ([]byte, error) {
	return json.Marshal(modelFile{
		Format:       formatVersion,
		Classes:      c.classes,
		FeatureNames: c.featureNames,
		Base:         c.base,
		Trees:        c.trees,
		Params:       c.params,
		TrainedAt:    c.trainedAt,
	})
}

// Unmarshal restores a classifier produced by Marshal
func Unmarshal(data []byte) (*Classifier, error) {
	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if f.Format != formatVersion {
		return nil, fmt.Errorf("unsupported model format %d", f.Format)
	}
	if len(f.Classes) == 0 || len(f.Base) != len(f.Classes) {
		return nil, errors.New("model has inconsistent class layout")
	}
	for i, round := range f.Trees {
		if len(round) != len(f.Classes) {
			return nil, fmt.Errorf("round %d has %d trees for %d classes", i, len(round), len(f.Classes))
		}
		for _, t := range round {
			if err := t.validate(len(f.FeatureNames)); err != nil {
				return nil, fmt.Errorf("round %d: %w", i, err)
			}
		}
	}
	return &Classifier{
		classes:      f.Classes,
		featureNames: f.FeatureNames,
		base:         f.Base,
		trees:        f.Trees,
		params:       f.Params,
		trainedAt:    f.TrainedAt,
	}, nil
}

func (t *tree) validate(features int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= features {
			return fmt.Errorf("node %d splits on feature %d", i, n.Feature)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
	}
	return nil
}
