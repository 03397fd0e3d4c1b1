package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/riskengine/internal/domain"
)

// Sample is one labelled training row
type Sample struct {
	PeriodID string
	Features []float64
	Label    domain.OutcomeLabel
}

const minHoldoutSamples = 10

// Train fits a classifier over samples whose features follow names
func Train(ctx context.Context, samples []Sample, names []string, params Params) (*Classifier, *TrainReport, error) {
	if len(samples) == 0 {
		return nil, nil, errors.New("no training samples")
	}
	y := make([]int, len(samples))
	present := map[int]bool{}
	for i, s := range samples {
		if len(s.Features) != len(names) {
			return nil, nil, fmt.Errorf("%w: sample %d has %d features, expected %d", domain.ErrFeatureMismatch, i, len(s.Features), len(names))
		}
		y[i] = s.Label.Index()
		if y[i] < 0 {
			return nil, nil, fmt.Errorf("sample %d has unknown label %q", i, s.Label)
		}
		present[y[i]] = true
	}

	train, test := splitIndices(y, params)
	heldOut := test != nil
	if !heldOut {
		log.Warn().
			Int("samples", len(samples)).
			Int("classes", len(present)).
			Msg("Too few samples or classes for a held-out split, evaluating on the training set")
		test = train
	}

	clf, gain, err := fit(ctx, samples, y, train, names, params)
	if err != nil {
		return nil, nil, err
	}

	report := evaluate(clf, samples, y, test)
	report.TrainSize = len(train)
	report.TestSize = len(test)
	report.HeldOut = heldOut
	report.Rounds = clf.Rounds()
	report.Importances = importances(names, gain)

	log.Info().
		Int("train_size", report.TrainSize).
		Int("test_size", report.TestSize).
		Float64("accuracy", report.Accuracy).
		Float64("macro_f1", report.MacroF1).
		Msg("Classifier trained")

	return clf, report, nil
}

// splitIndices returns a seeded stratified train/test split, or all indices
// and a nil test set when the data cannot support one
func splitIndices(y []int, params Params) ([]int, []int) {
	byClass := make([][]int, len(domain.OutcomeLabels))
	for i, k := range y {
		byClass[k] = append(byClass[k], i)
	}
	classes := 0
	for _, idx := range byClass {
		if len(idx) > 0 {
			classes++
		}
	}

	if len(y) < minHoldoutSamples || classes < 2 {
		all := make([]int, len(y))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	rng := rand.New(rand.NewSource(params.Seed))
	var train, test []int
	for _, idx := range byClass {
		idx = append([]int(nil), idx...)
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		n := 0
		if len(idx) >= 2 {
			n = max(1, int(math.Round(float64(len(idx))*params.TestFraction)))
		}
		test = append(test, idx[:n]...)
		train = append(train, idx[n:]...)
	}
	return train, test
}

func fit(ctx context.Context, samples []Sample, y []int, train []int, names []string, params Params) (*Classifier, []float64, error) {
	classes := len(domain.OutcomeLabels)
	x := make([][]float64, len(train))
	labels := make([]int, len(train))
	for i, idx := range train {
		x[i] = samples[idx].Features
		labels[i] = y[idx]
	}

	// Base score is the smoothed log prior of each class
	base := make([]float64, classes)
	counts := make([]float64, classes)
	for _, k := range labels {
		counts[k]++
	}
	for k := range base {
		base[k] = math.Log((counts[k] + 1) / (float64(len(labels)) + float64(classes)))
	}

	raw := make([][]float64, len(x))
	for i := range raw {
		raw[i] = append([]float64(nil), base...)
	}

	members := make([]bool, len(x))
	for i := range members {
		members[i] = true
	}

	builder := newTreeBuilder(x, params, len(names))
	grad := make([]float64, len(x))
	hess := make([]float64, len(x))
	var trees [][]tree

	for round := 0; round < params.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("training cancelled after %d rounds: %w", round, err)
		}

		probs := make([][]float64, len(x))
		for i := range x {
			probs[i] = softmax(raw[i])
		}

		roundTrees := make([]tree, classes)
		for k := 0; k < classes; k++ {
			for i := range x {
				target := 0.0
				if labels[i] == k {
					target = 1
				}
				p := probs[i][k]
				grad[i] = p - target
				hess[i] = math.Max(p*(1-p), 1e-6)
			}
			roundTrees[k] = builder.build(grad, hess, members)
		}

		for i := range x {
			for k := range roundTrees {
				raw[i][k] += roundTrees[k].leaf(x[i])
			}
		}
		trees = append(trees, roundTrees)
	}

	return &Classifier{
		classes:      append([]domain.OutcomeLabel(nil), domain.OutcomeLabels...),
		featureNames: append([]string(nil), names...),
		base:         base,
		trees:        trees,
		params:       params,
		trainedAt:    time.Now().UTC(),
	}, builder.gain, nil
}
