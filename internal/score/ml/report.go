package ml

import "github.com/sawpanic/riskengine/internal/domain"

// ClassReport holds per-class evaluation figures
type ClassReport struct {
	Label     domain.OutcomeLabel `json:"label"`
	Precision float64             `json:"precision"`
	Recall    float64             `json:"recall"`
	F1        float64             `json:"f1"`
	Support   int                 `json:"support"`
}

// TrainReport summarises a training run
type TrainReport struct {
	TrainSize   int           `json:"train_size"`
	TestSize    int           `json:"test_size"`
	HeldOut     bool          `json:"held_out"`
	Rounds      int           `json:"rounds"`
	Accuracy    float64       `json:"accuracy"`
	MacroF1     float64       `json:"macro_f1"`
	Confusion   [3][3]int     `json:"confusion_matrix"` // [actual][predicted]
	Classes     []ClassReport `json:"classes"`
	Importances []Attribution `json:"feature_importances"`
}

func evaluate(clf *Classifier, samples []Sample, y []int, idx []int) *TrainReport {
	r := &TrainReport{}
	correct := 0
	for _, i := range idx {
		p := argmax(softmax(clf.raw(samples[i].Features)))
		r.Confusion[y[i]][p]++
		if p == y[i] {
			correct++
		}
	}
	if len(idx) > 0 {
		r.Accuracy = float64(correct) / float64(len(idx))
	}

	// Macro-F1 averages over classes seen in truth or predictions
	var f1Sum float64
	counted := 0
	for k, label := range domain.OutcomeLabels {
		tp := r.Confusion[k][k]
		support, predicted := 0, 0
		for j := range domain.OutcomeLabels {
			support += r.Confusion[k][j]
			predicted += r.Confusion[j][k]
		}
		c := ClassReport{Label: label, Support: support}
		if predicted > 0 {
			c.Precision = float64(tp) / float64(predicted)
		}
		if support > 0 {
			c.Recall = float64(tp) / float64(support)
		}
		if c.Precision+c.Recall > 0 {
			c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
		}
		r.Classes = append(r.Classes, c)
		if support > 0 || predicted > 0 {
			f1Sum += c.F1
			counted++
		}
	}
	if counted > 0 {
		r.MacroF1 = f1Sum / float64(counted)
	}
	return r
}
