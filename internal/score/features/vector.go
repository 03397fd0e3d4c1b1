// Package features maps PeriodMetrics onto the fixed, ordered input vector
// consumed by the classifier.
package features

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/riskengine/internal/domain"
)

// Size is the length of every feature vector
const Size = 30

var names = [Size]string{
	"inward_count",
	"outward_count",
	"statement_count",
	"duplicate_count",
	"missing_counterparty_count",
	"placement_mismatch_count",
	"amendment_count",
	"matched",
	"value_mismatch",
	"missing_in_books",
	"missing_in_2b",
	"blocked_itc_count",
	"itc_claimed",
	"output_tax",
	"itc_ratio",
	"rcm_liability",
	"rcm_unresolved_count",
	"tax_payable",
	"tax_paid",
	"payment_count",
	"days_past_due",
	"turnover",
	"avg_turnover_3",
	"avg_itc_3",
	// derived
	"amendment_trend_slope",
	"scheme_composition",
	"scheme_qrmp",
	"payment_coverage_ratio",
	"match_2b_ratio",
	"outward_inward_ratio",
}

// Vector is an ordered feature vector
type Vector [Size]float64

// Slice returns the vector as a slice
func (v Vector) Slice() []float64 {
	return v[:]
}

// Names returns the stable feature ordering
func Names() []string {
	out := make([]string, Size)
	copy(out, names[:])
	return out
}

// CheckOrder verifies a stored feature ordering against the current one
func CheckOrder(stored []string) error {
	if len(stored) != Size {
		return fmt.Errorf("%w: model expects %d features, builder produces %d", domain.ErrFeatureMismatch, len(stored), Size)
	}
	for i, n := range stored {
		if n != names[i] {
			return fmt.Errorf("%w: feature %d is %q, builder produces %q", domain.ErrFeatureMismatch, i, n, names[i])
		}
	}
	return nil
}

// Build maps metrics onto the feature vector
func Build(m domain.PeriodMetrics) Vector {
	v := Vector{
		float64(m.InwardCount),
		float64(m.OutwardCount),
		float64(m.StatementCount),
		float64(m.DuplicateCount),
		float64(m.MissingCounterpartyCount),
		float64(m.PlacementMismatchCount),
		float64(m.AmendmentCount),
		float64(m.Matched),
		float64(m.ValueMismatch),
		float64(m.MissingInBooks),
		float64(m.MissingIn2B),
		float64(m.BlockedITCCount),
		toFloat(m.ITCClaimed),
		toFloat(m.OutputTax),
		toFloat(m.ITCRatio),
		toFloat(m.RCMLiability),
		float64(m.RCMUnresolvedCount),
		toFloat(m.TaxPayable),
		toFloat(m.TaxPaid),
		float64(m.PaymentCount),
		float64(m.DaysPastDue),
		toFloat(m.Turnover),
		toFloat(m.AvgTurnover3),
		toFloat(m.AvgITC3),

		slope(m.AmendmentTrend),
		oneHot(m.Scheme == domain.SchemeComposition),
		oneHot(m.Scheme == domain.SchemeQRMP),
		coverage(m.TaxPaid, m.TaxPayable),
		float64(m.Matched) / float64(max(1, m.StatementCount)),
		float64(m.OutwardCount) / float64(max(1, m.InwardCount)),
	}

	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = 0
		}
	}
	return v
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func oneHot(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func coverage(paid, payable decimal.Decimal) float64 {
	if !payable.IsPositive() {
		return 1
	}
	return toFloat(paid) / toFloat(payable)
}

// slope is the ordinary least squares slope of points against 0..n-1
func slope(points []int) float64 {
	n := len(points)
	if n < 2 {
		return 0
	}
	var meanX, meanY float64
	for i, y := range points {
		meanX += float64(i)
		meanY += float64(y)
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var cov, varX float64
	for i, y := range points {
		dx := float64(i) - meanX
		cov += dx * (float64(y) - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		return 0
	}
	return cov / varX
}
