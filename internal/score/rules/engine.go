// Package rules implements the deterministic, category-capped rule scorer.
package rules

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/riskengine/internal/domain"
)

// Flag codes raised by the engine
const (
	CodeDuplicateInvoices     = "DUPLICATE_INVOICES"
	CodeMissingCounterpartyID = "MISSING_COUNTERPARTY_ID"
	CodePlaceOfSupplyMismatch = "PLACE_OF_SUPPLY_MISMATCH"
	CodeHighAmendmentRatio    = "HIGH_AMENDMENT_RATIO"
	CodeITCWithoutStatement   = "ITC_WITHOUT_STATEMENT"
	CodeITCNotIn2B            = "ITC_NOT_IN_2B"
	CodeValueMismatch         = "VALUE_MISMATCH"
	CodeBlockedITCClaimed     = "BLOCKED_ITC_CLAIMED"
	CodeITCRatioExtreme       = "ITC_RATIO_EXTREME"
	CodeITCRatioHigh          = "ITC_RATIO_HIGH"
	CodeLateFilingSevere      = "LATE_FILING_SEVERE"
	CodeLateFiling            = "LATE_FILING"
	CodeLateFilingMinor       = "LATE_FILING_MINOR"
	CodePaymentMissing        = "PAYMENT_MISSING"
	CodePaymentShortfall      = "PAYMENT_SHORTFALL"
	CodeRCMUnresolved         = "RCM_UNRESOLVED"
	CodeTurnoverSpike         = "TURNOVER_SPIKE"
	CodeITCSpike              = "ITC_SPIKE"
	CodeAmendmentTrendRising  = "AMENDMENT_TREND_RISING"
	CodeCompositionITCClaimed = "COMPOSITION_ITC_CLAIMED"
	CodeFilingCadenceMismatch = "FILING_CADENCE_MISMATCH"
)

var actions = map[string]string{
	CodeDuplicateInvoices:     "Review duplicate purchase documents and reverse double-booked entries",
	CodeMissingCounterpartyID: "Capture supplier GSTIN on high-value entries",
	CodePlaceOfSupplyMismatch: "Correct tax type against place of supply",
	CodeHighAmendmentRatio:    "Investigate the cause of frequent amendments",
	CodeITCWithoutStatement:   "Import the GSTR-2B statement before claiming credit",
	CodeITCNotIn2B:            "Follow up with suppliers on documents missing from GSTR-2B",
	CodeValueMismatch:         "Reconcile value differences with suppliers",
	CodeBlockedITCClaimed:     "Reverse credit claimed on blocked inputs",
	CodeITCRatioExtreme:       "Verify credit claimed against output liability before filing",
	CodeITCRatioHigh:          "Verify credit claimed against output liability before filing",
	CodeLateFilingSevere:      "File the return immediately and compute late fee and interest",
	CodeLateFiling:            "File the return immediately and compute late fee and interest",
	CodeLateFilingMinor:       "File the return and compute late fee",
	CodePaymentMissing:        "Discharge the outstanding tax liability",
	CodePaymentShortfall:      "Pay the remaining liability with interest",
	CodeRCMUnresolved:         "Pay reverse-charge tax in cash before filing",
	CodeTurnoverSpike:         "Validate turnover spike against sales documents",
	CodeITCSpike:              "Validate credit spike against purchase documents",
	CodeAmendmentTrendRising:  "Review bookkeeping controls driving rising amendments",
	CodeCompositionITCClaimed: "Reverse credit claimed under the composition scheme",
	CodeFilingCadenceMismatch: "Align filing frequency with the registered scheme",
}

// RecommendedAction returns the action mapped to a flag code
func RecommendedAction(code string) string {
	return actions[code]
}

// RuleResult is the output of one rule scoring pass
type RuleResult struct {
	Flags      []domain.RiskFlag     `json:"flags"`
	Categories domain.CategoryScores `json:"categories"`
	Total      int                   `json:"total"`
	Level      domain.Level          `json:"level"`
	Actions    []string              `json:"recommended_actions"`
}

var (
	amendmentRatioLimit = decimal.NewFromFloat(0.05)
	itcRatioExtreme     = decimal.NewFromFloat(1.2)
	itcRatioHigh        = decimal.NewFromFloat(0.9)
	shortfallLimit      = decimal.NewFromFloat(0.10)
	spikeHigh           = decimal.NewFromInt(2)
	spikeMedium         = decimal.NewFromFloat(1.5)
)

// Engine scores PeriodMetrics. It holds no state and is safe for concurrent use.
type Engine struct{}

// NewEngine creates a rule engine
func NewEngine() *Engine {
	return &Engine{}
}

// Score evaluates every rule against the metrics snapshot
func (e *Engine) Score(m domain.PeriodMetrics) RuleResult {
	var flags []domain.RiskFlag
	var scores domain.CategoryScores

	for _, cat := range domain.Categories {
		raised := evaluate(cat, m)
		sum := 0
		for _, f := range raised {
			sum += f.Points
		}
		scores.Set(cat, min(sum, cat.Cap()))
		flags = append(flags, raised...)
	}

	// Stable sort keeps evaluation order among equals
	sort.SliceStable(flags, func(i, j int) bool {
		if flags[i].Severity.Rank() != flags[j].Severity.Rank() {
			return flags[i].Severity.Rank() > flags[j].Severity.Rank()
		}
		return flags[i].Points > flags[j].Points
	})

	total := min(scores.Sum(), 100)
	return RuleResult{
		Flags:      flags,
		Categories: scores,
		Total:      total,
		Level:      domain.FinalLevel(total, flags),
		Actions:    actionsFor(flags),
	}
}

func evaluate(cat domain.Category, m domain.PeriodMetrics) []domain.RiskFlag {
	switch cat {
	case domain.CategoryDataQuality:
		return dataQuality(m)
	case domain.CategoryReconciliation:
		return reconciliation(m)
	case domain.CategoryLiability:
		return liability(m)
	case domain.CategoryBehavioral:
		return behavioral(m)
	case domain.CategoryStructural:
		return structural(m)
	}
	return nil
}

func flag(code string, cat domain.Category, sev domain.Level, points int, format string, args ...any) domain.RiskFlag {
	return domain.RiskFlag{
		Code:     code,
		Category: cat,
		Severity: sev,
		Points:   points,
		Evidence: fmt.Sprintf(format, args...),
	}
}

func dataQuality(m domain.PeriodMetrics) []domain.RiskFlag {
	const cat = domain.CategoryDataQuality
	var out []domain.RiskFlag

	if n := m.DuplicateCount; n > 0 {
		out = append(out, flag(CodeDuplicateInvoices, cat, domain.LevelMedium, min(2*n, 6),
			"%d purchase document numbers appear more than once", n))
	}
	if n := m.MissingCounterpartyCount; n > 0 {
		out = append(out, flag(CodeMissingCounterpartyID, cat, domain.LevelMedium, min(2*n, 8),
			"%d high-value entries have no counterparty GSTIN", n))
	}
	if n := m.PlacementMismatchCount; n > 0 {
		out = append(out, flag(CodePlaceOfSupplyMismatch, cat, domain.LevelMedium, min(3*n, 8),
			"%d entries carry a tax type inconsistent with place of supply", n))
	}
	if m.TotalEntries > 0 && m.AmendmentCount > 0 {
		ratio := decimal.NewFromInt(int64(m.AmendmentCount)).Div(decimal.NewFromInt(int64(m.TotalEntries)))
		if ratio.GreaterThan(amendmentRatioLimit) {
			out = append(out, flag(CodeHighAmendmentRatio, cat, domain.LevelLow, 4,
				"%d of %d entries are amendments (%s%%)", m.AmendmentCount, m.TotalEntries,
				ratio.Mul(decimal.NewFromInt(100)).StringFixed(2)))
		}
	}
	return out
}

func reconciliation(m domain.PeriodMetrics) []domain.RiskFlag {
	const cat = domain.CategoryReconciliation
	var out []domain.RiskFlag

	if m.ITCClaimed.IsPositive() && m.StatementCount == 0 {
		out = append(out, flag(CodeITCWithoutStatement, cat, domain.LevelHigh, 15,
			"ITC of %s claimed with no GSTR-2B entries imported", m.ITCClaimed.StringFixed(2)))
	}
	if m.MissingIn2B > 0 && m.InwardCount > 0 {
		points := min(int(math.RoundToEven(18*float64(m.MissingIn2B)/float64(m.InwardCount))), 18)
		if points > 0 {
			sev := domain.LevelMedium
			if points >= 9 {
				sev = domain.LevelHigh
			}
			out = append(out, flag(CodeITCNotIn2B, cat, sev, points,
				"%d of %d purchase entries are missing from GSTR-2B", m.MissingIn2B, m.InwardCount))
		}
	}
	if n := m.ValueMismatch; n > 0 {
		out = append(out, flag(CodeValueMismatch, cat, domain.LevelMedium, min(2*n, 10),
			"%d matched documents differ in value beyond tolerance", n))
	}
	if n := m.BlockedITCCount; n > 0 {
		out = append(out, flag(CodeBlockedITCClaimed, cat, domain.LevelHigh, 8,
			"%d purchase entries fall under blocked credit", n))
	}
	switch {
	case m.ITCRatio.GreaterThanOrEqual(itcRatioExtreme):
		out = append(out, flag(CodeITCRatioExtreme, cat, domain.LevelCritical, 10,
			"ITC %s against output tax %s (ratio %s)", m.ITCClaimed.StringFixed(2),
			m.OutputTax.StringFixed(2), m.ITCRatio.StringFixed(2)))
	case m.ITCRatio.GreaterThan(itcRatioHigh):
		out = append(out, flag(CodeITCRatioHigh, cat, domain.LevelHigh, 6,
			"ITC %s against output tax %s (ratio %s)", m.ITCClaimed.StringFixed(2),
			m.OutputTax.StringFixed(2), m.ITCRatio.StringFixed(2)))
	}
	return out
}

func liability(m domain.PeriodMetrics) []domain.RiskFlag {
	const cat = domain.CategoryLiability
	var out []domain.RiskFlag

	switch d := m.DaysPastDue; {
	case d > 30:
		out = append(out, flag(CodeLateFilingSevere, cat, domain.LevelCritical, 12,
			"return is %d days past due", d))
	case d > 7:
		out = append(out, flag(CodeLateFiling, cat, domain.LevelHigh, 8,
			"return is %d days past due", d))
	case d > 0:
		out = append(out, flag(CodeLateFilingMinor, cat, domain.LevelMedium, 5,
			"return is %d days past due", d))
	}

	if m.TaxPayable.IsPositive() {
		switch {
		case m.TaxPaid.IsZero():
			out = append(out, flag(CodePaymentMissing, cat, domain.LevelHigh, 10,
				"liability of %s with no payment recorded", m.TaxPayable.StringFixed(2)))
		case m.TaxPaid.LessThan(m.TaxPayable):
			shortfall := m.TaxPayable.Sub(m.TaxPaid)
			sev, points := domain.LevelMedium, 8
			if shortfall.Div(m.TaxPayable).GreaterThan(shortfallLimit) {
				sev, points = domain.LevelHigh, 12
			}
			out = append(out, flag(CodePaymentShortfall, cat, sev, points,
				"paid %s of %s liability (shortfall %s)", m.TaxPaid.StringFixed(2),
				m.TaxPayable.StringFixed(2), shortfall.StringFixed(2)))
		}
	}

	if m.RCMUnresolvedCount > 0 && m.Status.IsOpen() {
		out = append(out, flag(CodeRCMUnresolved, cat, domain.LevelMedium, 6,
			"%d reverse-charge entries (liability %s) not discharged in cash",
			m.RCMUnresolvedCount, m.RCMLiability.StringFixed(2)))
	}
	return out
}

func behavioral(m domain.PeriodMetrics) []domain.RiskFlag {
	const cat = domain.CategoryBehavioral
	var out []domain.RiskFlag

	if m.AvgTurnover3.IsPositive() {
		ratio := m.Turnover.Div(m.AvgTurnover3)
		switch {
		case ratio.GreaterThan(spikeHigh):
			out = append(out, flag(CodeTurnoverSpike, cat, domain.LevelHigh, 10,
				"turnover %s is %sx the 3-period average %s", m.Turnover.StringFixed(2),
				ratio.StringFixed(2), m.AvgTurnover3.StringFixed(2)))
		case ratio.GreaterThan(spikeMedium):
			out = append(out, flag(CodeTurnoverSpike, cat, domain.LevelMedium, 6,
				"turnover %s is %sx the 3-period average %s", m.Turnover.StringFixed(2),
				ratio.StringFixed(2), m.AvgTurnover3.StringFixed(2)))
		}
	}

	if m.AvgITC3.IsPositive() {
		ratio := m.ITCClaimed.Div(m.AvgITC3)
		if ratio.GreaterThan(spikeMedium) {
			excess, _ := ratio.Sub(spikeMedium).Float64()
			points := max(1, int(math.RoundToEven(5*excess)))
			out = append(out, flag(CodeITCSpike, cat, domain.LevelMedium, points,
				"ITC %s is %sx the 3-period average %s", m.ITCClaimed.StringFixed(2),
				ratio.StringFixed(2), m.AvgITC3.StringFixed(2)))
		}
	}

	if t := m.AmendmentTrend; len(t) >= 3 {
		t = t[len(t)-3:]
		if t[0] < t[1] && t[1] < t[2] && t[2] > 0 {
			out = append(out, flag(CodeAmendmentTrendRising, cat, domain.LevelLow, 3,
				"amendments rising over last three periods: %d, %d, %d", t[0], t[1], t[2]))
		}
	}
	return out
}

func structural(m domain.PeriodMetrics) []domain.RiskFlag {
	const cat = domain.CategoryStructural
	var out []domain.RiskFlag

	scheme := m.Scheme
	if scheme == "" {
		scheme = domain.SchemeRegular
	}
	if scheme.ITCProhibited() && m.ITCClaimed.IsPositive() {
		out = append(out, flag(CodeCompositionITCClaimed, cat, domain.LevelCritical, 10,
			"ITC of %s claimed under %s scheme", m.ITCClaimed.StringFixed(2), scheme))
	}
	if m.FilingFrequency != "" && m.FilingFrequency != scheme.ExpectedFrequency() {
		out = append(out, flag(CodeFilingCadenceMismatch, cat, domain.LevelLow, 3,
			"%s filing under %s scheme which expects %s", m.FilingFrequency, scheme, scheme.ExpectedFrequency()))
	}
	return out
}

func actionsFor(flags []domain.RiskFlag) []string {
	seen := make(map[string]bool, len(flags))
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		a := actions[f.Code]
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
