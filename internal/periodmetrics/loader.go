// Package periodmetrics derives the scoring snapshot of a period from the
// read contract of persistence.SourceRepo and the persisted match records.
package periodmetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence"
	"github.com/sawpanic/riskengine/internal/reconcile"
)

// Config controls thresholds used while deriving metrics
type Config struct {
	HighValueThreshold decimal.Decimal // entries at or above this need a counterparty id
	HistoryPeriods     int             // prior periods averaged for baselines
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		HighValueThreshold: decimal.NewFromInt(50000),
		HistoryPeriods:     3,
	}
}

// Loader builds PeriodMetrics snapshots
type Loader struct {
	source  persistence.SourceRepo
	matches persistence.MatchRepo
	config  Config
	now     func() time.Time
}

// NewLoader creates a metrics loader
func NewLoader(source persistence.SourceRepo, matches persistence.MatchRepo, config Config) *Loader {
	return &Loader{
		source:  source,
		matches: matches,
		config:  config,
		now:     time.Now,
	}
}

// WithClock overrides the clock used for lateness
func (l *Loader) WithClock(now func() time.Time) *Loader {
	l.now = now
	return l
}

// Load derives the metrics of one period
func (l *Loader) Load(ctx context.Context, periodID string) (*domain.PeriodMetrics, error) {
	period, err := l.source.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load period %s: %w", periodID, err)
	}

	purchases, err := l.source.LedgerEntries(ctx, periodID, domain.DirectionPurchase)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase entries: %w", err)
	}
	sales, err := l.source.LedgerEntries(ctx, periodID, domain.DirectionSales)
	if err != nil {
		return nil, fmt.Errorf("failed to load sales entries: %w", err)
	}
	statement, err := l.source.StatementEntries(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load statement entries: %w", err)
	}
	payments, err := l.source.Payments(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	prior, err := l.source.PriorPeriodTotals(ctx, periodID, l.config.HistoryPeriods)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior period totals: %w", err)
	}
	scheme, err := l.source.TaxpayerScheme(ctx, period.TaxpayerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxpayer scheme: %w", err)
	}
	counts, err := l.matches.CountsByPeriod(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load match counts: %w", err)
	}

	m := &domain.PeriodMetrics{
		PeriodID:        period.ID,
		TaxpayerID:      period.TaxpayerID,
		InwardCount:     len(purchases),
		OutwardCount:    len(sales),
		StatementCount:  len(statement),
		TotalEntries:    len(purchases) + len(sales),
		Matched:         counts.Matched,
		ValueMismatch:   counts.ValueMismatch,
		MissingInBooks:  counts.MissingInBooks,
		MissingIn2B:     counts.MissingIn2B,
		PaymentCount:    len(payments),
		Scheme:          scheme,
		FilingFrequency: period.FilingFrequency,
		Status:          period.Status,
	}

	l.dataQuality(m, period, purchases, sales)
	l.credit(m, purchases, sales, payments)
	m.DaysPastDue = DaysPastDue(*period, l.now())
	l.baselines(m, prior)

	return m, nil
}

func (l *Loader) dataQuality(m *domain.PeriodMetrics, period *domain.Period, purchases, sales []domain.LedgerEntry) {
	groups := make(map[reconcile.Key]int, len(purchases))
	for _, e := range purchases {
		groups[reconcile.NormalizeKey(e.CounterpartyID, e.DocumentNumber)]++
	}
	for _, n := range groups {
		if n > 1 {
			m.DuplicateCount++
		}
	}

	home := period.StateCode()
	for _, entries := range [][]domain.LedgerEntry{purchases, sales} {
		for _, e := range entries {
			if e.IsAmendment {
				m.AmendmentCount++
			}
			if e.CounterpartyID == "" && e.TaxableAmount.GreaterThanOrEqual(l.config.HighValueThreshold) {
				m.MissingCounterpartyCount++
			}
			if placementMismatch(home, e) {
				m.PlacementMismatchCount++
			}
		}
	}
}

// placementMismatch flags intra-state supplies carrying IGST and inter-state
// supplies carrying CGST/SGST
func placementMismatch(home string, e domain.LedgerEntry) bool {
	if home == "" || e.PlaceOfSupply == "" {
		return false
	}
	if e.PlaceOfSupply == home {
		return e.IGST.IsPositive()
	}
	return e.CGST.IsPositive() || e.SGST.IsPositive()
}

func (l *Loader) credit(m *domain.PeriodMetrics, purchases, sales []domain.LedgerEntry, payments []domain.PaymentRecord) {
	m.ITCClaimed = decimal.Zero
	m.OutputTax = decimal.Zero
	m.RCMLiability = decimal.Zero
	m.TaxPaid = decimal.Zero
	m.Turnover = decimal.Zero

	rcmEntries := 0
	for _, e := range purchases {
		if e.BlockedReason != "" {
			m.BlockedITCCount++
		}
		if e.ReverseCharge {
			rcmEntries++
			m.RCMLiability = m.RCMLiability.Add(e.TaxComponents.Total())
		}
		if e.ITCEligible && e.BlockedReason == "" {
			m.ITCClaimed = m.ITCClaimed.Add(e.TaxComponents.Total())
		}
	}
	for _, e := range sales {
		m.OutputTax = m.OutputTax.Add(e.TaxComponents.Total())
		m.Turnover = m.Turnover.Add(e.TaxableAmount)
	}

	m.ITCRatio = decimal.Zero
	if !m.OutputTax.IsZero() {
		m.ITCRatio = m.ITCClaimed.DivRound(m.OutputTax, 6)
	}

	cashPaid := decimal.Zero
	for _, p := range payments {
		m.TaxPaid = m.TaxPaid.Add(p.Amount)
		if p.Mode == domain.PaymentCash {
			cashPaid = cashPaid.Add(p.Amount)
		}
	}

	// Reverse-charge tax must be discharged in cash
	if m.RCMLiability.IsPositive() && cashPaid.LessThan(m.RCMLiability) {
		m.RCMUnresolvedCount = rcmEntries
	}

	net := m.OutputTax.Sub(m.ITCClaimed)
	if net.IsNegative() {
		net = decimal.Zero
	}
	m.TaxPayable = net.Add(m.RCMLiability)
}

func (l *Loader) baselines(m *domain.PeriodMetrics, prior []domain.PriorPeriodTotals) {
	m.AvgTurnover3 = decimal.Zero
	m.AvgITC3 = decimal.Zero
	if len(prior) > 0 {
		turnover, itc := decimal.Zero, decimal.Zero
		for _, p := range prior {
			turnover = turnover.Add(p.Turnover)
			itc = itc.Add(p.ITCClaimed)
		}
		n := decimal.NewFromInt(int64(len(prior)))
		m.AvgTurnover3 = turnover.DivRound(n, 2)
		m.AvgITC3 = itc.DivRound(n, 2)
	}

	start := 0
	if len(prior) > 2 {
		start = len(prior) - 2
	}
	trend := make([]int, 0, 3)
	for _, p := range prior[start:] {
		trend = append(trend, p.AmendmentCount)
	}
	m.AmendmentTrend = append(trend, m.AmendmentCount)
}

// DaysPastDue returns whole days elapsed since the due date, 0 when the
// period is already filed or closed or not yet due
func DaysPastDue(p domain.Period, now time.Time) int {
	if !p.Status.IsOpen() || p.DueDate.IsZero() || !now.After(p.DueDate) {
		return 0
	}
	return int(now.Sub(p.DueDate).Hours() / 24)
}
