package reconcile

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/riskengine/internal/domain"
)

// DefaultTolerance is the inclusive absolute tolerance applied per compared field
var DefaultTolerance = decimal.RequireFromString("1.00")

// Matcher classifies statement entries against ledger entries. It holds no
// state between calls and is safe for concurrent use.
type Matcher struct {
	Tolerance decimal.Decimal
	NewID     func() string
	Now       func() time.Time
}

// NewMatcher creates a matcher with the given tolerance
func NewMatcher(tolerance decimal.Decimal) *Matcher {
	return &Matcher{
		Tolerance: tolerance,
		NewID:     func() string { return uuid.NewString() },
		Now:       time.Now,
	}
}

type candidate struct {
	entry    *domain.LedgerEntry
	consumed bool
}

// Match produces the full record set for one period. Statement entries are
// visited in id order and ledger candidates are kept in (document date, id)
// order, so identical inputs always yield identical classifications.
func (m *Matcher) Match(periodID, runID string, ledger []domain.LedgerEntry, statement []domain.StatementEntry) []domain.MatchRecord {
	books := sortedLedger(ledger)
	stmts := sortedStatement(statement)

	index := make(map[Key][]*candidate, len(books))
	all := make([]*candidate, 0, len(books))
	for i := range books {
		c := &candidate{entry: &books[i]}
		key := NormalizeKey(books[i].CounterpartyID, books[i].DocumentNumber)
		index[key] = append(index[key], c)
		all = append(all, c)
	}

	now := m.Now().UTC()
	records := make([]domain.MatchRecord, 0, len(stmts)+len(books))

	for i := range stmts {
		s := &stmts[i]
		stmtID := s.ID
		rec := domain.MatchRecord{
			ID:               m.NewID(),
			PeriodID:         periodID,
			RunID:            runID,
			StatementEntryID: &stmtID,
			CreatedAt:        now,
		}

		pick := selectCandidate(index[NormalizeKey(s.CounterpartyID, s.DocumentNumber)], s.DocumentDate)
		if pick == nil {
			rec.Status = domain.MatchMissingInBooks
			rec.TaxableAmount = s.TaxableAmount
			rec.TaxAmount = s.TaxComponents.Total()
			records = append(records, rec)
			continue
		}

		pick.consumed = true
		ledgerID := pick.entry.ID
		rec.LedgerEntryID = &ledgerID
		rec.TaxableAmount = pick.entry.TaxableAmount
		rec.TaxAmount = pick.entry.TaxComponents.Total()

		if diff := m.compare(pick.entry, s); len(diff) > 0 {
			rec.Status = domain.MatchValueMismatch
			rec.Diff = diff
		} else {
			rec.Status = domain.MatchMatched
		}
		records = append(records, rec)
	}

	for _, c := range all {
		if c.consumed {
			continue
		}
		ledgerID := c.entry.ID
		records = append(records, domain.MatchRecord{
			ID:            m.NewID(),
			PeriodID:      periodID,
			RunID:         runID,
			LedgerEntryID: &ledgerID,
			Status:        domain.MatchMissingIn2B,
			TaxableAmount: c.entry.TaxableAmount,
			TaxAmount:     c.entry.TaxComponents.Total(),
			CreatedAt:     now,
		})
	}

	return records
}

// selectCandidate picks the ledger entry a statement entry should be compared
// against. Among several unconsumed candidates the nearest document date
// wins; ties keep list order; undated candidates rank after dated ones; an
// undated statement entry takes the first unconsumed candidate.
func selectCandidate(candidates []*candidate, date *time.Time) *candidate {
	var first, best *candidate
	bestDiff := -1

	for _, c := range candidates {
		if c.consumed {
			continue
		}
		if first == nil {
			first = c
		}
		if date == nil || c.entry.DocumentDate == nil {
			continue
		}
		diff := dayDiff(*date, *c.entry.DocumentDate)
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = c, diff
		}
	}

	if best != nil {
		return best
	}
	return first
}

func (m *Matcher) compare(l *domain.LedgerEntry, s *domain.StatementEntry) []domain.FieldDiff {
	pairs := []struct {
		field string
		self  decimal.Decimal
		cp    decimal.Decimal
	}{
		{domain.FieldTaxable, l.TaxableAmount, s.TaxableAmount},
		{domain.FieldCGST, l.CGST, s.CGST},
		{domain.FieldSGST, l.SGST, s.SGST},
		{domain.FieldIGST, l.IGST, s.IGST},
		{domain.FieldCess, l.Cess, s.Cess},
	}

	var diff []domain.FieldDiff
	for _, p := range pairs {
		if p.self.Sub(p.cp).Abs().GreaterThan(m.Tolerance) {
			diff = append(diff, domain.FieldDiff{Field: p.field, Self: p.self, Counterparty: p.cp})
		}
	}
	return diff
}

func dayDiff(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

func sortedLedger(in []domain.LedgerEntry) []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].DocumentDate, out[j].DocumentDate
		switch {
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.Before(*dj)
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedStatement(in []domain.StatementEntry) []domain.StatementEntry {
	out := make([]domain.StatementEntry, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Summarize builds the per-bucket view of a record set
func Summarize(periodID, runID string, records []domain.MatchRecord, completedAt time.Time) *domain.ReconciliationSummary {
	summary := &domain.ReconciliationSummary{
		PeriodID:    periodID,
		RunID:       runID,
		Records:     records,
		CompletedAt: completedAt,
	}
	for _, b := range []*domain.BucketSummary{&summary.Matched, &summary.ValueMismatch, &summary.MissingInBooks, &summary.MissingIn2B} {
		b.Taxable = decimal.Zero
		b.Tax = decimal.Zero
	}
	for _, r := range records {
		b := summary.Bucket(r.Status)
		if b == nil {
			continue
		}
		b.Count++
		b.Taxable = b.Taxable.Add(r.TaxableAmount)
		b.Tax = b.Tax.Add(r.TaxAmount)
	}
	return summary
}
