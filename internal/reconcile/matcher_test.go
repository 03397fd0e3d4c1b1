package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/riskengine/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(d int) *time.Time {
	t := time.Date(2025, time.April, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func ledgerEntry(id, gstin, doc string, date *time.Time, taxable string) domain.LedgerEntry {
	amount := dec(taxable)
	return domain.LedgerEntry{
		ID:             id,
		PeriodID:       "p-1",
		Direction:      domain.DirectionPurchase,
		CounterpartyID: gstin,
		DocumentNumber: doc,
		DocumentDate:   date,
		TaxableAmount:  amount,
		TaxComponents: domain.TaxComponents{
			CGST: amount.Mul(dec("0.09")),
			SGST: amount.Mul(dec("0.09")),
			IGST: decimal.Zero,
			Cess: decimal.Zero,
		},
		ITCEligible: true,
	}
}

func statementFor(id string, l domain.LedgerEntry) domain.StatementEntry {
	return domain.StatementEntry{
		ID:             id,
		PeriodID:       l.PeriodID,
		CounterpartyID: l.CounterpartyID,
		DocumentNumber: l.DocumentNumber,
		DocumentDate:   l.DocumentDate,
		TaxableAmount:  l.TaxableAmount,
		TaxComponents:  l.TaxComponents,
	}
}

func testMatcher() *Matcher {
	n := 0
	m := NewMatcher(DefaultTolerance)
	m.NewID = func() string { n++; return fmt.Sprintf("rec-%03d", n) }
	m.Now = func() time.Time { return time.Date(2025, time.May, 20, 0, 0, 0, 0, time.UTC) }
	return m
}

// scenarioFixture: ten statement entries, eight of which have a counterpart
// in the books (one off by 50 on taxable value), two more ledger entries
// without any statement counterpart.
func scenarioFixture() ([]domain.LedgerEntry, []domain.StatementEntry) {
	var ledger []domain.LedgerEntry
	var statement []domain.StatementEntry

	for i := 1; i <= 8; i++ {
		l := ledgerEntry(fmt.Sprintf("L%02d", i), "29ABCDE1234F1Z5", fmt.Sprintf("INV-%03d", i), day(i), "10000.00")
		ledger = append(ledger, l)
		s := statementFor(fmt.Sprintf("S%02d", i), l)
		s.DocumentNumber = fmt.Sprintf("inv%03d", i)
		if i == 3 {
			s.TaxableAmount = s.TaxableAmount.Add(dec("50"))
		}
		statement = append(statement, s)
	}

	statement = append(statement,
		statementFor("S09", ledgerEntry("x", "29ABCDE1234F1Z5", "INV-900", day(9), "2500.00")),
		statementFor("S10", ledgerEntry("y", "07ZZZZZ9999Z1Z9", "B-17", day(10), "700.00")),
	)
	ledger = append(ledger,
		ledgerEntry("L09", "29ABCDE1234F1Z5", "INV-950", day(11), "1200.00"),
		ledgerEntry("L10", "33QQQQQ1111Q1Z1", "77", day(12), "800.00"),
	)
	return ledger, statement
}

func statusCounts(records []domain.MatchRecord) map[domain.MatchStatus]int {
	counts := make(map[domain.MatchStatus]int)
	for _, r := range records {
		counts[r.Status]++
	}
	return counts
}

func TestMatch_ScenarioFixture(t *testing.T) {
	ledger, statement := scenarioFixture()

	records := testMatcher().Match("p-1", "run-1", ledger, statement)
	counts := statusCounts(records)

	assert.Equal(t, 7, counts[domain.MatchMatched])
	assert.Equal(t, 1, counts[domain.MatchValueMismatch])
	assert.Equal(t, 2, counts[domain.MatchMissingInBooks])
	assert.Equal(t, 2, counts[domain.MatchMissingIn2B])

	for _, r := range records {
		if r.Status != domain.MatchValueMismatch {
			assert.Empty(t, r.Diff)
			continue
		}
		require.Len(t, r.Diff, 1)
		assert.Equal(t, domain.FieldTaxable, r.Diff[0].Field)
		assert.True(t, r.Diff[0].Self.Equal(dec("10000.00")))
		assert.True(t, r.Diff[0].Counterparty.Equal(dec("10050.00")))
		require.NotNil(t, r.LedgerEntryID)
		assert.Equal(t, "L03", *r.LedgerEntryID)
	}
}

func TestMatch_Idempotent(t *testing.T) {
	ledger, statement := scenarioFixture()

	type classification struct {
		stmt, ledger string
		status       domain.MatchStatus
	}
	classify := func(records []domain.MatchRecord) []classification {
		out := make([]classification, 0, len(records))
		for _, r := range records {
			c := classification{status: r.Status}
			if r.StatementEntryID != nil {
				c.stmt = *r.StatementEntryID
			}
			if r.LedgerEntryID != nil {
				c.ledger = *r.LedgerEntryID
			}
			out = append(out, c)
		}
		return out
	}

	first := testMatcher().Match("p-1", "run-1", ledger, statement)

	// Reverse the inputs: order of arrival must not change classifications
	revLedger := make([]domain.LedgerEntry, len(ledger))
	for i := range ledger {
		revLedger[len(ledger)-1-i] = ledger[i]
	}
	second := testMatcher().Match("p-1", "run-1", revLedger, statement)

	assert.Equal(t, classify(first), classify(second))

	s1 := Summarize("p-1", "run-1", first, time.Time{})
	s2 := Summarize("p-1", "run-1", second, time.Time{})
	assert.Equal(t, s1.Matched.Count, s2.Matched.Count)
	assert.True(t, s1.Matched.Taxable.Equal(s2.Matched.Taxable))
	assert.True(t, s1.MissingIn2B.Tax.Equal(s2.MissingIn2B.Tax))
}

func TestMatch_ToleranceIsInclusive(t *testing.T) {
	tests := []struct {
		name       string
		delta      string
		wantStatus domain.MatchStatus
	}{
		{"exact", "0", domain.MatchMatched},
		{"within", "0.99", domain.MatchMatched},
		{"boundary", "1.00", domain.MatchMatched},
		{"negative_boundary", "-1.00", domain.MatchMatched},
		{"just_over", "1.01", domain.MatchValueMismatch},
		{"under", "-1.01", domain.MatchValueMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ledgerEntry("L1", "29ABCDE1234F1Z5", "A1", day(1), "5000.00")
			s := statementFor("S1", l)
			s.IGST = s.IGST.Add(dec(tt.delta))

			records := testMatcher().Match("p-1", "r", []domain.LedgerEntry{l}, []domain.StatementEntry{s})
			require.Len(t, records, 1)
			assert.Equal(t, tt.wantStatus, records[0].Status)
			if tt.wantStatus == domain.MatchValueMismatch {
				require.Len(t, records[0].Diff, 1)
				assert.Equal(t, domain.FieldIGST, records[0].Diff[0].Field)
			}
		})
	}
}

func TestMatch_MismatchDiffListsOnlyOffendingFields(t *testing.T) {
	l := ledgerEntry("L1", "29ABCDE1234F1Z5", "A1", day(1), "5000.00")
	s := statementFor("S1", l)
	s.TaxableAmount = s.TaxableAmount.Add(dec("0.50"))
	s.CGST = s.CGST.Add(dec("3"))
	s.Cess = dec("12")

	records := testMatcher().Match("p-1", "r", []domain.LedgerEntry{l}, []domain.StatementEntry{s})
	require.Len(t, records, 1)
	require.Equal(t, domain.MatchValueMismatch, records[0].Status)

	fields := make([]string, 0, len(records[0].Diff))
	for _, d := range records[0].Diff {
		fields = append(fields, d.Field)
		assert.True(t, d.Self.Sub(d.Counterparty).Abs().GreaterThan(DefaultTolerance))
	}
	assert.Equal(t, []string{domain.FieldCGST, domain.FieldCess}, fields)
}

func TestMatch_Disambiguation(t *testing.T) {
	const gstin = "29ABCDE1234F1Z5"

	t.Run("nearest_date_wins", func(t *testing.T) {
		early := ledgerEntry("L1", gstin, "X-1", day(2), "100.00")
		late := ledgerEntry("L2", gstin, "X-1", day(20), "100.00")
		s := statementFor("S1", early)
		s.DocumentDate = day(18)

		records := testMatcher().Match("p-1", "r", []domain.LedgerEntry{early, late}, []domain.StatementEntry{s})
		require.Len(t, records, 2)
		assert.Equal(t, "L2", *records[0].LedgerEntryID)
		assert.Equal(t, domain.MatchMatched, records[0].Status)
		assert.Equal(t, domain.MatchMissingIn2B, records[1].Status)
		assert.Equal(t, "L1", *records[1].LedgerEntryID)
	})

	t.Run("tie_keeps_list_order", func(t *testing.T) {
		a := ledgerEntry("L1", gstin, "X-1", day(1), "100.00")
		b := ledgerEntry("L2", gstin, "X-1", day(5), "100.00")
		s := statementFor("S1", a)
		s.DocumentDate = day(3)

		records := testMatcher().Match("p-1", "r", []domain.LedgerEntry{b, a}, []domain.StatementEntry{s})
		assert.Equal(t, "L1", *records[0].LedgerEntryID)
	})

	t.Run("undated_statement_takes_first_unconsumed", func(t *testing.T) {
		a := ledgerEntry("L1", gstin, "X-1", day(7), "100.00")
		b := ledgerEntry("L2", gstin, "X-1", day(3), "100.00")
		s := statementFor("S1", a)
		s.DocumentDate = nil

		records := testMatcher().Match("p-1", "r", []domain.LedgerEntry{a, b}, []domain.StatementEntry{s})
		assert.Equal(t, "L2", *records[0].LedgerEntryID)
	})

	t.Run("undated_candidates_rank_last", func(t *testing.T) {
		undated := ledgerEntry("L0", gstin, "X-1", nil, "100.00")
		dated := ledgerEntry("L9", gstin, "X-1", day(28), "100.00")
		s := statementFor("S1", dated)
		s.DocumentDate = day(1)

		records := testMatcher().Match("p-1", "r", []domain.LedgerEntry{undated, dated}, []domain.StatementEntry{s})
		assert.Equal(t, "L9", *records[0].LedgerEntryID)
	})

	t.Run("consumed_candidates_are_skipped", func(t *testing.T) {
		a := ledgerEntry("L1", gstin, "X-1", day(1), "100.00")
		s1 := statementFor("S1", a)
		s2 := statementFor("S2", a)

		records := testMatcher().Match("p-1", "r", []domain.LedgerEntry{a}, []domain.StatementEntry{s1, s2})
		require.Len(t, records, 2)
		assert.Equal(t, domain.MatchMatched, records[0].Status)
		assert.Equal(t, domain.MatchMissingInBooks, records[1].Status)
		assert.Nil(t, records[1].LedgerEntryID)
	})
}

func TestMatch_DoesNotMutateInputs(t *testing.T) {
	ledger, statement := scenarioFixture()
	before := make([]domain.StatementEntry, len(statement))
	copy(before, statement)

	testMatcher().Match("p-1", "r", ledger, statement)

	assert.Equal(t, before, statement)
}
