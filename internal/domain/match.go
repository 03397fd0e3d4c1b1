package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus classifies the outcome of reconciling one statement or ledger entry
type MatchStatus string

const (
	MatchMatched        MatchStatus = "matched"
	MatchValueMismatch  MatchStatus = "value_mismatch"
	MatchMissingInBooks MatchStatus = "missing_in_books" // reported by counterparty, absent from books
	MatchMissingIn2B    MatchStatus = "missing_in_2b"    // in books, absent from counterparty statement
)

// Compared field names used in FieldDiff
const (
	FieldTaxable = "taxable_amount"
	FieldCGST    = "cgst"
	FieldSGST    = "sgst"
	FieldIGST    = "igst"
	FieldCess    = "cess"
)

// FieldDiff records one out-of-tolerance field of a value mismatch
type FieldDiff struct {
	Field        string          `json:"field"`
	Self         decimal.Decimal `json:"self"`
	Counterparty decimal.Decimal `json:"counterparty"`
}

// MatchRecord links a statement entry to at most one ledger entry
type MatchRecord struct {
	ID               string      `json:"id" db:"id"`
	PeriodID         string      `json:"period_id" db:"period_id"`
	RunID            string      `json:"run_id" db:"run_id"`
	StatementEntryID *string     `json:"statement_entry_id,omitempty" db:"statement_entry_id"`
	LedgerEntryID    *string     `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	Status           MatchStatus `json:"match_status" db:"match_status"`
	Diff             []FieldDiff `json:"diff,omitempty" db:"-"`
	// Amounts carried for summaries and exports; taken from the books when a
	// ledger entry is linked, otherwise from the statement.
	TaxableAmount decimal.Decimal `json:"taxable_amount" db:"taxable_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount" db:"tax_amount"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// BucketSummary aggregates the records of one match status
type BucketSummary struct {
	Count   int             `json:"count"`
	Taxable decimal.Decimal `json:"taxable"`
	Tax     decimal.Decimal `json:"tax"`
}

// ReconciliationSummary is the result of one reconciliation run for a period
type ReconciliationSummary struct {
	PeriodID       string        `json:"period_id"`
	RunID          string        `json:"run_id"`
	Matched        BucketSummary `json:"matched"`
	ValueMismatch  BucketSummary `json:"value_mismatch"`
	MissingInBooks BucketSummary `json:"missing_in_books"`
	MissingIn2B    BucketSummary `json:"missing_in_2b"`
	Records        []MatchRecord `json:"records"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// Bucket returns a pointer to the summary bucket for a status
func (s *ReconciliationSummary) Bucket(status MatchStatus) *BucketSummary {
	switch status {
	case MatchMatched:
		return &s.Matched
	case MatchValueMismatch:
		return &s.ValueMismatch
	case MatchMissingInBooks:
		return &s.MissingInBooks
	case MatchMissingIn2B:
		return &s.MissingIn2B
	}
	return nil
}

// MatchCounts is the per-status count view of persisted match records
type MatchCounts struct {
	Matched        int `json:"matched" db:"matched"`
	ValueMismatch  int `json:"value_mismatch" db:"value_mismatch"`
	MissingInBooks int `json:"missing_in_books" db:"missing_in_books"`
	MissingIn2B    int `json:"missing_in_2b" db:"missing_in_2b"`
}
