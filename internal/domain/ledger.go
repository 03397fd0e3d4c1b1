package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction distinguishes purchase (inward) from sales (outward) ledger entries
type Direction string

const (
	DirectionPurchase Direction = "purchase"
	DirectionSales    Direction = "sales"
)

// TaxComponents holds the per-head tax amounts of a document
type TaxComponents struct {
	CGST decimal.Decimal `json:"cgst" db:"cgst"`
	SGST decimal.Decimal `json:"sgst" db:"sgst"`
	IGST decimal.Decimal `json:"igst" db:"igst"`
	Cess decimal.Decimal `json:"cess" db:"cess"`
}

// Total sums every tax head
func (t TaxComponents) Total() decimal.Decimal {
	return t.CGST.Add(t.SGST).Add(t.IGST).Add(t.Cess)
}

// LedgerEntry is a self-reported transaction record. Read-only to the engine.
type LedgerEntry struct {
	ID             string          `json:"id" db:"id"`
	PeriodID       string          `json:"period_id" db:"period_id"`
	Direction      Direction       `json:"direction" db:"direction"`
	CounterpartyID string          `json:"counterparty_id" db:"counterparty_id"`
	DocumentNumber string          `json:"document_number" db:"document_number"`
	DocumentDate   *time.Time      `json:"document_date,omitempty" db:"document_date"`
	TaxableAmount  decimal.Decimal `json:"taxable_amount" db:"taxable_amount"`
	TaxComponents
	PlaceOfSupply string `json:"place_of_supply" db:"place_of_supply"`
	ITCEligible   bool   `json:"itc_eligible" db:"itc_eligible"`
	ReverseCharge bool   `json:"reverse_charge" db:"reverse_charge"`
	BlockedReason string `json:"blocked_reason,omitempty" db:"blocked_reason"`
	IsAmendment   bool   `json:"is_amendment" db:"is_amendment"`
}

// StatementEntry is the counterparty-reported snapshot of a document for a period.
// Statement rows are replaced wholesale on re-import and never mutated here.
type StatementEntry struct {
	ID             string          `json:"id" db:"id"`
	PeriodID       string          `json:"period_id" db:"period_id"`
	CounterpartyID string          `json:"counterparty_id" db:"counterparty_id"`
	DocumentNumber string          `json:"document_number" db:"document_number"`
	DocumentDate   *time.Time      `json:"document_date,omitempty" db:"document_date"`
	TaxableAmount  decimal.Decimal `json:"taxable_amount" db:"taxable_amount"`
	TaxComponents
}

// PaymentMode identifies how a liability was discharged
type PaymentMode string

const (
	PaymentCash         PaymentMode = "cash"
	PaymentCreditLedger PaymentMode = "credit_ledger"
)

// PaymentRecord is a tax payment made against a period
type PaymentRecord struct {
	ID       string          `json:"id" db:"id"`
	PeriodID string          `json:"period_id" db:"period_id"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Mode     PaymentMode     `json:"mode" db:"mode"`
	PaidAt   time.Time       `json:"paid_at" db:"paid_at"`
}

// PriorPeriodTotals are the aggregates of an earlier period used for behavioural baselines
type PriorPeriodTotals struct {
	PeriodID       string          `json:"period_id" db:"period_id"`
	PeriodStart    time.Time       `json:"period_start" db:"period_start"`
	Turnover       decimal.Decimal `json:"turnover" db:"turnover"`
	ITCClaimed     decimal.Decimal `json:"itc_claimed" db:"itc_claimed"`
	AmendmentCount int             `json:"amendment_count" db:"amendment_count"`
}
