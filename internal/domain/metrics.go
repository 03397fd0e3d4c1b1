package domain

import "github.com/shopspring/decimal"

// PeriodMetrics is the derived, read-only snapshot scoring runs consume.
// It is recomputed on every scoring run and never persisted.
type PeriodMetrics struct {
	PeriodID   string `json:"period_id"`
	TaxpayerID string `json:"taxpayer_id"`

	// Volumes
	InwardCount    int `json:"inward_count"`
	OutwardCount   int `json:"outward_count"`
	StatementCount int `json:"statement_count"`
	TotalEntries   int `json:"total_entries"`

	// Data quality
	DuplicateCount           int `json:"duplicate_count"`
	MissingCounterpartyCount int `json:"missing_counterparty_count"`
	PlacementMismatchCount   int `json:"placement_mismatch_count"`
	AmendmentCount           int `json:"amendment_count"`

	// Reconciliation buckets
	Matched        int `json:"matched"`
	ValueMismatch  int `json:"value_mismatch"`
	MissingInBooks int `json:"missing_in_books"`
	MissingIn2B    int `json:"missing_in_2b"`

	// Credit and liability
	BlockedITCCount    int             `json:"blocked_itc_count"`
	ITCClaimed         decimal.Decimal `json:"itc_claimed"`
	OutputTax          decimal.Decimal `json:"output_tax"`
	ITCRatio           decimal.Decimal `json:"itc_ratio"`
	RCMLiability       decimal.Decimal `json:"rcm_liability"`
	RCMUnresolvedCount int             `json:"rcm_unresolved_count"`
	TaxPayable         decimal.Decimal `json:"tax_payable"`
	TaxPaid            decimal.Decimal `json:"tax_paid"`
	PaymentCount       int             `json:"payment_count"`
	DaysPastDue        int             `json:"days_past_due"`

	// Behavioural baselines
	Turnover       decimal.Decimal `json:"turnover"`
	AvgTurnover3   decimal.Decimal `json:"avg_turnover_3"`
	AvgITC3        decimal.Decimal `json:"avg_itc_3"`
	AmendmentTrend []int           `json:"amendment_trend"` // oldest first

	Scheme          Scheme          `json:"scheme"`
	FilingFrequency FilingFrequency `json:"filing_frequency"`
	Status          FilingStatus    `json:"status"`
}
