package domain

import "time"

// FilingStatus tracks where a period sits in the filing lifecycle
type FilingStatus string

const (
	StatusDraft     FilingStatus = "draft"
	StatusDataReady FilingStatus = "data_ready"
	StatusFiled     FilingStatus = "filed"
	StatusClosed    FilingStatus = "closed"
)

// IsOpen reports whether the return has not been filed yet
func (s FilingStatus) IsOpen() bool {
	return s == StatusDraft || s == StatusDataReady
}

// FilingFrequency is the cadence at which returns are filed for a period
type FilingFrequency string

const (
	FrequencyMonthly   FilingFrequency = "monthly"
	FrequencyQuarterly FilingFrequency = "quarterly"
)

// Scheme is the taxpayer's registration scheme
type Scheme string

const (
	SchemeRegular     Scheme = "regular"
	SchemeComposition Scheme = "composition"
	SchemeQRMP        Scheme = "qrmp" // quarterly return, monthly payment
)

// ITCProhibited reports whether input tax credit may not be claimed under the scheme
func (s Scheme) ITCProhibited() bool {
	return s == SchemeComposition
}

// ExpectedFrequency returns the filing cadence the scheme requires
func (s Scheme) ExpectedFrequency() FilingFrequency {
	switch s {
	case SchemeComposition, SchemeQRMP:
		return FrequencyQuarterly
	default:
		return FrequencyMonthly
	}
}

// Period is a fixed filing interval scoped to one taxpayer identity
type Period struct {
	ID              string          `json:"id" db:"id"`
	TaxpayerID      string          `json:"taxpayer_id" db:"taxpayer_id"`
	TaxpayerGSTIN   string          `json:"taxpayer_gstin" db:"taxpayer_gstin"`
	Start           time.Time       `json:"start" db:"period_start"`
	End             time.Time       `json:"end" db:"period_end"`
	DueDate         time.Time       `json:"due_date" db:"due_date"`
	Status          FilingStatus    `json:"status" db:"status"`
	FilingFrequency FilingFrequency `json:"filing_frequency" db:"filing_frequency"`
	FiledAt         *time.Time      `json:"filed_at,omitempty" db:"filed_at"`
}

// StateCode returns the two-character state prefix of the taxpayer's GSTIN
func (p Period) StateCode() string {
	if len(p.TaxpayerGSTIN) < 2 {
		return ""
	}
	return p.TaxpayerGSTIN[:2]
}
