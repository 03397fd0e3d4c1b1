package memstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/riskengine/internal/domain"
)

// Dataset is the YAML fixture format accepted by LoadDataset
type Dataset struct {
	Taxpayers []datasetTaxpayer `yaml:"taxpayers"`
	Periods   []datasetPeriod   `yaml:"periods"`
}

type datasetTaxpayer struct {
	ID     string        `yaml:"id"`
	GSTIN  string        `yaml:"gstin"`
	Scheme domain.Scheme `yaml:"scheme"`
}

type datasetPeriod struct {
	ID        string                 `yaml:"id"`
	Taxpayer  string                 `yaml:"taxpayer"`
	Start     time.Time              `yaml:"start"`
	End       time.Time              `yaml:"end"`
	Due       time.Time              `yaml:"due"`
	Status    domain.FilingStatus    `yaml:"status"`
	Frequency domain.FilingFrequency `yaml:"frequency"`
	FiledAt   *time.Time             `yaml:"filed_at"`
	Ledger    []datasetLedger        `yaml:"ledger"`
	Statement []datasetStatement     `yaml:"statement"`
	Payments  []datasetPayment       `yaml:"payments"`
}

type datasetTax struct {
	CGST decimal.Decimal `yaml:"cgst"`
	SGST decimal.Decimal `yaml:"sgst"`
	IGST decimal.Decimal `yaml:"igst"`
	Cess decimal.Decimal `yaml:"cess"`
}

func (t datasetTax) components() domain.TaxComponents {
	return domain.TaxComponents{CGST: t.CGST, SGST: t.SGST, IGST: t.IGST, Cess: t.Cess}
}

type datasetLedger struct {
	ID            string           `yaml:"id"`
	Direction     domain.Direction `yaml:"direction"`
	Counterparty  string           `yaml:"counterparty"`
	Document      string           `yaml:"document"`
	Date          *time.Time       `yaml:"date"`
	Taxable       decimal.Decimal  `yaml:"taxable"`
	datasetTax    `yaml:",inline"`
	PlaceOfSupply string `yaml:"place_of_supply"`
	ITCEligible   *bool  `yaml:"itc_eligible"`
	ReverseCharge bool   `yaml:"reverse_charge"`
	BlockedReason string `yaml:"blocked_reason"`
	Amendment     bool   `yaml:"amendment"`
}

type datasetStatement struct {
	ID           string          `yaml:"id"`
	Counterparty string          `yaml:"counterparty"`
	Document     string          `yaml:"document"`
	Date         *time.Time      `yaml:"date"`
	Taxable      decimal.Decimal `yaml:"taxable"`
	datasetTax   `yaml:",inline"`
}

type datasetPayment struct {
	ID     string             `yaml:"id"`
	Amount decimal.Decimal    `yaml:"amount"`
	Mode   domain.PaymentMode `yaml:"mode"`
	PaidAt time.Time          `yaml:"paid_at"`
}

// LoadDatasetFile reads a YAML dataset from disk into a new store
func LoadDatasetFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	defer f.Close()

	return LoadDataset(f)
}

// LoadDataset decodes a YAML dataset into a new store. Purchase entries
// default to ITC-eligible when the flag is omitted.
func LoadDataset(r io.Reader) (*Store, error) {
	var ds Dataset
	if err := yaml.NewDecoder(r).Decode(&ds); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	s := New()
	gstins := make(map[string]string, len(ds.Taxpayers))
	for _, tp := range ds.Taxpayers {
		if tp.ID == "" {
			return nil, errors.New("taxpayer without id")
		}
		gstins[tp.ID] = tp.GSTIN
		if tp.Scheme != "" {
			s.SetScheme(tp.ID, tp.Scheme)
		}
	}

	for _, p := range ds.Periods {
		gstin, ok := gstins[p.Taxpayer]
		if !ok {
			return nil, fmt.Errorf("period %s references unknown taxpayer %q", p.ID, p.Taxpayer)
		}

		period := domain.Period{
			ID:              p.ID,
			TaxpayerID:      p.Taxpayer,
			TaxpayerGSTIN:   gstin,
			Start:           p.Start,
			End:             p.End,
			DueDate:         p.Due,
			Status:          p.Status,
			FilingFrequency: p.Frequency,
			FiledAt:         p.FiledAt,
		}
		if period.Status == "" {
			period.Status = domain.StatusDraft
		}
		if period.FilingFrequency == "" {
			period.FilingFrequency = domain.FrequencyMonthly
		}
		s.PutPeriod(period)

		for _, l := range p.Ledger {
			eligible := l.Direction == domain.DirectionPurchase
			if l.ITCEligible != nil {
				eligible = *l.ITCEligible
			}
			s.AddLedger(domain.LedgerEntry{
				ID:             l.ID,
				PeriodID:       p.ID,
				Direction:      l.Direction,
				CounterpartyID: l.Counterparty,
				DocumentNumber: l.Document,
				DocumentDate:   l.Date,
				TaxableAmount:  l.Taxable,
				TaxComponents:  l.components(),
				PlaceOfSupply:  l.PlaceOfSupply,
				ITCEligible:    eligible,
				ReverseCharge:  l.ReverseCharge,
				BlockedReason:  l.BlockedReason,
				IsAmendment:    l.Amendment,
			})
		}

		statement := make([]domain.StatementEntry, 0, len(p.Statement))
		for _, st := range p.Statement {
			statement = append(statement, domain.StatementEntry{
				ID:             st.ID,
				PeriodID:       p.ID,
				CounterpartyID: st.Counterparty,
				DocumentNumber: st.Document,
				DocumentDate:   st.Date,
				TaxableAmount:  st.Taxable,
				TaxComponents:  st.components(),
			})
		}
		s.ImportStatement(p.ID, statement)

		for _, pay := range p.Payments {
			s.AddPayments(domain.PaymentRecord{
				ID:       pay.ID,
				PeriodID: p.ID,
				Amount:   pay.Amount,
				Mode:     pay.Mode,
				PaidAt:   pay.PaidAt,
			})
		}
	}

	return s, nil
}

// PeriodIDs lists every period in the store ordered by id
func (s *Store) PeriodIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.periods))
	for id := range s.periods {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
