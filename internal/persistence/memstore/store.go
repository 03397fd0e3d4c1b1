// Package memstore is an in-memory implementation of the persistence
// interfaces, used for offline runs and tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence"
)

// Store keeps every table in maps guarded by a single mutex
type Store struct {
	mu sync.RWMutex

	periods    map[string]domain.Period
	ledger     map[string][]domain.LedgerEntry
	statements map[string][]domain.StatementEntry
	payments   map[string][]domain.PaymentRecord
	schemes    map[string]domain.Scheme

	matches     map[string][]domain.MatchRecord
	assessments map[string]domain.RiskAssessment
	models      map[string]domain.ModelArtifact
}

// New creates an empty store
func New() *Store {
	return &Store{
		periods:     make(map[string]domain.Period),
		ledger:      make(map[string][]domain.LedgerEntry),
		statements:  make(map[string][]domain.StatementEntry),
		payments:    make(map[string][]domain.PaymentRecord),
		schemes:     make(map[string]domain.Scheme),
		matches:     make(map[string][]domain.MatchRecord),
		assessments: make(map[string]domain.RiskAssessment),
		models:      make(map[string]domain.ModelArtifact),
	}
}

// Repository returns the store wired as every repository
func (s *Store) Repository() *persistence.Repository {
	return &persistence.Repository{
		Source:      s,
		Matches:     s,
		Assessments: s,
		Models:      s,
	}
}

// Seeding

// PutPeriod adds or replaces a period
func (s *Store) PutPeriod(p domain.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods[p.ID] = p
}

// AddLedger appends ledger entries to their periods
func (s *Store) AddLedger(entries ...domain.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.ledger[e.PeriodID] = append(s.ledger[e.PeriodID], e)
	}
}

// ImportStatement replaces the statement of a period
func (s *Store) ImportStatement(periodID string, entries []domain.StatementEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements[periodID] = append([]domain.StatementEntry(nil), entries...)
}

// AddPayments appends payment records to their periods
func (s *Store) AddPayments(records ...domain.PaymentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.payments[r.PeriodID] = append(s.payments[r.PeriodID], r)
	}
}

// SetScheme assigns a taxpayer's scheme
func (s *Store) SetScheme(taxpayerID string, scheme domain.Scheme) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemes[taxpayerID] = scheme
}

// SourceRepo

func (s *Store) GetPeriod(ctx context.Context, periodID string) (*domain.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.periods[periodID]
	if !ok {
		return nil, fmt.Errorf("period %s: %w", periodID, domain.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) LedgerEntries(ctx context.Context, periodID string, direction domain.Direction) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range s.ledger[periodID] {
		if e.Direction == direction {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) StatementEntries(ctx context.Context, periodID string) ([]domain.StatementEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.StatementEntry(nil), s.statements[periodID]...), nil
}

func (s *Store) Payments(ctx context.Context, periodID string) ([]domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.PaymentRecord(nil), s.payments[periodID]...), nil
}

func (s *Store) PriorPeriodTotals(ctx context.Context, periodID string, n int) ([]domain.PriorPeriodTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, ok := s.periods[periodID]
	if !ok {
		return nil, fmt.Errorf("period %s: %w", periodID, domain.ErrNotFound)
	}

	var prior []domain.Period
	for _, p := range s.periods {
		if p.TaxpayerID == current.TaxpayerID && p.Start.Before(current.Start) {
			prior = append(prior, p)
		}
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].Start.After(prior[j].Start) })
	if len(prior) > n {
		prior = prior[:n]
	}

	out := make([]domain.PriorPeriodTotals, 0, len(prior))
	for i := len(prior) - 1; i >= 0; i-- {
		p := prior[i]
		t := domain.PriorPeriodTotals{
			PeriodID:    p.ID,
			PeriodStart: p.Start,
			Turnover:    decimal.Zero,
			ITCClaimed:  decimal.Zero,
		}
		for _, e := range s.ledger[p.ID] {
			if e.IsAmendment {
				t.AmendmentCount++
			}
			switch e.Direction {
			case domain.DirectionSales:
				t.Turnover = t.Turnover.Add(e.TaxableAmount)
			case domain.DirectionPurchase:
				if e.ITCEligible && e.BlockedReason == "" {
					t.ITCClaimed = t.ITCClaimed.Add(e.TaxComponents.Total())
				}
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) TaxpayerScheme(ctx context.Context, taxpayerID string) (domain.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if scheme, ok := s.schemes[taxpayerID]; ok {
		return scheme, nil
	}
	return domain.SchemeRegular, nil
}

// MatchRepo

func (s *Store) ReplaceForPeriod(ctx context.Context, periodID string, records []domain.MatchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[periodID] = append([]domain.MatchRecord(nil), records...)
	return nil
}

func (s *Store) ListByPeriod(ctx context.Context, periodID string) ([]domain.MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MatchRecord(nil), s.matches[periodID]...), nil
}

func (s *Store) CountsByPeriod(ctx context.Context, periodID string) (domain.MatchCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c domain.MatchCounts
	for _, r := range s.matches[periodID] {
		switch r.Status {
		case domain.MatchMatched:
			c.Matched++
		case domain.MatchValueMismatch:
			c.ValueMismatch++
		case domain.MatchMissingInBooks:
			c.MissingInBooks++
		case domain.MatchMissingIn2B:
			c.MissingIn2B++
		}
	}
	return c, nil
}

// AssessmentRepo

func (s *Store) Upsert(ctx context.Context, a *domain.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *a
	if prev, ok := s.assessments[a.PeriodID]; ok {
		stored.ID = prev.ID
		stored.CreatedAt = prev.CreatedAt
		if stored.Outcome == nil {
			stored.Outcome = prev.Outcome
			stored.OutcomeAt = prev.OutcomeAt
		}
	}
	s.assessments[a.PeriodID] = cloneAssessment(stored)
	*a = stored
	return nil
}

func (s *Store) GetByPeriod(ctx context.Context, periodID string) (*domain.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[periodID]
	if !ok {
		return nil, fmt.Errorf("assessment for period %s: %w", periodID, domain.ErrNotFound)
	}
	a = cloneAssessment(a)
	return &a, nil
}

func (s *Store) ListLabeled(ctx context.Context) ([]domain.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RiskAssessment
	for _, a := range s.assessments {
		if a.Outcome != nil {
			out = append(out, cloneAssessment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodID < out[j].PeriodID })
	return out, nil
}

func (s *Store) LabelCounts(ctx context.Context) (map[domain.OutcomeLabel]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.OutcomeLabel]int)
	for _, a := range s.assessments {
		if a.Outcome != nil {
			counts[*a.Outcome]++
		}
	}
	return counts, nil
}

func (s *Store) RecordOutcome(ctx context.Context, periodID string, label domain.OutcomeLabel, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[periodID]
	if !ok {
		return fmt.Errorf("assessment for period %s: %w", periodID, domain.ErrNotFound)
	}
	a.Outcome = &label
	a.OutcomeAt = &at
	s.assessments[periodID] = a
	return nil
}

// ModelRepo

func (s *Store) Store(ctx context.Context, a *domain.ModelArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.models {
		if m.Name == a.Name && m.Version == a.Version {
			return fmt.Errorf("model %s version %d already stored", a.Name, a.Version)
		}
	}
	stored := *a
	stored.Active = false
	stored.Payload = append([]byte(nil), a.Payload...)
	stored.FeatureNames = append([]string(nil), a.FeatureNames...)
	s.models[a.ID] = stored
	a.Active = false
	return nil
}

func (s *Store) MaxVersion(ctx context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, m := range s.models {
		if m.Name == name && m.Version > max {
			max = m.Version
		}
	}
	return max, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.ModelArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("model artifact %s: %w", id, domain.ErrNotFound)
	}
	m = cloneArtifact(m)
	return &m, nil
}

func (s *Store) Active(ctx context.Context, name string) (*domain.ModelArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.models {
		if m.Name == name && m.Active {
			m = cloneArtifact(m)
			return &m, nil
		}
	}
	return nil, nil
}

func (s *Store) Activate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.models[id]
	if !ok {
		return fmt.Errorf("model artifact %s: %w", id, domain.ErrNotFound)
	}
	for key, m := range s.models {
		if m.Name == target.Name {
			m.Active = key == id
			s.models[key] = m
		}
	}
	return nil
}

func (s *Store) List(ctx context.Context, name string) ([]domain.ModelArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ModelArtifact
	for _, m := range s.models {
		if m.Name == name {
			out = append(out, cloneArtifact(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// cloneAssessment copies the slices and pointers of an assessment so callers
// never share state with the store
func cloneAssessment(a domain.RiskAssessment) domain.RiskAssessment {
	a.Flags = slices.Clone(a.Flags)
	a.RecommendedActions = slices.Clone(a.RecommendedActions)
	if a.ML != nil {
		ml := *a.ML
		ml.TopFactors = slices.Clone(a.ML.TopFactors)
		a.ML = &ml
	}
	if a.Outcome != nil {
		outcome := *a.Outcome
		a.Outcome = &outcome
	}
	if a.OutcomeAt != nil {
		at := *a.OutcomeAt
		a.OutcomeAt = &at
	}
	return a
}

func cloneArtifact(m domain.ModelArtifact) domain.ModelArtifact {
	m.Payload = slices.Clone(m.Payload)
	m.FeatureNames = slices.Clone(m.FeatureNames)
	m.Report = slices.Clone(m.Report)
	return m
}
