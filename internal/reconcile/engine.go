package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence"
	"github.com/sawpanic/riskengine/internal/telemetry"
)

// Engine runs reconciliation for a period and persists the resulting record set
type Engine struct {
	source  persistence.SourceRepo
	matches persistence.MatchRepo
	matcher *Matcher
	metrics *telemetry.Registry
}

// NewEngine creates a reconciliation engine
func NewEngine(source persistence.SourceRepo, matches persistence.MatchRepo, matcher *Matcher, metrics *telemetry.Registry) *Engine {
	return &Engine{
		source:  source,
		matches: matches,
		matcher: matcher,
		metrics: metrics,
	}
}

// Reconcile matches the period's purchase ledger against its statement and
// replaces the period's match records. Nothing is written when loading fails.
func (e *Engine) Reconcile(ctx context.Context, periodID string) (*domain.ReconciliationSummary, error) {
	timer := e.metrics.StartStepTimer("reconcile")

	summary, err := e.reconcile(ctx, periodID)
	if err != nil {
		timer.Stop("error")
		e.metrics.RecordReconcile("error", nil)
		return nil, err
	}

	timer.Stop("ok")
	e.metrics.RecordReconcile("ok", map[string]int{
		string(domain.MatchMatched):        summary.Matched.Count,
		string(domain.MatchValueMismatch):  summary.ValueMismatch.Count,
		string(domain.MatchMissingInBooks): summary.MissingInBooks.Count,
		string(domain.MatchMissingIn2B):    summary.MissingIn2B.Count,
	})
	return summary, nil
}

func (e *Engine) reconcile(ctx context.Context, periodID string) (*domain.ReconciliationSummary, error) {
	if _, err := e.source.GetPeriod(ctx, periodID); err != nil {
		return nil, fmt.Errorf("failed to load period %s: %w", periodID, err)
	}

	ledger, err := e.source.LedgerEntries(ctx, periodID, domain.DirectionPurchase)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}

	statement, err := e.source.StatementEntries(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to load statement entries: %w", err)
	}

	runID := uuid.NewString()
	records := e.matcher.Match(periodID, runID, ledger, statement)

	if err := e.matches.ReplaceForPeriod(ctx, periodID, records); err != nil {
		return nil, fmt.Errorf("failed to replace match records: %w", err)
	}

	summary := Summarize(periodID, runID, records, e.matcher.Now().UTC())

	log.Info().
		Str("period_id", periodID).
		Str("run_id", runID).
		Int("ledger_entries", len(ledger)).
		Int("statement_entries", len(statement)).
		Int("matched", summary.Matched.Count).
		Int("value_mismatch", summary.ValueMismatch.Count).
		Int("missing_in_books", summary.MissingInBooks.Count).
		Int("missing_in_2b", summary.MissingIn2B.Count).
		Msg("Reconciliation completed")

	return summary, nil
}
