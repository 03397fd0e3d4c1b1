package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence"
)

// sourceRepo implements SourceRepo over the books, statement and payment tables
type sourceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSourceRepo creates a new PostgreSQL source repository
func NewSourceRepo(db *sqlx.DB, timeout time.Duration) persistence.SourceRepo {
	return &sourceRepo{
		db:      db,
		timeout: timeout,
	}
}

// GetPeriod returns the period joined with its taxpayer's GSTIN
func (r *sourceRepo) GetPeriod(ctx context.Context, periodID string) (*domain.Period, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT p.id, p.taxpayer_id, t.gstin AS taxpayer_gstin, p.period_start, p.period_end,
		       p.due_date, p.status, p.filing_frequency, p.filed_at
		FROM periods p
		JOIN taxpayers t ON t.id = p.taxpayer_id
		WHERE p.id = $1`

	var period domain.Period
	if err := r.db.GetContext(ctx, &period, query, periodID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("period %s: %w", periodID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get period: %w", err)
	}

	return &period, nil
}

// LedgerEntries lists entries of one direction in document order
func (r *sourceRepo) LedgerEntries(ctx context.Context, periodID string, direction domain.Direction) ([]domain.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, period_id, direction, counterparty_id, document_number, document_date,
		       taxable_amount, cgst, sgst, igst, cess, place_of_supply, itc_eligible,
		       reverse_charge, COALESCE(blocked_reason, '') AS blocked_reason, is_amendment
		FROM ledger_entries
		WHERE period_id = $1 AND direction = $2
		ORDER BY id`

	var entries []domain.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, periodID, direction); err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}

	return entries, nil
}

// StatementEntries lists the imported counterparty statement of a period
func (r *sourceRepo) StatementEntries(ctx context.Context, periodID string) ([]domain.StatementEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, period_id, counterparty_id, document_number, document_date,
		       taxable_amount, cgst, sgst, igst, cess
		FROM statement_entries
		WHERE period_id = $1
		ORDER BY id`

	var entries []domain.StatementEntry
	if err := r.db.SelectContext(ctx, &entries, query, periodID); err != nil {
		return nil, fmt.Errorf("failed to query statement entries: %w", err)
	}

	return entries, nil
}

// Payments lists payments made against a period
func (r *sourceRepo) Payments(ctx context.Context, periodID string) ([]domain.PaymentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, period_id, amount, mode, paid_at
		FROM payments
		WHERE period_id = $1
		ORDER BY paid_at`

	var payments []domain.PaymentRecord
	if err := r.db.SelectContext(ctx, &payments, query, periodID); err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}

	return payments, nil
}

// PriorPeriodTotals aggregates up to n earlier periods of the same taxpayer, oldest first
func (r *sourceRepo) PriorPeriodTotals(ctx context.Context, periodID string, n int) ([]domain.PriorPeriodTotals, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		WITH cur AS (
			SELECT taxpayer_id, period_start FROM periods WHERE id = $1
		), prior AS (
			SELECT p.id, p.period_start
			FROM periods p, cur
			WHERE p.taxpayer_id = cur.taxpayer_id AND p.period_start < cur.period_start
			ORDER BY p.period_start DESC
			LIMIT $2
		)
		SELECT pr.id AS period_id, pr.period_start,
		       COALESCE(SUM(l.taxable_amount) FILTER (WHERE l.direction = 'sales'), 0) AS turnover,
		       COALESCE(SUM(l.cgst + l.sgst + l.igst + l.cess) FILTER (
		           WHERE l.direction = 'purchase' AND l.itc_eligible AND COALESCE(l.blocked_reason, '') = ''
		       ), 0) AS itc_claimed,
		       COUNT(l.id) FILTER (WHERE l.is_amendment) AS amendment_count
		FROM prior pr
		LEFT JOIN ledger_entries l ON l.period_id = pr.id
		GROUP BY pr.id, pr.period_start
		ORDER BY pr.period_start ASC`

	var totals []domain.PriorPeriodTotals
	if err := r.db.SelectContext(ctx, &totals, query, periodID, n); err != nil {
		return nil, fmt.Errorf("failed to query prior period totals: %w", err)
	}

	return totals, nil
}

// TaxpayerScheme returns the registration scheme, regular when unknown
func (r *sourceRepo) TaxpayerScheme(ctx context.Context, taxpayerID string) (domain.Scheme, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var scheme domain.Scheme
	err := r.db.QueryRowxContext(ctx, `SELECT scheme FROM taxpayers WHERE id = $1`, taxpayerID).Scan(&scheme)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SchemeRegular, nil
		}
		return "", fmt.Errorf("failed to get taxpayer scheme: %w", err)
	}

	return scheme, nil
}
