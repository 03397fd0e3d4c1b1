package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence"
)

// matchRepo implements MatchRepo for PostgreSQL
type matchRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMatchRepo creates a new PostgreSQL match record repository
func NewMatchRepo(db *sqlx.DB, timeout time.Duration) persistence.MatchRepo {
	return &matchRepo{
		db:      db,
		timeout: timeout,
	}
}

// ReplaceForPeriod deletes the period's records and inserts the new set in one transaction
func (r *matchRepo) ReplaceForPeriod(ctx context.Context, periodID string, records []domain.MatchRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(records)/500+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_records WHERE period_id = $1`, periodID); err != nil {
		return fmt.Errorf("failed to delete prior match records: %w", err)
	}

	if len(records) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO match_records
			(id, period_id, run_id, statement_entry_id, ledger_entry_id, match_status,
			 diff, taxable_amount, tax_amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			var diffJSON []byte
			if len(rec.Diff) > 0 {
				if diffJSON, err = json.Marshal(rec.Diff); err != nil {
					return fmt.Errorf("failed to marshal diff: %w", err)
				}
			}

			_, err = stmt.ExecContext(ctx,
				rec.ID, periodID, rec.RunID, rec.StatementEntryID, rec.LedgerEntryID,
				rec.Status, diffJSON, rec.TaxableAmount, rec.TaxAmount, rec.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert match record %s: %w", rec.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match records: %w", err)
	}
	return nil
}

// ListByPeriod returns the current record set, statement-linked records first
func (r *matchRepo) ListByPeriod(ctx context.Context, periodID string) ([]domain.MatchRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, period_id, run_id, statement_entry_id, ledger_entry_id, match_status,
		       diff, taxable_amount, tax_amount, created_at
		FROM match_records
		WHERE period_id = $1
		ORDER BY statement_entry_id IS NULL, statement_entry_id, ledger_entry_id`

	rows, err := r.db.QueryxContext(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match records: %w", err)
	}
	defer rows.Close()

	var records []domain.MatchRecord
	for rows.Next() {
		var rec domain.MatchRecord
		var diffJSON []byte
		err := rows.Scan(
			&rec.ID, &rec.PeriodID, &rec.RunID, &rec.StatementEntryID, &rec.LedgerEntryID,
			&rec.Status, &diffJSON, &rec.TaxableAmount, &rec.TaxAmount, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match record: %w", err)
		}
		if len(diffJSON) > 0 {
			if err := json.Unmarshal(diffJSON, &rec.Diff); err != nil {
				return nil, fmt.Errorf("failed to unmarshal diff: %w", err)
			}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// CountsByPeriod returns per-status counts of the current record set
func (r *matchRepo) CountsByPeriod(ctx context.Context, periodID string) (domain.MatchCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT
			COUNT(*) FILTER (WHERE match_status = 'matched')          AS matched,
			COUNT(*) FILTER (WHERE match_status = 'value_mismatch')   AS value_mismatch,
			COUNT(*) FILTER (WHERE match_status = 'missing_in_books') AS missing_in_books,
			COUNT(*) FILTER (WHERE match_status = 'missing_in_2b')    AS missing_in_2b
		FROM match_records
		WHERE period_id = $1`

	var counts domain.MatchCounts
	if err := r.db.GetContext(ctx, &counts, query, periodID); err != nil {
		return domain.MatchCounts{}, fmt.Errorf("failed to count match records: %w", err)
	}

	return counts, nil
}
