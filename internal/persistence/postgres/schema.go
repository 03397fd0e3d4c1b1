package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema creates every table the engine reads or writes. Statements are
// idempotent so Migrate can run on each deploy.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS taxpayers (
		id     TEXT PRIMARY KEY,
		gstin  TEXT NOT NULL UNIQUE,
		scheme TEXT NOT NULL DEFAULT 'regular' CHECK (scheme IN ('regular', 'composition', 'qrmp'))
	)`,
	`CREATE TABLE IF NOT EXISTS periods (
		id               TEXT PRIMARY KEY,
		taxpayer_id      TEXT NOT NULL REFERENCES taxpayers(id),
		period_start     DATE NOT NULL,
		period_end       DATE NOT NULL,
		due_date         DATE NOT NULL,
		status           TEXT NOT NULL CHECK (status IN ('draft', 'data_ready', 'filed', 'closed')),
		filing_frequency TEXT NOT NULL DEFAULT 'monthly',
		filed_at         TIMESTAMPTZ,
		UNIQUE (taxpayer_id, period_start)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id              TEXT PRIMARY KEY,
		period_id       TEXT NOT NULL REFERENCES periods(id),
		direction       TEXT NOT NULL CHECK (direction IN ('purchase', 'sales')),
		counterparty_id TEXT NOT NULL DEFAULT '',
		document_number TEXT NOT NULL,
		document_date   DATE,
		taxable_amount  NUMERIC(18,2) NOT NULL,
		cgst            NUMERIC(18,2) NOT NULL DEFAULT 0,
		sgst            NUMERIC(18,2) NOT NULL DEFAULT 0,
		igst            NUMERIC(18,2) NOT NULL DEFAULT 0,
		cess            NUMERIC(18,2) NOT NULL DEFAULT 0,
		place_of_supply TEXT NOT NULL DEFAULT '',
		itc_eligible    BOOLEAN NOT NULL DEFAULT FALSE,
		reverse_charge  BOOLEAN NOT NULL DEFAULT FALSE,
		blocked_reason  TEXT,
		is_amendment    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_period_direction_idx ON ledger_entries (period_id, direction)`,
	`CREATE TABLE IF NOT EXISTS statement_entries (
		id              TEXT PRIMARY KEY,
		period_id       TEXT NOT NULL REFERENCES periods(id),
		counterparty_id TEXT NOT NULL,
		document_number TEXT NOT NULL,
		document_date   DATE,
		taxable_amount  NUMERIC(18,2) NOT NULL,
		cgst            NUMERIC(18,2) NOT NULL DEFAULT 0,
		sgst            NUMERIC(18,2) NOT NULL DEFAULT 0,
		igst            NUMERIC(18,2) NOT NULL DEFAULT 0,
		cess            NUMERIC(18,2) NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS statement_entries_period_idx ON statement_entries (period_id)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id        TEXT PRIMARY KEY,
		period_id TEXT NOT NULL REFERENCES periods(id),
		amount    NUMERIC(18,2) NOT NULL,
		mode      TEXT NOT NULL CHECK (mode IN ('cash', 'credit_ledger')),
		paid_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS match_records (
		id                 TEXT PRIMARY KEY,
		period_id          TEXT NOT NULL REFERENCES periods(id),
		run_id             TEXT NOT NULL,
		statement_entry_id TEXT,
		ledger_entry_id    TEXT,
		match_status       TEXT NOT NULL,
		diff               JSONB,
		taxable_amount     NUMERIC(18,2) NOT NULL,
		tax_amount         NUMERIC(18,2) NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS match_records_period_idx ON match_records (period_id)`,
	`CREATE TABLE IF NOT EXISTS risk_assessments (
		id                  TEXT PRIMARY KEY,
		period_id           TEXT NOT NULL UNIQUE REFERENCES periods(id),
		total_score         INTEGER NOT NULL CHECK (total_score BETWEEN 0 AND 100),
		rule_score          INTEGER NOT NULL CHECK (rule_score BETWEEN 0 AND 100),
		level               TEXT NOT NULL,
		categories          JSONB NOT NULL,
		flags               JSONB NOT NULL,
		recommended_actions JSONB NOT NULL,
		mode                TEXT NOT NULL,
		ml                  JSONB,
		outcome             TEXT CHECK (outcome IN ('low_risk', 'moderate_changes', 'major_changes')),
		outcome_at          TIMESTAMPTZ,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS model_artifacts (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		version       INTEGER NOT NULL,
		payload       BYTEA NOT NULL,
		sample_count  INTEGER NOT NULL,
		accuracy      DOUBLE PRECISION NOT NULL,
		macro_f1      DOUBLE PRECISION NOT NULL,
		feature_names JSONB NOT NULL,
		report        JSONB,
		active        BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (name, version)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS model_artifacts_one_active_idx ON model_artifacts (name) WHERE active`,
}

// Migrate applies Schema in a single transaction
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range Schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}

	return tx.Commit()
}
