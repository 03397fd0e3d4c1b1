package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence"
)

// modelRepo implements ModelRepo for PostgreSQL
type modelRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewModelRepo creates a new PostgreSQL model artifact repository
func NewModelRepo(db *sqlx.DB, timeout time.Duration) persistence.ModelRepo {
	return &modelRepo{
		db:      db,
		timeout: timeout,
	}
}

const artifactColumns = `id, name, version, payload, sample_count, accuracy, macro_f1,
		       feature_names, report, active, created_at`

// Store appends a new, inactive artifact version
func (r *modelRepo) Store(ctx context.Context, a *domain.ModelArtifact) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	namesJSON, err := json.Marshal(nonNil(a.FeatureNames))
	if err != nil {
		return fmt.Errorf("failed to marshal feature names: %w", err)
	}
	var report []byte
	if len(a.Report) > 0 {
		report = a.Report
	}

	query := `
		INSERT INTO model_artifacts
		(id, name, version, payload, sample_count, accuracy, macro_f1, feature_names, report, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10)
		RETURNING created_at`

	err = r.db.QueryRowxContext(ctx, query,
		a.ID, a.Name, a.Version, a.Payload, a.SampleCount, a.Accuracy, a.MacroF1,
		namesJSON, report, a.CreatedAt).
		Scan(&a.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate model version %s v%d: %w", a.Name, a.Version, err)
		}
		return fmt.Errorf("failed to insert model artifact: %w", err)
	}

	a.Active = false
	return nil
}

// MaxVersion returns the highest stored version of a name, 0 when none
func (r *modelRepo) MaxVersion(ctx context.Context, name string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var version int
	err := r.db.QueryRowxContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM model_artifacts WHERE name = $1`, name).
		Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get max model version: %w", err)
	}

	return version, nil
}

// Get returns one artifact by id
func (r *modelRepo) Get(ctx context.Context, id string) (*domain.ModelArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + artifactColumns + ` FROM model_artifacts WHERE id = $1`

	a, err := scanArtifact(r.db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("model artifact %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get model artifact: %w", err)
	}

	return a, nil
}

// Active returns the active artifact of a name, nil when none is active
func (r *modelRepo) Active(ctx context.Context, name string) (*domain.ModelArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + artifactColumns + ` FROM model_artifacts WHERE name = $1 AND active`

	a, err := scanArtifact(r.db.QueryRowxContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active model: %w", err)
	}

	return a, nil
}

// Activate flips the active flag to id within one transaction. An unknown id
// rolls back without touching the current active version.
func (r *modelRepo) Activate(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var name string
	err = tx.QueryRowxContext(ctx, `SELECT name FROM model_artifacts WHERE id = $1 FOR UPDATE`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("model artifact %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to lock model artifact: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE model_artifacts SET active = FALSE WHERE name = $1 AND active`, name); err != nil {
		return fmt.Errorf("failed to deactivate sibling versions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE model_artifacts SET active = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to activate model artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("model artifact %s: %w", id, domain.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}
	return nil
}

// List returns every version of a name, newest first. Payloads are not loaded.
func (r *modelRepo) List(ctx context.Context, name string) ([]domain.ModelArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, name, version, NULL::bytea AS payload, sample_count, accuracy, macro_f1,
		       feature_names, report, active, created_at
		FROM model_artifacts
		WHERE name = $1
		ORDER BY version DESC`

	rows, err := r.db.QueryxContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query model artifacts: %w", err)
	}
	defer rows.Close()

	var out []domain.ModelArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model artifact: %w", err)
		}
		out = append(out, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

func scanArtifact(row rowScanner) (*domain.ModelArtifact, error) {
	var a domain.ModelArtifact
	var namesJSON, report []byte

	err := row.Scan(
		&a.ID, &a.Name, &a.Version, &a.Payload, &a.SampleCount, &a.Accuracy,
		&a.MacroF1, &namesJSON, &report, &a.Active, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(namesJSON) > 0 {
		if err := json.Unmarshal(namesJSON, &a.FeatureNames); err != nil {
			return nil, fmt.Errorf("failed to unmarshal feature names: %w", err)
		}
	}
	if len(report) > 0 {
		a.Report = json.RawMessage(report)
	}

	return &a, nil
}
