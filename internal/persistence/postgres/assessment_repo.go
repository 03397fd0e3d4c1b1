package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/riskengine/internal/domain"
	"github.com/sawpanic/riskengine/internal/persistence"
)

// assessmentRepo implements AssessmentRepo for PostgreSQL
type assessmentRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAssessmentRepo creates a new PostgreSQL assessment repository
func NewAssessmentRepo(db *sqlx.DB, timeout time.Duration) persistence.AssessmentRepo {
	return &assessmentRepo{
		db:      db,
		timeout: timeout,
	}
}

const assessmentColumns = `id, period_id, total_score, rule_score, level, categories, flags,
		       recommended_actions, mode, ml, outcome, outcome_at, created_at, updated_at`

// Upsert inserts or replaces the assessment of a period. The row id, creation
// time and any recorded outcome survive a re-score.
func (r *assessmentRepo) Upsert(ctx context.Context, a *domain.RiskAssessment) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	categoriesJSON, err := json.Marshal(a.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}
	flagsJSON, err := json.Marshal(nonNil(a.Flags))
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}
	actionsJSON, err := json.Marshal(nonNil(a.RecommendedActions))
	if err != nil {
		return fmt.Errorf("failed to marshal recommended actions: %w", err)
	}
	var mlJSON []byte
	if a.ML != nil {
		if mlJSON, err = json.Marshal(a.ML); err != nil {
			return fmt.Errorf("failed to marshal ml details: %w", err)
		}
	}

	query := `
		INSERT INTO risk_assessments
		(id, period_id, total_score, rule_score, level, categories, flags,
		 recommended_actions, mode, ml, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (period_id) DO UPDATE SET
			total_score = EXCLUDED.total_score,
			rule_score = EXCLUDED.rule_score,
			level = EXCLUDED.level,
			categories = EXCLUDED.categories,
			flags = EXCLUDED.flags,
			recommended_actions = EXCLUDED.recommended_actions,
			mode = EXCLUDED.mode,
			ml = EXCLUDED.ml,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, outcome, outcome_at`

	var outcome sql.NullString
	err = r.db.QueryRowxContext(ctx, query,
		a.ID, a.PeriodID, a.TotalScore, a.RuleScore, a.Level, categoriesJSON, flagsJSON,
		actionsJSON, a.Mode, mlJSON, a.UpdatedAt).
		Scan(&a.ID, &a.CreatedAt, &outcome, &a.OutcomeAt)
	if err != nil {
		return fmt.Errorf("failed to upsert risk assessment: %w", err)
	}

	a.Outcome = outcomePtr(outcome)
	return nil
}

// GetByPeriod returns the assessment of a period
func (r *assessmentRepo) GetByPeriod(ctx context.Context, periodID string) (*domain.RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments WHERE period_id = $1`

	a, err := scanAssessment(r.db.QueryRowxContext(ctx, query, periodID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("assessment for period %s: %w", periodID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get risk assessment: %w", err)
	}

	return a, nil
}

// ListLabeled returns every assessment with an adjudicated outcome
func (r *assessmentRepo) ListLabeled(ctx context.Context) ([]domain.RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + assessmentColumns + `
		FROM risk_assessments
		WHERE outcome IS NOT NULL
		ORDER BY period_id`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query labeled assessments: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		out = append(out, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// LabelCounts returns the number of labeled assessments per outcome
func (r *assessmentRepo) LabelCounts(ctx context.Context) (map[domain.OutcomeLabel]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT outcome, COUNT(*)
		FROM risk_assessments
		WHERE outcome IS NOT NULL
		GROUP BY outcome
		ORDER BY outcome`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count labeled assessments: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OutcomeLabel]int)
	for rows.Next() {
		var label domain.OutcomeLabel
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts[label] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

// RecordOutcome stores the adjudicated outcome of a period's assessment
func (r *assessmentRepo) RecordOutcome(ctx context.Context, periodID string, label domain.OutcomeLabel, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE risk_assessments SET outcome = $2, outcome_at = $3 WHERE period_id = $1`,
		periodID, label, at)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("assessment for period %s: %w", periodID, domain.ErrNotFound)
	}

	return nil
}

// Helper methods

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssessment(row rowScanner) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var categoriesJSON, flagsJSON, actionsJSON, mlJSON []byte
	var outcome sql.NullString

	err := row.Scan(
		&a.ID, &a.PeriodID, &a.TotalScore, &a.RuleScore, &a.Level, &categoriesJSON,
		&flagsJSON, &actionsJSON, &a.Mode, &mlJSON, &outcome, &a.OutcomeAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(categoriesJSON, &a.Categories); err != nil {
		return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
	}
	if err := json.Unmarshal(flagsJSON, &a.Flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &a.RecommendedActions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommended actions: %w", err)
	}
	if len(mlJSON) > 0 {
		a.ML = &domain.MLDetails{}
		if err := json.Unmarshal(mlJSON, a.ML); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ml details: %w", err)
		}
	}
	a.Outcome = outcomePtr(outcome)

	return &a, nil
}

func outcomePtr(s sql.NullString) *domain.OutcomeLabel {
	if !s.Valid {
		return nil
	}
	label := domain.OutcomeLabel(s.String)
	return &label
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
