package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/riskengine/internal/domain"
)

// SourceRepo is the read contract over the caller's books, statements and
// payments. Any storage backend that satisfies it can feed the engine.
type SourceRepo interface {
	// GetPeriod returns the period or an error wrapping domain.ErrNotFound
	GetPeriod(ctx context.Context, periodID string) (*domain.Period, error)

	// LedgerEntries lists self-reported entries of one direction for the period
	LedgerEntries(ctx context.Context, periodID string, direction domain.Direction) ([]domain.LedgerEntry, error)

	// StatementEntries lists the counterparty statement imported for the period
	StatementEntries(ctx context.Context, periodID string) ([]domain.StatementEntry, error)

	// Payments lists tax payments made against the period
	Payments(ctx context.Context, periodID string) ([]domain.PaymentRecord, error)

	// PriorPeriodTotals returns aggregates of up to n earlier periods of the same taxpayer, oldest first
	PriorPeriodTotals(ctx context.Context, periodID string, n int) ([]domain.PriorPeriodTotals, error)

	// TaxpayerScheme returns the registration scheme of a taxpayer
	TaxpayerScheme(ctx context.Context, taxpayerID string) (domain.Scheme, error)
}

// MatchRepo persists reconciliation output. The record set of a period is
// always replaced as a whole.
type MatchRepo interface {
	// ReplaceForPeriod atomically deletes prior records of the period and inserts the new set
	ReplaceForPeriod(ctx context.Context, periodID string, records []domain.MatchRecord) error

	// ListByPeriod returns the current record set of a period
	ListByPeriod(ctx context.Context, periodID string) ([]domain.MatchRecord, error)

	// CountsByPeriod returns per-status counts of the current record set
	CountsByPeriod(ctx context.Context, periodID string) (domain.MatchCounts, error)
}

// AssessmentRepo persists one risk assessment per period
type AssessmentRepo interface {
	// Upsert inserts or replaces the assessment of a period, preserving any recorded outcome
	Upsert(ctx context.Context, assessment *domain.RiskAssessment) error

	// GetByPeriod returns the assessment or an error wrapping domain.ErrNotFound
	GetByPeriod(ctx context.Context, periodID string) (*domain.RiskAssessment, error)

	// ListLabeled returns every assessment with an adjudicated outcome
	ListLabeled(ctx context.Context) ([]domain.RiskAssessment, error)

	// LabelCounts returns the number of labeled assessments per outcome
	LabelCounts(ctx context.Context) (map[domain.OutcomeLabel]int, error)

	// RecordOutcome stores the adjudicated outcome of a period's assessment
	RecordOutcome(ctx context.Context, periodID string, label domain.OutcomeLabel, at time.Time) error
}

// ModelRepo stores versioned classifier artifacts with a single active flag per name
type ModelRepo interface {
	// Store appends a new artifact; the (name, version) pair must be unique
	Store(ctx context.Context, artifact *domain.ModelArtifact) error

	// MaxVersion returns the highest stored version for a name, 0 when none
	MaxVersion(ctx context.Context, name string) (int, error)

	// Get returns the artifact or an error wrapping domain.ErrNotFound
	Get(ctx context.Context, id string) (*domain.ModelArtifact, error)

	// Active returns the active artifact of a name, or nil when none is active
	Active(ctx context.Context, name string) (*domain.ModelArtifact, error)

	// Activate marks the artifact active and deactivates its siblings in one step
	Activate(ctx context.Context, id string) error

	// List returns all versions of a name, newest first
	List(ctx context.Context, name string) ([]domain.ModelArtifact, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Source      SourceRepo
	Matches     MatchRepo
	Assessments AssessmentRepo
	Models      ModelRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error
}
