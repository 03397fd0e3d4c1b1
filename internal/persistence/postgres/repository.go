package postgres

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/riskengine/internal/persistence"
)

// NewRepository wires every PostgreSQL repository on one connection pool
func NewRepository(db *sqlx.DB, timeout time.Duration) *persistence.Repository {
	return &persistence.Repository{
		Source:      NewSourceRepo(db, timeout),
		Matches:     NewMatchRepo(db, timeout),
		Assessments: NewAssessmentRepo(db, timeout),
		Models:      NewModelRepo(db, timeout),
	}
}
