package domain

import (
	"encoding/json"
	"time"
)

// ModelArtifact is a stored, versioned classifier. Immutable once stored apart
// from the active flag; exactly one version per name is active.
type ModelArtifact struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Version      int             `json:"version" db:"version"`
	Payload      []byte          `json:"-" db:"payload"`
	SampleCount  int             `json:"sample_count" db:"sample_count"`
	Accuracy     float64         `json:"accuracy" db:"accuracy"`
	MacroF1      float64         `json:"macro_f1" db:"macro_f1"`
	FeatureNames []string        `json:"feature_names" db:"-"`
	Report       json.RawMessage `json:"report,omitempty" db:"report"`
	Active       bool            `json:"active" db:"active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// RiskModelName is the artifact name under which risk classifiers are versioned
const RiskModelName = "compliance_risk_classifier"
