package domain

import (
	"fmt"
	"time"
)

// Level is both a flag severity and an assessment risk level
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Rank orders levels from LOW (0) to CRITICAL (3)
func (l Level) Rank() int {
	switch l {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast returns the higher of l and floor
func (l Level) AtLeast(floor Level) Level {
	if l.Rank() < floor.Rank() {
		return floor
	}
	return l
}

// Category identifies one of the five weighted rule categories
type Category string

const (
	CategoryDataQuality    Category = "A"
	CategoryReconciliation Category = "B"
	CategoryLiability      Category = "C"
	CategoryBehavioral     Category = "D"
	CategoryStructural     Category = "E"
)

// Categories lists the categories in evaluation order
var Categories = []Category{
	CategoryDataQuality,
	CategoryReconciliation,
	CategoryLiability,
	CategoryBehavioral,
	CategoryStructural,
}

// Cap returns the maximum points a category may contribute
func (c Category) Cap() int {
	switch c {
	case CategoryDataQuality:
		return 20
	case CategoryReconciliation:
		return 35
	case CategoryLiability:
		return 20
	case CategoryBehavioral:
		return 15
	case CategoryStructural:
		return 10
	}
	return 0
}

// RiskFlag is one explainable finding raised by the rule engine
type RiskFlag struct {
	Code     string   `json:"code"`
	Category Category `json:"category"`
	Severity Level    `json:"severity"`
	Points   int      `json:"points"`
	Evidence string   `json:"evidence"`
}

// CategoryScores holds the capped score of each category
type CategoryScores struct {
	DataQuality    int `json:"data_quality" db:"data_quality"`
	Reconciliation int `json:"reconciliation" db:"reconciliation"`
	Liability      int `json:"liability" db:"liability"`
	Behavioral     int `json:"behavioral" db:"behavioral"`
	Structural     int `json:"structural" db:"structural"`
}

// Get returns the score of one category
func (s CategoryScores) Get(c Category) int {
	switch c {
	case CategoryDataQuality:
		return s.DataQuality
	case CategoryReconciliation:
		return s.Reconciliation
	case CategoryLiability:
		return s.Liability
	case CategoryBehavioral:
		return s.Behavioral
	case CategoryStructural:
		return s.Structural
	}
	return 0
}

// Set assigns the score of one category
func (s *CategoryScores) Set(c Category, v int) {
	switch c {
	case CategoryDataQuality:
		s.DataQuality = v
	case CategoryReconciliation:
		s.Reconciliation = v
	case CategoryLiability:
		s.Liability = v
	case CategoryBehavioral:
		s.Behavioral = v
	case CategoryStructural:
		s.Structural = v
	}
}

// Sum adds all category scores
func (s CategoryScores) Sum() int {
	return s.DataQuality + s.Reconciliation + s.Liability + s.Behavioral + s.Structural
}

// OutcomeLabel is the adjudicated result recorded for a scored period
type OutcomeLabel string

const (
	OutcomeLowRisk         OutcomeLabel = "low_risk"
	OutcomeModerateChanges OutcomeLabel = "moderate_changes"
	OutcomeMajorChanges    OutcomeLabel = "major_changes"
)

// OutcomeLabels lists the classifier classes in index order
var OutcomeLabels = []OutcomeLabel{OutcomeLowRisk, OutcomeModerateChanges, OutcomeMajorChanges}

// RiskValue is the fixed risk-point value a class contributes to the ML score
func (o OutcomeLabel) RiskValue() float64 {
	switch o {
	case OutcomeLowRisk:
		return 15
	case OutcomeModerateChanges:
		return 55
	case OutcomeMajorChanges:
		return 90
	}
	return 0
}

// Index returns the class index of the label, or -1 when unknown
func (o OutcomeLabel) Index() int {
	for i, l := range OutcomeLabels {
		if l == o {
			return i
		}
	}
	return -1
}

// ParseOutcomeLabel validates a label string
func ParseOutcomeLabel(s string) (OutcomeLabel, error) {
	l := OutcomeLabel(s)
	if l.Index() < 0 {
		return "", fmt.Errorf("unknown outcome label %q", s)
	}
	return l, nil
}

// ScoringMode records which path produced an assessment
type ScoringMode string

const (
	ModeRuleOnly ScoringMode = "rule_only"
	ModeHybrid   ScoringMode = "hybrid"
)

// TopFactor is one feature attribution surfaced with an ML-assisted assessment
type TopFactor struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// MLDetails carries the model-derived fields of a hybrid assessment
type MLDetails struct {
	MLScore      int         `json:"ml_score"`
	Confidence   float64     `json:"confidence"`
	BlendWeight  float64     `json:"blend_weight"`
	ModelVersion int         `json:"model_version"`
	PredictedAs  string      `json:"predicted_as"`
	TopFactors   []TopFactor `json:"top_factors,omitempty"`
}

// RiskAssessment is the per-period scoring result. One per period, upserted.
type RiskAssessment struct {
	ID                 string         `json:"id"`
	PeriodID           string         `json:"period_id"`
	TotalScore         int            `json:"total_score"`
	RuleScore          int            `json:"rule_score"`
	Level              Level          `json:"level"`
	Categories         CategoryScores `json:"categories"`
	Flags              []RiskFlag     `json:"flags"`
	RecommendedActions []string       `json:"recommended_actions"`
	Mode               ScoringMode    `json:"mode"`
	ML                 *MLDetails     `json:"ml,omitempty"`
	Outcome            *OutcomeLabel  `json:"outcome,omitempty"`
	OutcomeAt          *time.Time     `json:"outcome_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// HasCritical reports whether any flag is CRITICAL
func (a *RiskAssessment) HasCritical() bool {
	return HasCritical(a.Flags)
}

// HasCritical reports whether any flag in the slice is CRITICAL
func HasCritical(flags []RiskFlag) bool {
	for _, f := range flags {
		if f.Severity == LevelCritical {
			return true
		}
	}
	return false
}

// LevelForScore maps a 0-100 score onto the level thresholds
func LevelForScore(score int) Level {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 45:
		return LevelHigh
	case score >= 20:
		return LevelMedium
	default:
		return LevelLow
	}
}

// FinalLevel applies the score thresholds and the CRITICAL-flag floor
func FinalLevel(score int, flags []RiskFlag) Level {
	level := LevelForScore(score)
	if HasCritical(flags) {
		level = level.AtLeast(LevelHigh)
	}
	return level
}
