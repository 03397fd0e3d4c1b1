package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/riskengine/internal/domain"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var ts = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

func TestSourceRepo_GetPeriod(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSourceRepo(db, time.Second)

	rows := sqlmock.NewRows([]string{"id", "taxpayer_id", "taxpayer_gstin", "period_start", "period_end", "due_date", "status", "filing_frequency", "filed_at"}).
		AddRow("p-1", "tp-1", "29AAAAA0000A1Z5", ts, ts.AddDate(0, 1, -1), ts.AddDate(0, 1, 19), "draft", "monthly", nil)
	mock.ExpectQuery(q("FROM periods p")).WithArgs("p-1").WillReturnRows(rows)

	p, err := repo.GetPeriod(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "29", p.StateCode())
	assert.Equal(t, domain.StatusDraft, p.Status)
	assert.Nil(t, p.FiledAt)

	mock.ExpectQuery(q("FROM periods p")).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = repo.GetPeriod(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepo_LedgerEntries(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSourceRepo(db, time.Second)

	rows := sqlmock.NewRows([]string{"id", "period_id", "direction", "counterparty_id", "document_number", "document_date",
		"taxable_amount", "cgst", "sgst", "igst", "cess", "place_of_supply", "itc_eligible", "reverse_charge", "blocked_reason", "is_amendment"}).
		AddRow("l-1", "p-1", "purchase", "29BBBBB1111B1Z1", "INV-1", ts, "1000.00", "90.00", "90.00", "0", "0", "29", true, false, "", false)
	mock.ExpectQuery(q("FROM ledger_entries")).WithArgs("p-1", domain.DirectionPurchase).WillReturnRows(rows)

	entries, err := repo.LedgerEntries(context.Background(), "p-1", domain.DirectionPurchase)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].TaxableAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, entries[0].TaxComponents.Total().Equal(decimal.NewFromInt(180)))
	assert.True(t, entries[0].ITCEligible)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepo_PriorPeriodTotals(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSourceRepo(db, time.Second)

	rows := sqlmock.NewRows([]string{"period_id", "period_start", "turnover", "itc_claimed", "amendment_count"}).
		AddRow("p-0", ts.AddDate(0, -2, 0), "5000", "400", 1).
		AddRow("p-1", ts.AddDate(0, -1, 0), "7000", "600", 2)
	mock.ExpectQuery(q("WITH cur AS")).WithArgs("p-2", 3).WillReturnRows(rows)

	totals, err := repo.PriorPeriodTotals(context.Background(), "p-2", 3)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "p-0", totals[0].PeriodID)
	assert.Equal(t, 2, totals[1].AmendmentCount)
	assert.True(t, totals[1].Turnover.Equal(decimal.NewFromInt(7000)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepo_TaxpayerSchemeDefaultsToRegular(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSourceRepo(db, time.Second)

	mock.ExpectQuery(q("SELECT scheme FROM taxpayers")).WithArgs("tp-x").WillReturnRows(sqlmock.NewRows([]string{"scheme"}))
	scheme, err := repo.TaxpayerScheme(context.Background(), "tp-x")
	require.NoError(t, err)
	assert.Equal(t, domain.SchemeRegular, scheme)

	mock.ExpectQuery(q("SELECT scheme FROM taxpayers")).WithArgs("tp-c").
		WillReturnRows(sqlmock.NewRows([]string{"scheme"}).AddRow("composition"))
	scheme, err = repo.TaxpayerScheme(context.Background(), "tp-c")
	require.NoError(t, err)
	assert.Equal(t, domain.SchemeComposition, scheme)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }

func TestMatchRepo_ReplaceForPeriod(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMatchRepo(db, time.Second)

	records := []domain.MatchRecord{
		{ID: "m-1", RunID: "run", StatementEntryID: strPtr("s-1"), LedgerEntryID: strPtr("l-1"), Status: domain.MatchMatched,
			TaxableAmount: decimal.NewFromInt(100), TaxAmount: decimal.NewFromInt(18), CreatedAt: ts},
		{ID: "m-2", RunID: "run", LedgerEntryID: strPtr("l-2"), Status: domain.MatchMissingIn2B,
			TaxableAmount: decimal.NewFromInt(50), TaxAmount: decimal.NewFromInt(9), CreatedAt: ts},
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM match_records WHERE period_id = $1")).WithArgs("p-1").WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare(q("INSERT INTO match_records"))
	prep.ExpectExec().WithArgs("m-1", "p-1", "run", sqlmock.AnyArg(), sqlmock.AnyArg(), domain.MatchMatched,
		sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), ts).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("m-2", "p-1", "run", sqlmock.AnyArg(), sqlmock.AnyArg(), domain.MatchMissingIn2B,
		sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), ts).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceForPeriod(context.Background(), "p-1", records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchRepo_ReplaceRollsBackOnFailure(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMatchRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM match_records")).WithArgs("p-1").WillReturnResult(sqlmock.NewResult(0, 3))
	prep := mock.ExpectPrepare(q("INSERT INTO match_records"))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.ReplaceForPeriod(context.Background(), "p-1", []domain.MatchRecord{{ID: "m-1", Status: domain.MatchMatched}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "m-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchRepo_ListAndCount(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMatchRepo(db, time.Second)

	rows := sqlmock.NewRows([]string{"id", "period_id", "run_id", "statement_entry_id", "ledger_entry_id", "match_status", "diff", "taxable_amount", "tax_amount", "created_at"}).
		AddRow("m-1", "p-1", "run", "s-1", "l-1", "value_mismatch", []byte(`[{"field":"taxable_amount","self":"100","counterparty":"150"}]`), "100", "18", ts).
		AddRow("m-2", "p-1", "run", nil, "l-2", "missing_in_2b", nil, "50", "9", ts)
	mock.ExpectQuery(q("FROM match_records")).WithArgs("p-1").WillReturnRows(rows)

	records, err := repo.ListByPeriod(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, records[0].Diff, 1)
	assert.Equal(t, domain.FieldTaxable, records[0].Diff[0].Field)
	assert.True(t, records[0].Diff[0].Counterparty.Equal(decimal.NewFromInt(150)))
	assert.Nil(t, records[1].StatementEntryID)
	assert.Empty(t, records[1].Diff)

	mock.ExpectQuery(q("COUNT(*) FILTER")).WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"matched", "value_mismatch", "missing_in_books", "missing_in_2b"}).AddRow(7, 1, 2, 2))
	counts, err := repo.CountsByPeriod(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchCounts{Matched: 7, ValueMismatch: 1, MissingInBooks: 2, MissingIn2B: 2}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var assessmentCols = []string{"id", "period_id", "total_score", "rule_score", "level", "categories", "flags",
	"recommended_actions", "mode", "ml", "outcome", "outcome_at", "created_at", "updated_at"}

func TestAssessmentRepo_UpsertPreservesOutcome(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAssessmentRepo(db, time.Second)

	a := &domain.RiskAssessment{
		ID:         "new-id",
		PeriodID:   "p-1",
		TotalScore: 52,
		RuleScore:  40,
		Level:      domain.LevelHigh,
		Mode:       domain.ModeHybrid,
		ML:         &domain.MLDetails{MLScore: 70, BlendWeight: 0.4, ModelVersion: 2},
		UpdatedAt:  ts,
	}

	mock.ExpectQuery(q("ON CONFLICT (period_id) DO UPDATE")).
		WithArgs("new-id", "p-1", 52, 40, domain.LevelHigh, sqlmock.AnyArg(), []byte("[]"), []byte("[]"),
			domain.ModeHybrid, sqlmock.AnyArg(), ts).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "outcome", "outcome_at"}).
			AddRow("old-id", ts.AddDate(0, -1, 0), "major_changes", ts.AddDate(0, 0, -3)))

	require.NoError(t, repo.Upsert(context.Background(), a))
	assert.Equal(t, "old-id", a.ID)
	require.NotNil(t, a.Outcome)
	assert.Equal(t, domain.OutcomeMajorChanges, *a.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssessmentRepo_GetByPeriod(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAssessmentRepo(db, time.Second)

	rows := sqlmock.NewRows(assessmentCols).AddRow(
		"a-1", "p-1", 12, 12, "HIGH",
		[]byte(`{"data_quality":0,"reconciliation":0,"liability":12,"behavioral":0,"structural":0}`),
		[]byte(`[{"code":"LATE_FILING_SEVERE","category":"C","severity":"CRITICAL","points":12,"evidence":"return is 35 days past due"}]`),
		[]byte(`["File the return"]`), "rule_only", nil, nil, nil, ts, ts)
	mock.ExpectQuery(q("FROM risk_assessments WHERE period_id = $1")).WithArgs("p-1").WillReturnRows(rows)

	a, err := repo.GetByPeriod(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 12, a.Categories.Liability)
	require.Len(t, a.Flags, 1)
	assert.Equal(t, domain.LevelCritical, a.Flags[0].Severity)
	assert.Nil(t, a.ML)
	assert.Nil(t, a.Outcome)
	assert.Nil(t, a.OutcomeAt)

	mock.ExpectQuery(q("FROM risk_assessments WHERE period_id = $1")).WithArgs("p-9").WillReturnRows(sqlmock.NewRows(assessmentCols))
	_, err = repo.GetByPeriod(context.Background(), "p-9")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssessmentRepo_RecordOutcome(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAssessmentRepo(db, time.Second)

	mock.ExpectExec(q("UPDATE risk_assessments SET outcome")).
		WithArgs("p-1", domain.OutcomeLowRisk, ts).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RecordOutcome(context.Background(), "p-1", domain.OutcomeLowRisk, ts))

	mock.ExpectExec(q("UPDATE risk_assessments SET outcome")).
		WithArgs("p-9", domain.OutcomeLowRisk, ts).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.RecordOutcome(context.Background(), "p-9", domain.OutcomeLowRisk, ts)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssessmentRepo_LabelCounts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAssessmentRepo(db, time.Second)

	mock.ExpectQuery(q("GROUP BY outcome")).WillReturnRows(sqlmock.NewRows([]string{"outcome", "count"}).
		AddRow("low_risk", 30).AddRow("major_changes", 4))

	counts, err := repo.LabelCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[domain.OutcomeLabel]int{domain.OutcomeLowRisk: 30, domain.OutcomeMajorChanges: 4}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRepo_Activate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewModelRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT name FROM model_artifacts WHERE id = $1 FOR UPDATE")).WithArgs("m-2").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow(domain.RiskModelName))
	mock.ExpectExec(q("SET active = FALSE WHERE name = $1")).WithArgs(domain.RiskModelName).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("SET active = TRUE WHERE id = $1")).WithArgs("m-2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Activate(context.Background(), "m-2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRepo_ActivateUnknownRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewModelRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectRollback()

	err := repo.Activate(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRepo_StoreAndActive(t *testing.T) {
	db, mock := newMock(t)
	repo := NewModelRepo(db, time.Second)

	a := &domain.ModelArtifact{ID: "m-3", Name: domain.RiskModelName, Version: 3, Payload: []byte("{}"),
		SampleCount: 60, Accuracy: 0.8, MacroF1: 0.75, FeatureNames: []string{"a", "b"}, CreatedAt: ts}
	mock.ExpectQuery(q("INSERT INTO model_artifacts")).
		WithArgs("m-3", domain.RiskModelName, 3, []byte("{}"), 60, 0.8, 0.75, []byte(`["a","b"]`), sqlmock.AnyArg(), ts).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(ts))
	require.NoError(t, repo.Store(context.Background(), a))
	assert.False(t, a.Active)

	mock.ExpectQuery(q("WHERE name = $1 AND active")).WithArgs(domain.RiskModelName).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	active, err := repo.Active(context.Background(), domain.RiskModelName)
	require.NoError(t, err)
	assert.Nil(t, active)

	mock.ExpectQuery(q("COALESCE(MAX(version), 0)")).WithArgs(domain.RiskModelName).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(3))
	version, err := repo.MaxVersion(context.Background(), domain.RiskModelName)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModelRepo_List(t *testing.T) {
	db, mock := newMock(t)
	repo := NewModelRepo(db, time.Second)

	cols := []string{"id", "name", "version", "payload", "sample_count", "accuracy", "macro_f1", "feature_names", "report", "active", "created_at"}
	mock.ExpectQuery(q("ORDER BY version DESC")).WithArgs(domain.RiskModelName).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m-2", domain.RiskModelName, 2, nil, 80, 0.9, 0.88, []byte(`["a"]`), []byte(`{"accuracy":0.9}`), true, ts).
			AddRow("m-1", domain.RiskModelName, 1, nil, 50, 0.8, 0.7, []byte(`["a"]`), nil, false, ts))

	list, err := repo.List(context.Background(), domain.RiskModelName)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].Version)
	assert.True(t, list[0].Active)
	assert.Equal(t, []string{"a"}, list[1].FeatureNames)
	assert.Empty(t, list[1].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}
