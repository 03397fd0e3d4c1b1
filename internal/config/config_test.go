package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riskengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Reconciliation.Tolerance.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 0.4, cfg.Scoring.BlendWeight)
	assert.Equal(t, 50, cfg.Training.MinSamples)
	assert.Equal(t, 10*time.Minute, cfg.Training.MinInterval)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
reconciliation:
  tolerance: 0.50
scoring:
  blend_weight: 0.25
training:
  min_samples: 80
  min_interval: 30m
  params:
    rounds: 100
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Reconciliation.Tolerance.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 0.25, cfg.Scoring.BlendWeight)
	assert.Equal(t, 80, cfg.Training.MinSamples)
	assert.Equal(t, 30*time.Minute, cfg.Training.MinInterval)
	assert.Equal(t, 100, cfg.Training.Params.Rounds)
	// untouched keys keep their defaults
	assert.Equal(t, 0.1, cfg.Training.Params.LearningRate)
	assert.Equal(t, 3, cfg.Metrics.HistoryPeriods)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://risk@localhost/risk?sslmode=disable")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("RISKENGINE_BLEND_WEIGHT", "0.6")
	t.Setenv("RISKENGINE_TOLERANCE", "2.5")
	t.Setenv("RISKENGINE_MIN_SAMPLES", "20")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres://risk@localhost/risk?sslmode=disable", cfg.Database.DSN)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 0.6, cfg.Scoring.BlendWeight)
	assert.True(t, cfg.Reconciliation.Tolerance.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, 20, cfg.PipelineConfig().MinSamples)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "blend weight above one", body: "scoring:\n  blend_weight: 1.5\n"},
		{name: "negative tolerance", body: "reconciliation:\n  tolerance: -1\n"},
		{name: "unknown log level", body: "log:\n  level: loud\n"},
		{name: "bad learning rate", body: "training:\n  params:\n    learning_rate: 0\n"},
		{name: "redis enabled without address", body: "redis:\n  enabled: true\n  addr: \"\"\n"},
		{name: "malformed yaml", body: "scoring: [\n"},
		{name: "bad env value", body: "", env: map[string]string{"RISKENGINE_MIN_SAMPLES": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.Metrics.HistoryPeriods = 6
	cfg.Training.MinSamples = 12

	assert.Equal(t, 6, cfg.MetricsLoaderConfig().HistoryPeriods)
	pc := cfg.PipelineConfig()
	assert.Equal(t, 12, pc.MinSamples)
	assert.Equal(t, "compliance_risk_classifier", pc.ModelName)
}
