package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/riskengine/internal/infrastructure/cache"
	"github.com/sawpanic/riskengine/internal/infrastructure/db"
	"github.com/sawpanic/riskengine/internal/periodmetrics"
	"github.com/sawpanic/riskengine/internal/score/hybrid"
	"github.com/sawpanic/riskengine/internal/score/ml"
	"github.com/sawpanic/riskengine/internal/training"
)

// Config is the complete engine configuration
type Config struct {
	Database       db.Config            `yaml:"database"`
	Redis          cache.Config         `yaml:"redis"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Scoring        ScoringConfig        `yaml:"scoring"`
	Training       TrainingConfig       `yaml:"training"`
	Log            LogConfig            `yaml:"log"`
	Monitor        MonitorConfig        `yaml:"monitor"`
	// Dataset is a YAML fixture loaded into the in-memory store when the
	// database is disabled
	Dataset string `yaml:"dataset"`
}

// ReconciliationConfig controls statement matching
type ReconciliationConfig struct {
	Tolerance   decimal.Decimal `yaml:"tolerance" validate:"gte=0"`
	Concurrency int             `yaml:"concurrency" validate:"gte=1,lte=64"`
}

// MetricsConfig controls the period metrics snapshot
type MetricsConfig struct {
	HighValueThreshold decimal.Decimal `yaml:"high_value_threshold" validate:"gt=0"`
	HistoryPeriods     int             `yaml:"history_periods" validate:"gte=1,lte=12"`
}

// ScoringConfig controls the rule/ML blend
type ScoringConfig struct {
	BlendWeight float64 `yaml:"blend_weight" validate:"gte=0,lte=1"`
	TopFactors  int     `yaml:"top_factors" validate:"gte=0,lte=30"`
	Concurrency int     `yaml:"concurrency" validate:"gte=1,lte=64"`
}

// TrainingConfig controls the training pipeline
type TrainingConfig struct {
	MinSamples  int           `yaml:"min_samples" validate:"gte=2"`
	MinInterval time.Duration `yaml:"min_interval" validate:"gte=0"`
	Params      ml.Params     `yaml:"params"`
}

// LogConfig controls the global logger
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto console json"`
}

// MonitorConfig controls the metrics and health endpoint
type MonitorConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Default returns the configuration used when no file is present
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Redis:    cache.DefaultConfig(),
		Reconciliation: ReconciliationConfig{
			Tolerance:   decimal.NewFromInt(1),
			Concurrency: 4,
		},
		Metrics: MetricsConfig{
			HighValueThreshold: periodmetrics.DefaultConfig().HighValueThreshold,
			HistoryPeriods:     periodmetrics.DefaultConfig().HistoryPeriods,
		},
		Scoring: ScoringConfig{
			BlendWeight: 0.4,
			TopFactors:  hybrid.DefaultTopFactors,
			Concurrency: 4,
		},
		Training: TrainingConfig{
			MinSamples:  training.DefaultConfig().MinSamples,
			MinInterval: training.DefaultConfig().MinInterval,
			Params:      ml.DefaultParams(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Monitor: MonitorConfig{
			Addr: ":9102",
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks every section against its struct tags
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyEnvOverrides(c *Config) error {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		c.Database.DSN = dsn
		c.Database.Enabled = true
	}
	if err := envBool("PG_ENABLED", &c.Database.Enabled); err != nil {
		return err
	}
	if err := envDuration("PG_QUERY_TIMEOUT", &c.Database.QueryTimeout); err != nil {
		return err
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}

	if tolerance := os.Getenv("RISKENGINE_TOLERANCE"); tolerance != "" {
		d, err := decimal.NewFromString(tolerance)
		if err != nil {
			return fmt.Errorf("invalid RISKENGINE_TOLERANCE %q: %w", tolerance, err)
		}
		c.Reconciliation.Tolerance = d
	}
	if weight := os.Getenv("RISKENGINE_BLEND_WEIGHT"); weight != "" {
		f, err := strconv.ParseFloat(weight, 64)
		if err != nil {
			return fmt.Errorf("invalid RISKENGINE_BLEND_WEIGHT %q: %w", weight, err)
		}
		c.Scoring.BlendWeight = f
	}
	if err := envInt("RISKENGINE_MIN_SAMPLES", &c.Training.MinSamples); err != nil {
		return err
	}
	if err := envDuration("RISKENGINE_TRAIN_INTERVAL", &c.Training.MinInterval); err != nil {
		return err
	}
	if level := os.Getenv("RISKENGINE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("RISKENGINE_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
	if addr := os.Getenv("RISKENGINE_MONITOR_ADDR"); addr != "" {
		c.Monitor.Addr = addr
	}
	if dataset := os.Getenv("RISKENGINE_DATASET"); dataset != "" {
		c.Dataset = dataset
	}

	return nil
}

func envBool(key string, dst *bool) error {
	if raw := os.Getenv(key); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		*dst = val
	}
	return nil
}

func envInt(key string, dst *int) error {
	if raw := os.Getenv(key); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		*dst = val
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	if raw := os.Getenv(key); raw != "" {
		val, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		*dst = val
	}
	return nil
}

// MetricsLoaderConfig converts the metrics section for the loader
func (c *Config) MetricsLoaderConfig() periodmetrics.Config {
	return periodmetrics.Config{
		HighValueThreshold: c.Metrics.HighValueThreshold,
		HistoryPeriods:     c.Metrics.HistoryPeriods,
	}
}

// PipelineConfig converts the training section for the pipeline
func (c *Config) PipelineConfig() training.Config {
	return training.Config{
		ModelName:   training.DefaultConfig().ModelName,
		MinSamples:  c.Training.MinSamples,
		MinInterval: c.Training.MinInterval,
		Params:      c.Training.Params,
	}
}
