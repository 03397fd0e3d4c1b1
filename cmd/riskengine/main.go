package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/riskengine/internal/config"
)

const (
	appName = "riskengine"
	version = "v1.0.0"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	state := &cliState{}

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Periodic tax-filing compliance-risk engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `riskengine reconciles a period's purchase ledger against the counterparty
statement, scores the period's compliance risk with explainable rules blended
with a trained classifier, and manages the classifier's versions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.Log)
			state.config = cfg
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return state.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/riskengine.yaml", "Path to the YAML configuration file")

	rootCmd.AddCommand(
		newReconcileCmd(state),
		newScoreCmd(state),
		newTrainCmd(state),
		newReadinessCmd(state),
		newModelCmd(state),
		newOutcomeCmd(state),
		newMigrateCmd(state),
		newMonitorCmd(state),
	)
	return rootCmd
}

// setupLogging configures the global logger: console output on a terminal,
// JSON otherwise
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := cfg.Format == "console" ||
		(cfg.Format == "auto" && term.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("app", appName).Logger()
	}
}
