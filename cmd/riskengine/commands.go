package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/riskengine/internal/domain"
	httpserver "github.com/sawpanic/riskengine/internal/interfaces/http"
)

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// periodArgs resolves the positional period ids, or every dataset period with --all
func periodArgs(state *cliState, args []string, all bool) ([]string, error) {
	if all {
		return state.allPeriods()
	}
	if len(args) == 0 {
		return nil, errors.New("at least one period id is required (or --all)")
	}
	return args, nil
}

func newReconcileCmd(state *cliState) *cobra.Command {
	var all bool
	var exportPath string

	cmd := &cobra.Command{
		Use:   "reconcile [period-id...]",
		Short: "Match purchase ledger entries against the counterparty statement",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := state.engine(ctx)
			if err != nil {
				return err
			}
			ids, err := periodArgs(state, args, all)
			if err != nil {
				return err
			}
			if exportPath != "" && len(ids) != 1 {
				return errors.New("--export takes exactly one period")
			}

			summaries, err := svc.ReconcileMany(ctx, ids)
			if err != nil {
				return err
			}

			if exportPath != "" {
				f, err := os.Create(exportPath)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer f.Close()
				if err := svc.ExportReconciliation(ctx, ids[0], f); err != nil {
					return err
				}
				log.Info().Str("period", ids[0]).Str("file", exportPath).Msg("Reconciliation exported")
			}
			return printJSON(cmd, summaries)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Reconcile every period in the dataset")
	cmd.Flags().StringVar(&exportPath, "export", "", "Write the reconciliation workbook (xlsx) to this path")
	return cmd
}

func newScoreCmd(state *cliState) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "score [period-id...]",
		Short: "Compute and store the compliance-risk assessment of periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := state.engine(ctx)
			if err != nil {
				return err
			}
			ids, err := periodArgs(state, args, all)
			if err != nil {
				return err
			}
			assessments, err := svc.ScoreMany(ctx, ids)
			if err != nil {
				return err
			}
			return printJSON(cmd, assessments)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Score every period in the dataset")
	return cmd
}

func newTrainCmd(state *cliState) *cobra.Command {
	var promote bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier version from labeled assessments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := state.engine(ctx)
			if err != nil {
				return err
			}
			result, err := svc.Train(ctx, promote)
			if err != nil {
				return err
			}
			log.Info().
				Str("artifact", result.Artifact.ID).
				Int("version", result.Artifact.Version).
				Bool("promoted", result.Promoted).
				Msg("Training completed")
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().BoolVar(&promote, "promote", false, "Activate the new version when it beats the active one")
	return cmd
}

func newReadinessCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "readiness",
		Short: "Report whether enough labeled samples exist to train",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := state.engine(ctx)
			if err != nil {
				return err
			}
			report, err := svc.CheckTrainingReadiness(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func newModelCmd(state *cliState) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect and activate classifier versions",
	}
	cmd.PersistentFlags().StringVar(&name, "name", "", "Model name (defaults to the risk classifier)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "activate <artifact-id>",
			Short: "Make a stored version the active one",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				svc, err := state.engine(ctx)
				if err != nil {
					return err
				}
				if err := svc.ActivateModel(ctx, args[0]); err != nil {
					return err
				}
				log.Info().Str("artifact", args[0]).Msg("Model activated")
				return nil
			},
		},
		&cobra.Command{
			Use:   "active",
			Short: "Show the active version",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				svc, err := state.engine(ctx)
				if err != nil {
					return err
				}
				artifact, err := svc.GetActiveModel(ctx, name)
				if err != nil {
					return err
				}
				return printJSON(cmd, artifact)
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored versions, newest first",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				svc, err := state.engine(ctx)
				if err != nil {
					return err
				}
				artifacts, err := svc.ListModels(ctx, name)
				if err != nil {
					return err
				}
				return printJSON(cmd, artifacts)
			},
		},
	)
	return cmd
}

func newOutcomeCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcome",
		Short: "Manage adjudicated outcomes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "record <period-id> <label>",
		Short: "Record the outcome label of a scored period (low_risk, moderate_changes, major_changes)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := state.engine(ctx)
			if err != nil {
				return err
			}
			if err := svc.RecordOutcome(ctx, args[0], domain.OutcomeLabel(args[1])); err != nil {
				return err
			}
			log.Info().Str("period", args[0]).Str("label", args[1]).Msg("Outcome recorded")
			return nil
		},
	})
	return cmd
}

func newMigrateCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !state.config.Database.Enabled {
				return errors.New("database persistence is disabled")
			}
			if _, err := state.engine(ctx); err != nil {
				return err
			}
			if err := state.db.Migrate(ctx); err != nil {
				return err
			}
			log.Info().Msg("Schema applied")
			return nil
		},
	}
}

func newMonitorCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Serve health, metrics and read-only assessment endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := state.engine(ctx)
			if err != nil {
				return err
			}

			server := httpserver.NewServer(
				httpserver.DefaultServerConfig(state.config.Monitor.Addr),
				svc,
				state.telemetry.Gatherer(),
				state.healthChecks()...,
			)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func (s *cliState) healthChecks() []httpserver.Check {
	var checks []httpserver.Check
	if s.db != nil {
		health := s.db.Health()
		checks = append(checks, httpserver.Check{Name: "postgres", Probe: health.Ping})
	}
	if s.redis != nil {
		client, modelCache := s.redis, s.modelCache
		checks = append(checks, httpserver.Check{
			Name: "redis",
			Probe: func(ctx context.Context) error {
				if state := modelCache.BreakerState(); state == "open" {
					return fmt.Errorf("circuit breaker %s", state)
				}
				return client.Ping(ctx).Err()
			},
		})
	}
	return checks
}
