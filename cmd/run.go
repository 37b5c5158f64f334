package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/browser"
	"github.com/xkilldash9x/magpie-cli/internal/checkpoint"
	"github.com/xkilldash9x/magpie-cli/internal/config"
	"github.com/xkilldash9x/magpie-cli/internal/observability"
	"github.com/xkilldash9x/magpie-cli/internal/session"
	"github.com/xkilldash9x/magpie-cli/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	browserShutdownTimeout = 15 * time.Second
	recordTimeout          = 10 * time.Second
)

// newRunCmd creates the `run` command: one collection session, right now.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a single coin collection session immediately",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind override flags so they win over file and env values.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("checkpoint.mode", cmd.Flags().Lookup("checkpoint"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Reload so the PreRunE flag bindings take effect.
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if err := cfg.RequireCredentials(); err != nil {
				return err
			}

			reportPath, _ := cmd.Flags().GetString("report")

			manager := browser.NewManager(cfg.Browser, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), browserShutdownTimeout)
				defer cancel()
				if err := manager.Shutdown(shutdownCtx); err != nil {
					logger.Warn("browser shutdown", zap.Error(err))
				}
			}()

			gate := checkpoint.New(cfg.Checkpoint, os.Stdin, os.Stdout, logger)
			orch, err := session.New(cfg, pageOpener(manager), gate, logger)
			if err != nil {
				return err
			}

			report, runErr := orch.Run(ctx)
			recordRun(cfg, report, logger)

			if reportPath != "" {
				if err := writeReport(report, reportPath); err != nil {
					return err
				}
				logger.Info("run report written", zap.String("path", reportPath))
			}

			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					logger.Warn("session aborted", zap.String("run_id", report.RunID))
				}
				return runErr
			}

			if report.Collected {
				fmt.Printf("\nCoins collected. Run %s took %s.\n",
					report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
			} else {
				fmt.Printf("\nSession finished without collecting. Run %s.\n", report.RunID)
			}
			return nil
		},
	}

	runCmd.Flags().StringP("report", "r", "", "Write the run report JSON to this file.")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().String("checkpoint", config.CheckpointInteractive,
		"Checkpoint gate mode: interactive, auto, fail or off. (Overrides config/env)")

	return runCmd
}

// pageOpener adapts the browser manager to the opener the session expects.
func pageOpener(m *browser.Manager) session.PageOpener {
	return func(ctx context.Context, prof schemas.FingerprintProfile) (session.Page, error) {
		return m.NewPage(ctx, prof)
	}
}

// recordRun persists the run to the history store. Best effort: a storage
// problem must not change the outcome of a session that already happened.
func recordRun(cfg *config.Config, report *schemas.RunReport, logger *zap.Logger) {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		loc = time.Local
	}

	// The session context may already be dead; recording gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	st, err := store.New(ctx, cfg.Store.Path, loc, logger)
	if err != nil {
		logger.Warn("run history unavailable", zap.Error(err))
		return
	}
	defer st.Close()

	if err := st.RecordRun(ctx, report); err != nil {
		logger.Warn("run not recorded", zap.Error(err))
	}
}

// writeReport dumps the run report as indented JSON.
func writeReport(report *schemas.RunReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing run report: %w", err)
	}
	return nil
}
