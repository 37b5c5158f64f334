package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/browser"
	"github.com/xkilldash9x/magpie-cli/internal/checkpoint"
	"github.com/xkilldash9x/magpie-cli/internal/config"
	"github.com/xkilldash9x/magpie-cli/internal/observability"
	"github.com/xkilldash9x/magpie-cli/internal/schedule"
	"github.com/xkilldash9x/magpie-cli/internal/session"
	"github.com/xkilldash9x/magpie-cli/internal/store"
)

// newScheduleCmd creates the `schedule` command: the unattended daemon.
func newScheduleCmd() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Collects once per day at a random instant inside the configured window",
		Long: `Schedule runs until interrupted. Each day it derives an instant inside the
configured wall-clock window, waits for it, and runs one collection session.
Runs are recorded in the history store, and a day that already collected is
never run twice, restarts included.

Interactive checkpoints are refused: unattended means nobody is watching the
terminal. Use checkpoint mode auto, fail or off.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("schedule.window_start", cmd.Flags().Lookup("window-start")); err != nil {
				return err
			}
			if err := viper.BindPFlag("schedule.window_end", cmd.Flags().Lookup("window-end")); err != nil {
				return err
			}
			return viper.BindPFlag("checkpoint.mode", cmd.Flags().Lookup("checkpoint"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if err := cfg.ValidateUnattended(); err != nil {
				return err
			}
			if err := cfg.RequireCredentials(); err != nil {
				return err
			}

			window, err := schedule.NewWindow(cfg.Schedule)
			if err != nil {
				return err
			}

			st, err := store.New(ctx, cfg.Store.Path, window.Location(), logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					logger.Warn("store close", zap.Error(err))
				}
			}()

			gate := checkpoint.New(cfg.Checkpoint, os.Stdin, os.Stdout, logger)

			// Each firing gets a fresh browser; a Chrome idling for a day
			// between sessions is a resource leak with extra steps.
			runner := func(ctx context.Context) (*schemas.RunReport, error) {
				manager := browser.NewManager(cfg.Browser, logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), browserShutdownTimeout)
					defer cancel()
					if err := manager.Shutdown(shutdownCtx); err != nil {
						logger.Warn("browser shutdown", zap.Error(err))
					}
				}()

				orch, err := session.New(cfg, pageOpener(manager), gate, logger)
				if err != nil {
					return nil, err
				}
				return orch.Run(ctx)
			}

			sched, err := schedule.New(window, cfg.Profile.Locale, runner, st, logger)
			if err != nil {
				return err
			}
			return sched.RunForever(ctx)
		},
	}

	scheduleCmd.Flags().String("window-start", "", "Window start as HH:MM. (Overrides config/env)")
	scheduleCmd.Flags().String("window-end", "", "Window end as HH:MM. (Overrides config/env)")
	scheduleCmd.Flags().String("checkpoint", "", "Checkpoint gate mode: auto, fail or off. (Overrides config/env)")

	return scheduleCmd
}
