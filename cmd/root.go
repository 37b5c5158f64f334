// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/internal/config"
	"github.com/xkilldash9x/magpie-cli/internal/observability"
)

var cfgFile string

// newRootCmd builds the full command tree. Tests build pristine trees per
// case; production uses the package-level rootCmd below.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "magpie",
		Short: "Magpie collects the AliExpress daily coin reward with a human touch.",
		Long: `Magpie drives a mobile-emulated Chrome through the AliExpress daily coin
flow: open the coin page, sign in when needed, tap collect. Every interaction
is paced by a seeded human timing model, and the schedule command repeats the
whole thing once per day at a random instant inside a configured window.

Account credentials are read from MAGPIE_EMAIL and MAGPIE_PASSWORD only.`,
		// Version is set at build time. See cmd/version.go.
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before every command: config first, then the logger.
			if err := initializeConfig(); err != nil {
				return err
			}

			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				// Fall back to a console logger so the config failure itself
				// lands somewhere readable.
				observability.InitializeLogger(observability.Config{Level: "info", Format: "console"})
				return err
			}

			observability.InitializeLogger(cfg.Logging)
			observability.GetLogger().Info("starting magpie", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./magpie.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newRunCmd(),
		newScheduleCmd(),
		newProfilesCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

var rootCmd = newRootCmd()

// Main is the shared process entry used by both main packages: signal
// wiring, command execution, exit code mapping. An interrupt mid-session is
// a clean exit; the session was abandoned on purpose.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx); err != nil {
		stop()
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// Execute runs the root command under the given signal-aware context.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	return rootCmd.ExecuteContext(ctx)
}

// initializeConfig reads the config file and ENV variables into the global
// viper instance.
func initializeConfig() error {
	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("magpie")
		v.SetConfigType("yaml")
	}

	config.SetDefaults(v)

	v.SetEnvPrefix("MAGPIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}
	return nil
}
