package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/technosupport/ts-alarms/internal/daemon"
	"github.com/technosupport/ts-alarms/internal/platform/service"
)

// serviceName is the Windows service and event log source name.
const serviceName = "TS-Alarms"

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides log_level from the config file.
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "alarmd",
		Short: "Ingest camera alarms, debounce them and publish clean edges.",
		Long: `Connects to every configured camera over the Hikvision alert stream and/or
ONVIF pull-point subscriptions, debounces the notifications into rising and
falling edges, and publishes them to NATS, Redis, the Postgres journal and the
live feed. The config file is watched and camera changes are applied live.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return service.Run(ctx, serviceName, func(ctx context.Context) error {
				return daemon.Run(ctx, &daemon.Options{ConfigPath: configPath, LogLevel: logLevel})
			})
		},
	}
)

// Execute runs the alarmd CLI and exits with non-zero status on error.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default: platform config path)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(tokenCmd, migrateCmd, sealCmd)
}
