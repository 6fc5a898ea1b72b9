package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"liveclass/internal/app"
	"liveclass/internal/config"
)

// configEnvVar names the config file when --config is not given.
const configEnvVar = "LIVECLASS_CONFIG_FILE"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "liveclass",
		Short: "Live session lifecycle service",
		Long: `liveclass schedules live class sessions against a video provider,
advances them through their lifecycle, manages rosters and streams
session events to subscribers.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"YAML config file (default $"+configEnvVar+"); environment overrides defaults, the file overrides both")

	cmd.AddCommand(newServeCmd(opts), newSweepCmd(opts), newMigrateCmd(opts))
	return cmd
}

// load resolves configuration and the process logger.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(configEnvVar)
	}
	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event streams and cleanup worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApplication(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			if err := application.Start(ctx); err != nil {
				_ = application.Close()
				return err
			}

			<-ctx.Done()
			logger.Info("received shutdown signal")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return application.Stop(shutdownCtx)
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one cleanup pass and print its report",
		Long: `sweep advances overdue sessions, expires sessions past their grace
period and purges expired rows older than the retention window, then exits.
It takes the same lease as the serve worker, so it is safe to run from cron
next to running servers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			defer application.Close()

			report, sweepErr := application.Sweep(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return sweepErr
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			db, err := app.OpenDatabase(&cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.Database.DatabasePath)
			return nil
		},
	}
}
