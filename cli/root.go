// Package cli wires the quantflow subcommands. Every command shares one
// App, configured by the persistent pre-run hook before the command body
// executes.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quantflow/config"
	"quantflow/logger"
	"quantflow/rawstore"
)

// App holds the state shared by every subcommand: the loaded
// configuration and the raw store rooted at the configured data
// directory.
type App struct {
	configPath string

	cfg   *config.Config
	store *rawstore.Store
	log   *logger.Log
}

// Execute runs the command line with the given context. The context is
// cancelled on shutdown signals so long runs stop between fetches.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the root command and attaches all subcommands.
func NewRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:   "quantflow",
		Short: "Market data ingestion and consolidation pipeline",
		Long: `Quantflow lands raw market data from the provider API into per-endpoint
parquet files, consolidates them into deduplicated final tables, and tracks
failed calls so they can be replayed without refetching everything.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "config/config.yml", "path to the configuration file")

	rootCmd.AddCommand(newIngestCmd(app))
	rootCmd.AddCommand(newTransformCmd(app))
	rootCmd.AddCommand(newQualityCmd(app))
	rootCmd.AddCommand(newCleanCmd(app))
	rootCmd.AddCommand(newGetCmd(app))
	rootCmd.AddCommand(newFailuresCmd(app))

	return rootCmd
}

// setup loads the configuration, configures logging and opens the raw
// store. It runs once before any subcommand body.
func (a *App) setup(ctx context.Context) error {
	log := logger.GetLogger()

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}

	log.WithEnv("APP_ENV").WithFields(logger.Fields{
		"service": cfg.Quantflow.Name,
		"version": cfg.Quantflow.Version,
	}).Info("starting quantflow")

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
		logger.InitCloudWatch(cfg.Storage.S3.Region, "", cfg.Logging.DashboardName)
	}

	store := rawstore.NewStore(cfg.Pipeline.DataRoot, cfg.Storage)
	if cfg.Storage.S3.Enabled {
		mirror, err := rawstore.NewMirror(ctx, cfg.Storage.S3, cfg.Quantflow.Version, cfg.Storage.Compression)
		if err != nil {
			return fmt.Errorf("failed to create S3 mirror: %w", err)
		}
		store = store.WithMirror(mirror)
	}

	a.cfg = cfg
	a.store = store
	a.log = log
	return nil
}

// parseDate parses a YYYY-MM-DD flag value. Empty values stay zero so
// callers can treat the bound as unset.
func parseDate(flagName, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q, want YYYY-MM-DD", flagName, value)
	}
	return t, nil
}
