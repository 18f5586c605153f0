// Package cmd defines and implements the CLI commands for the sourcer executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/api"
	"github.com/JakeFAU/catalog-image-sourcer/internal/catalogsync"
	"github.com/JakeFAU/catalog-image-sourcer/internal/config"
	"github.com/JakeFAU/catalog-image-sourcer/internal/logging"
	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
	"github.com/JakeFAU/catalog-image-sourcer/internal/server"
	"github.com/JakeFAU/catalog-image-sourcer/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context, req api.RunRequest, emit progress.Emitter) (worker.Summary, error)
	Sync(ctx context.Context, opts catalogsync.Options, emit progress.Emitter) (catalogsync.Report, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// overrides collects flag values that take precedence over the config file.
type overrides struct {
	cfgFile   string
	outputDir string
	ledger    string
	publish   bool
	apply     bool
	port      int
}

func (o *overrides) applyTo(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.Sourcing.OutputDir = o.outputDir
	}
	if flags.Changed("ledger") {
		cfg.Sourcing.Ledger = o.ledger
	}
	if flags.Changed("publish") && o.publish {
		cfg.Publication.Enabled = true
	}
	if flags.Changed("apply") && o.apply {
		cfg.Publication.Enabled = true
	}
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &overrides{}
	cmd := &cobra.Command{
		Use:   "sourcer",
		Short: "Sources product images for a catalog.",
		Long: `sourcer finds a representative image for every item in a product catalog.
It queries several image-search backends, ranks candidates by how closely
their titles match the product name, downloads the best match, and can
publish it to a WordPress/WooCommerce store. Runs are recorded in an
append-only ledger and resume where they left off. The sync command uses
the store itself as the catalog.`,
		SilenceUsage: true,

		// Builds the application once flags are parsed and stores it in the
		// command context for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFiles(); err != nil {
				return err
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			if err := opts.applyTo(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.New(logging.Config(cfg.Logging))
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), &cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
