// Package cmd defines and implements the CLI commands of the menuingest
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-menu-ingest/internal/app"
	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/config"
	"github.com/JakeFAU/realtime-menu-ingest/internal/exporter"
	"github.com/JakeFAU/realtime-menu-ingest/internal/logging"
	"github.com/JakeFAU/realtime-menu-ingest/internal/storage/migrations"
)

// stateKeyType is the key for storing the loaded state in the context.
type stateKeyType string

const stateKey stateKeyType = "state"

// state is what PersistentPreRunE prepares for every subcommand.
type state struct {
	cfg    config.Config
	logger *zap.Logger
}

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context, kinds []catalog.Kind) ([]catalog.RunSummary, error)
	Export(ctx context.Context) ([]exporter.Artifact, error)
	Serve(ctx context.Context, addr string) error
	Close()
}

// Migrator applies schema migrations.
type Migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newMigrator builds the schema migrator; replaced in tests.
var newMigrator = func(cfg config.Config, logger *zap.Logger) (Migrator, error) {
	if err := cfg.RequireDSN(); err != nil {
		return nil, err
	}
	return migrations.New(cfg.DB.DSN, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "menuingest",
		Short: "Fetch restaurant listings, menus and tags into Postgres.",
		Long: `menuingest walks locations, restaurants, menus and tags from the upstream
API into Postgres. Every unit is fetched through a rate gate and committed in
its own transaction together with its completion marker, so an interrupted run
resumes where it stopped.`,
		SilenceUsage: true,

		// Load configuration and the logger once for every subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), stateKey, &state{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if st, ok := cmd.Context().Value(stateKey).(*state); ok {
				_ = st.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newExportCmd())
	return cmd
}

func resolveState(ctx context.Context) (*state, error) {
	st, ok := ctx.Value(stateKey).(*state)
	if !ok || st == nil {
		return nil, errors.New("configuration not loaded")
	}
	return st, nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "menuingest:", err)
		os.Exit(1)
	}
}
