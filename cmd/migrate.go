package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newMigrateCmd creates the 'migrate' subcommand.
func newMigrateCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the catalog schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := resolveState(cmd.Context())
			if err != nil {
				return err
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}

			m, err := newMigrator(st.cfg, st.logger)
			if err != nil {
				return fmt.Errorf("init migrations: %w", err)
			}
			defer func() {
				if cerr := m.Close(); cerr != nil {
					st.logger.Warn("close migrations failed", zap.Error(cerr))
				}
			}()

			if direction == "down" {
				err = m.Down(steps)
			} else {
				err = m.Up()
			}
			if err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}

			version, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			st.logger.Info("schema migrated", zap.String("direction", direction), zap.Uint("version", version), zap.Bool("dirty", dirty))
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back with down")
	return cmd
}
