package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newExportCmd creates the 'export' subcommand.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export every catalog table as CSV",
		Long: `Copies each catalog table as CSV with a header row to the configured
destination: a GCS bucket when export.gcs_bucket is set, otherwise export.dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := resolveState(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), st.cfg, st.logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			defer a.Close()

			artifacts, err := a.Export(cmd.Context())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(artifacts)
		},
	}
}
