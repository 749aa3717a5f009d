// Package export provides the export command.
package export

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
)

// NewCommand creates the export command.
func NewCommand(app application.Application) *cobra.Command {
	var (
		runID string
		out   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the CSV export of a run's full batch",
		Example: `  # Write to stdout
  zengin-sync export --run-id diff-20250310-120000

  # Write to a file
  zengin-sync export --run-id diff-20250310-120000 --out changes.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}
			ctx := logging.WithLogger(cmd.Context(), app.Logger())
			file, err := client.Export(ctx, runID)
			if err != nil {
				return err
			}

			if out == "" {
				_, err := cmd.OutOrStdout().Write(file.Content)
				return err
			}
			if err := os.WriteFile(out, file.Content, 0o644); err != nil {
				return errors.WrapIO("write", out, err)
			}
			app.Logger().Info().Str("file", out).Str("run_id", runID).Msg("Export written")
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to export")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}
