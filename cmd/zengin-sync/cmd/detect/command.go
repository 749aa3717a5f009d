// Package detect provides the detect command.
package detect

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/pkg/logging"
)

// NewCommand creates the detect command.
func NewCommand(app application.Application) *cobra.Command {
	var (
		dryRun  bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Compare the dataset with the mirror and request approval",
		Long: `Detect compares the authoritative dataset with the live m_bank rows.

When differences exist the full batch is stored, an approval message is
posted and a pending run is recorded. A run still pending from the last few
minutes suppresses a new one.`,
		Example: `  # Run a detection pass
  zengin-sync detect

  # Show what would change without storing or posting anything
  zengin-sync detect --dry-run --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}
			ctx := logging.WithLogger(cmd.Context(), app.Logger())
			result, err := client.Detect(ctx, zenginsync.WithDryRun(dryRun))
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "detect only; store, post and record nothing")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

type output struct {
	Outcome      string `json:"outcome"`
	RunID        string `json:"run_id,omitempty"`
	Summary      string `json:"summary,omitempty"`
	TotalChanges int    `json:"total_changes"`
	PayloadKey   string `json:"diffs_s3_key,omitempty"`
	MessageTS    string `json:"message_ts,omitempty"`
	SkipReason   string `json:"skip_reason,omitempty"`
}

func newOutput(r *zenginsync.DetectResult) output {
	out := output{
		Outcome:    r.Outcome,
		RunID:      r.RunID,
		PayloadKey: r.PayloadKey,
		MessageTS:  r.MessageTS,
		SkipReason: r.SkipReason,
	}
	if r.Batch != nil {
		out.Summary = r.Batch.Summary
		out.TotalChanges = r.Batch.TotalChanges
	}
	return out
}

func writeJSON(w io.Writer, r *zenginsync.DetectResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(newOutput(r))
}

func printResult(w io.Writer, r *zenginsync.DetectResult) {
	out := newOutput(r)
	switch r.Outcome {
	case zenginsync.DetectionSkipped:
		fmt.Fprintf(w, "skipped: %s\n", out.SkipReason)
	case zenginsync.DetectionNoChanges:
		fmt.Fprintln(w, "no changes")
	default:
		fmt.Fprintf(w, "%s: %s\n", out.Outcome, out.Summary)
		if out.RunID != "" {
			fmt.Fprintf(w, "  run:     %s\n", out.RunID)
			fmt.Fprintf(w, "  payload: %s\n", out.PayloadKey)
		}
	}
}
