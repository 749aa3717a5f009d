// Package execute provides the execute command, the target of scheduled and
// dispatched executions.
package execute

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// NewCommand creates the execute command.
func NewCommand(app application.Application) *cobra.Command {
	var (
		runID      string
		approvedBy string
		payload    string
		asLambda   bool
	)
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Apply the batch of an approved or scheduled run",
		Long: `Execute applies every entry of a run's stored batch in one transaction.

Only runs in the approved or scheduled state are executed. The result is
recorded on the run and posted under its approval message. --payload takes
the JSON input written by the scheduler or the dispatcher; --run-id and
--approved-by override its fields.

With --lambda the process serves the Lambda runtime API instead and
executes every invocation event. This is the function named by
execute_target_arn: one-shot schedules and dispatch_mode=lambda both
invoke it with the same request JSON.`,
		Example: `  zengin-sync execute --run-id diff-20250310-120000 --approved-by tanaka
  zengin-sync execute --payload '{"diff_id":"diff-20250310-120000","scheduled_execution":true}'
  zengin-sync execute --lambda`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asLambda {
				ctx := logging.WithLogger(cmd.Context(), app.Logger())
				lambda.StartWithOptions(Handler(app), lambda.WithContext(ctx))
				return nil
			}

			var req zengin.ExecutionRequest
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &req); err != nil {
					return errors.WrapParse("json", "payload", err)
				}
			}
			if runID != "" {
				req.DiffID = runID
			}
			if approvedBy != "" {
				req.ApprovedBy = approvedBy
			}

			client, err := app.Client()
			if err != nil {
				return err
			}
			ctx := logging.WithLogger(cmd.Context(), app.Logger())
			result, err := client.Execute(ctx, req)
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			}
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("execution of %s finished with %d errors", req.DiffID, result.ErrorCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to execute (diff-YYYYMMDD-HHMMSS)")
	cmd.Flags().StringVar(&approvedBy, "approved-by", "", "operator recorded as the executor")
	cmd.Flags().StringVar(&payload, "payload", "", "execution request JSON")
	cmd.Flags().BoolVar(&asLambda, "lambda", false, "serve Lambda invocations")
	cmd.MarkFlagsMutuallyExclusive("lambda", "payload")
	cmd.MarkFlagsMutuallyExclusive("lambda", "run-id")
	return cmd
}
