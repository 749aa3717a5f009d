package execute

import (
	"context"

	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// HandlerFunc executes one invocation event.
type HandlerFunc func(ctx context.Context, req zengin.ExecutionRequest) (*zengin.ExecutionResult, error)

// Handler returns the invocation handler for scheduled and dispatched
// executions. A run that already left approved or scheduled, or no longer
// exists, is acknowledged without error so the platform does not redeliver
// the event. A batch that finished with errors is recorded on the run and
// also returns without error.
func Handler(app application.Application) HandlerFunc {
	return func(ctx context.Context, req zengin.ExecutionRequest) (*zengin.ExecutionResult, error) {
		client, err := app.Client()
		if err != nil {
			return nil, err
		}
		ctx = logging.WithRunID(ctx, req.DiffID)
		logger := logging.FromContext(ctx)

		result, err := client.Execute(ctx, req)
		switch {
		case errors.IsDuplicateAction(err), errors.IsNotFound(err):
			logger.Warn().Err(err).Msg("Execution event ignored")
			return nil, nil
		case err != nil && result == nil:
			return nil, err
		case err != nil:
			// the failure is already recorded on the run
			logger.Error().Err(err).Msg("Execution failed")
			return result, nil
		}
		logger.Info().
			Bool("success", result.Success).
			Int("processed_count", result.ProcessedCount).
			Int("error_count", result.ErrorCount).
			Msg("Execution event handled")
		return result, nil
	}
}
