package zenginsync

import (
	"context"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Compile-time interface check to ensure proper implementation.
var _ Executor = (*client)(nil)

// Executor applies approved batches.
type Executor interface {
	// Execute applies the batch of an approved or scheduled run and records
	// the outcome on it.
	Execute(ctx context.Context, req zengin.ExecutionRequest) (*zengin.ExecutionResult, error)
}

// Execute implements Executor.
func (c *client) Execute(ctx context.Context, req zengin.ExecutionRequest) (*zengin.ExecutionResult, error) {
	return c.executor.Execute(ctx, req)
}
