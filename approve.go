package zenginsync

import (
	"context"

	"github.com/agentstation/zenginsync/internal/approval"
)

// Compile-time interface check to ensure proper implementation.
var _ Approver = (*client)(nil)

// Approver handles operator actions on approval messages.
type Approver interface {
	// HandleAction applies one operator action. Not found and duplicate
	// actions have already been answered when their errors are returned.
	HandleAction(ctx context.Context, a approval.Action) (*approval.Result, error)
}

// HandleAction implements Approver.
func (c *client) HandleAction(ctx context.Context, a approval.Action) (*approval.Result, error) {
	return c.machine.Handle(ctx, a)
}
