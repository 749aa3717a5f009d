package zenginsync

import (
	"context"

	"github.com/agentstation/zenginsync/internal/export"
	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Compile-time interface check to ensure proper implementation.
var _ Runs = (*client)(nil)

// Runs gives read access to run records.
type Runs interface {
	// Run returns the record of a run.
	Run(ctx context.Context, id string) (*zengin.RunRecord, error)

	// Entries loads the full diff batch of a run.
	Entries(ctx context.Context, id string) ([]zengin.DiffEntry, error)

	// Export renders the full diff batch of a run as CSV.
	Export(ctx context.Context, id string) (notify.File, error)
}

// Run implements Runs.
func (c *client) Run(ctx context.Context, id string) (*zengin.RunRecord, error) {
	if id == "" {
		return nil, errors.NewValidationError("diff_id", id, "required")
	}
	return c.options.runs.Get(ctx, id)
}

// Entries implements Runs.
func (c *client) Entries(ctx context.Context, id string) ([]zengin.DiffEntry, error) {
	rec, err := c.Run(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.PayloadKey == "" {
		return nil, errors.NewValidationError("diffs_s3_key", id, "run has no stored payload")
	}
	return c.payloads.Load(ctx, rec.PayloadKey)
}

// Export implements Runs.
func (c *client) Export(ctx context.Context, id string) (notify.File, error) {
	entries, err := c.Entries(ctx, id)
	if err != nil {
		return notify.File{}, err
	}
	return export.File(entries, c.now())
}
