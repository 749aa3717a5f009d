package zenginsync

import (
	"context"

	"github.com/agentstation/zenginsync/internal/export"
	"github.com/agentstation/zenginsync/internal/lock"
	"github.com/agentstation/zenginsync/pkg/differ"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Compile-time interface check to ensure proper implementation.
var _ Detector = (*client)(nil)

// Detector runs detection passes.
type Detector interface {
	// Detect compares the mirror with the authoritative dataset and, when
	// they differ, opens a pending run awaiting approval.
	Detect(ctx context.Context, opts ...DetectOption) (*DetectResult, error)
}

// DetectOption configures a single detection pass.
type DetectOption func(*detectOptions)

type detectOptions struct {
	dryRun bool
}

// WithDryRun stops the pass after the diff is computed.
func WithDryRun(enabled bool) DetectOption {
	return func(o *detectOptions) {
		o.dryRun = enabled
	}
}

// DetectResult describes a detection pass.
type DetectResult struct {
	Outcome    string
	RunID      string
	Batch      *zengin.DiffBatch
	PayloadKey string
	MessageTS  string
	SkipReason string
}

// Counts returns the per-action totals of the detected batch.
func (r *DetectResult) Counts() zengin.Counts {
	if r == nil || r.Batch == nil {
		return zengin.Counts{}
	}
	return zengin.CountEntries(r.Batch.Entries)
}

// Detect implements Detector.
func (c *client) Detect(ctx context.Context, opts ...DetectOption) (result *DetectResult, err error) {
	o := &detectOptions{}
	for _, opt := range opts {
		opt(o)
	}
	ctx = logging.WithOperation(ctx, "detect")
	log := logging.FromContext(ctx)

	defer func() {
		outcome := DetectionFailed
		if err == nil {
			outcome = result.Outcome
		}
		c.hooks.triggerDetection(outcome, result.Counts())
	}()

	// Step 1: Hold the detection lock
	l, err := c.options.locker.Obtain(ctx, lock.DetectionKey, c.options.lockTTL)
	switch {
	case errors.Is(err, errors.ErrLocked):
		log.Info().Msg("Another detection is running, skipping")
		return &DetectResult{Outcome: DetectionSkipped, SkipReason: "locked"}, nil
	case err != nil:
		log.Warn().Err(err).Msg("Detection lock unavailable, continuing without it")
	default:
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("Failed to release detection lock")
			}
		}()
	}

	// Step 2: Skip when a recent run still awaits approval
	if !o.dryRun {
		if id, ok := c.recentPending(ctx); ok {
			log.Info().Str("pending_run_id", id).Msg("Recent pending run found, skipping")
			return &DetectResult{Outcome: DetectionSkipped, RunID: id, SkipReason: "pending run " + id}, nil
		}
	}

	// Step 3: Compute the diff
	now := c.now()
	batch, err := c.diff(ctx)
	if err != nil {
		return nil, err
	}
	batch.CreatedAt = now.UTC()
	counts := zengin.CountEntries(batch.Entries)
	log.Info().
		Int("creates", counts.Creates).
		Int("updates", counts.Updates).
		Int("deletes", counts.Deletes).
		Int("total_accounts", counts.TotalAccounts).
		Str("summary", batch.Summary).
		Msg("Diff detected")

	if o.dryRun {
		return &DetectResult{Outcome: DetectionDryRun, Batch: batch}, nil
	}

	// Step 4: Nothing to approve
	if batch.Empty() {
		if err := c.options.notifier.PostNoChanges(ctx, now); err != nil {
			log.Warn().Err(err).Msg("Failed to post no-changes notice")
		}
		return &DetectResult{Outcome: DetectionNoChanges, Batch: batch}, nil
	}

	// Step 5: Store the full batch
	runID := zengin.NewRunID(now)
	ctx = logging.WithRunID(ctx, runID)
	log = logging.FromContext(ctx)
	key, err := c.payloads.Store(ctx, runID, batch.Entries)
	if err != nil {
		return nil, errors.WrapResource("store", "diff payload", runID, err)
	}

	// Step 6: Request approval, then persist the run with the message reference
	ts, err := c.options.notifier.PostApproval(ctx, runID, batch)
	if err != nil {
		return nil, errors.WrapResource("post", "approval request", runID, err)
	}
	rec := zengin.NewRunRecord(runID, batch, key, ts, c.options.environment)
	if err := c.options.runs.Create(ctx, rec); err != nil {
		return nil, errors.WrapResource("create", "run", runID, err)
	}
	log.Info().Str("message_ts", ts).Str("payload_key", key).Msg("Run awaiting approval")

	// Step 7: Attach the CSV export to the approval thread
	c.attachExport(ctx, ts, batch)

	return &DetectResult{
		Outcome:    DetectionCreated,
		RunID:      runID,
		Batch:      batch,
		PayloadKey: key,
		MessageTS:  ts,
	}, nil
}

// diff loads both datasets, compares them and fills in impact statistics.
func (c *client) diff(ctx context.Context) (*zengin.DiffBatch, error) {
	current, err := c.options.mirror.Snapshots(ctx)
	if err != nil {
		return nil, errors.WrapResource("load", "mirror dataset", "", err)
	}
	latest, err := c.options.source.Snapshots(ctx)
	if err != nil {
		return nil, errors.WrapResource("load", "authoritative dataset", "", err)
	}

	changes := c.differ.Snapshots(current, latest)
	entries := changes.Entries()
	if keys := changes.ImpactKeys(); len(keys) > 0 {
		impact, err := c.options.mirror.Impact(ctx, keys)
		if err != nil {
			return nil, errors.WrapResource("load", "impact statistics", "", err)
		}
		for i := range entries {
			if !entries[i].HasImpact() {
				continue
			}
			v := impact[entries[i].EntityKey()]
			entries[i].TotalAccounts = v.TotalAccounts
			entries[i].ActiveUsers = v.ActiveUsers
		}
	}

	return &zengin.DiffBatch{
		Entries:      entries,
		Summary:      differ.Summary(entries),
		TotalChanges: len(entries),
	}, nil
}

// recentPending reports a pending run created within the duplicate window.
// A failing lookup does not block detection.
func (c *client) recentPending(ctx context.Context) (string, bool) {
	if c.options.duplicateWindow <= 0 {
		return "", false
	}
	now := c.now()
	runs, err := c.options.runs.PendingBetween(ctx, now.Add(-c.options.duplicateWindow), now)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("Recent run lookup failed")
		return "", false
	}
	if len(runs) == 0 {
		return "", false
	}
	return runs[0].ID, true
}

func (c *client) attachExport(ctx context.Context, threadTS string, batch *zengin.DiffBatch) {
	log := logging.FromContext(ctx)
	file, err := export.File(batch.Entries, batch.CreatedAt)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to render CSV export")
		return
	}
	if err := c.options.notifier.UploadFile(ctx, threadTS, file); err != nil {
		log.Warn().Err(err).Msg("Failed to upload CSV export")
	}
}
