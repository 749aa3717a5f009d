// Package executor applies an approved diff batch to the system of record in
// a single transaction and records the outcome on the run.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/zenginsync/internal/mirror"
	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/internal/retry"
	"github.com/agentstation/zenginsync/internal/runstore"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Database opens apply transactions.
type Database interface {
	Begin(ctx context.Context) (*mirror.Tx, error)
}

// PayloadLoader reads a stored diff batch back.
type PayloadLoader interface {
	Load(ctx context.Context, handle string) ([]zengin.DiffEntry, error)
}

// Deps are the collaborators of an Executor.
type Deps struct {
	Runs     runstore.Store
	Payloads PayloadLoader
	DB       Database
	Notifier notify.Notifier
}

// Config tunes an Executor.
type Config struct {
	Policy Policy
	Retry  retry.Policy
}

// Observer receives every finished execution.
type Observer func(result *zengin.ExecutionResult, elapsed time.Duration)

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithObserver registers an execution observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observe = o }
}

// Executor is the batch apply engine.
type Executor struct {
	deps    Deps
	cfg     Config
	now     func() time.Time
	observe Observer
}

// New returns an Executor. A zero Config uses DefaultPolicy and
// retry.DefaultPolicy.
func New(deps Deps, cfg Config, opts ...Option) *Executor {
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy
	}
	e := &Executor{deps: deps, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies the batch of an approved or scheduled run.
//
// The returned result is also persisted on the run and posted to its
// approval thread. A run that is missing or not executable returns an error
// and is left untouched. A failure before the transaction opens yields a
// system error result, marks the run failed and returns the cause.
func (x *Executor) Execute(ctx context.Context, req zengin.ExecutionRequest) (*zengin.ExecutionResult, error) {
	if err := zengin.ValidateStruct(req); err != nil {
		return nil, err
	}
	ctx = logging.WithOperation(logging.WithRunID(ctx, req.DiffID), "execute")
	log := logging.FromContext(ctx)
	started := x.now()

	rec, err := x.deps.Runs.Get(ctx, req.DiffID)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Executable() {
		log.Warn().Str("status", rec.Status.String()).Msg("Run is not executable")
		return nil, errors.NewDuplicateActionError(rec.ID, rec.Status.String(),
			zengin.StatusApproved.String(), zengin.StatusScheduled.String())
	}

	approvedBy := req.ApprovedBy
	if approvedBy == "" {
		approvedBy = rec.ApprovedBy
	}
	log.Info().
		Str("approved_by", approvedBy).
		Str("execution_type", string(req.ExecutionType)).
		Msg("Applying diff batch")

	result, cause := x.apply(ctx, rec)
	if cause != nil {
		log.Error().Err(cause).Msg("Execution failed before applying entries")
		result = zengin.NewSystemErrorResult(cause)
	}

	x.finish(ctx, rec, approvedBy, result)
	if x.observe != nil {
		x.observe(result, x.now().Sub(started))
	}
	if cause != nil {
		return result, errors.NewSystemicFailure(rec.ID, "apply", cause)
	}
	return result, nil
}

// apply runs the transaction. A non-nil error means nothing was applied.
func (x *Executor) apply(ctx context.Context, rec *zengin.RunRecord) (*zengin.ExecutionResult, error) {
	log := logging.FromContext(ctx)
	if rec.PayloadKey == "" {
		return nil, errors.NewValidationError("diffs_s3_key", rec.ID, "run has no stored payload")
	}
	entries, err := x.deps.Payloads.Load(ctx, rec.PayloadKey)
	if err != nil {
		return nil, err
	}

	tx, err := x.deps.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				log.Error().Err(err).Msg("Rollback failed")
			}
		}
	}()

	t, err := newApplier(ctx, rec.ID, tx, x.now().UTC()).run(ctx, entries, x.cfg.Policy)
	if err != nil {
		return nil, err
	}

	rate := 0.0
	if len(entries) > 0 {
		rate = float64(t.failed) / float64(len(entries))
	}
	ok := x.cfg.Policy.Commit(t.failed, len(entries))
	if ok {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		committed = true
		log.Info().Int("processed", t.processed).Int("error_count", t.failed).Msg("Transaction committed")
	} else {
		log.Error().
			Int("error_count", t.failed).
			Float64("error_rate", rate).
			Bool("stopped_early", t.stopped).
			Msg("Too many errors, rolling back")
	}

	details := fmt.Sprintf("成功: %d件", t.processed)
	if t.failed > 0 {
		details += fmt.Sprintf("、エラー: %d件", t.failed)
	}
	errs := t.errors
	if errs == nil {
		errs = []string{}
	}
	return &zengin.ExecutionResult{
		Success:        ok,
		ProcessedCount: t.processed,
		ErrorCount:     t.failed,
		Errors:         errs,
		Details:        details,
	}, nil
}

// finish persists the outcome and posts the completion notice. Neither
// failure changes the result.
func (x *Executor) finish(ctx context.Context, rec *zengin.RunRecord, approvedBy string, result *zengin.ExecutionResult) {
	log := logging.FromContext(ctx)
	now := x.now()
	status := zengin.StatusCompleted
	if !result.Success {
		status = zengin.StatusFailed
	}

	executionID := uuid.NewString()
	_, err := x.deps.Runs.Transition(ctx, zengin.Transition{
		RunID:       rec.ID,
		CreatedAt:   rec.CreatedAt,
		From:        []zengin.Status{zengin.StatusApproved, zengin.StatusScheduled},
		To:          status,
		ExecutedBy:  approvedBy,
		ExecutedAt:  now.UTC(),
		Result:      result,
		ExecutionID: executionID,
	})
	if err != nil {
		log.Error().Err(err).Str("status", status.String()).Msg("Failed to record execution result")
	} else {
		log.Info().
			Str("status", status.String()).
			Str("execution_id", executionID).
			Int("processed", result.ProcessedCount).
			Int("error_count", result.ErrorCount).
			Msg("Execution recorded")
	}

	text := notify.CompletionText(rec.ID, approvedBy, result, now)
	err = retry.Do(ctx, x.cfg.Retry, "completion notification", func(ctx context.Context) error {
		return x.deps.Notifier.PostThread(ctx, rec.MessageTS, text)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Completion notification failed")
	}
}
