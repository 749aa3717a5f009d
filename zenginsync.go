// Package zenginsync keeps a mirror of the zengin bank and branch table in
// step with the published dataset, gated by an operator approval in chat.
//
// A Client ties the pieces together:
//   - Detect compares the mirror with the dataset, stores the full diff batch
//     and posts an approval request
//   - HandleAction maps an operator's button press to a run transition
//   - Execute applies an approved batch to the mirror in one transaction
//
// Example usage:
//
//	client, err := zenginsync.New(
//	    zenginsync.WithSource(zengincode.NewHTTP(url, transport.New("zengin-code"))),
//	    zenginsync.WithMirror(db),
//	    zenginsync.WithRunStore(store),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.OnDetection(func(outcome string, counts zengin.Counts) {
//	    log.Printf("detection %s: %+v", outcome, counts)
//	})
//
//	result, err := client.Detect(ctx)
package zenginsync

import (
	"context"
	"io"
	"time"

	"github.com/agentstation/zenginsync/internal/approval"
	"github.com/agentstation/zenginsync/internal/dispatch"
	"github.com/agentstation/zenginsync/internal/executor"
	"github.com/agentstation/zenginsync/internal/mirror"
	"github.com/agentstation/zenginsync/internal/payload"
	"github.com/agentstation/zenginsync/internal/scheduler"
	"github.com/agentstation/zenginsync/pkg/differ"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Compile-time interface check to ensure proper implementation.
var _ Client = (*client)(nil)

// Source returns the authoritative dataset.
type Source interface {
	Snapshots(ctx context.Context) ([]zengin.Snapshot, error)
}

// Mirror returns the live rows of the local table and the impact of
// changing them.
type Mirror interface {
	Snapshots(ctx context.Context) ([]zengin.Snapshot, error)
	Impact(ctx context.Context, keys []zengin.EntityKey) (map[zengin.EntityKey]mirror.Impact, error)
}

// Client runs detection, approval and execution.
type Client interface {

	// Detector runs detection passes
	Detector

	// Approver handles operator actions
	Approver

	// Executor applies approved batches
	Executor

	// Runs gives read access to run records
	Runs

	// Hooks provides access to event callback registration
	Hooks

	// Shutdown stops in-process schedules and waits for executions that
	// are still running, or until ctx is done.
	Shutdown(ctx context.Context) error
}

// client is the internal implementation of the Client interface.
type client struct {
	options *options

	differ   differ.Differ
	payloads *payload.Store
	machine  *approval.Machine
	executor *executor.Executor
	hooks    *hooks
}

// New creates a Client. A source and a mirror are required; every other
// collaborator defaults to an in-process implementation.
func New(opts ...Option) (Client, error) {
	o, err := defaults().apply(opts...)
	if err != nil {
		return nil, err
	}
	if o.source == nil {
		return nil, errors.NewConfigError("zenginsync", "source is required", nil)
	}
	if o.mirror == nil {
		return nil, errors.NewConfigError("zenginsync", "mirror is required", nil)
	}
	if o.database == nil {
		db, ok := o.mirror.(executor.Database)
		if !ok {
			return nil, errors.NewConfigError("zenginsync", "database is required when the mirror cannot open transactions", nil)
		}
		o.database = db
	}

	c := &client{
		options:  o,
		differ:   differ.New(o.differOptions...),
		payloads: payload.New(o.blobs, o.environment),
		hooks:    newHooks(),
	}

	// in-process execution when no external scheduler or dispatcher is set
	if o.scheduler == nil {
		o.scheduler = scheduler.NewLocal(c.run)
	}
	if o.dispatcher == nil {
		o.dispatcher = dispatch.NewLocal(c.run)
	}

	c.executor = executor.New(executor.Deps{
		Runs:     o.runs,
		Payloads: c.payloads,
		DB:       o.database,
		Notifier: o.notifier,
	}, executor.Config{
		Policy: o.policy,
		Retry:  o.retry,
	}, executor.WithClock(o.now), executor.WithObserver(c.hooks.triggerExecution))

	c.machine = approval.New(approval.Deps{
		Runs:       o.runs,
		Payloads:   c.payloads,
		Scheduler:  o.scheduler,
		Dispatcher: o.dispatcher,
		Notifier:   o.notifier,
	}, approval.Config{
		Cutover:      o.cutover,
		Location:     o.location,
		LookupWindow: o.lookupWindow,
	}, approval.WithClock(o.now), approval.WithObserver(c.hooks.triggerApproval))

	logging.Debug().
		Str("environment", o.environment).
		Str("cutover", o.cutover.String()).
		Dur("duplicate_window", o.duplicateWindow).
		Msg("Client created")
	return c, nil
}

// run adapts Execute to the scheduler and dispatcher callbacks.
func (c *client) run(ctx context.Context, req zengin.ExecutionRequest) error {
	_, err := c.Execute(ctx, req)
	return err
}

// Shutdown implements Client. Collaborators that hold in-process work are
// closed; external ones are left alone.
func (c *client) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		var errs []error
		for _, v := range []any{c.options.scheduler, c.options.dispatcher} {
			if closer, ok := v.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logging.FromContext(ctx).Warn().Msg("In-process executions still running at shutdown")
		return ctx.Err()
	}
}

// now returns the configured clock reading.
func (c *client) now() time.Time {
	return c.options.now()
}
