// Package handlers provides the HTTP request handlers of the webhook and
// API server.
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/pkg/logging"
)

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	client    zenginsync.Client
	bg        *Background
	logger    *zerolog.Logger
	version   string
	startTime time.Time
}

// New creates a new Handlers instance.
func New(client zenginsync.Client, bg *Background, logger *zerolog.Logger, version string) *Handlers {
	return &Handlers{
		client:    client,
		bg:        bg,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

// Background runs work that must outlive the request that started it, such
// as webhook actions acknowledged before they are handled.
type Background struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewBackground returns a runner whose tasks are bounded by timeout. Zero
// means unbounded.
func NewBackground(timeout time.Duration) *Background {
	return &Background{timeout: timeout}
}

// Go runs fn on its own goroutine with a context detached from ctx's
// cancellation but carrying its values.
func (b *Background) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	base := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx := base
		if b.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(base, b.timeout)
			defer cancel()
		}
		if err := fn(ctx); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("task", name).Msg("Background task failed")
		}
	}()
}

// Wait blocks until every task has returned or ctx is done.
func (b *Background) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
