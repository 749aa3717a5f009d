// Package retry runs an operation a bounded number of times with a constant
// delay. Only transient failures are retried.
package retry

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPolicy is used for outbound chat notifications.
var DefaultPolicy = Policy{Attempts: 3, Delay: time.Second}

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsTransient(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, operation string, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.FromContext(ctx).Warn().Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("wait", wait).
			Msg("Retrying after transient failure")
	}
	return backoff.RetryNotify(op, b, notify)
}
