package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{ name string }

var (
	loggerKey    = ctxKey{"logger"}
	requestIDKey = ctxKey{"request_id"}
)

// WithLogger stores logger in ctx. A nil logger stores the default.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
			return logger
		}
	}
	return Default()
}

// WithRequestID records the request id in ctx and on its logger.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(context.WithValue(ctx, requestIDKey, requestID), "request_id", requestID)
}

// RequestID returns the id stored by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRunID adds the diff run identifier to the logger.
func WithRunID(ctx context.Context, runID string) context.Context {
	return with(ctx, "run_id", runID)
}

// WithActor adds the acting chat user to the logger.
func WithActor(ctx context.Context, user string) context.Context {
	return with(ctx, "user", user)
}

// WithAction adds the inbound action identifier to the logger.
func WithAction(ctx context.Context, actionID string) context.Context {
	return with(ctx, "action_id", actionID)
}

// WithOperation adds the operation name to the logger.
func WithOperation(ctx context.Context, operation string) context.Context {
	return with(ctx, "operation", operation)
}

func with(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, &logger)
}
