// Package dispatch hands approved runs to the apply engine for immediate
// execution without waiting for the result.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Dispatcher starts an execution asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, req zengin.ExecutionRequest) error
}

// RunFunc executes a request.
type RunFunc func(ctx context.Context, req zengin.ExecutionRequest) error

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// Local runs requests on a goroutine of the current process.
type Local struct {
	run RunFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocal returns an in-process dispatcher.
func NewLocal(run RunFunc) *Local {
	return &Local{run: run}
}

// Dispatch implements Dispatcher. The execution outlives ctx cancellation.
func (l *Local) Dispatch(ctx context.Context, req zengin.ExecutionRequest) error {
	if l.run == nil {
		return errors.NewConfigError("dispatch", "no executor configured", nil)
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.wg.Add(1)
	l.mu.Unlock()

	req.Immediate = true
	base := context.WithoutCancel(ctx)
	go func() {
		defer l.wg.Done()
		if err := l.run(base, req); err != nil {
			logging.FromContext(base).Error().Err(err).
				Str("run_id", req.DiffID).
				Msg("Dispatched execution failed")
		}
	}()
	return nil
}

// Wait blocks until every dispatched execution has returned.
func (l *Local) Wait() {
	l.wg.Wait()
}

// Close refuses new requests and waits for running executions.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}

// LambdaAPI is the subset of the Lambda client used here.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Lambda invokes a function with the Event invocation type.
type Lambda struct {
	client   LambdaAPI
	function string
}

// NewLambda loads the default AWS configuration and returns a dispatcher
// targeting function.
func NewLambda(ctx context.Context, region, function string) (*Lambda, error) {
	if function == "" {
		return nil, errors.NewConfigError("dispatch", "execute target ARN required", nil)
	}
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewConfigError("dispatch", "load aws config", err)
	}
	return NewLambdaFromClient(lambda.NewFromConfig(awsCfg), function), nil
}

// NewLambdaFromClient wraps an existing client.
func NewLambdaFromClient(client LambdaAPI, function string) *Lambda {
	return &Lambda{client: client, function: function}
}

// Dispatch implements Dispatcher.
func (l *Lambda) Dispatch(ctx context.Context, req zengin.ExecutionRequest) error {
	req.Immediate = true
	req.ExecutionType = zengin.ExecutionImmediate
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.WrapParse("json", "execution request", err)
	}
	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.function),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return errors.WrapResource("invoke", "function", l.function, err)
	}
	if out.FunctionError != nil {
		return errors.WrapResource("invoke", "function", l.function, errors.New(aws.ToString(out.FunctionError)))
	}
	logging.FromContext(ctx).Info().
		Str("run_id", req.DiffID).
		Int32("status_code", out.StatusCode).
		Msg("Execution dispatched")
	return nil
}
