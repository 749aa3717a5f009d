package dispatch

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

func TestLocalDispatch(t *testing.T) {
	var got atomic.Value
	l := NewLocal(func(ctx context.Context, req zengin.ExecutionRequest) error {
		assert.NoError(t, ctx.Err())
		got.Store(req)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Dispatch(ctx, zengin.ExecutionRequest{DiffID: "diff-1", ApprovedBy: "tanaka"}))
	cancel()
	l.Wait()

	req := got.Load().(zengin.ExecutionRequest)
	assert.Equal(t, "diff-1", req.DiffID)
	assert.True(t, req.Immediate)
}

func TestLocalCloseWaitsForRunningExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	l := NewLocal(func(context.Context, zengin.ExecutionRequest) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})
	require.NoError(t, l.Dispatch(context.Background(), zengin.ExecutionRequest{DiffID: "diff-1"}))
	<-started

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, l.Close())
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while an execution was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, finished.Load())

	err := l.Dispatch(context.Background(), zengin.ExecutionRequest{DiffID: "diff-2"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLocalDispatchWithoutRunner(t *testing.T) {
	err := NewLocal(nil).Dispatch(context.Background(), zengin.ExecutionRequest{DiffID: "diff-1"})
	var cfg *errors.ConfigError
	assert.True(t, errors.As(err, &cfg))
}

type fakeLambda struct {
	in  *lambda.InvokeInput
	out *lambda.InvokeOutput
	err error
}

func (f *fakeLambda) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestLambdaDispatch(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{StatusCode: 202}}
	d := NewLambdaFromClient(fake, "arn:aws:lambda:ap-northeast-1:1:function:zengin-diff-executor")

	require.NoError(t, d.Dispatch(context.Background(), zengin.ExecutionRequest{DiffID: "diff-1", ApprovedBy: "tanaka"}))
	assert.Equal(t, types.InvocationTypeEvent, fake.in.InvocationType)
	assert.Equal(t, "arn:aws:lambda:ap-northeast-1:1:function:zengin-diff-executor", aws.ToString(fake.in.FunctionName))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(fake.in.Payload, &payload))
	assert.Equal(t, map[string]any{
		"diff_id":             "diff-1",
		"approved_by":         "tanaka",
		"execution_type":      "immediate",
		"immediate_execution": true,
	}, payload)
}

func TestLambdaDispatchErrors(t *testing.T) {
	d := NewLambdaFromClient(&fakeLambda{err: errors.New("boom")}, "fn")
	assert.Error(t, d.Dispatch(context.Background(), zengin.ExecutionRequest{DiffID: "diff-1"}))

	d = NewLambdaFromClient(&fakeLambda{out: &lambda.InvokeOutput{StatusCode: 202, FunctionError: aws.String("Unhandled")}}, "fn")
	assert.Error(t, d.Dispatch(context.Background(), zengin.ExecutionRequest{DiffID: "diff-1"}))

	_, err := NewLambda(context.Background(), "", "")
	var cfg *errors.ConfigError
	assert.True(t, errors.As(err, &cfg))
}
