package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/aws/smithy-go"

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// API is the subset of the EventBridge Scheduler client used here.
type API interface {
	CreateSchedule(ctx context.Context, in *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	UpdateSchedule(ctx context.Context, in *scheduler.UpdateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error)
}

// EventBridgeConfig holds construction parameters.
type EventBridgeConfig struct {
	Region    string
	Group     string
	TargetARN string
	RoleARN   string
}

// EventBridge registers schedules with EventBridge Scheduler. Each schedule
// invokes the target once and is deleted after completion.
type EventBridge struct {
	client API
	cfg    EventBridgeConfig
}

// NewEventBridge loads the default AWS configuration and returns a scheduler.
func NewEventBridge(ctx context.Context, cfg EventBridgeConfig) (*EventBridge, error) {
	if cfg.TargetARN == "" || cfg.RoleARN == "" {
		return nil, errors.NewConfigError("scheduler", "target and role ARNs required", nil)
	}
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewConfigError("scheduler", "load aws config", err)
	}
	return NewEventBridgeFromClient(scheduler.NewFromConfig(awsCfg), cfg), nil
}

// NewEventBridgeFromClient wraps an existing client.
func NewEventBridgeFromClient(client API, cfg EventBridgeConfig) *EventBridge {
	if cfg.Group == "" {
		cfg.Group = "default"
	}
	return &EventBridge{client: client, cfg: cfg}
}

// Schedule implements Scheduler. An existing schedule with the same name is
// updated in place.
func (e *EventBridge) Schedule(ctx context.Context, req zengin.ExecutionRequest, at time.Time) (string, error) {
	name := Name(req.DiffID)
	req.Scheduled = true
	input, err := json.Marshal(req)
	if err != nil {
		return "", errors.WrapParse("json", "execution request", err)
	}
	target := &types.Target{
		Arn:     aws.String(e.cfg.TargetARN),
		RoleArn: aws.String(e.cfg.RoleARN),
		Input:   aws.String(string(input)),
	}
	window := &types.FlexibleTimeWindow{Mode: types.FlexibleTimeWindowModeOff}
	expr := Expression(at)
	description := "Zengin data diff execution for " + req.DiffID

	logger := logging.FromContext(ctx).With().Str("schedule", name).Str("expression", expr).Logger()

	_, err = e.client.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
		Name:                  aws.String(name),
		GroupName:             aws.String(e.cfg.Group),
		ScheduleExpression:    aws.String(expr),
		Target:                target,
		FlexibleTimeWindow:    window,
		ActionAfterCompletion: types.ActionAfterCompletionDelete,
		Description:           aws.String(description),
	})
	if err == nil {
		logger.Info().Msg("Schedule created")
		return name, nil
	}

	var conflict *types.ConflictException
	if !errors.As(err, &conflict) {
		return "", wrap("create", name, err)
	}
	_, err = e.client.UpdateSchedule(ctx, &scheduler.UpdateScheduleInput{
		Name:                  aws.String(name),
		GroupName:             aws.String(e.cfg.Group),
		ScheduleExpression:    aws.String(expr),
		Target:                target,
		FlexibleTimeWindow:    window,
		ActionAfterCompletion: types.ActionAfterCompletionDelete,
		Description:           aws.String(description),
	})
	if err != nil {
		return "", wrap("update", name, err)
	}
	logger.Info().Msg("Schedule superseded")
	return name, nil
}

func wrap(op, name string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "InternalServerException":
			return errors.NewTransientError("scheduler "+op, err)
		}
	}
	return errors.WrapResource(op, "schedule", name, err)
}
