// Package dynamo implements runstore.Store on a DynamoDB table keyed by
// (id, timestamp).
package dynamo

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/agentstation/zenginsync/internal/runstore"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Config holds construction parameters. Credentials come from the default chain.
type Config struct {
	Region       string
	Table        string
	MessageIndex string // optional GSI keyed by message_ts
	Endpoint     string // optional; DynamoDB Local or LocalStack
}

// Store implements runstore.Store.
type Store struct {
	client       API
	table        string
	messageIndex string
}

var _ runstore.Store = (*Store)(nil)

// New creates a DynamoDB store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, errors.NewConfigError("runstore", "dynamodb table required", nil)
	}
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewConfigError("runstore", "load aws config", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewFromClient(client, cfg.Table, cfg.MessageIndex), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client API, table, messageIndex string) *Store {
	return &Store{client: client, table: table, messageIndex: messageIndex}
}

// Table returns the table name.
func (s *Store) Table() string { return s.table }

// Create implements runstore.Store.
func (s *Store) Create(ctx context.Context, rec *zengin.RunRecord) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     marshalRecord(rec),
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": attrID},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return errors.WrapResource("create", "run", rec.ID, errors.ErrAlreadyExists)
		}
		return s.wrap("create", rec.ID, err)
	}
	return nil
}

// Get implements runstore.Store. The latest item for id wins.
func (s *Store) Get(ctx context.Context, id string) (*zengin.RunRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("#id = :id"),
		ExpressionAttributeNames:  map[string]string{"#id": attrID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": str(id)},
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, s.wrap("get", id, err)
	}
	if len(out.Items) == 0 {
		return nil, errors.NewNotFoundError("run", id)
	}
	return unmarshalRecord(out.Items[0])
}

// FindByMessage implements runstore.Store. It queries the message index when
// one is configured and scans the table otherwise.
func (s *Store) FindByMessage(ctx context.Context, ts string) (*zengin.RunRecord, error) {
	if ts == "" {
		return nil, errors.NewNotFoundError("run", "message_ts=")
	}
	names := map[string]string{"#ts": attrMessageTS}
	values := map[string]types.AttributeValue{":ts": str(ts)}

	if s.messageIndex != "" {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			IndexName:                 aws.String(s.messageIndex),
			KeyConditionExpression:    aws.String("#ts = :ts"),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			Limit:                     aws.Int32(1),
		})
		if err != nil {
			return nil, s.wrap("find", "message_ts="+ts, err)
		}
		if len(out.Items) == 0 {
			return nil, errors.NewNotFoundError("run", "message_ts="+ts)
		}
		return unmarshalRecord(out.Items[0])
	}

	items, err := s.scan(ctx, "#ts = :ts", names, values, true)
	if err != nil {
		return nil, s.wrap("find", "message_ts="+ts, err)
	}
	if len(items) == 0 {
		return nil, errors.NewNotFoundError("run", "message_ts="+ts)
	}
	return unmarshalRecord(items[0])
}

// PendingBetween implements runstore.Store.
func (s *Store) PendingBetween(ctx context.Context, from, to time.Time) ([]*zengin.RunRecord, error) {
	items, err := s.scan(ctx,
		"#status = :status AND #timestamp BETWEEN :from AND :to",
		map[string]string{"#status": attrStatus, "#timestamp": attrTimestamp},
		map[string]types.AttributeValue{
			":status": str(string(zengin.StatusPending)),
			":from":   str(formatTime(from)),
			":to":     str(formatTime(to)),
		},
		false,
	)
	if err != nil {
		return nil, s.wrap("scan", "pending", err)
	}
	recs := make([]*zengin.RunRecord, 0, len(items))
	for _, item := range items {
		rec, err := unmarshalRecord(item)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

// Transition implements runstore.Store with a conditional UpdateItem. A
// failed condition reports the status the record actually holds.
func (s *Store) Transition(ctx context.Context, t zengin.Transition) (*zengin.RunRecord, error) {
	if len(t.From) == 0 {
		return nil, errors.NewValidationError("from", nil, "transition needs at least one source status")
	}
	created := t.CreatedAt
	if created.IsZero() {
		rec, err := s.Get(ctx, t.RunID)
		if err != nil {
			return nil, err
		}
		created = rec.CreatedAt
	}

	update, names, values := transitionExpression(t)
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrID:        str(t.RunID),
			attrTimestamp: str(formatTime(created)),
		},
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 aws.String(conditionExpression(t, values)),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, errors.NewNotFoundError("run", t.RunID)
			}
			return nil, errors.NewDuplicateActionError(t.RunID, getString(ccf.Item, attrStatus), t.FromStrings()...)
		}
		return nil, s.wrap("transition", t.RunID, err)
	}
	return unmarshalRecord(out.Attributes)
}

func transitionExpression(t zengin.Transition) (string, map[string]string, map[string]types.AttributeValue) {
	names := map[string]string{"#id": attrID, "#status": attrStatus}
	values := map[string]types.AttributeValue{":to": str(string(t.To))}
	sets := []string{"#status = :to"}

	set := func(name string, v types.AttributeValue) {
		names["#"+name] = name
		values[":"+name] = v
		sets = append(sets, "#"+name+" = :"+name)
	}
	setString := func(name, v string) {
		if v != "" {
			set(name, str(v))
		}
	}
	setTime := func(name string, v time.Time) {
		if !v.IsZero() {
			set(name, str(formatTime(v)))
		}
	}

	setString(attrApprovedBy, t.ApprovedBy)
	setTime(attrApprovedAt, t.ApprovedAt)
	setTime(attrScheduledAt, t.ScheduledAt)
	setString(attrExecutionType, string(t.ExecutionType))
	setString(attrRejectedBy, t.RejectedBy)
	setTime(attrRejectedAt, t.RejectedAt)
	setString(attrExecutedBy, t.ExecutedBy)
	setTime(attrExecutedAt, t.ExecutedAt)
	setString(attrExecutionID, t.ExecutionID)
	if t.Result != nil {
		set(attrExecutionResult, marshalResult(t.Result))
	}
	return "SET " + strings.Join(sets, ", "), names, values
}

func conditionExpression(t zengin.Transition, values map[string]types.AttributeValue) string {
	placeholders := make([]string, len(t.From))
	for i, from := range t.From {
		p := ":from" + strconv.Itoa(i)
		values[p] = str(string(from))
		placeholders[i] = p
	}
	if len(placeholders) == 1 {
		return "attribute_exists(#id) AND #status = " + placeholders[0]
	}
	return "attribute_exists(#id) AND #status IN (" + strings.Join(placeholders, ", ") + ")"
}

func (s *Store) scan(ctx context.Context, filter string, names map[string]string, values map[string]types.AttributeValue, first bool) ([]map[string]types.AttributeValue, error) {
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	var items []map[string]types.AttributeValue
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if first && len(items) > 0 {
			break
		}
	}
	return items, nil
}

func (s *Store) wrap(op, id string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			return errors.NewConfigError("runstore", "table "+s.table+" not found", err)
		case "ProvisionedThroughputExceededException", "ThrottlingException",
			"RequestLimitExceeded", "InternalServerError", "ServiceUnavailable":
			return errors.NewTransientError("dynamodb "+op, err)
		}
	}
	return errors.WrapResource(op, "run", id, err)
}
