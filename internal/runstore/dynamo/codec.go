package dynamo

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Attribute names.
const (
	attrID                = "id"
	attrTimestamp         = "timestamp"
	attrStatus            = "status"
	attrSummary           = "summary"
	attrTotalChanges      = "total_changes"
	attrDiffs             = "diffs"
	attrPayloadKey        = "diffs_s3_key"
	attrOriginalDiffCount = "original_diff_count"
	attrMessageTS         = "message_ts"
	attrEnvironment       = "environment"
	attrTTL               = "ttl"
	attrApprovedBy        = "approved_by"
	attrApprovedAt        = "approved_at"
	attrScheduledAt       = "scheduled_at"
	attrExecutionType     = "execution_type"
	attrRejectedBy        = "rejected_by"
	attrRejectedAt        = "rejected_at"
	attrExecutedBy        = "executed_by"
	attrExecutedAt        = "executed_at"
	attrExecutionResult   = "execution_result"
	attrExecutionID       = "execution_id"
)

// timeLayout has a fixed-width fraction so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000-07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func putString(item map[string]types.AttributeValue, name, v string) {
	if v != "" {
		item[name] = str(v)
	}
}

func putTime(item map[string]types.AttributeValue, name string, t time.Time) {
	if !t.IsZero() {
		item[name] = str(formatTime(t))
	}
}

func marshalRecord(rec *zengin.RunRecord) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrID:                str(rec.ID),
		attrTimestamp:         str(formatTime(rec.CreatedAt)),
		attrStatus:            str(string(rec.Status)),
		attrSummary:           str(rec.Summary),
		attrTotalChanges:      num(int64(rec.TotalChanges)),
		attrDiffs:             marshalExcerpt(rec.Excerpt),
		attrOriginalDiffCount: num(int64(rec.OriginalDiffCount)),
		attrTTL:               num(rec.TTL),
	}
	putString(item, attrPayloadKey, rec.PayloadKey)
	putString(item, attrMessageTS, rec.MessageTS)
	putString(item, attrEnvironment, rec.Environment)
	putString(item, attrApprovedBy, rec.ApprovedBy)
	putTime(item, attrApprovedAt, rec.ApprovedAt)
	putTime(item, attrScheduledAt, rec.ScheduledAt)
	putString(item, attrExecutionType, string(rec.ExecutionType))
	putString(item, attrRejectedBy, rec.RejectedBy)
	putTime(item, attrRejectedAt, rec.RejectedAt)
	putString(item, attrExecutedBy, rec.ExecutedBy)
	putTime(item, attrExecutedAt, rec.ExecutedAt)
	putString(item, attrExecutionID, rec.ExecutionID)
	if rec.ExecutionResult != nil {
		item[attrExecutionResult] = marshalResult(rec.ExecutionResult)
	}
	return item
}

func marshalExcerpt(entries []zengin.ExcerptEntry) types.AttributeValue {
	list := make([]types.AttributeValue, 0, len(entries))
	for _, e := range entries {
		list = append(list, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"action":      str(string(e.Action)),
			"key":         str(e.Key),
			"swift_code":  str(e.SwiftCode),
			"bank_name":   str(e.BankName),
			"branch_code": str(e.BranchCode),
			"branch_name": str(e.BranchName),
		}})
	}
	return &types.AttributeValueMemberL{Value: list}
}

func marshalResult(r *zengin.ExecutionResult) types.AttributeValue {
	errs := make([]types.AttributeValue, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, str(e))
	}
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"success":         &types.AttributeValueMemberBOOL{Value: r.Success},
		"processed_count": num(int64(r.ProcessedCount)),
		"error_count":     num(int64(r.ErrorCount)),
		"errors":          &types.AttributeValueMemberL{Value: errs},
		"details":         str(r.Details),
	}}
}

func getString(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getInt(item map[string]types.AttributeValue, name string) (int64, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseFloat(v.Value, 64)
	if err != nil {
		return 0, errors.WrapParse("number", name, err)
	}
	return int64(n), nil
}

func getTime(item map[string]types.AttributeValue, name string) (time.Time, error) {
	s := getString(item, name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.WrapParse("timestamp", name, err)
	}
	return t.UTC(), nil
}

func unmarshalRecord(item map[string]types.AttributeValue) (*zengin.RunRecord, error) {
	rec := &zengin.RunRecord{
		ID:            getString(item, attrID),
		Status:        zengin.Status(getString(item, attrStatus)),
		Summary:       getString(item, attrSummary),
		PayloadKey:    getString(item, attrPayloadKey),
		MessageTS:     getString(item, attrMessageTS),
		Environment:   getString(item, attrEnvironment),
		ApprovedBy:    getString(item, attrApprovedBy),
		ExecutionType: zengin.ExecutionType(getString(item, attrExecutionType)),
		RejectedBy:    getString(item, attrRejectedBy),
		ExecutedBy:    getString(item, attrExecutedBy),
		ExecutionID:   getString(item, attrExecutionID),
	}
	if rec.ID == "" {
		return nil, errors.NewValidationError(attrID, nil, "missing run id")
	}

	var err error
	if rec.TTL, err = getInt(item, attrTTL); err != nil {
		return nil, err
	}
	total, err := getInt(item, attrTotalChanges)
	if err != nil {
		return nil, err
	}
	rec.TotalChanges = int(total)
	original, err := getInt(item, attrOriginalDiffCount)
	if err != nil {
		return nil, err
	}
	rec.OriginalDiffCount = int(original)

	times := []struct {
		name string
		dst  *time.Time
	}{
		{attrTimestamp, &rec.CreatedAt},
		{attrApprovedAt, &rec.ApprovedAt},
		{attrScheduledAt, &rec.ScheduledAt},
		{attrRejectedAt, &rec.RejectedAt},
		{attrExecutedAt, &rec.ExecutedAt},
	}
	for _, f := range times {
		if *f.dst, err = getTime(item, f.name); err != nil {
			return nil, err
		}
	}

	if l, ok := item[attrDiffs].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			m, ok := v.(*types.AttributeValueMemberM)
			if !ok {
				continue
			}
			rec.Excerpt = append(rec.Excerpt, zengin.ExcerptEntry{
				Action:     zengin.Action(getString(m.Value, "action")),
				Key:        getString(m.Value, "key"),
				SwiftCode:  getString(m.Value, "swift_code"),
				BankName:   getString(m.Value, "bank_name"),
				BranchCode: getString(m.Value, "branch_code"),
				BranchName: getString(m.Value, "branch_name"),
			})
		}
	}

	if m, ok := item[attrExecutionResult].(*types.AttributeValueMemberM); ok {
		result, err := unmarshalResult(m.Value)
		if err != nil {
			return nil, err
		}
		rec.ExecutionResult = result
	}
	return rec, nil
}

func unmarshalResult(m map[string]types.AttributeValue) (*zengin.ExecutionResult, error) {
	processed, err := getInt(m, "processed_count")
	if err != nil {
		return nil, err
	}
	errCount, err := getInt(m, "error_count")
	if err != nil {
		return nil, err
	}
	r := &zengin.ExecutionResult{
		ProcessedCount: int(processed),
		ErrorCount:     int(errCount),
		Details:        getString(m, "details"),
	}
	if b, ok := m["success"].(*types.AttributeValueMemberBOOL); ok {
		r.Success = b.Value
	}
	if l, ok := m["errors"].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				r.Errors = append(r.Errors, s.Value)
			}
		}
	}
	return r, nil
}
