package zengin

import (
	"fmt"
	"slices"
	"time"
)

// Status is the lifecycle state of a RunRecord.
type Status string

// Run statuses.
const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// String returns the wire form of the status.
func (s Status) String() string {
	return string(s)
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusScheduled, StatusApproved, StatusRejected},
	StatusScheduled: {StatusCompleted, StatusFailed},
	StatusApproved:  {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a run may move from s to next.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Executable reports whether the apply engine may run a record in this status.
func (s Status) Executable() bool {
	return s == StatusApproved || s == StatusScheduled
}

// ExecutionType records how an approved run is dispatched.
type ExecutionType string

// Execution types.
const (
	ExecutionImmediate ExecutionType = "immediate"
	ExecutionFixed     ExecutionType = "fixed"
	ExecutionRelative  ExecutionType = "relative"
)

// ExecutionResult is the outcome of applying a batch.
type ExecutionResult struct {
	Success        bool     `json:"success"`
	ProcessedCount int      `json:"processed_count"`
	ErrorCount     int      `json:"error_count"`
	Errors         []string `json:"errors"`
	Details        string   `json:"details"`
}

// NewSystemErrorResult describes a run that failed before any entry was applied.
func NewSystemErrorResult(err error) *ExecutionResult {
	msg := fmt.Sprintf("システムエラー: %v", err)
	return &ExecutionResult{
		Success:    false,
		ErrorCount: 1,
		Errors:     []string{msg},
		Details:    msg,
	}
}

// RunRecord is the persisted status record of one detection run.
type RunRecord struct {
	ID                string         `json:"id"`
	CreatedAt         time.Time      `json:"timestamp"`
	Status            Status         `json:"status"`
	Summary           string         `json:"summary"`
	TotalChanges      int            `json:"total_changes"`
	Excerpt           []ExcerptEntry `json:"diffs"`
	PayloadKey        string         `json:"diffs_s3_key,omitempty"`
	OriginalDiffCount int            `json:"original_diff_count"`
	MessageTS         string         `json:"message_ts,omitempty"`
	Environment       string         `json:"environment"`
	TTL               int64          `json:"ttl"`

	ApprovedBy    string        `json:"approved_by,omitempty"`
	ApprovedAt    time.Time     `json:"approved_at,omitzero"`
	ScheduledAt   time.Time     `json:"scheduled_at,omitzero"`
	ExecutionType ExecutionType `json:"execution_type,omitempty"`
	RejectedBy    string        `json:"rejected_by,omitempty"`
	RejectedAt    time.Time     `json:"rejected_at,omitzero"`

	ExecutedAt      time.Time        `json:"executed_at,omitzero"`
	ExecutedBy      string           `json:"executed_by,omitempty"`
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
	ExecutionID     string           `json:"execution_id,omitempty"`
}

// Retention is how long a RunRecord lives before the store expires it.
const Retention = 30 * 24 * time.Hour

// RunIDLayout formats run identifiers from the UTC detection time.
const RunIDLayout = "20060102-150405"

// NewRunID derives the run identifier for a detection at t.
func NewRunID(t time.Time) string {
	return "diff-" + t.UTC().Format(RunIDLayout)
}

// NewRunRecord builds the pending record of a freshly detected batch.
func NewRunRecord(id string, batch *DiffBatch, payloadKey, messageTS, environment string) *RunRecord {
	return &RunRecord{
		ID:                id,
		CreatedAt:         batch.CreatedAt.UTC(),
		Status:            StatusPending,
		Summary:           batch.Summary,
		TotalChanges:      batch.TotalChanges,
		Excerpt:           Excerpt(batch.Entries),
		PayloadKey:        payloadKey,
		OriginalDiffCount: len(batch.Entries),
		MessageTS:         messageTS,
		Environment:       environment,
		TTL:               batch.CreatedAt.Add(Retention).Unix(),
	}
}

// Transition is a targeted, conditional update of a RunRecord. The store
// applies it only while the record is in one of From.
type Transition struct {
	RunID     string
	CreatedAt time.Time
	From      []Status
	To        Status

	ApprovedBy    string
	ApprovedAt    time.Time
	ScheduledAt   time.Time
	ExecutionType ExecutionType

	RejectedBy string
	RejectedAt time.Time

	ExecutedBy  string
	ExecutedAt  time.Time
	Result      *ExecutionResult
	ExecutionID string
}

// Allowed reports whether the transition applies to a record in status s.
func (t Transition) Allowed(s Status) bool {
	return slices.Contains(t.From, s)
}

// FromStrings returns From as plain strings.
func (t Transition) FromStrings() []string {
	out := make([]string, len(t.From))
	for i, s := range t.From {
		out[i] = string(s)
	}
	return out
}

// Apply copies the transition's attributes onto rec. Zero attributes are left
// untouched.
func (t Transition) Apply(rec *RunRecord) {
	rec.Status = t.To
	if t.ApprovedBy != "" {
		rec.ApprovedBy = t.ApprovedBy
	}
	if !t.ApprovedAt.IsZero() {
		rec.ApprovedAt = t.ApprovedAt
	}
	if !t.ScheduledAt.IsZero() {
		rec.ScheduledAt = t.ScheduledAt
	}
	if t.ExecutionType != "" {
		rec.ExecutionType = t.ExecutionType
	}
	if t.RejectedBy != "" {
		rec.RejectedBy = t.RejectedBy
	}
	if !t.RejectedAt.IsZero() {
		rec.RejectedAt = t.RejectedAt
	}
	if t.ExecutedBy != "" {
		rec.ExecutedBy = t.ExecutedBy
	}
	if !t.ExecutedAt.IsZero() {
		rec.ExecutedAt = t.ExecutedAt
	}
	if t.Result != nil {
		result := *t.Result
		rec.ExecutionResult = &result
	}
	if t.ExecutionID != "" {
		rec.ExecutionID = t.ExecutionID
	}
}

// ExecutionRequest asks the apply engine to run an approved batch. Scheduled
// and immediate dispatches carry the same payload.
type ExecutionRequest struct {
	DiffID        string        `json:"diff_id" validate:"required"`
	ApprovedBy    string        `json:"approved_by,omitempty"`
	ExecutionType ExecutionType `json:"execution_type,omitempty"`
	Scheduled     bool          `json:"scheduled_execution,omitempty"`
	Immediate     bool          `json:"immediate_execution,omitempty"`
}
