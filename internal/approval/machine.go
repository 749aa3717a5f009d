// Package approval maps operator actions on an approval message onto run
// status transitions and their side effects.
//
// Every transition is claimed with a conditional update on the run's current
// status before the scheduler or dispatcher is called, so duplicate webhook
// deliveries and concurrent clicks resolve to exactly one winner. A side
// effect that fails after its claim moves the run to failed.
package approval

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/zenginsync/internal/dispatch"
	"github.com/agentstation/zenginsync/internal/export"
	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/internal/runstore"
	"github.com/agentstation/zenginsync/internal/scheduler"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Operator replies.
const (
	ReplyNotFound   = "❌ 対応する差分データが見つかりません"
	ReplyExporting  = "📄 CSV出力を開始しています..."
	ReplyNoPayload  = "❌ 差分データが保存されていないためCSVを出力できません"
	ReplyDuplicate  = "この差分は既に処理済みです (ステータス: %s)"
	ReplyRejected   = "❌ 差分更新が却下されました (却下者: %s)"
	ReplyImmediate  = "🚀 即時実行を開始しました"
	ReplyScheduled  = "✅ 承認しました。実行予定時刻: %s JST"
	ReplyFailed     = "❌ 処理に失敗しました: %v"
	ReplyExportFail = "❌ CSV出力に失敗しました: %v"
)

// Outcomes reported to the observer.
const (
	OutcomeScheduled = "scheduled"
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeExported  = "exported"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
	OutcomeFailed    = "failed"
)

// DefaultLookupWindow bounds the fallback search for a run around the
// timestamp of its approval message.
const DefaultLookupWindow = 5 * time.Minute

// PayloadLoader reads a stored diff batch back.
type PayloadLoader interface {
	Load(ctx context.Context, handle string) ([]zengin.DiffEntry, error)
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Runs       runstore.Store
	Payloads   PayloadLoader
	Scheduler  scheduler.Scheduler
	Dispatcher dispatch.Dispatcher
	Notifier   notify.Notifier
}

// Config tunes a Machine.
type Config struct {
	Cutover      Cutover
	Location     *time.Location
	LookupWindow time.Duration
}

// Observer receives the outcome of every handled action.
type Observer func(action zengin.ActionID, outcome string)

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observe = o }
}

// Result describes how an action was handled.
type Result struct {
	RunID        string
	Action       zengin.ActionID
	Outcome      string
	Status       zengin.Status
	ScheduledAt  time.Time
	ScheduleName string
}

// Machine is the approval state machine.
type Machine struct {
	deps    Deps
	cfg     Config
	now     func() time.Time
	observe Observer
}

// New returns a Machine. Zero config fields take their defaults.
func New(deps Deps, cfg Config, opts ...Option) *Machine {
	if cfg.Cutover == (Cutover{}) {
		cfg.Cutover = DefaultCutover
	}
	if cfg.Location == nil {
		cfg.Location = zengin.Tokyo
	}
	if cfg.LookupWindow <= 0 {
		cfg.LookupWindow = DefaultLookupWindow
	}
	m := &Machine{deps: deps, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle processes one operator action. Not found and duplicate actions are
// answered to the operator and returned as errors matching ErrNotFound and
// ErrDuplicateAction.
func (m *Machine) Handle(ctx context.Context, a Action) (*Result, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	ctx = logging.WithActor(logging.WithAction(ctx, a.ID.String()), a.User)

	rec, err := m.lookup(ctx, a)
	if err != nil {
		if errors.IsNotFound(err) {
			logging.FromContext(ctx).Warn().Str("message_ts", a.MessageTS).Msg("No run matches action")
			m.respond(ctx, a, ReplyNotFound)
			m.report(a, OutcomeNotFound)
		}
		return nil, err
	}
	ctx = logging.WithRunID(ctx, rec.ID)

	var res *Result
	switch {
	case a.ID == zengin.ActionExportCSV:
		res, err = m.export(ctx, a, rec)
	case rec.Status != zengin.StatusPending:
		err = errors.NewDuplicateActionError(rec.ID, rec.Status.String(), zengin.StatusPending.String())
	case a.ID == zengin.ActionReject:
		res, err = m.reject(ctx, a, rec)
	case a.ID == zengin.ActionApproveImmediate:
		res, err = m.approveImmediate(ctx, a, rec)
	default:
		res, err = m.approveScheduled(ctx, a, rec)
	}

	var dup *errors.DuplicateActionError
	if errors.As(err, &dup) {
		m.duplicate(ctx, a, rec, zengin.Status(dup.Status))
		m.report(a, OutcomeDuplicate)
		return &Result{RunID: rec.ID, Action: a.ID, Outcome: OutcomeDuplicate, Status: zengin.Status(dup.Status)}, err
	}
	if err != nil {
		m.report(a, OutcomeFailed)
		return res, err
	}
	m.report(a, res.Outcome)
	return res, nil
}

// lookup resolves the run of an action by its message timestamp, then by the
// run id carried in the button value, then by a time window scan.
func (m *Machine) lookup(ctx context.Context, a Action) (*zengin.RunRecord, error) {
	if a.MessageTS != "" {
		rec, err := m.deps.Runs.FindByMessage(ctx, a.MessageTS)
		if err == nil || !errors.IsNotFound(err) {
			return rec, err
		}
	}
	if a.RunID != "" {
		rec, err := m.deps.Runs.Get(ctx, a.RunID)
		if err == nil || !errors.IsNotFound(err) {
			return rec, err
		}
	}
	return m.nearestPending(ctx, a.MessageTS)
}

// nearestPending is a degraded fallback for messages whose timestamp was
// never stored. It picks the pending run created closest to the message
// within the lookup window and may pick the wrong run when detections overlap.
func (m *Machine) nearestPending(ctx context.Context, messageTS string) (*zengin.RunRecord, error) {
	at, ok := parseMessageTS(messageTS)
	if !ok {
		return nil, errors.NewNotFoundError("run", messageTS)
	}
	logging.FromContext(ctx).Warn().
		Str("message_ts", messageTS).
		Dur("window", m.cfg.LookupWindow).
		Msg("Falling back to time window run lookup")

	candidates, err := m.deps.Runs.PendingBetween(ctx, at.Add(-m.cfg.LookupWindow), at.Add(m.cfg.LookupWindow))
	if err != nil {
		return nil, err
	}
	var best *zengin.RunRecord
	var bestGap time.Duration
	for _, rec := range candidates {
		gap := rec.CreatedAt.Sub(at).Abs()
		if best == nil || gap < bestGap {
			best, bestGap = rec, gap
		}
	}
	if best == nil {
		return nil, errors.NewNotFoundError("run", messageTS)
	}
	return best, nil
}

// parseMessageTS reads a chat message timestamp ("seconds.micros").
func parseMessageTS(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil || f <= 0 {
		return time.Time{}, false
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), true
}

func (m *Machine) export(ctx context.Context, a Action, rec *zengin.RunRecord) (*Result, error) {
	res := &Result{RunID: rec.ID, Action: a.ID, Outcome: OutcomeExported, Status: rec.Status}
	if rec.PayloadKey == "" {
		m.respond(ctx, a, ReplyNoPayload)
		return nil, errors.NewValidationError("diffs_s3_key", rec.ID, "run has no stored payload")
	}
	m.respond(ctx, a, ReplyExporting)

	err := m.uploadCSV(ctx, rec)
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("CSV export failed")
		m.respond(ctx, a, fmt.Sprintf(ReplyExportFail, err))
		m.best(ctx, "post export error", func() error {
			return m.deps.Notifier.PostThread(ctx, rec.MessageTS, notify.ErrorText("CSV出力エラー", err.Error(),
				map[string]string{"Diff ID": rec.ID, "ユーザー": a.User}, m.now()))
		})
		return nil, err
	}
	logging.FromContext(ctx).Info().Msg("CSV exported")
	return res, nil
}

func (m *Machine) uploadCSV(ctx context.Context, rec *zengin.RunRecord) error {
	entries, err := m.deps.Payloads.Load(ctx, rec.PayloadKey)
	if err != nil {
		return err
	}
	file, err := export.File(entries, m.now())
	if err != nil {
		return err
	}
	return m.deps.Notifier.UploadFile(ctx, rec.MessageTS, file)
}

func (m *Machine) reject(ctx context.Context, a Action, rec *zengin.RunRecord) (*Result, error) {
	updated, err := m.deps.Runs.Transition(ctx, zengin.Transition{
		RunID:      rec.ID,
		CreatedAt:  rec.CreatedAt,
		From:       []zengin.Status{zengin.StatusPending},
		To:         zengin.StatusRejected,
		RejectedBy: a.User,
		RejectedAt: m.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info().Msg("Run rejected")

	m.best(ctx, "update approval message", func() error {
		return m.deps.Notifier.UpdateApproval(ctx, rec.MessageTS, notify.Outcome{Kind: notify.OutcomeRejected, User: a.User})
	})
	m.respond(ctx, a, fmt.Sprintf(ReplyRejected, a.User))
	return &Result{RunID: rec.ID, Action: a.ID, Outcome: OutcomeRejected, Status: updated.Status}, nil
}

func (m *Machine) approveImmediate(ctx context.Context, a Action, rec *zengin.RunRecord) (*Result, error) {
	updated, err := m.deps.Runs.Transition(ctx, zengin.Transition{
		RunID:         rec.ID,
		CreatedAt:     rec.CreatedAt,
		From:          []zengin.Status{zengin.StatusPending},
		To:            zengin.StatusApproved,
		ApprovedBy:    a.User,
		ApprovedAt:    m.now().UTC(),
		ExecutionType: zengin.ExecutionImmediate,
	})
	if err != nil {
		return nil, err
	}

	req := zengin.ExecutionRequest{
		DiffID:        rec.ID,
		ApprovedBy:    a.User,
		ExecutionType: zengin.ExecutionImmediate,
		Immediate:     true,
	}
	if err := m.deps.Dispatcher.Dispatch(ctx, req); err != nil {
		return nil, m.fail(ctx, a, updated, "即時実行エラー", err)
	}
	logging.FromContext(ctx).Info().Msg("Immediate execution dispatched")

	m.best(ctx, "update approval message", func() error {
		return m.deps.Notifier.UpdateApproval(ctx, rec.MessageTS, notify.Outcome{Kind: notify.OutcomeImmediate, User: a.User})
	})
	m.respond(ctx, a, ReplyImmediate)
	return &Result{RunID: rec.ID, Action: a.ID, Outcome: OutcomeApproved, Status: updated.Status}, nil
}

func (m *Machine) approveScheduled(ctx context.Context, a Action, rec *zengin.RunRecord) (*Result, error) {
	now := m.now()
	at, typ := Target(a, now, m.cfg.Cutover, m.cfg.Location)

	updated, err := m.deps.Runs.Transition(ctx, zengin.Transition{
		RunID:         rec.ID,
		CreatedAt:     rec.CreatedAt,
		From:          []zengin.Status{zengin.StatusPending},
		To:            zengin.StatusScheduled,
		ApprovedBy:    a.User,
		ApprovedAt:    now.UTC(),
		ScheduledAt:   at.UTC(),
		ExecutionType: typ,
	})
	if err != nil {
		return nil, err
	}

	req := zengin.ExecutionRequest{
		DiffID:        rec.ID,
		ApprovedBy:    a.User,
		ExecutionType: typ,
		Scheduled:     true,
	}
	name, err := m.deps.Scheduler.Schedule(ctx, req, at)
	if err != nil {
		return nil, m.fail(ctx, a, updated, "スケジュール登録エラー", err)
	}
	logging.FromContext(ctx).Info().
		Str("schedule", name).
		Str("execution_type", string(typ)).
		Time("scheduled_at", at.UTC()).
		Msg("Execution scheduled")

	m.best(ctx, "update approval message", func() error {
		return m.deps.Notifier.UpdateApproval(ctx, rec.MessageTS, notify.Outcome{
			Kind:        notify.OutcomeScheduled,
			User:        a.User,
			ScheduledAt: at,
			Relative:    typ == zengin.ExecutionRelative,
		})
	})
	m.respond(ctx, a, fmt.Sprintf(ReplyScheduled, zengin.FormatJST(at)))
	return &Result{
		RunID:        rec.ID,
		Action:       a.ID,
		Outcome:      OutcomeScheduled,
		Status:       updated.Status,
		ScheduledAt:  at.UTC(),
		ScheduleName: name,
	}, nil
}

// fail moves a claimed run to failed after its side effect could not be
// started. Failed is terminal: the run cannot be approved again.
func (m *Machine) fail(ctx context.Context, a Action, rec *zengin.RunRecord, kind string, cause error) error {
	logging.FromContext(ctx).Error().Err(cause).Str("status", rec.Status.String()).Msg("Side effect failed after claim")
	now := m.now()
	result := zengin.NewSystemErrorResult(cause)

	_, err := m.deps.Runs.Transition(ctx, zengin.Transition{
		RunID:       rec.ID,
		CreatedAt:   rec.CreatedAt,
		From:        []zengin.Status{rec.Status},
		To:          zengin.StatusFailed,
		ExecutedBy:  a.User,
		ExecutedAt:  now.UTC(),
		Result:      result,
		ExecutionID: uuid.NewString(),
	})
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("Failed to mark run as failed")
	}

	m.best(ctx, "update approval message", func() error {
		return m.deps.Notifier.UpdateApproval(ctx, rec.MessageTS, notify.Outcome{Kind: notify.OutcomeFailed, User: a.User, Error: result.Details})
	})
	m.best(ctx, "post error", func() error {
		return m.deps.Notifier.PostThread(ctx, rec.MessageTS, notify.ErrorText(kind, cause.Error(),
			map[string]string{"Diff ID": rec.ID, "ユーザー": a.User}, now))
	})
	m.respond(ctx, a, fmt.Sprintf(ReplyFailed, cause))
	return errors.NewSystemicFailure(rec.ID, kind, cause)
}

func (m *Machine) duplicate(ctx context.Context, a Action, rec *zengin.RunRecord, status zengin.Status) {
	logging.FromContext(ctx).Warn().Str("status", status.String()).Msg("Duplicate action ignored")
	m.best(ctx, "post duplicate warning", func() error {
		return m.deps.Notifier.PostThread(ctx, rec.MessageTS, notify.DuplicateText(a.User, a.ID, status, m.now()))
	})
	m.respond(ctx, a, fmt.Sprintf(ReplyDuplicate, status))
}

func (m *Machine) respond(ctx context.Context, a Action, text string) {
	if a.ResponseURL == "" {
		return
	}
	m.best(ctx, "respond", func() error {
		return m.deps.Notifier.Respond(ctx, a.ResponseURL, text)
	})
}

// best runs a notification whose failure must not affect a committed transition.
func (m *Machine) best(ctx context.Context, what string, fn func() error) {
	if err := fn(); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("notification", what).Msg("Notification failed")
	}
}

func (m *Machine) report(a Action, outcome string) {
	if m.observe != nil {
		m.observe(a.ID, outcome)
	}
}
