package zenginsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync/internal/approval"
	"github.com/agentstation/zenginsync/internal/blob"
	"github.com/agentstation/zenginsync/internal/export"
	"github.com/agentstation/zenginsync/internal/lock"
	"github.com/agentstation/zenginsync/internal/mirror"
	"github.com/agentstation/zenginsync/internal/mirror/mirrortest"
	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/internal/payload"
	"github.com/agentstation/zenginsync/internal/retry"
	"github.com/agentstation/zenginsync/internal/runstore"
	"github.com/agentstation/zenginsync/internal/scheduler"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

func snap(swift, branch, name string) zengin.Snapshot {
	return zengin.Snapshot{
		SwiftCode:      swift,
		BankName:       "みずほ銀行",
		BankNameKana:   "ﾐｽﾞﾎ",
		BranchCode:     branch,
		BranchName:     name,
		BranchNameKana: "ｼﾃﾝ",
	}
}

var (
	tokyo = snap("0001", "100", "東京支店")
	osaka = snap("0001", "200", "大阪支店")
	kobe  = snap("0001", "300", "神戸支店")
)

type staticSource struct {
	rows []zengin.Snapshot
	err  error
}

func (s *staticSource) Snapshots(context.Context) ([]zengin.Snapshot, error) {
	return s.rows, s.err
}

// syncDispatcher runs dispatched executions before returning.
type syncDispatcher struct {
	mu     sync.Mutex
	client Client
	reqs   []zengin.ExecutionRequest
}

func (d *syncDispatcher) Dispatch(ctx context.Context, req zengin.ExecutionRequest) error {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	_, err := d.client.Execute(ctx, req)
	return err
}

type fixture struct {
	client     Client
	db         *mirror.DB
	source     *staticSource
	runs       *runstore.Memory
	blobs      *blob.Memory
	notifier   *notify.Memory
	scheduler  *scheduler.Local
	dispatcher *syncDispatcher
	locker     *lock.Memory
	now        time.Time

	detections []string
	approvals  []string
	executions []*zengin.ExecutionResult
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		db:         mirrortest.Open(t),
		source:     &staticSource{rows: []zengin.Snapshot{tokyo, osaka}},
		runs:       runstore.NewMemory(),
		blobs:      blob.NewMemory(),
		notifier:   notify.NewMemory(),
		scheduler:  scheduler.NewLocal(nil),
		dispatcher: &syncDispatcher{},
		locker:     lock.NewMemory(),
		now:        time.Date(2025, time.March, 10, 3, 0, 0, 0, time.UTC),
	}
	mirrortest.SeedBank(t, f.db, tokyo, osaka)
	mirrortest.SeedAccount(t, f.db, 1, true, tokyo.Key())
	mirrortest.SeedAccount(t, f.db, 2, true, osaka.Key())

	base := []Option{
		WithSource(f.source),
		WithMirror(f.db),
		WithRunStore(f.runs),
		WithBlobStore(f.blobs),
		WithNotifier(f.notifier),
		WithScheduler(f.scheduler),
		WithDispatcher(f.dispatcher),
		WithLocker(f.locker),
		WithEnvironment("test"),
		WithRetry(retry.Policy{Attempts: 1, Delay: time.Millisecond}),
		WithClock(func() time.Time { return f.now }),
	}
	client, err := New(append(base, opts...)...)
	require.NoError(t, err)
	f.client = client
	f.dispatcher.client = client

	client.OnDetection(func(outcome string, _ zengin.Counts) { f.detections = append(f.detections, outcome) })
	client.OnApproval(func(_ zengin.ActionID, outcome string) { f.approvals = append(f.approvals, outcome) })
	client.OnExecution(func(r *zengin.ExecutionResult, _ time.Duration) { f.executions = append(f.executions, r) })
	return f
}

// changeUpstream renames tokyo, drops osaka and adds kobe.
func (f *fixture) changeUpstream() {
	renamed := tokyo
	renamed.BranchName = "東京中央支店"
	f.source.rows = []zengin.Snapshot{renamed, kobe}
}

func TestNewRequiresSourceAndMirror(t *testing.T) {
	_, err := New()
	require.Error(t, err)

	_, err = New(WithSource(&staticSource{}))
	require.Error(t, err)

	_, err = New(WithSource(nil))
	assert.True(t, errors.IsValidationError(err))
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	src := WithSource(&staticSource{})
	tests := []struct {
		name string
		opt  Option
	}{
		{"empty environment", WithEnvironment("")},
		{"cutover out of range", WithCutover(approval.Cutover{Hour: 24})},
		{"negative window", WithDuplicateWindow(-time.Minute)},
		{"zero lookup window", WithLookupWindow(0)},
		{"no retry attempts", WithRetry(retry.Policy{})},
		{"nil clock", WithClock(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(src, tt.opt)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestDetectCreatesPendingRun(t *testing.T) {
	f := newFixture(t)
	f.changeUpstream()
	ctx := context.Background()

	result, err := f.client.Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, DetectionCreated, result.Outcome)
	assert.Equal(t, "diff-20250310-030000", result.RunID)
	assert.Equal(t, payload.New(f.blobs, "test").Key(result.RunID), result.PayloadKey)
	assert.Equal(t, "新規追加: 1件、更新: 1件、削除: 1件 (UserBankAccount影響: 2件、稼働ユーザー: 2名)", result.Batch.Summary)

	counts := result.Counts()
	assert.Equal(t, zengin.Counts{Creates: 1, Updates: 1, Deletes: 1, TotalAccounts: 2, ActiveUsers: 2}, counts)

	rec, err := f.client.Run(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, zengin.StatusPending, rec.Status)
	assert.Equal(t, result.MessageTS, rec.MessageTS)
	assert.Equal(t, 3, rec.TotalChanges)
	assert.Equal(t, "test", rec.Environment)
	assert.Len(t, rec.Excerpt, 3)

	entries, err := f.client.Entries(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Batch.Entries, entries)

	require.Len(t, f.notifier.Files, 1)
	assert.Equal(t, export.Filename(f.now), f.notifier.Files[0].Name)
	assert.Equal(t, []string{DetectionCreated}, f.detections)
}

func TestDetectNoChanges(t *testing.T) {
	f := newFixture(t)

	result, err := f.client.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DetectionNoChanges, result.Outcome)
	assert.Empty(t, result.RunID)
	assert.Empty(t, f.runs.All())
	require.Len(t, f.notifier.Posts, 1)
	assert.Equal(t, "no_changes", f.notifier.Posts[0].Kind)
}

func TestDetectSkipsWhenRecentRunPending(t *testing.T) {
	f := newFixture(t)
	f.changeUpstream()
	ctx := context.Background()

	first, err := f.client.Detect(ctx)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Minute)
	second, err := f.client.Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, DetectionSkipped, second.Outcome)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Len(t, f.runs.All(), 1)

	f.now = f.now.Add(10 * time.Minute)
	third, err := f.client.Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, DetectionCreated, third.Outcome)
	assert.Len(t, f.runs.All(), 2)
}

func TestDetectSkipsWhenLocked(t *testing.T) {
	f := newFixture(t)
	f.changeUpstream()
	ctx := context.Background()

	held, err := f.locker.Obtain(ctx, lock.DetectionKey, time.Hour)
	require.NoError(t, err)

	result, err := f.client.Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, DetectionSkipped, result.Outcome)
	assert.Empty(t, f.runs.All())

	require.NoError(t, held.Release(ctx))
	result, err = f.client.Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, DetectionCreated, result.Outcome)
}

func TestDetectDryRun(t *testing.T) {
	f := newFixture(t)
	f.changeUpstream()

	result, err := f.client.Detect(context.Background(), WithDryRun(true))
	require.NoError(t, err)
	assert.Equal(t, DetectionDryRun, result.Outcome)
	assert.Len(t, result.Batch.Entries, 3)
	assert.Empty(t, f.runs.All())
	assert.Empty(t, f.blobs.Keys())
	assert.Empty(t, f.notifier.Posts)
}

func TestDetectFailures(t *testing.T) {
	t.Run("approval post fails", func(t *testing.T) {
		f := newFixture(t)
		f.changeUpstream()
		f.notifier.Fail["approval"] = errors.NewTransientError("chat.postMessage", errors.New("timeout"))

		_, err := f.client.Detect(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
		assert.Empty(t, f.runs.All())
		assert.Equal(t, []string{DetectionFailed}, f.detections)
	})

	t.Run("source fails", func(t *testing.T) {
		f := newFixture(t)
		f.source.err = errors.NewAPIError("zengin-code", 503, "unavailable")

		_, err := f.client.Detect(context.Background())
		require.Error(t, err)
		assert.Empty(t, f.runs.All())
		assert.Empty(t, f.notifier.Posts)
	})

	t.Run("export upload failure is tolerated", func(t *testing.T) {
		f := newFixture(t)
		f.changeUpstream()
		f.notifier.Fail["file"] = errors.New("upload failed")

		result, err := f.client.Detect(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DetectionCreated, result.Outcome)
		assert.Len(t, f.runs.All(), 1)
	})
}

func TestApproveImmediateAppliesBatch(t *testing.T) {
	f := newFixture(t)
	f.changeUpstream()
	ctx := context.Background()

	detected, err := f.client.Detect(ctx)
	require.NoError(t, err)

	result, err := f.client.HandleAction(ctx, approval.Action{
		ID:        zengin.ActionApproveImmediate,
		User:      "yamada",
		MessageTS: detected.MessageTS,
	})
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeApproved, result.Outcome)
	require.Len(t, f.dispatcher.reqs, 1)

	rec, err := f.client.Run(ctx, detected.RunID)
	require.NoError(t, err)
	assert.Equal(t, zengin.StatusCompleted, rec.Status)
	require.NotNil(t, rec.ExecutionResult)
	assert.True(t, rec.ExecutionResult.Success)
	assert.Equal(t, 3, rec.ExecutionResult.ProcessedCount)

	renamed := mirrortest.LiveRow(t, f.db, tokyo.Key())
	require.NotNil(t, renamed)
	assert.Equal(t, "東京中央支店", renamed.BranchName)
	assert.Nil(t, mirrortest.LiveRow(t, f.db, osaka.Key()))
	assert.NotNil(t, mirrortest.LiveRow(t, f.db, kobe.Key()))

	require.Len(t, f.executions, 1)
	assert.Equal(t, []string{approval.OutcomeApproved}, f.approvals)

	_, err = f.client.HandleAction(ctx, approval.Action{
		ID:        zengin.ActionApproveImmediate,
		User:      "suzuki",
		MessageTS: detected.MessageTS,
	})
	assert.True(t, errors.IsDuplicateAction(err))
	assert.Len(t, f.dispatcher.reqs, 1)
}

func TestApproveScheduled(t *testing.T) {
	f := newFixture(t)
	f.changeUpstream()
	ctx := context.Background()

	detected, err := f.client.Detect(ctx)
	require.NoError(t, err)

	result, err := f.client.HandleAction(ctx, approval.Action{
		ID:        zengin.ActionApprove,
		User:      "yamada",
		MessageTS: detected.MessageTS,
	})
	require.NoError(t, err)
	assert.Equal(t, zengin.StatusScheduled, result.Status)

	// 03:00 UTC is 12:00 JST, so the 23:00 JST cutover is later the same day.
	want := time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(result.ScheduledAt), "scheduled at %s", result.ScheduledAt)

	entries := f.scheduler.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, scheduler.Name(detected.RunID), entries[0].Name)

	executed, err := f.client.Execute(ctx, entries[0].Request)
	require.NoError(t, err)
	assert.True(t, executed.Success)

	rec, err := f.client.Run(ctx, detected.RunID)
	require.NoError(t, err)
	assert.Equal(t, zengin.StatusCompleted, rec.Status)
	assert.Equal(t, "yamada", rec.ExecutedBy)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.changeUpstream()
	ctx := context.Background()

	detected, err := f.client.Detect(ctx)
	require.NoError(t, err)

	file, err := f.client.Export(ctx, detected.RunID)
	require.NoError(t, err)
	want, err := export.CSV(detected.Batch.Entries)
	require.NoError(t, err)
	assert.Equal(t, want, file.Content)

	_, err = f.client.Export(ctx, "diff-19990101-000000")
	assert.True(t, errors.IsNotFound(err))

	_, err = f.client.Run(ctx, "")
	assert.True(t, errors.IsValidationError(err))
}
