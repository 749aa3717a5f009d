package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync/internal/blob"
	"github.com/agentstation/zenginsync/internal/mirror"
	"github.com/agentstation/zenginsync/internal/mirror/mirrortest"
	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/internal/payload"
	"github.com/agentstation/zenginsync/internal/retry"
	"github.com/agentstation/zenginsync/internal/runstore"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

const (
	runID     = "diff-20250310-030000"
	messageTS = "1741575601.000100"
)

func snap(swift, branch, bank, name string) zengin.Snapshot {
	return zengin.Snapshot{
		SwiftCode:      swift,
		BankName:       bank,
		BankNameKana:   "ｷﾞﾝｺｳ",
		BranchCode:     branch,
		BranchName:     name,
		BranchNameKana: "ｼﾃﾝ",
	}
}

var (
	tokyo = snap("0001", "100", "みずほ銀行", "東京支店")
	osaka = snap("0001", "200", "みずほ銀行", "大阪支店")
)

type fixture struct {
	exec     *Executor
	db       *mirror.DB
	runs     *runstore.Memory
	payloads *payload.Store
	notifier *notify.Memory
	observed []*zengin.ExecutionResult
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       mirrortest.Open(t),
		runs:     runstore.NewMemory(),
		payloads: payload.New(blob.NewMemory(), "test"),
		notifier: notify.NewMemory(),
	}
	mirrortest.SeedBank(t, f.db, tokyo, osaka)
	mirrortest.SeedAccount(t, f.db, 1, true, tokyo.Key())
	mirrortest.SeedAccount(t, f.db, 2, true, osaka.Key())
	f.exec = f.build(f.db)
	return f
}

func (f *fixture) build(db Database) *Executor {
	return New(Deps{
		Runs:     f.runs,
		Payloads: f.payloads,
		DB:       db,
		Notifier: f.notifier,
	}, Config{Retry: retry.Policy{Attempts: 2, Delay: time.Millisecond}},
		WithObserver(func(r *zengin.ExecutionResult, _ time.Duration) {
			f.observed = append(f.observed, r)
		}),
	)
}

// seed stores entries as an approved run.
func (f *fixture) seed(t *testing.T, entries []zengin.DiffEntry) {
	t.Helper()
	ctx := context.Background()
	key, err := f.payloads.Store(ctx, runID, entries)
	require.NoError(t, err)
	batch := &zengin.DiffBatch{Entries: entries, Summary: "test", TotalChanges: len(entries), CreatedAt: time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)}
	f.seedRecord(t, zengin.NewRunRecord(runID, batch, key, messageTS, "test"))
}

func (f *fixture) seedRecord(t *testing.T, rec *zengin.RunRecord) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.runs.Create(ctx, rec))
	_, err := f.runs.Transition(ctx, zengin.Transition{
		RunID:         rec.ID,
		From:          []zengin.Status{zengin.StatusPending},
		To:            zengin.StatusScheduled,
		ApprovedBy:    "tanaka",
		ExecutionType: zengin.ExecutionFixed,
	})
	require.NoError(t, err)
}

func (f *fixture) record(t *testing.T) *zengin.RunRecord {
	t.Helper()
	rec, err := f.runs.Get(context.Background(), runID)
	require.NoError(t, err)
	return rec
}

func request() zengin.ExecutionRequest {
	return zengin.ExecutionRequest{DiffID: runID, ExecutionType: zengin.ExecutionFixed, Scheduled: true}
}

func creates(n int) []zengin.DiffEntry {
	out := make([]zengin.DiffEntry, n)
	for i := range n {
		out[i] = zengin.NewCreate(snap("0009", fmt.Sprintf("%03d", i+1), "新銀行", "新支店"))
	}
	return out
}

func TestExecuteAppliesBatch(t *testing.T) {
	f := newFixture(t)
	renamed := tokyo
	renamed.BranchName = "東京営業部"
	f.seed(t, []zengin.DiffEntry{
		zengin.NewCreate(snap("0009", "001", "新銀行", "本店")),
		zengin.NewUpdate(tokyo, renamed),
		zengin.NewDelete(osaka),
	})

	result, err := f.exec.Execute(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, &zengin.ExecutionResult{
		Success:        true,
		ProcessedCount: 3,
		Errors:         []string{},
		Details:        "成功: 3件",
	}, result)

	assert.NotNil(t, mirrortest.LiveRow(t, f.db, zengin.EntityKey{SwiftCode: "0009", BranchCode: "001"}))
	row := mirrortest.LiveRow(t, f.db, tokyo.Key())
	require.NotNil(t, row)
	assert.Equal(t, "東京営業部", row.BranchName)
	assert.Nil(t, mirrortest.LiveRow(t, f.db, osaka.Key()))
	assert.Equal(t, 1, mirrortest.CountRows(t, f.db, "m_bank", "is_deleted = 1"))
	assert.Equal(t, 1, mirrortest.CountRows(t, f.db, "user_bank_account", "branch_name = ?", "東京営業部"))

	rec := f.record(t)
	assert.Equal(t, zengin.StatusCompleted, rec.Status)
	assert.Equal(t, "tanaka", rec.ExecutedBy)
	assert.NotEmpty(t, rec.ExecutionID)
	assert.False(t, rec.ExecutedAt.IsZero())
	assert.Equal(t, result, rec.ExecutionResult)

	threads := f.notifier.Threads(messageTS)
	require.Len(t, threads, 1)
	assert.True(t, strings.HasPrefix(threads[0], "🎉 全銀データ更新完了"))
	assert.Contains(t, threads[0], "*承認者*: tanaka")
	assert.Len(t, f.observed, 1)
}

func TestExecuteToleratesIsolatedErrors(t *testing.T) {
	f := newFixture(t)
	entries := append(creates(19), zengin.NewCreate(tokyo))
	f.seed(t, entries)

	result, err := f.exec.Execute(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 19, result.ProcessedCount)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Equal(t, "成功: 19件、エラー: 1件", result.Details)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "0001-100: "))

	assert.Equal(t, 21, mirrortest.CountRows(t, f.db, "m_bank", "is_deleted = 0"))
	assert.Equal(t, zengin.StatusCompleted, f.record(t).Status)
}

func TestExecuteRollsBackSystemicErrors(t *testing.T) {
	f := newFixture(t)
	entries := append(creates(4), zengin.NewCreate(tokyo))
	f.seed(t, entries)

	result, err := f.exec.Execute(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 4, result.ProcessedCount)
	assert.Equal(t, 1, result.ErrorCount)

	assert.Equal(t, 2, mirrortest.CountRows(t, f.db, "m_bank", ""))
	assert.Equal(t, zengin.StatusFailed, f.record(t).Status)

	threads := f.notifier.Threads(messageTS)
	require.Len(t, threads, 1)
	assert.True(t, strings.HasPrefix(threads[0], "⚠️ 全銀データ更新エラー"))
}

// One failure in three entries is a 33% error rate, above the tolerated
// rate, so the batch is rolled back even though the count is small.
func TestExecuteCommitWithToleranceOneOfThreeRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seed(t, append(creates(2), zengin.NewCreate(tokyo)))

	result, err := f.exec.Execute(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.ProcessedCount)
	assert.Equal(t, 1, result.ErrorCount)
	assert.False(t, DefaultPolicy.Commit(1, 3))

	assert.Equal(t, 2, mirrortest.CountRows(t, f.db, "m_bank", ""))
	assert.Nil(t, mirrortest.LiveRow(t, f.db, zengin.EntityKey{SwiftCode: "0009", BranchCode: "001"}))
	assert.Equal(t, zengin.StatusFailed, f.record(t).Status)
}

func TestExecuteStopsAtErrorCeiling(t *testing.T) {
	f := newFixture(t)
	entries := make([]zengin.DiffEntry, 150)
	for i := range entries {
		entries[i] = zengin.NewCreate(tokyo)
	}
	f.seed(t, entries)

	result, err := f.exec.Execute(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, MaxErrors, result.ErrorCount)
	assert.Len(t, result.Errors, MaxErrors)
	assert.Zero(t, result.ProcessedCount)
}

func TestExecuteUpdateWithoutLiveRow(t *testing.T) {
	f := newFixture(t)
	ghost := snap("0002", "001", "幽霊銀行", "本店")
	renamed := ghost
	renamed.BranchName = "新本店"
	f.seed(t, []zengin.DiffEntry{zengin.NewUpdate(ghost, renamed), zengin.NewDelete(ghost)})

	result, err := f.exec.Execute(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ProcessedCount)
}

func TestExecuteWithoutAccountsTable(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.SQL().Exec("DROP TABLE user_bank_account")
	require.NoError(t, err)

	renamed := tokyo
	renamed.BankName = "みずほ信託銀行"
	f.seed(t, []zengin.DiffEntry{zengin.NewUpdate(tokyo, renamed), zengin.NewDelete(osaka)})

	result, err := f.exec.Execute(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "みずほ信託銀行", mirrortest.LiveRow(t, f.db, tokyo.Key()).BankName)
}

func TestExecuteGuard(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		f := newFixture(t)
		batch := &zengin.DiffBatch{Summary: "x", CreatedAt: time.Now()}
		require.NoError(t, f.runs.Create(context.Background(), zengin.NewRunRecord(runID, batch, "k", messageTS, "test")))

		_, err := f.exec.Execute(context.Background(), request())
		assert.True(t, errors.IsDuplicateAction(err))
		assert.Equal(t, zengin.StatusPending, f.record(t).Status)
		assert.Empty(t, f.observed)
	})

	t.Run("completed", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, creates(1))
		_, err := f.exec.Execute(context.Background(), request())
		require.NoError(t, err)

		_, err = f.exec.Execute(context.Background(), request())
		assert.True(t, errors.IsDuplicateAction(err))
		assert.Equal(t, 3, mirrortest.CountRows(t, f.db, "m_bank", ""))
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.exec.Execute(context.Background(), request())
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("invalid request", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.exec.Execute(context.Background(), zengin.ExecutionRequest{})
		assert.True(t, errors.IsValidationError(err))
	})
}

func TestExecuteSystemErrorBeforeTransaction(t *testing.T) {
	f := newFixture(t)
	batch := &zengin.DiffBatch{Summary: "x", CreatedAt: time.Now()}
	f.seedRecord(t, zengin.NewRunRecord(runID, batch, "diffs/test/missing/full_diffs.json.gz", messageTS, "test"))

	result, err := f.exec.Execute(context.Background(), request())
	require.Error(t, err)
	assert.True(t, errors.IsSystemic(err))
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Zero(t, result.ProcessedCount)
	assert.Equal(t, 1, result.ErrorCount)
	assert.True(t, strings.HasPrefix(result.Details, "システムエラー: "))

	rec := f.record(t)
	assert.Equal(t, zengin.StatusFailed, rec.Status)
	assert.Equal(t, result, rec.ExecutionResult)
	assert.Len(t, f.notifier.Threads(messageTS), 1)
}

type brokenDB struct{}

func (brokenDB) Begin(context.Context) (*mirror.Tx, error) {
	return nil, errors.New("connection refused")
}

func TestExecuteDatabaseUnavailable(t *testing.T) {
	f := newFixture(t)
	f.exec = f.build(brokenDB{})
	f.seed(t, creates(2))

	result, err := f.exec.Execute(context.Background(), request())
	require.Error(t, err)
	assert.Contains(t, result.Details, "connection refused")
	assert.Equal(t, zengin.StatusFailed, f.record(t).Status)
}

func TestExecuteNotificationFailureKeepsResult(t *testing.T) {
	f := newFixture(t)
	f.notifier.Fail["thread"] = errors.NewTransientError("chat.postMessage", errors.New("ratelimited"))
	f.seed(t, creates(2))

	result, err := f.exec.Execute(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, zengin.StatusCompleted, f.record(t).Status)
	assert.Empty(t, f.notifier.Threads(messageTS))
}
