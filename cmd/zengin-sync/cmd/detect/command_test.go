package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/internal/mirror/mirrortest"
	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/internal/runstore"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

type staticSource []zengin.Snapshot

func (s staticSource) Snapshots(context.Context) ([]zengin.Snapshot, error) {
	return s, nil
}

func branch(code, name string) zengin.Snapshot {
	return zengin.Snapshot{
		SwiftCode:      "0009",
		BankName:       "三井住友銀行",
		BankNameKana:   "ﾐﾂｲｽﾐﾄﾓ",
		BranchCode:     code,
		BranchName:     name,
		BranchNameKana: "ｼﾃﾝ",
	}
}

func run(t *testing.T, upstream []zengin.Snapshot, args ...string) (string, *runstore.Memory, *notify.Memory) {
	t.Helper()
	db := mirrortest.Open(t)
	mirrortest.SeedBank(t, db, branch("001", "本店営業部"))

	runs := runstore.NewMemory()
	notifier := notify.NewMemory()
	client, err := zenginsync.New(
		zenginsync.WithSource(staticSource(upstream)),
		zenginsync.WithMirror(db),
		zenginsync.WithRunStore(runs),
		zenginsync.WithNotifier(notifier),
	)
	require.NoError(t, err)

	cmd := NewCommand(&application.Mock{
		ClientFunc: func() (zenginsync.Client, error) { return client, nil },
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String(), runs, notifier
}

func TestDetectCreatesRun(t *testing.T) {
	out, runs, notifier := run(t, []zengin.Snapshot{branch("001", "本店営業部"), branch("002", "銀座支店")}, "--json")

	var got output
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, zenginsync.DetectionCreated, got.Outcome)
	assert.Equal(t, "新規追加: 1件", got.Summary)
	assert.Equal(t, 1, got.TotalChanges)
	assert.NotEmpty(t, got.RunID)
	assert.NotEmpty(t, got.MessageTS)

	require.Len(t, runs.All(), 1)
	assert.Equal(t, zengin.StatusPending, runs.All()[0].Status)
	assert.NotEmpty(t, notifier.Posts)
}

func TestDetectDryRun(t *testing.T) {
	out, runs, notifier := run(t, []zengin.Snapshot{branch("002", "銀座支店")}, "--dry-run")

	assert.Contains(t, out, "dry_run: 新規追加: 1件、削除: 1件")
	assert.NotContains(t, out, "run:")
	assert.Empty(t, runs.All())
	assert.Empty(t, notifier.Posts)
}

func TestDetectNoChanges(t *testing.T) {
	out, runs, _ := run(t, []zengin.Snapshot{branch("001", "本店営業部")})

	assert.Equal(t, "no changes\n", out)
	assert.Empty(t, runs.All())
}
