package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/internal/blob"
	"github.com/agentstation/zenginsync/internal/dispatch"
	"github.com/agentstation/zenginsync/internal/lock"
	"github.com/agentstation/zenginsync/internal/metrics"
	"github.com/agentstation/zenginsync/internal/mirror/mirrortest"
	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/internal/runstore"
	"github.com/agentstation/zenginsync/internal/scheduler"
	"github.com/agentstation/zenginsync/internal/server/middleware"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

const (
	testAPIKey = "test-key"
	testSecret = "8f742231b10e8888abcd99yyyzzz85a5"
)

type staticSource []zengin.Snapshot

func (s staticSource) Snapshots(context.Context) ([]zengin.Snapshot, error) {
	return s, nil
}

func branch(code, name string) zengin.Snapshot {
	return zengin.Snapshot{
		SwiftCode:      "0005",
		BankName:       "三菱ＵＦＪ銀行",
		BankNameKana:   "ﾐﾂﾋﾞｼﾕ-ｴﾌｼﾞｴｲ",
		BranchCode:     code,
		BranchName:     name,
		BranchNameKana: "ｼﾃﾝ",
	}
}

type testServer struct {
	srv     *Server
	handler http.Handler
	client  zenginsync.Client
	runs    *runstore.Memory
}

func newTestServer(t *testing.T, opts ...zenginsync.Option) *testServer {
	t.Helper()

	db := mirrortest.Open(t)
	mirrortest.SeedBank(t, db, branch("001", "本店"), branch("002", "新宿支店"))

	runs := runstore.NewMemory()
	client, err := zenginsync.New(append([]zenginsync.Option{
		zenginsync.WithSource(staticSource{branch("001", "本店営業部"), branch("003", "渋谷支店")}),
		zenginsync.WithMirror(db),
		zenginsync.WithRunStore(runs),
		zenginsync.WithBlobStore(blob.NewMemory()),
		zenginsync.WithNotifier(notify.NewMemory()),
		zenginsync.WithScheduler(scheduler.NewLocal(nil)),
		zenginsync.WithLocker(lock.NewMemory()),
		zenginsync.WithEnvironment("test"),
	}, opts...)...)
	require.NoError(t, err)

	app := &application.Mock{
		ClientFunc:  func() (zenginsync.Client, error) { return client, nil },
		MetricsFunc: metrics.New,
		VersionFunc: func() string { return "v1.2.3" },
	}

	cfg := DefaultConfig()
	cfg.APIKey = testAPIKey
	cfg.SigningSecret = testSecret
	cfg.ActionTimeout = 10 * time.Second

	srv, err := New(app, cfg)
	require.NoError(t, err)
	return &testServer{srv: srv, handler: srv.Handler(), client: client, runs: runs}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func authed() http.Header {
	h := http.Header{}
	h.Set("X-API-Key", testAPIKey)
	h.Set("Content-Type", "application/json")
	return h
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

// detect creates a pending run through the API and returns it.
func (ts *testServer) detect(t *testing.T) DetectResult {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/detections", "", authed())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got DetectResult
	decodeData(t, rec, &got)
	require.Equal(t, zenginsync.DetectionCreated, got.Outcome)
	require.NotEmpty(t, got.RunID)
	return got
}

// DetectResult mirrors the fields of the detection response used here.
type DetectResult struct {
	Outcome      string `json:"outcome"`
	RunID        string `json:"run_id"`
	TotalChanges int    `json:"total_changes"`
	MessageTS    string `json:"message_ts"`
}

func signedForm(t *testing.T, payload map[string]any) (string, http.Header) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body := url.Values{"payload": {string(raw)}}.Encode()

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set(middleware.SlackTimestampHeader, ts)
	h.Set(middleware.SlackSignatureHeader, middleware.SignSlack(testSecret, ts, []byte(body)))
	return body, h
}

func blockAction(actionID, runID, messageTS string) map[string]any {
	value, _ := json.Marshal(notify.ButtonValue{Action: actionID, DiffID: runID})
	return map[string]any{
		"type":    "block_actions",
		"user":    map[string]string{"id": "U123", "name": "tanaka"},
		"message": map[string]string{"ts": messageTS},
		"actions": []map[string]string{{"action_id": actionID, "value": string(value)}},
	}
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		t.Run(path, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, path, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var got map[string]any
			decodeData(t, rec, &got)
			assert.Equal(t, "healthy", got["status"])
			assert.Equal(t, "v1.2.3", got["version"])
		})
	}
}

func TestMetricsIsPublic(t *testing.T) {
	ts := newTestServer(t)
	ts.detect(t)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "zengin_sync_")
}

func TestAPIRequiresKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/executions", `{"diff_id":"diff-20250310-120000"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+testAPIKey)
	rec = ts.do(t, http.MethodGet, "/api/v1/runs/diff-20250310-120000", "", h)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDetectDryRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/detections", `{"dry_run":true}`, authed())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got DetectResult
	decodeData(t, rec, &got)
	assert.Equal(t, zenginsync.DetectionDryRun, got.Outcome)
	assert.Equal(t, 3, got.TotalChanges)
	assert.Empty(t, got.RunID)
	assert.Empty(t, ts.runs.All())
}

func TestDetectRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/detections", `{"dry_run":`, authed())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunAndExport(t *testing.T) {
	ts := newTestServer(t)
	created := ts.detect(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/runs/"+created.RunID, "", authed())
	require.Equal(t, http.StatusOK, rec.Code)
	var run zengin.RunRecord
	decodeData(t, rec, &run)
	assert.Equal(t, zengin.StatusPending, run.Status)
	assert.Equal(t, 3, run.TotalChanges)

	rec = ts.do(t, http.MethodGet, "/api/v1/runs/"+created.RunID+"/export", "", authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment;")
	assert.Contains(t, rec.Body.String(), "渋谷支店")
}

func TestExecuteRequiresDiffID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/executions", `{}`, authed())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlackRejectAction(t *testing.T) {
	ts := newTestServer(t)
	created := ts.detect(t)

	body, h := signedForm(t, blockAction(string(zengin.ActionReject), created.RunID, created.MessageTS))
	rec := ts.do(t, http.MethodPost, "/slack/interactive", body, h)
	require.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))

	run, err := ts.client.Run(ctx, created.RunID)
	require.NoError(t, err)
	assert.Equal(t, zengin.StatusRejected, run.Status)
	assert.Equal(t, "tanaka", run.RejectedBy)
}

func TestSlackRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t)

	body, h := signedForm(t, blockAction(string(zengin.ActionReject), "diff-20250310-120000", "1741575600.000100"))
	h.Set(middleware.SlackSignatureHeader, "v0=deadbeef")
	rec := ts.do(t, http.MethodPost, "/slack/interactive", body, h)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlackRejectsUnknownAction(t *testing.T) {
	ts := newTestServer(t)

	body, h := signedForm(t, blockAction("launch_rockets", "diff-20250310-120000", "1741575600.000100"))
	rec := ts.do(t, http.MethodPost, "/slack/interactive", body, h)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlackAcknowledgesLegacyMessage(t *testing.T) {
	ts := newTestServer(t)
	created := ts.detect(t)

	body, h := signedForm(t, map[string]any{
		"type":       "interactive_message",
		"user":       map[string]string{"id": "U123", "name": "tanaka"},
		"message_ts": created.MessageTS,
		"actions":    []map[string]string{{"name": string(zengin.ActionApproveImmediate), "value": "approve"}},
	})
	rec := ts.do(t, http.MethodPost, "/slack/interactive", body, h)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ephemeral", got["response_type"])
	assert.Equal(t, "このメッセージ形式は非推奨です", got["text"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))
	run, err := ts.client.Run(ctx, created.RunID)
	require.NoError(t, err)
	assert.Equal(t, zengin.StatusPending, run.Status)
}

func TestShutdownWaitsForDispatchedExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocked := dispatch.NewLocal(func(context.Context, zengin.ExecutionRequest) error {
		close(started)
		<-release
		return nil
	})
	ts := newTestServer(t, zenginsync.WithDispatcher(blocked))
	created := ts.detect(t)

	body, h := signedForm(t, blockAction(string(zengin.ActionApproveImmediate), created.RunID, created.MessageTS))
	rec := ts.do(t, http.MethodPost, "/slack/interactive", body, h)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("execution was not dispatched")
	}

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ts.srv.Shutdown(short), context.DeadlineExceeded)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))

	run, err := ts.client.Run(ctx, created.RunID)
	require.NoError(t, err)
	assert.Equal(t, zengin.StatusApproved, run.Status)
}
