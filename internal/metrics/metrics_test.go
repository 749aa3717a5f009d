package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveDetection("pending", zengin.Counts{Creates: 2, Updates: 1})
	m.ObserveDetection("no_changes", zengin.Counts{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detections.WithLabelValues("pending")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.diffEntries.WithLabelValues("create")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.diffEntries.WithLabelValues("delete")))

	m.ObserveApproval("approve_update", "scheduled")
	m.ObserveApproval("approve_update", "duplicate")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.approvals.WithLabelValues("approve_update", "duplicate")))

	m.ObserveExecution(&zengin.ExecutionResult{Success: true, ProcessedCount: 9, ErrorCount: 1}, 2*time.Second)
	m.ObserveExecution(nil, time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("failed")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.entries.WithLabelValues("applied")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveApproval("reject_update", "rejected")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `zengin_sync_approval_actions_total{action="reject_update",outcome="rejected"} 1`)
}
