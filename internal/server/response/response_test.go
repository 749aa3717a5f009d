package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync/pkg/errors"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestOK(t *testing.T) {
	w := httptest.NewRecorder()
	OK(w, map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decode(t, w)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"status": "ok"}, resp.Data)
}

func TestErrorFromType(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", errors.NewValidationError("diff_id", "", "required"), http.StatusBadRequest, "BAD_REQUEST"},
		{"not found", errors.NewNotFoundError("run", "diff-1"), http.StatusNotFound, "NOT_FOUND"},
		{"wrapped not found", errors.WrapResource("get", "run", "diff-1", errors.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"duplicate", errors.NewDuplicateActionError("diff-1", "completed", "pending"), http.StatusConflict, "CONFLICT"},
		{"locked", errors.WrapResource("obtain", "lock", "k", errors.ErrLocked), http.StatusConflict, "CONFLICT"},
		{"transient", errors.NewTransientError("dynamodb", errors.New("throttled")), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"systemic", errors.NewSystemicFailure("diff-1", "apply", errors.New("boom")), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			ErrorFromType(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := decode(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	InternalError(w, errors.New("password=secret"))

	assert.NotContains(t, w.Body.String(), "secret")
}
