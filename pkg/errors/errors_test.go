package errors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/agentstation/zenginsync/pkg/errors"
)

func TestNotFoundError(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := &pkgerrors.NotFoundError{Resource: "run", ID: "diff-20250101-000000"}
		assert.Equal(t, "run with ID diff-20250101-000000 not found", err.Error())
		assert.True(t, errors.Is(err, pkgerrors.ErrNotFound))
	})

	t.Run("wrapped error", func(t *testing.T) {
		wrapped := fmt.Errorf("lookup: %w", pkgerrors.NewNotFoundError("run", "x"))
		assert.True(t, pkgerrors.IsNotFound(wrapped))
		assert.False(t, pkgerrors.IsValidationError(wrapped))
	})
}

func TestValidationError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := pkgerrors.NewValidationError("message_ts", "", "required")
		assert.Equal(t, "validation failed for field message_ts: required", err.Error())
		assert.True(t, pkgerrors.IsValidationError(err))
	})

	t.Run("without field", func(t *testing.T) {
		err := &pkgerrors.ValidationError{Message: "empty payload"}
		assert.Equal(t, "validation failed: empty payload", err.Error())
	})

	t.Run("wrap nil", func(t *testing.T) {
		assert.NoError(t, pkgerrors.WrapValidation("x", nil))
	})
}

func TestDuplicateActionError(t *testing.T) {
	err := pkgerrors.NewDuplicateActionError("diff-1", "completed", "pending")
	assert.True(t, pkgerrors.IsDuplicateAction(err))
	assert.Contains(t, err.Error(), "completed")

	var dup *pkgerrors.DuplicateActionError
	require.True(t, errors.As(fmt.Errorf("approve: %w", err), &dup))
	assert.Equal(t, "completed", dup.Status)
}

func TestAPIErrorTransient(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"client error", http.StatusBadRequest, false},
		{"no status", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pkgerrors.NewAPIError("slack", tt.status, "boom")
			assert.Equal(t, tt.transient, pkgerrors.IsTransient(err))
		})
	}

	t.Run("slack error code", func(t *testing.T) {
		err := &pkgerrors.APIError{Service: "slack", StatusCode: 200, Code: "channel_not_found"}
		assert.Equal(t, "API error from slack (status 200): channel_not_found", err.Error())
	})
}

func TestTransientAndSystemic(t *testing.T) {
	base := errors.New("connection reset")

	transient := pkgerrors.NewTransientError("post message", base)
	assert.True(t, pkgerrors.IsTransient(transient))
	assert.ErrorIs(t, transient, base)

	systemic := pkgerrors.NewSystemicFailure("diff-1", "rollback threshold exceeded", nil)
	assert.True(t, pkgerrors.IsSystemic(systemic))
	assert.Equal(t, "run diff-1 failed: rollback threshold exceeded", systemic.Error())
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("boom")

	err := pkgerrors.WrapResource("load", "payload", "diffs/dev/x", base)
	assert.Equal(t, "failed to load payload diffs/dev/x: boom", err.Error())
	assert.ErrorIs(t, err, base)

	err = pkgerrors.WrapParse("json", "banks.json", base)
	assert.True(t, pkgerrors.IsValidationError(err))

	err = pkgerrors.WrapIO("read", "full_diffs.json.gz", base)
	assert.ErrorIs(t, err, base)

	assert.NoError(t, pkgerrors.WrapResource("load", "payload", "x", nil))
}
