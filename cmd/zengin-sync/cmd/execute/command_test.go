package execute

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/cmd/application"
	"github.com/agentstation/zenginsync/internal/mirror/mirrortest"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

type emptySource struct{}

func (emptySource) Snapshots(context.Context) ([]zengin.Snapshot, error) { return nil, nil }

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	client, err := zenginsync.New(
		zenginsync.WithSource(emptySource{}),
		zenginsync.WithMirror(mirrortest.Open(t)),
	)
	require.NoError(t, err)

	cmd := NewCommand(&application.Mock{
		ClientFunc: func() (zenginsync.Client, error) { return client, nil },
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(error) bool
	}{
		{"malformed payload", []string{"--payload", "{"}, errors.IsValidationError},
		{"missing run id", nil, errors.IsValidationError},
		{"unknown run", []string{"--run-id", "diff-20250310-120000"}, errors.IsNotFound},
		{"payload names unknown run", []string{"--payload", `{"diff_id":"diff-20250310-120000","scheduled_execution":true}`}, errors.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
			assert.Empty(t, out)
		})
	}
}
