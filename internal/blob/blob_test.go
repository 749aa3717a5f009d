package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync/pkg/errors"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	assert.Equal(t, DriverMemory, m.Driver())

	body := []byte("payload")
	require.NoError(t, m.Put(ctx, "diffs/dev/a.json.gz", body, PutOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		Metadata:        map[string]string{"Diff_ID": "a"},
	}))
	body[0] = 'X'

	info, got, err := m.Get(ctx, "diffs/dev/a.json.gz")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.Equal(t, int64(7), info.Size)
	assert.Equal(t, "gzip", info.ContentEncoding)
	assert.Equal(t, "a", info.Metadata["diff_id"])
	assert.Equal(t, []string{"diffs/dev/a.json.gz"}, m.Keys())

	require.NoError(t, m.Delete(ctx, "diffs/dev/a.json.gz"))
	_, _, err = m.Get(ctx, "diffs/dev/a.json.gz")
	assert.True(t, errors.IsNotFound(err))

	assert.True(t, errors.IsValidationError(m.Put(ctx, "", nil, PutOptions{})))
}
