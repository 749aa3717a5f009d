// Package payload externalizes complete diff batches to blob storage as
// gzip-compressed JSON, leaving only an excerpt on the status record.
package payload

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"strconv"

	"github.com/agentstation/zenginsync/internal/blob"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Store writes and reads bulk diff payloads.
type Store struct {
	blobs       blob.Store
	environment string
}

// New returns a payload store namespacing keys by environment.
func New(blobs blob.Store, environment string) *Store {
	if environment == "" {
		environment = "dev"
	}
	return &Store{blobs: blobs, environment: environment}
}

// Key returns the deterministic object key of a run's payload.
func (s *Store) Key(runID string) string {
	return "diffs/" + s.environment + "/" + runID + "/full_diffs.json.gz"
}

// Store serializes and compresses entries and returns the handle to load them back.
func (s *Store) Store(ctx context.Context, runID string, entries []zengin.DiffEntry) (string, error) {
	if entries == nil {
		entries = []zengin.DiffEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", errors.WrapParse("json", "diff entries", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", errors.WrapIO("compress", runID, err)
	}
	if err := zw.Close(); err != nil {
		return "", errors.WrapIO("compress", runID, err)
	}

	key := s.Key(runID)
	err = s.blobs.Put(ctx, key, buf.Bytes(), blob.PutOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		Metadata: map[string]string{
			"diff_id":         runID,
			"original_size":   strconv.Itoa(len(raw)),
			"compressed_size": strconv.Itoa(buf.Len()),
			"diff_count":      strconv.Itoa(len(entries)),
		},
	})
	if err != nil {
		return "", errors.WrapResource("store", "diff payload", runID, err)
	}

	logging.FromContext(ctx).Info().
		Str("key", key).
		Int("diff_count", len(entries)).
		Int("original_size", len(raw)).
		Int("compressed_size", buf.Len()).
		Msg("Stored diff payload")
	return key, nil
}

// Load reads, decompresses and validates the entries behind handle.
func (s *Store) Load(ctx context.Context, handle string) ([]zengin.DiffEntry, error) {
	if handle == "" {
		return nil, errors.NewValidationError("diffs_s3_key", handle, "bulk payload handle required")
	}
	_, body, err := s.blobs.Get(ctx, handle)
	if err != nil {
		return nil, errors.WrapResource("load", "diff payload", handle, err)
	}

	raw := body
	if isGzip(body) {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, errors.WrapIO("decompress", handle, err)
		}
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, errors.WrapIO("decompress", handle, err)
		}
	}

	entries, err := zengin.DecodeEntries(raw)
	if err != nil {
		return nil, errors.WrapResource("decode", "diff payload", handle, err)
	}
	logging.FromContext(ctx).Debug().Str("key", handle).Int("diff_count", len(entries)).Msg("Loaded diff payload")
	return entries, nil
}

// isGzip reports whether data starts with the gzip magic number. Some
// S3-compatible endpoints transparently decode Content-Encoding: gzip.
func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
