package zengincode

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentstation/zenginsync/internal/transport"
	"github.com/agentstation/zenginsync/pkg/errors"
)

type fetcher interface {
	fetch(ctx context.Context, path string) ([]byte, error)
}

// httpFetcher reads files relative to a base URL.
type httpFetcher struct {
	baseURL string
	client  *transport.Client
}

// NewHTTP returns a Source reading from baseURL (DefaultBaseURL when empty).
func NewHTTP(baseURL string, client *transport.Client, opts ...Option) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = transport.New("zengin-code")
	}
	return newSource(&httpFetcher{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}, opts...)
}

func (f *httpFetcher) fetch(ctx context.Context, path string) ([]byte, error) {
	resp, err := f.client.Get(ctx, f.baseURL+"/"+path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, errors.NewNotFoundError("source file", path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, transport.DecodeResponse(f.client.Service(), resp, nil)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	return data, nil
}

// dirFetcher reads files from a local checkout of the data directory.
type dirFetcher struct {
	dir string
}

// NewDir returns a Source reading from a local data directory.
func NewDir(dir string, opts ...Option) *Source {
	return newSource(&dirFetcher{dir: dir}, opts...)
}

func (f *dirFetcher) fetch(_ context.Context, path string) ([]byte, error) {
	full := filepath.Join(f.dir, filepath.FromSlash(path))
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFoundError("source file", full)
	}
	if err != nil {
		return nil, errors.WrapIO("read", full, err)
	}
	return data, nil
}
