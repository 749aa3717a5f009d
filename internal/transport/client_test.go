package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/agentstation/zenginsync/pkg/errors"
)

func TestAuthenticators(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
	(&NoAuth{}).Apply(req, "secret")
	assert.Empty(t, req.Header.Get("Authorization"))

	(&BearerAuth{}).Apply(req, "xoxb-1")
	assert.Equal(t, "Bearer xoxb-1", req.Header.Get("Authorization"))

	(&HeaderAuth{Header: "X-Api-Key"}).Apply(req, "k")
	assert.Equal(t, "k", req.Header.Get("X-Api-Key"))
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json; charset=utf-8", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"channel":"C1"}`, string(body))
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1.2"}`))
	}))
	defer srv.Close()

	c := New("slack", WithToken(&BearerAuth{}, StaticToken("xoxb-test")))
	var out struct {
		OK bool   `json:"ok"`
		TS string `json:"ts"`
	}
	require.NoError(t, c.PostJSON(context.Background(), srv.URL, map[string]string{"channel": "C1"}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, "1.2", out.TS)
}

func TestPostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "report.csv", r.PostForm.Get("filename"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New("slack")
	var out map[string]any
	require.NoError(t, c.PostForm(context.Background(), srv.URL, url.Values{"filename": {"report.csv"}}, &out))
	assert.Equal(t, true, out["ok"])
}

func TestDecodeResponseStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "bad request", status: http.StatusBadRequest},
		{name: "rate limited", status: http.StatusTooManyRequests, transient: true},
		{name: "server error", status: http.StatusBadGateway, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
			}))
			defer srv.Close()

			resp, err := New("zengin-code").Get(context.Background(), srv.URL)
			require.NoError(t, err)

			err = DecodeResponse("zengin-code", resp, nil)
			var apiErr *zerrors.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Len(t, apiErr.Message, maxErrorBody)
			assert.Equal(t, tt.transient, zerrors.IsTransient(err))
		})
	}
}

func TestTokenFailure(t *testing.T) {
	c := New("slack", WithToken(&BearerAuth{}, func(context.Context) (string, error) {
		return "", errors.New("secret unavailable")
	}))
	_, err := c.Get(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret unavailable")
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := New("slack").Get(context.Background(), addr)
	require.Error(t, err)
	assert.True(t, zerrors.IsTransient(err))
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "a,b\n", string(body))
		_, _ = w.Write([]byte("OK - 4"))
	}))
	defer srv.Close()

	c := New("slack", WithToken(&BearerAuth{}, StaticToken("xoxb")))
	require.NoError(t, c.Upload(context.Background(), srv.URL, "x.csv", strings.NewReader("a,b\n")))
}
