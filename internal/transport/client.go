// Package transport provides the authenticated HTTP client used for outbound
// calls to the chat platform and the authoritative data host.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentstation/zenginsync/pkg/errors"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
var DefaultHTTPTimeout = 30 * time.Second

// Client provides HTTP client functionality with authentication.
type Client struct {
	service string
	http    *http.Client
	auth    Authenticator
	token   TokenFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithToken sets the credential source. Without it requests are sent unauthenticated.
func WithToken(auth Authenticator, token TokenFunc) Option {
	return func(c *Client) {
		c.auth = auth
		c.token = token
	}
}

// New creates a new transport client for the named remote service.
func New(service string, opts ...Option) *Client {
	c := &Client{
		service: service,
		http:    &http.Client{Timeout: DefaultHTTPTimeout},
		auth:    &NoAuth{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Service returns the remote service name used in errors.
func (c *Client) Service() string {
	return c.service
}

// Do performs an HTTP request with authentication applied.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, errors.WrapResource("resolve", "credential", c.service, err)
		}
		if token != "" {
			c.auth.Apply(req, token)
		}
	}

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &errors.APIError{
			Service:  c.service,
			Endpoint: req.URL.String(),
			Message:  "request failed",
			Err:      errors.NewTransientError(req.Method+" "+req.URL.Path, err),
		}
	}
	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.WrapResource("create", "request", "GET "+rawURL, err)
	}
	return c.Do(ctx, req)
}

// PostJSON sends body as JSON and decodes the JSON response into target.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, target any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.WrapParse("json", "request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return errors.WrapResource("create", "request", "POST "+rawURL, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return DecodeResponse(c.service, resp, target)
}

// PostForm sends form values and decodes the JSON response into target.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.WrapResource("create", "request", "POST "+rawURL, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return DecodeResponse(c.service, resp, target)
}

// Upload posts raw content to an upload URL without authentication headers.
func (c *Client) Upload(ctx context.Context, rawURL, filename string, content io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, content)
	if err != nil {
		return errors.WrapResource("create", "request", "POST "+rawURL, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	resp, err := c.http.Do(req)
	if err != nil {
		return &errors.APIError{Service: c.service, Endpoint: rawURL, Message: "upload failed", Err: errors.NewTransientError("upload", err)}
	}
	return DecodeResponse(c.service, resp, nil)
}
