package s3

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store backed by an in-memory fake HTTP transport.
// Only the object operations used by blob.Store are implemented.
func NewMockForTests() *Store {
	rt := &mockRoundTripper{state: make(map[string]mockObj)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("ap-northeast-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &Store{client: client, bucket: "mock-bucket"}
}

type mockRoundTripper struct {
	mu    sync.Mutex
	state map[string]mockObj
}

type mockObj struct {
	body     []byte
	header   http.Header
	modified time.Time
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if dec, ok := decodeChunked(body); ok {
				body = dec
			}
		}
		h := http.Header{}
		for name, values := range req.Header {
			lower := strings.ToLower(name)
			if lower == "content-type" || lower == "content-encoding" || strings.HasPrefix(lower, "x-amz-meta-") {
				h[name] = values
			}
		}
		if enc := h.Get("Content-Encoding"); strings.Contains(enc, "aws-chunked") {
			h.Set("Content-Encoding", strings.TrimPrefix(strings.TrimPrefix(enc, "aws-chunked"), ","))
		}
		m.state[key] = mockObj{body: body, header: h, modified: time.Now().UTC()}
		return response(http.StatusOK, http.Header{"ETag": {`"etag"`}}, nil), nil
	case http.MethodGet:
		obj, ok := m.state[key]
		if !ok {
			return notFound(), nil
		}
		h := obj.header.Clone()
		h.Set("Content-Length", strconv.Itoa(len(obj.body)))
		h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		h.Set("ETag", `"etag"`)
		return response(http.StatusOK, h, obj.body), nil
	case http.MethodDelete:
		delete(m.state, key)
		return response(http.StatusNoContent, http.Header{}, nil), nil
	}
	return response(http.StatusNotImplemented, http.Header{}, nil), nil
}

func response(status int, h http.Header, body []byte) *http.Response {
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body))}
}

func notFound() *http.Response {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
	return response(http.StatusNotFound, http.Header{"Content-Type": {"application/xml"}}, body)
}

// decodeChunked decodes an aws-chunked payload: repeated <hex>[;ext]\r\n<data>\r\n, a
// zero sized chunk, then optional trailers.
func decodeChunked(b []byte) ([]byte, bool) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, false
		}
		line = strings.TrimRight(line, "\r\n")
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		size, err := strconv.ParseInt(line, 16, 64)
		if err != nil {
			return nil, false
		}
		if size == 0 {
			return out.Bytes(), true
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, false
		}
		if _, err := r.Discard(2); err != nil {
			return nil, false
		}
	}
}

