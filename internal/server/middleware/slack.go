package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/zenginsync/internal/server/response"
)

// Slack request signature headers.
const (
	SlackTimestampHeader = "X-Slack-Request-Timestamp"
	SlackSignatureHeader = "X-Slack-Signature"
)

// DefaultSignatureTolerance is the accepted clock skew of a signed request.
const DefaultSignatureTolerance = 5 * time.Minute

// maxWebhookBody caps the body read for verification.
const maxWebhookBody = 1 << 20

// SlackConfig configures signature verification.
type SlackConfig struct {
	SigningSecret string
	Tolerance     time.Duration
	Paths         []string
	Now           func() time.Time
}

// SlackSignature rejects requests to the configured paths whose v0
// signature does not match the signing secret. The verified body is
// restored for the next handler. An empty secret disables verification.
func SlackSignature(config SlackConfig, logger *zerolog.Logger) func(http.Handler) http.Handler {
	if config.Tolerance <= 0 {
		config.Tolerance = DefaultSignatureTolerance
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.SigningSecret == "" {
		logger.Warn().Msg("Slack signing secret not set, webhook signatures are not verified")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.SigningSecret == "" || !isPublicPath(r.URL.Path, config.Paths) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			_ = r.Body.Close()
			if err != nil {
				response.BadRequest(w, "Unreadable request body", "")
				return
			}

			if reason := verifySlack(config, r.Header, body); reason != "" {
				logger.Warn().
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Str("reason", reason).
					Msg("Signature verification failed")
				response.Unauthorized(w, "Invalid request signature", reason)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}

func verifySlack(config SlackConfig, h http.Header, body []byte) string {
	ts := h.Get(SlackTimestampHeader)
	sig := h.Get(SlackSignatureHeader)
	if ts == "" || sig == "" {
		return "missing signature headers"
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "malformed timestamp"
	}
	skew := config.Now().Sub(time.Unix(sec, 0))
	if skew > config.Tolerance || skew < -config.Tolerance {
		return "timestamp outside tolerance"
	}
	if !hmac.Equal([]byte(sig), []byte(SignSlack(config.SigningSecret, ts, body))) {
		return "signature mismatch"
	}
	return ""
}

// SignSlack returns the v0 signature of body sent at timestamp ts.
func SignSlack(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
