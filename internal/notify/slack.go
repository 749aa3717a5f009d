package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/zenginsync/internal/transport"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// DefaultSlackURL is the Slack Web API base URL.
const DefaultSlackURL = "https://slack.com/api"

// transientSlackErrors are Web API error codes worth retrying.
var transientSlackErrors = map[string]bool{
	"ratelimited":         true,
	"internal_error":      true,
	"fatal_error":         true,
	"service_unavailable": true,
	"request_timeout":     true,
}

// Slack implements Notifier on the Slack Web API.
type Slack struct {
	api     *transport.Client
	hooks   *transport.Client
	baseURL string
	channel string
}

var _ Notifier = (*Slack)(nil)

// SlackOption configures a Slack notifier.
type SlackOption func(*slackOptions)

type slackOptions struct {
	baseURL string
	http    *http.Client
}

// WithBaseURL overrides the Web API base URL.
func WithBaseURL(u string) SlackOption {
	return func(o *slackOptions) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) SlackOption {
	return func(o *slackOptions) { o.http = hc }
}

// NewSlack returns a notifier posting to channel with the bot token from token.
func NewSlack(channel string, token transport.TokenFunc, opts ...SlackOption) *Slack {
	o := slackOptions{baseURL: DefaultSlackURL}
	for _, opt := range opts {
		opt(&o)
	}
	apiOpts := []transport.Option{transport.WithToken(&transport.BearerAuth{}, token)}
	var hookOpts []transport.Option
	if o.http != nil {
		apiOpts = append(apiOpts, transport.WithHTTPClient(o.http))
		hookOpts = append(hookOpts, transport.WithHTTPClient(o.http))
	}
	return &Slack{
		api:     transport.New("slack", apiOpts...),
		hooks:   transport.New("slack", hookOpts...),
		baseURL: o.baseURL,
		channel: channel,
	}
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Slack) check(method string, raw json.RawMessage, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.WrapParse("json", "slack "+method, err)
	}
	if !env.OK {
		apiErr := &errors.APIError{Service: "slack", Endpoint: method, Code: env.Error}
		if transientSlackErrors[env.Error] {
			apiErr.Err = errors.NewTransientError(method, errors.New(env.Error))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.WrapParse("json", "slack "+method, err)
	}
	return nil
}

func (s *Slack) call(ctx context.Context, method string, body, out any) error {
	var raw json.RawMessage
	if err := s.api.PostJSON(ctx, s.baseURL+"/"+method, body, &raw); err != nil {
		return err
	}
	return s.check(method, raw, out)
}

func (s *Slack) callForm(ctx context.Context, method string, form url.Values, out any) error {
	var raw json.RawMessage
	if err := s.api.PostForm(ctx, s.baseURL+"/"+method, form, &raw); err != nil {
		return err
	}
	return s.check(method, raw, out)
}

type postMessage struct {
	Channel  string  `json:"channel"`
	Text     string  `json:"text"`
	Blocks   []Block `json:"blocks,omitempty"`
	ThreadTS string  `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	TS string `json:"ts"`
}

// PostApproval implements Notifier.
func (s *Slack) PostApproval(ctx context.Context, runID string, batch *zengin.DiffBatch) (string, error) {
	var resp postMessageResponse
	err := s.call(ctx, "chat.postMessage", postMessage{
		Channel: s.channel,
		Text:    ApprovalFallback(batch),
		Blocks:  ApprovalBlocks(runID, batch),
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.TS == "" {
		return "", errors.NewAPIError("slack", 0, "chat.postMessage returned no ts")
	}
	logging.FromContext(ctx).Info().Str("run_id", runID).Str("message_ts", resp.TS).Msg("Approval message posted")
	return resp.TS, nil
}

// PostNoChanges implements Notifier.
func (s *Slack) PostNoChanges(ctx context.Context, at time.Time) error {
	return s.call(ctx, "chat.postMessage", postMessage{
		Channel: s.channel,
		Text:    NoChangesFallback,
		Blocks:  NoChangesBlocks(at),
	}, nil)
}

type updateMessage struct {
	Channel string  `json:"channel"`
	TS      string  `json:"ts"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks"`
}

// UpdateApproval implements Notifier.
func (s *Slack) UpdateApproval(ctx context.Context, messageTS string, outcome Outcome) error {
	text := outcome.Text()
	return s.call(ctx, "chat.update", updateMessage{
		Channel: s.channel,
		TS:      messageTS,
		Text:    text,
		Blocks:  []Block{section(text)},
	}, nil)
}

// PostThread implements Notifier.
func (s *Slack) PostThread(ctx context.Context, threadTS, text string) error {
	return s.call(ctx, "chat.postMessage", postMessage{Channel: s.channel, Text: text, ThreadTS: threadTS}, nil)
}

type uploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	FileID    string `json:"file_id"`
}

type completeUpload struct {
	Files          []uploadedFile `json:"files"`
	ChannelID      string         `json:"channel_id"`
	ThreadTS       string         `json:"thread_ts,omitempty"`
	InitialComment string         `json:"initial_comment,omitempty"`
}

type uploadedFile struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// UploadFile implements Notifier with the external upload flow: reserve an
// upload URL, send the bytes, then share the file to the channel.
func (s *Slack) UploadFile(ctx context.Context, threadTS string, file File) error {
	var reserved uploadURLResponse
	err := s.callForm(ctx, "files.getUploadURLExternal", url.Values{
		"filename": {file.Name},
		"length":   {strconv.Itoa(len(file.Content))},
	}, &reserved)
	if err != nil {
		return err
	}
	if err := s.hooks.Upload(ctx, reserved.UploadURL, file.Name, bytes.NewReader(file.Content)); err != nil {
		return err
	}
	err = s.call(ctx, "files.completeUploadExternal", completeUpload{
		Files:          []uploadedFile{{ID: reserved.FileID, Title: file.Title}},
		ChannelID:      s.channel,
		ThreadTS:       threadTS,
		InitialComment: file.Comment,
	}, nil)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info().Str("file", file.Name).Str("file_id", reserved.FileID).Msg("File uploaded")
	return nil
}

type ephemeral struct {
	ResponseType    string `json:"response_type"`
	Text            string `json:"text"`
	ReplaceOriginal bool   `json:"replace_original"`
}

// Respond implements Notifier. Response URLs are pre-authorized and get no
// bot token.
func (s *Slack) Respond(ctx context.Context, responseURL, text string) error {
	if responseURL == "" {
		return nil
	}
	return s.hooks.PostJSON(ctx, responseURL, ephemeral{ResponseType: "ephemeral", Text: text}, nil)
}
