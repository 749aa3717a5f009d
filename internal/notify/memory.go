package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Post is a message recorded by Memory.
type Post struct {
	Kind     string
	ThreadTS string
	Text     string
}

// Memory records messages in process and logs them. It backs local runs
// without a chat workspace and tests.
type Memory struct {
	mu        sync.Mutex
	seq       int
	Posts     []Post
	Updates   map[string]Outcome
	Files     []File
	Responses []Post

	// Fail, when set, makes every call with the given kind return the error.
	Fail map[string]error
}

var _ Notifier = (*Memory)(nil)

// NewMemory returns an empty recorder.
func NewMemory() *Memory {
	return &Memory{Updates: make(map[string]Outcome), Fail: make(map[string]error)}
}

func (m *Memory) failure(kind string) error {
	return m.Fail[kind]
}

// PostApproval implements Notifier.
func (m *Memory) PostApproval(ctx context.Context, runID string, batch *zengin.DiffBatch) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("approval"); err != nil {
		return "", err
	}
	m.seq++
	ts := fmt.Sprintf("%d.%06d", time.Now().Unix(), m.seq)
	m.Posts = append(m.Posts, Post{Kind: "approval", Text: ApprovalFallback(batch)})
	logging.FromContext(ctx).Info().Str("run_id", runID).Str("message_ts", ts).Str("summary", batch.Summary).Msg("Approval requested")
	return ts, nil
}

// PostNoChanges implements Notifier.
func (m *Memory) PostNoChanges(ctx context.Context, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("no_changes"); err != nil {
		return err
	}
	m.Posts = append(m.Posts, Post{Kind: "no_changes", Text: NoChangesFallback})
	logging.FromContext(ctx).Info().Msg(NoChangesFallback)
	return nil
}

// UpdateApproval implements Notifier.
func (m *Memory) UpdateApproval(ctx context.Context, messageTS string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("update"); err != nil {
		return err
	}
	m.Updates[messageTS] = outcome
	logging.FromContext(ctx).Info().Str("message_ts", messageTS).Str("outcome", string(outcome.Kind)).Msg("Approval message updated")
	return nil
}

// PostThread implements Notifier.
func (m *Memory) PostThread(ctx context.Context, threadTS, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("thread"); err != nil {
		return err
	}
	m.Posts = append(m.Posts, Post{Kind: "thread", ThreadTS: threadTS, Text: text})
	logging.FromContext(ctx).Info().Str("message_ts", threadTS).Msg("Thread reply posted")
	return nil
}

// UploadFile implements Notifier.
func (m *Memory) UploadFile(ctx context.Context, threadTS string, file File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("file"); err != nil {
		return err
	}
	m.Files = append(m.Files, file)
	logging.FromContext(ctx).Info().Str("message_ts", threadTS).Str("file", file.Name).Int("bytes", len(file.Content)).Msg("File uploaded")
	return nil
}

// Respond implements Notifier.
func (m *Memory) Respond(_ context.Context, responseURL, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("respond"); err != nil {
		return err
	}
	m.Responses = append(m.Responses, Post{Kind: "respond", ThreadTS: responseURL, Text: text})
	return nil
}

// Threads returns the thread replies posted under threadTS.
func (m *Memory) Threads(threadTS string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.Posts {
		if p.Kind == "thread" && p.ThreadTS == threadTS {
			out = append(out, p.Text)
		}
	}
	return out
}

// Replies returns the ephemeral response texts.
func (m *Memory) Replies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Responses))
	for i, r := range m.Responses {
		out[i] = r.Text
	}
	return out
}

// Outcome returns the last outcome recorded for messageTS.
func (m *Memory) Outcome(messageTS string) (Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Updates[messageTS]
	return o, ok
}
