// Package notify posts approval requests and run outcomes to the chat
// platform.
package notify

import (
	"context"
	"time"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

// Notifier is the outbound chat contract.
type Notifier interface {
	// PostApproval posts the approval request of a run and returns the
	// message timestamp that identifies it.
	PostApproval(ctx context.Context, runID string, batch *zengin.DiffBatch) (string, error)

	// PostNoChanges posts the notice of a detection that found nothing.
	PostNoChanges(ctx context.Context, at time.Time) error

	// UpdateApproval replaces the buttons of an approval message with an outcome.
	UpdateApproval(ctx context.Context, messageTS string, outcome Outcome) error

	// PostThread posts text in the thread of an approval message. An empty
	// threadTS posts to the channel.
	PostThread(ctx context.Context, threadTS, text string) error

	// UploadFile attaches content to the thread of an approval message.
	UploadFile(ctx context.Context, threadTS string, file File) error

	// Respond sends an ephemeral reply through an interaction response URL.
	Respond(ctx context.Context, responseURL, text string) error
}

// File is an attachment upload.
type File struct {
	Name    string
	Title   string
	Comment string
	Content []byte
}
