package handlers

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/agentstation/zenginsync/internal/approval"
	"github.com/agentstation/zenginsync/internal/server/response"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
)

const maxActionBody = 1 << 20

// HandleSlackInteractive handles POST /slack/interactive.
//
// The chat platform expects an acknowledgement within three seconds, so the
// action is parsed, acknowledged and then handled in the background. Replies
// reach the operator through the payload's response_url.
func (h *Handlers) HandleSlackInteractive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody))
	if err != nil {
		response.BadRequest(w, "Unreadable request body", "")
		return
	}

	a, err := parseAction(r.Header.Get("Content-Type"), body)
	if errors.Is(err, approval.ErrLegacyInteraction) {
		logging.FromContext(r.Context()).Info().Msg("Legacy interactive message acknowledged")
		writeEphemeral(w, approval.LegacyNotice)
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn().Err(err).Msg("Rejected interactive payload")
		response.ErrorFromType(w, err)
		return
	}

	ctx := logging.WithAction(logging.WithActor(r.Context(), a.User), a.ID.String())
	logging.FromContext(ctx).Info().Str("message_ts", a.MessageTS).Msg("Interactive action received")

	h.bg.Go(ctx, "handle action", func(ctx context.Context) error {
		result, err := h.client.HandleAction(ctx, a)
		if errors.IsNotFound(err) || errors.IsDuplicateAction(err) {
			// already answered to the operator
			return nil
		}
		if err != nil {
			return err
		}
		logging.FromContext(ctx).Info().
			Str("run_id", result.RunID).
			Str("outcome", result.Outcome).
			Msg("Interactive action handled")
		return nil
	})

	w.WriteHeader(http.StatusOK)
}

// writeEphemeral answers the interaction with a message shown only to the
// operator who pressed the button.
func writeEphemeral(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"response_type":    "ephemeral",
		"replace_original": false,
		"text":             text,
	})
}

// parseAction accepts the platform's form-encoded payload and the internal
// JSON forms.
func parseAction(contentType string, body []byte) (approval.Action, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		return approval.ParseJSON(body)
	}
	return approval.ParseForm(body)
}
