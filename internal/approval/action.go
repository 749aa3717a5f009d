package approval

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// LegacyNotice answers a button press on a legacy attachment message.
const LegacyNotice = "このメッセージ形式は非推奨です"

// ErrLegacyInteraction marks an interactive_message payload. It is answered
// with LegacyNotice and never changes a run.
var ErrLegacyInteraction = errors.New("legacy interactive_message payload")

// Action is one operator action on an approval message.
type Action struct {
	ID          zengin.ActionID `json:"action_id" validate:"required"`
	User        string          `json:"user" validate:"required"`
	UserID      string          `json:"user_id,omitempty"`
	MessageTS   string          `json:"message_ts,omitempty" validate:"required_without=RunID"`
	RunID       string          `json:"run_id,omitempty"`
	ResponseURL string          `json:"response_url,omitempty"`
	Hours       int             `json:"hours,omitempty" validate:"gte=0,lte=72"`
}

// Validate checks required fields and the action id.
func (a Action) Validate() error {
	if err := zengin.ValidateStruct(a); err != nil {
		return err
	}
	if !a.ID.Known() {
		return errors.NewValidationError("action_id", a.ID, "unsupported action")
	}
	return nil
}

type slackUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (u slackUser) display() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	case u.ID != "":
		return u.ID
	}
	return "Unknown"
}

type blockActions struct {
	Type        string    `json:"type"`
	User        slackUser `json:"user"`
	ResponseURL string    `json:"response_url"`
	Actions     []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
	Message struct {
		TS string `json:"ts"`
	} `json:"message"`
	Container struct {
		MessageTS string `json:"message_ts"`
	} `json:"container"`
}

type envelope struct {
	InteractionType string          `json:"interaction_type"`
	Payload         json.RawMessage `json:"payload"`
}

type flattened struct {
	Type        string          `json:"type"`
	User        json.RawMessage `json:"user"`
	MessageRef  string          `json:"message_ref"`
	MessageTS   string          `json:"message_ts"`
	ActionValue string          `json:"action_value"`
	Hours       int             `json:"hours"`
	RunID       string          `json:"run_id"`
}

// ParseForm parses the form-encoded body of an interactive webhook, which
// carries the block_actions JSON in its payload field.
func ParseForm(body []byte) (Action, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Action{}, errors.WrapParse("form", "interaction", err)
	}
	payload := values.Get("payload")
	if payload == "" {
		return Action{}, errors.NewValidationError("payload", nil, "missing payload")
	}
	return ParseBlockActions([]byte(payload))
}

// ParseJSON parses a JSON dispatch payload. It accepts the block_actions
// payload itself, the {interaction_type, payload} envelope and the flattened
// {type, user, message_ref, action_value, hours} form.
func ParseJSON(body []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Action{}, errors.WrapParse("json", "interaction", err)
	}
	if env.InteractionType != "" && len(env.Payload) > 0 {
		payload := env.Payload
		var quoted string
		if json.Unmarshal(payload, &quoted) == nil {
			payload = []byte(quoted)
		}
		return ParseBlockActions(payload)
	}

	var flat flattened
	if err := json.Unmarshal(body, &flat); err != nil {
		return Action{}, errors.WrapParse("json", "interaction", err)
	}
	if flat.Type == "block_actions" || flat.Type == "interactive_message" {
		return ParseBlockActions(body)
	}
	return flat.action()
}

// ParseBlockActions parses a block_actions interaction payload. Only the
// first action is used. An interactive_message payload yields
// ErrLegacyInteraction.
func ParseBlockActions(payload []byte) (Action, error) {
	var p blockActions
	if err := json.Unmarshal(payload, &p); err != nil {
		return Action{}, errors.WrapParse("json", "block_actions", err)
	}
	if p.Type == "interactive_message" {
		return Action{}, ErrLegacyInteraction
	}
	if p.Type != "" && p.Type != "block_actions" {
		return Action{}, errors.NewValidationError("type", p.Type, "unsupported interaction type")
	}
	if len(p.Actions) == 0 {
		return Action{}, errors.NewValidationError("actions", nil, "no action in payload")
	}
	first := p.Actions[0]
	a := Action{
		ID:          zengin.ActionID(first.ActionID),
		User:        p.User.display(),
		UserID:      p.User.ID,
		MessageTS:   firstNonEmpty(p.Message.TS, p.Container.MessageTS),
		ResponseURL: p.ResponseURL,
	}
	a.applyValue(first.Value)
	return a, a.Validate()
}

func (f flattened) action() (Action, error) {
	a := Action{
		ID:        zengin.ActionID(f.Type),
		MessageTS: firstNonEmpty(f.MessageRef, f.MessageTS),
		RunID:     f.RunID,
	}
	trimmed := bytes.TrimSpace(f.User)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var u slackUser
		if err := json.Unmarshal(trimmed, &u); err != nil {
			return Action{}, errors.WrapParse("json", "user", err)
		}
		a.User, a.UserID = u.display(), u.ID
	} else if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &a.User); err != nil {
			return Action{}, errors.WrapParse("json", "user", err)
		}
	}
	a.applyValue(f.ActionValue)
	if f.Hours > 0 {
		a.Hours = f.Hours
	}
	return a, a.Validate()
}

// applyValue reads the JSON button value. Malformed values are ignored.
func (a *Action) applyValue(raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	var v notify.ButtonValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return
	}
	if a.RunID == "" {
		a.RunID = v.DiffID
	}
	if v.Hours > 0 {
		a.Hours = v.Hours
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
