package event

import (
	"encoding/json"
	"strings"

	apperrors "github.com/hubline/crm/internal/platform/errors"
)

// Payload is the sealed set of timeline payload shapes. Writers build a
// variant and serialize it with Encode; readers re-type stored JSON with
// Decode. The ledger itself only requires a JSON object.
type Payload interface {
	payload()
}

// TextPayload is the shape for Comment, Call, Unsubscribed and free-form
// events, and for outbound email mirror events where the text is the subject
// line and may be null.
type TextPayload struct {
	Text *string `json:"text"`
}

// EmailPayload is a manually recorded email: the message body plus an
// optional subject, omitted when absent.
type EmailPayload struct {
	Text    string `json:"text"`
	Subject string `json:"subject,omitempty"`
}

// DocumentLinkPayload attaches a titled link to the timeline.
type DocumentLinkPayload struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// ReplyPayload records an inbound email reply.
type ReplyPayload struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// TaskAssignee must be fully populated when present.
type TaskAssignee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TaskPayload mirrors a task's public state. Assignee is null or fully
// populated, never partial.
type TaskPayload struct {
	PublicID string        `json:"public_id"`
	Text     *string       `json:"text,omitempty"`
	Subject  string        `json:"subject"`
	Track    *string       `json:"track,omitempty"`
	Priority string        `json:"priority"`
	Status   string        `json:"status"`
	Assignee *TaskAssignee `json:"assignee"`
}

func (TextPayload) payload()         {}
func (EmailPayload) payload()        {}
func (DocumentLinkPayload) payload() {}
func (ReplyPayload) payload()        {}
func (TaskPayload) payload()         {}

// Text builds a TextPayload with a non-null text value.
func Text(text string) TextPayload {
	return TextPayload{Text: &text}
}

// NullText builds a TextPayload whose text is explicitly null.
func NullText() TextPayload {
	return TextPayload{}
}

// Encode serializes a payload variant for storage.
func Encode(p Payload) (string, error) {
	if p == nil {
		return "", apperrors.New(apperrors.CodeEventInvalidPayload, "event payload is required")
	}
	if task, ok := p.(TaskPayload); ok {
		if task.Assignee != nil && (task.Assignee.Name == "" || task.Assignee.Email == "") {
			return "", apperrors.New(apperrors.CodeEventInvalidPayload, "task assignee must be fully populated")
		}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeEventInvalidPayload, "encode event payload", err)
	}
	return string(data), nil
}

// Decode re-types stored JSON according to the event tag. Free-form tags
// decode as TextPayload.
func Decode(t Type, raw string) (Payload, error) {
	switch t {
	case TypeEmail:
		var p EmailPayload
		return p, decodeInto(raw, &p)
	case TypeDocumentLink:
		var p DocumentLinkPayload
		return p, decodeInto(raw, &p)
	case TypeReply:
		var p ReplyPayload
		return p, decodeInto(raw, &p)
	case TypeTask:
		var p TaskPayload
		if err := decodeInto(raw, &p); err != nil {
			return nil, err
		}
		if p.Assignee != nil && (p.Assignee.Name == "" || p.Assignee.Email == "") {
			return nil, apperrors.New(apperrors.CodeEventInvalidPayload, "task assignee must be fully populated")
		}
		return p, nil
	default:
		var p TextPayload
		return p, decodeInto(raw, &p)
	}
}

// ValidObject reports whether raw is a JSON object, the only shape
// constraint the ledger enforces at append time.
func ValidObject(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(trimmed), &obj) == nil
}

func decodeInto(raw string, target any) error {
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return apperrors.Wrap(apperrors.CodeEventInvalidPayload, "decode event payload", err)
	}
	return nil
}
