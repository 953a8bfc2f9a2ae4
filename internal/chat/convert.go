package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Annotation types stored as data messages.
const (
	AnnotationTypeRelatedQuestions = "related-questions"
	AnnotationTypeReasoning        = "reasoning"
)

// Annotation is the typed envelope carried by data messages.
type Annotation struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ClientMessage is a message as exchanged with the client and the model. Content is either a
// JSON string or a structured payload.
type ClientMessage struct {
	ID          string            `json:"id,omitempty"`
	Role        Role              `json:"role"`
	Content     json.RawMessage   `json:"content"`
	Annotations []json.RawMessage `json:"annotations,omitempty"`
	Reasoning   string            `json:"reasoning,omitempty"`
}

// NewTextMessage builds a ClientMessage with plain text content.
func NewTextMessage(role Role, text string) ClientMessage {
	content, _ := json.Marshal(text)
	return ClientMessage{Role: role, Content: content}
}

// Text returns the content as text: plain strings are unquoted, structured payloads are
// returned as compact JSON.
func (m ClientMessage) Text() string {
	return contentText(m.Content)
}

// Message projects the client message onto the stored shape.
func (m ClientMessage) Message() Message {
	return Message{Role: m.Role, Content: m.Text()}
}

// ConvertToExtendedMessages normalizes client history for storage. Annotations and
// reasoning attached to a message become data messages placed right before it, the same
// layout the finalizer stores, so a history echoed back by the client maps onto the
// stored positions.
func ConvertToExtendedMessages(messages []ClientMessage) []Message {
	result := make([]Message, 0, len(messages))
	for _, msg := range messages {
		result = append(result, NewDataMessages(msg.Annotations)...)

		if msg.Reasoning != "" {
			if reasoning, err := NewAnnotationMessage(Annotation{
				Type: AnnotationTypeReasoning,
				Data: map[string]string{"reasoning": msg.Reasoning},
			}); err == nil {
				result = append(result, reasoning)
			}
		}

		result = append(result, msg.Message())
	}
	return result
}

// NewAnnotationMessage wraps an annotation into a data message.
func NewAnnotationMessage(annotation Annotation) (Message, error) {
	content, err := json.Marshal(annotation)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s annotation: %w", annotation.Type, err)
	}
	return Message{Role: RoleData, Content: string(content)}, nil
}

// NewDataMessage stores a raw client annotation as a data message.
func NewDataMessage(raw json.RawMessage) Message {
	return Message{Role: RoleData, Content: contentText(raw)}
}

// NewDataMessages converts client annotations to data messages. Related-questions
// annotations without items are skipped: they are either the placeholder streamed before
// generation or an empty result, and neither is ever stored.
func NewDataMessages(raws []json.RawMessage) []Message {
	result := make([]Message, 0, len(raws))
	for _, raw := range raws {
		if isEmptyRelatedQuestions(raw) {
			continue
		}
		result = append(result, NewDataMessage(raw))
	}
	return result
}

func isEmptyRelatedQuestions(raw json.RawMessage) bool {
	var annotation struct {
		Type string `json:"type"`
		Data struct {
			Items []json.RawMessage `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &annotation); err != nil {
		return false
	}
	return annotation.Type == AnnotationTypeRelatedQuestions && len(annotation.Data.Items) == 0
}

// FirstUserMessage returns the first message with the user role.
func FirstUserMessage(messages []ClientMessage) (ClientMessage, bool) {
	for _, msg := range messages {
		if msg.Role == RoleUser {
			return msg, true
		}
	}
	return ClientMessage{}, false
}

func contentText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil {
			return text
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}
