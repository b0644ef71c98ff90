package queue

import (
	"encoding/json"
	"strings"
)

// Payload is a chat message body: plain text, or the structured form with
// embeds.
type Payload struct {
	Content string            `json:"content,omitempty"`
	Embeds  []json.RawMessage `json:"embeds,omitempty"`
}

// Structured reports whether the payload carries embeds.
func (p Payload) Structured() bool {
	return len(p.Embeds) > 0
}

// ParsePayload treats content shaped like a JSON object as a structured
// message when it decodes and has content or embeds. Anything else,
// including malformed JSON, is sent as plain text.
func ParsePayload(content string) Payload {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var p Payload
		if err := json.Unmarshal([]byte(trimmed), &p); err == nil && (p.Content != "" || len(p.Embeds) > 0) {
			return p
		}
	}
	return Payload{Content: content}
}
