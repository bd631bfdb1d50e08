package forward

import (
	"strings"

	"github.com/wirebind/sessiond/transport"
)

// NonTextBody is the body placeholder for messages whose content carries no
// extractable text (media, stickers, locations, ...).
const NonTextBody = "[non-text message]"

// InboundMessage is the canonical shape delivered downstream. It is
// ephemeral; the gateway never persists it.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp int64  `json:"timestamp"`
	Body      string `json:"body"`
	Kind      string `json:"kind"`
}

// contentKinds maps provider content keys to canonical kind tags, in
// recognition order: the first key present in the raw payload wins.
var contentKinds = []struct {
	key  string
	kind string
}{
	{"conversation", "text"},
	{"extendedTextMessage", "text"},
	{"imageMessage", "image"},
	{"videoMessage", "video"},
	{"audioMessage", "audio"},
	{"documentMessage", "document"},
	{"stickerMessage", "sticker"},
	{"locationMessage", "location"},
	{"contactMessage", "contact"},
}

// Normalize converts a raw transport payload into the canonical shape.
// The sender identifier is reduced to its digits, dropping the provider's
// server suffix and any device markers.
func Normalize(raw transport.RawMessage) InboundMessage {
	msg := InboundMessage{
		ID:        raw.ID,
		From:      digitsOnly(raw.Sender),
		Timestamp: raw.UnixTime,
		Kind:      "text",
		Body:      NonTextBody,
	}

	for _, ck := range contentKinds {
		v, ok := raw.Content[ck.key]
		if !ok {
			continue
		}
		msg.Kind = ck.kind
		if body, ok := extractText(ck.key, v); ok {
			msg.Body = body
		}
		break
	}
	return msg
}

// extractText pulls the message text out of the two content shapes that
// carry any: a bare string, and an extended-text object with a "text" field.
func extractText(key string, v any) (string, bool) {
	switch key {
	case "conversation":
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	case "extendedTextMessage":
		if m, ok := v.(map[string]any); ok {
			if s, ok := m["text"].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
