package messaging

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/careline/careline/internal/platform/phone"
)

// Known gateway payload shapes, probed in order.
var (
	fromPaths = []string{
		"chatId",
		"from",
		"data.from",
		"payload.from",
		"messages.0.from",
		"entry.0.changes.0.value.messages.0.from",
	}
	textPaths = []string{
		"text",
		"text.body",
		"body",
		"message",
		"data.body",
		"payload.body",
		"payload.text",
		"messages.0.text.body",
		"messages.0.body",
		"entry.0.changes.0.value.messages.0.text.body",
	}
	idPaths = []string{
		"messageId",
		"id",
		"data.id",
		"payload.id",
		"messages.0.id",
		"entry.0.changes.0.value.messages.0.id",
	}
	fromMePaths = []string{"fromMe", "data.fromMe", "payload.fromMe"}
)

// Inbound is the normalized content of one webhook delivery.
type Inbound struct {
	Phone     string
	Text      string
	MessageID string
	FromMe    bool
}

// Extract pulls sender, text and message id out of any known envelope. ok
// is false when the sender cannot be turned into a phone number or there
// is no text.
func Extract(body []byte) (Inbound, bool) {
	if !gjson.ValidBytes(body) {
		return Inbound{}, false
	}
	doc := gjson.ParseBytes(body)

	var in Inbound
	for _, p := range fromMePaths {
		if r := doc.Get(p); r.Exists() && r.Bool() {
			in.FromMe = true
			break
		}
	}

	raw := firstString(doc, fromPaths)
	normalized, ok := phone.Normalize(raw)
	if !ok {
		return in, false
	}
	in.Phone = normalized
	in.Text = strings.TrimSpace(firstString(doc, textPaths))
	in.MessageID = firstString(doc, idPaths)
	return in, in.Text != ""
}

// firstString returns the first path holding a non-empty string. Paths
// holding objects are skipped so "text" does not shadow "text.body".
func firstString(doc gjson.Result, paths []string) string {
	for _, p := range paths {
		if r := doc.Get(p); r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
			return r.Str
		}
	}
	return ""
}
