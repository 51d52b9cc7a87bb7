package messaging

import (
	"testing"
)

func TestExtract_Shapes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   Inbound
		wantOK bool
	}{
		{
			"flat chat id",
			`{"chatId":"15551234567@c.us","text":"hello","messageId":"m1"}`,
			Inbound{Phone: "+15551234567", Text: "hello", MessageID: "m1"}, true,
		},
		{
			"from and body",
			`{"from":"+1 (555) 123-4567","body":"hi there","id":"m2"}`,
			Inbound{Phone: "+15551234567", Text: "hi there", MessageID: "m2"}, true,
		},
		{
			"data wrapper",
			`{"event":"message","data":{"from":"15551234567@c.us","body":"ping","id":"m3"}}`,
			Inbound{Phone: "+15551234567", Text: "ping", MessageID: "m3"}, true,
		},
		{
			"payload wrapper",
			`{"payload":{"from":"15551234567","text":"yo","id":"m4"}}`,
			Inbound{Phone: "+15551234567", Text: "yo", MessageID: "m4"}, true,
		},
		{
			"messages array",
			`{"messages":[{"from":"15551234567","id":"m5","text":{"body":"array text"}}]}`,
			Inbound{Phone: "+15551234567", Text: "array text", MessageID: "m5"}, true,
		},
		{
			"cloud api entry",
			`{"entry":[{"changes":[{"value":{"messages":[{"from":"15551234567","id":"wamid.6","text":{"body":"cloud"}}]}}]}]}`,
			Inbound{Phone: "+15551234567", Text: "cloud", MessageID: "wamid.6"}, true,
		},
		{
			"group chat id is unroutable",
			`{"chatId":"120363025123456789@g.us","text":"hello"}`,
			Inbound{}, false,
		},
		{
			"no sender",
			`{"text":"orphan"}`,
			Inbound{}, false,
		},
		{
			"no text",
			`{"from":"15551234567","type":"image"}`,
			Inbound{Phone: "+15551234567"}, false,
		},
		{
			"not json",
			`from=1555`,
			Inbound{}, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract([]byte(tt.body))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtract_FromMe(t *testing.T) {
	got, ok := Extract([]byte(`{"data":{"from":"15551234567@c.us","body":"echo","fromMe":true}}`))
	if !ok || !got.FromMe {
		t.Errorf("expected fromMe message, got %+v %v", got, ok)
	}
}
