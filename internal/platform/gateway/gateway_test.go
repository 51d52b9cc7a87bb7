package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/rs/zerolog"
)

func TestSendText_PostsChatIDAndText(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/text" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok", time.Second, zerolog.Nop())
	if err := c.SendText(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got.ChatID != "15551234567@c.us" || got.Text != "hello" {
		t.Errorf("unexpected payload %+v", got)
	}
	if auth != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", auth)
	}
}

func TestSendText_UpstreamErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"session disconnected"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zerolog.Nop())
	err := c.SendText(context.Background(), "+15551234567", "hello")
	if !apperr.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if !strings.Contains(err.Error(), "session disconnected") {
		t.Errorf("expected upstream message in %q", err.Error())
	}
}

func TestSendText_InvalidPhone(t *testing.T) {
	c := NewClient("http://gateway.invalid", "", time.Second, zerolog.Nop())
	err := c.SendText(context.Background(), "555", "hello")
	if code, _ := apperr.Status(err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d (%v)", code, err)
	}
}

func TestSendText_NotConfigured(t *testing.T) {
	c := NewClient("", "", time.Second, zerolog.Nop())
	if err := c.SendText(context.Background(), "+15551234567", "hi"); !apperr.IsUpstream(err) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestChatID(t *testing.T) {
	if got := ChatID("+4915112345678"); got != "4915112345678@c.us" {
		t.Errorf("ChatID = %q", got)
	}
}
