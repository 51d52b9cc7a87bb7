package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/notification/notificationtest"
)

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	body, err := e.Render(ConsentRequest, map[string]string{
		"provider": "Dr. Lee",
		"link":     "https://care.example/consent/allow?token=abc",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(body, "Dr. Lee") || !strings.Contains(body, "token=abc") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestTemplateEngine_UnknownTemplate(t *testing.T) {
	if _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestTemplateEngine_MissingKeyLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(Template{ID: "t", Body: "hi {{name}} {{other}}"})
	body, _ := e.Render("t", map[string]string{"name": "Ann"})
	if body != "hi Ann {{other}}" {
		t.Errorf("got %q", body)
	}
}

func TestBroadcast_OneFailureDoesNotStopOthers(t *testing.T) {
	sender := &notificationtest.Sender{FailFor: map[string]error{"+15550000002": errors.New("offline")}}
	n := NewNotifier(sender, NewTemplateEngine(), 2, zerolog.Nop())

	res, err := n.Broadcast(context.Background(),
		[]string{"+15550000001", "+15550000002", "+15550000003", "+15550000001"},
		EscalationOpened, map[string]string{"patient": "p1", "summary": "bleeding"})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	sort.Strings(res.Sent)
	if len(res.Sent) != 2 || res.Sent[0] != "+15550000001" || res.Sent[1] != "+15550000003" {
		t.Errorf("unexpected sent list %v", res.Sent)
	}
	if _, ok := res.Failed["+15550000002"]; !ok || len(res.Failed) != 1 {
		t.Errorf("unexpected failures %v", res.Failed)
	}
	if got := len(sender.Calls()); got != 3 {
		t.Errorf("expected 3 sends (duplicate skipped), got %d", got)
	}
}

type slowSender struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowSender) SendText(context.Context, string, string) error {
	cur := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	s.inFlight.Add(-1)
	return nil
}

func TestBroadcast_RespectsConcurrencyLimit(t *testing.T) {
	s := &slowSender{}
	n := NewNotifier(s, NewTemplateEngine(), 3, zerolog.Nop())

	var phones []string
	for i := 0; i < 12; i++ {
		phones = append(phones, fmt.Sprintf("+1555000%04d", i))
	}
	res, err := n.Broadcast(context.Background(), phones, EscalationOpened, nil)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(res.Sent) != 12 {
		t.Errorf("expected 12 sent, got %d", len(res.Sent))
	}
	if p := s.peak.Load(); p > 3 {
		t.Errorf("peak concurrency %d exceeds limit 3", p)
	}
}

func TestSend_RendersAndDelivers(t *testing.T) {
	sender := &notificationtest.Sender{}
	n := NewNotifier(sender, NewTemplateEngine(), 1, zerolog.Nop())

	if err := n.Send(context.Background(), "+15550000009", ConsentGranted, map[string]string{"patient": "+1555***4567"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := sender.Calls()
	if len(calls) != 1 || calls[0].To != "+15550000009" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}
