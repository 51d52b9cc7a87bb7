// Package notification renders short WhatsApp templates and delivers them,
// one at a time or as a bounded parallel broadcast.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/careline/careline/internal/platform/gateway"
	"github.com/careline/careline/internal/platform/phone"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Template ids.
const (
	ConsentRequest    = "consent-request"
	ConsentGranted    = "consent-granted"
	EscalationOpened  = "escalation-opened"
	EscalationUpdated = "escalation-updated"
)

// Template is a body with {{key}} placeholders.
type Template struct {
	ID   string
	Body string
}

// TemplateEngine holds the registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{ConsentRequest, "{{provider}} is requesting access to your health records. Tap to approve: {{link}}"},
		{ConsentGranted, "Access approved for patient {{patient}}. You can now ask about their records."},
		{EscalationOpened, "New escalation for patient {{patient}}: {{summary}}"},
		{EscalationUpdated, "Escalation {{id}} for patient {{patient}} is now {{status}}.{{note}}"},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Unknown placeholders are left
// as-is.
func (e *TemplateEngine) Render(id string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", id)
	}
	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// BroadcastResult records per-recipient outcomes. A failed recipient never
// affects its siblings.
type BroadcastResult struct {
	Sent   []string
	Failed map[string]error
}

// Notifier renders templates and sends them through the gateway.
type Notifier struct {
	sender      gateway.Sender
	templates   *TemplateEngine
	concurrency int
	logger      zerolog.Logger
}

func NewNotifier(sender gateway.Sender, templates *TemplateEngine, concurrency int, logger zerolog.Logger) *Notifier {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Notifier{
		sender:      sender,
		templates:   templates,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "notification").Logger(),
	}
}

// Send renders a template and delivers it to one recipient.
func (n *Notifier) Send(ctx context.Context, to, templateID string, data map[string]string) error {
	body, err := n.templates.Render(templateID, data)
	if err != nil {
		return err
	}
	return n.sender.SendText(ctx, to, body)
}

// Broadcast sends the same rendered template to every recipient with at most
// `concurrency` sends in flight. Duplicate recipients are sent once.
func (n *Notifier) Broadcast(ctx context.Context, recipients []string, templateID string, data map[string]string) (*BroadcastResult, error) {
	body, err := n.templates.Render(templateID, data)
	if err != nil {
		return nil, err
	}

	res := &BroadcastResult{Failed: make(map[string]error)}
	var mu sync.Mutex
	seen := make(map[string]bool, len(recipients))

	var g errgroup.Group
	g.SetLimit(n.concurrency)
	for _, to := range recipients {
		if to == "" || seen[to] {
			continue
		}
		seen[to] = true
		to := to
		g.Go(func() error {
			err := n.sender.SendText(ctx, to, body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[to] = err
				n.logger.Warn().Err(err).Str("phone", phone.Mask(to)).Str("template", templateID).Msg("broadcast send failed")
				return nil
			}
			res.Sent = append(res.Sent, to)
			return nil
		})
	}
	g.Wait()
	return res, nil
}
