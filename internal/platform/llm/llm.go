// Package llm wraps the generative backends that turn retrieved passages
// into an answer, plus the hosted conversational agent.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/careline/careline/internal/platform/apperr"
)

// Turn is one prior message given to the model as context.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Prompt is everything a Composer needs to answer one question.
type Prompt struct {
	Question string
	Passages []string
	History  []Turn
}

// Composer produces an answer from a prompt.
type Composer interface {
	Compose(ctx context.Context, p Prompt) (string, error)
	Name() string
}

const systemPrompt = `You are a clinic's messaging assistant. Answer using only the provided context passages. ` +
	`If the context does not contain the answer, say you do not know and suggest contacting the clinic. ` +
	`Keep answers short enough for a chat message.`

// Config selects and configures a Composer.
type Config struct {
	Provider        string // "openai", "anthropic" or "" for extractive
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	Timeout         time.Duration
}

// NewComposer returns the configured backend, or the extractive composer when
// no provider is set.
func NewComposer(cfg Config) (Composer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none", "extractive":
		return ExtractiveComposer{}, nil
	case "openai":
		return NewOpenAIComposer(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.Timeout), nil
	case "anthropic":
		return NewAnthropicComposer(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// userMessage renders the passages and question as a single user turn.
func userMessage(p Prompt) string {
	var b strings.Builder
	if len(p.Passages) > 0 {
		b.WriteString("Context:\n")
		for i, passage := range p.Passages {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(passage))
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(p.Question)
	return b.String()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func upstream(name string, err error) error {
	return apperr.Upstream(name, err)
}

// ExtractiveComposer joins the top passages when no generative backend is
// configured.
type ExtractiveComposer struct{}

func (ExtractiveComposer) Name() string { return "extractive" }

func (ExtractiveComposer) Compose(_ context.Context, p Prompt) (string, error) {
	const maxPassages = 3
	var parts []string
	for _, passage := range p.Passages {
		if s := strings.TrimSpace(passage); s != "" {
			parts = append(parts, s)
		}
		if len(parts) == maxPassages {
			break
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
