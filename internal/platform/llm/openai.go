package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIComposer answers through the Chat Completions API.
type OpenAIComposer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIComposer(apiKey, model string, timeout time.Duration) *OpenAIComposer {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(opts...)
	return NewOpenAIComposerFromClient(&client, model, timeout)
}

func NewOpenAIComposerFromClient(client *openai.Client, model string, timeout time.Duration) *OpenAIComposer {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAIComposer{client: client, model: model, timeout: timeout}
}

func (c *OpenAIComposer) Name() string { return "openai" }

func (c *OpenAIComposer) Compose(ctx context.Context, p Prompt) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt)}
	for _, t := range p.History {
		if t.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(userMessage(p)))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		Temperature:         openai.Float(0.2),
		MaxCompletionTokens: openai.Int(600),
	})
	if err != nil {
		return "", upstream("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", upstream("openai", errors.New("no choices returned"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
