// Package openai provides invocation units backed by the OpenAI Chat
// Completions API. Register the unit under a name and reference it from
// invoker state plans.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/openai/openai-go"
)

// Options configure the unit. Fields mirror a minimal subset of the Chat
// Completion parameters; extend via functional options.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64

	// System is an optional system prompt prepended to every request.
	System string

	// PromptKey selects the invocation data key used as the user prompt.
	// Point it at "chat_history" for full-transcript prompting.
	PromptKey string
}

// Invoker turns chat completions into invocation units.
type Invoker struct {
	client *openai.Client
	opts   Options
}

// New creates an invoker using the environment-configured client.
func New(optFns ...func(o *Options)) *Invoker {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an invoker from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Invoker {
	opts := Options{
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0.7,
		MaxTokens:   4096,
		PromptKey:   "actor_input",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Invoker{client: client, opts: opts}
}

// Unit returns the executable unit function.
func (i *Invoker) Unit() domain.UnitFunc {
	return func(ctx context.Context, inv domain.Invocation) (string, error) {
		var messages []openai.ChatCompletionMessageParamUnion
		if i.opts.System != "" {
			messages = append(messages, openai.SystemMessage(i.opts.System))
		}
		messages = append(messages, openai.UserMessage(prompt(inv.Data, i.opts.PromptKey)))

		resp, err := i.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:               i.opts.Model,
			Messages:            messages,
			Temperature:         openai.Float(i.opts.Temperature),
			MaxCompletionTokens: openai.Int(i.opts.MaxTokens),
		})
		if err != nil {
			return "", fmt.Errorf("openai api error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	}
}

// prompt extracts the user prompt from the invocation data. Non-string
// values (an upstream stage's aggregate) are serialized as JSON.
func prompt(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
