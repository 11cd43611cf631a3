// Package anthropic provides invocation units backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aretw0/espalier/pkg/domain"
)

// Options configure the unit.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string

	// System is an optional system prompt sent with every request.
	System string

	// PromptKey selects the invocation data key used as the user prompt.
	PromptKey string
}

// Invoker turns the Messages API into invocation units.
type Invoker struct {
	client *anthropic.Client
	opts   Options
}

// New creates an invoker with its own client.
func New(optFns ...func(o *Options)) *Invoker {
	opts := defaults()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Invoker{client: &client, opts: opts}
}

// NewFromClient creates an invoker from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Invoker {
	opts := defaults()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Invoker{client: client, opts: opts}
}

func defaults() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
		PromptKey:   "actor_input",
	}
}

// Unit returns the executable unit function.
func (i *Invoker) Unit() domain.UnitFunc {
	return func(ctx context.Context, inv domain.Invocation) (string, error) {
		params := anthropic.MessageNewParams{
			Model:       i.opts.Model,
			MaxTokens:   i.opts.MaxTokens,
			Temperature: anthropic.Float(i.opts.Temperature),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt(inv.Data, i.opts.PromptKey))),
			},
		}
		if i.opts.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: i.opts.System}}
		}

		resp, err := i.client.Messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("anthropic api error: %w", err)
		}

		for _, block := range resp.Content {
			if block.Type == "text" {
				return block.AsText().Text, nil
			}
		}
		return "", fmt.Errorf("anthropic returned no text content")
	}
}

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
