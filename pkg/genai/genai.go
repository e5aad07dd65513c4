// Package genai drafts post text with an OpenAI-compatible model.
//
// The engine itself never requires generated content; callers pass
// explicit text. This package backs the optional draft endpoint so the
// front end can offer a starting point.
package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = "You write short social posts. Reply with only the post text, no quotes, no hashtags unless asked, at most 280 characters."

// Generator produces a post draft from a topic prompt.
type Generator interface {
	Draft(ctx context.Context, topic string) (string, error)
}

// OpenAIGenerator implements Generator against the OpenAI chat API or
// any compatible endpoint.
type OpenAIGenerator struct {
	client openai.Client
	model  openai.ChatModel
}

// Option configures an OpenAIGenerator.
type Option func(*OpenAIGenerator)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(g *OpenAIGenerator) { g.model = openai.ChatModel(model) }
}

// NewOpenAIGenerator creates a generator using the given API key.
func NewOpenAIGenerator(apiKey string, opts ...Option) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: API key is required")
	}
	g := &OpenAIGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.ChatModelGPT4o,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Draft implements Generator.
func (g *OpenAIGenerator) Draft(ctx context.Context, topic string) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("genai: topic is required")
	}

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(topic),
		},
	})
	if err != nil {
		return "", fmt.Errorf("genai: completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("genai: empty completion")
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("genai: empty completion")
	}
	return text, nil
}
