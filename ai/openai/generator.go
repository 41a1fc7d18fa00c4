package openai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/poiesic/docrag/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client       llms.Model
	systemPrompt string
	callOptions  []llms.CallOption
	logger       *slog.Logger
}

// newGenerator is an internal constructor that returns the concrete type.
func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(token(config)),
		openai.WithModel(config.GenerationModel),
	)
	if err != nil {
		return nil, err
	}

	opts := []llms.CallOption{
		llms.WithTemperature(config.Temperature),
		llms.WithTopP(config.TopP),
	}
	if config.TopK > 0 {
		opts = append(opts, llms.WithTopK(config.TopK))
	}
	if config.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(config.MaxTokens))
	}

	return &Generator{
		client:       client,
		systemPrompt: config.SystemPrompt,
		callOptions:  opts,
		logger:       slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

func (g *Generator) messages(prompt string) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, 2)
	if g.systemPrompt != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, g.systemPrompt))
	}
	return append(content, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

// Generate returns the complete answer for prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := g.client.GenerateContent(ctx, g.messages(prompt), g.callOptions...)
	if err != nil {
		g.logger.Error("failed to generate content", "err", err)
		return "", err
	}
	if len(response.Choices) < 1 {
		g.logger.Warn("no choices returned from model")
		return "", nil
	}
	return response.Choices[0].Content, nil
}

// GenerateStream forwards every streamed chunk to fn and returns the full text.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, fn ai.StreamFunc) (string, error) {
	var sb strings.Builder
	opts := append(append([]llms.CallOption{}, g.callOptions...),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			sb.Write(chunk)
			return fn(ctx, string(chunk))
		}))

	_, err := g.client.GenerateContent(ctx, g.messages(prompt), opts...)
	if err != nil {
		g.logger.Error("streaming generation failed", "received", sb.Len(), "err", err)
		return sb.String(), err
	}
	return sb.String(), nil
}
