package gemini

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/poiesic/docrag/ai"
	"google.golang.org/genai"
)

// generateAPI is the subset of *genai.Models used for generation.
type generateAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Generator implements ai.Generator with Gemini chat models.
type Generator struct {
	api    generateAPI
	model  string
	config *genai.GenerateContentConfig
	logger *slog.Logger
}

func newGenerator(api generateAPI, config *ai.Config) *Generator {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(config.Temperature)),
		TopP:        genai.Ptr(float32(config.TopP)),
	}
	if config.TopK > 0 {
		gc.TopK = genai.Ptr(float32(config.TopK))
	}
	if config.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(config.MaxTokens)
	}
	if config.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(config.SystemPrompt, genai.RoleUser)
	}
	return &Generator{
		api:    api,
		model:  config.GenerationModel,
		config: gc,
		logger: slog.Default().With("component", "gemini-generator"),
	}
}

// Generate returns the complete answer for prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.api.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
	if err != nil {
		g.logger.Error("failed to generate content", "err", err)
		return "", err
	}
	return resp.Text(), nil
}

// GenerateStream forwards every streamed increment to fn and returns the full text.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, fn ai.StreamFunc) (string, error) {
	var sb strings.Builder
	for resp, err := range g.api.GenerateContentStream(ctx, g.model, genai.Text(prompt), g.config) {
		if err != nil {
			g.logger.Error("streaming generation failed", "received", sb.Len(), "err", err)
			return sb.String(), err
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		if err := fn(ctx, text); err != nil {
			return sb.String(), err
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
