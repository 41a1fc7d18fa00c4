package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docrag/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns chunk texts and questions into vectors through an
// OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	client     embeddings.Embedder
	dimensions int
	logger     *slog.Logger
}

func newEmbedder(config *ai.Config) (*Embedder, error) {
	llm, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(token(config)),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("openai: creating embedding client: %w", err)
	}

	// PDF text keeps hard line breaks from page layout
	client, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("openai: creating embedder: %w", err)
	}
	return wrapEmbedder(client, config.Dimensions), nil
}

func wrapEmbedder(client embeddings.Embedder, dimensions int) *Embedder {
	return &Embedder{
		client:     client,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "openai-embedder"),
	}
}

// EmbedText embeds one chunk.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds a batch of chunks in one request. Either every text gets
// a vector of the configured size or the whole batch fails.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("embedding chunks", "count", len(texts))

	vectors, err := e.client.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("embedding request failed", "count", len(texts), "err", err)
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(vectors))
	}
	for i, v := range vectors {
		if err := e.check(v); err != nil {
			return nil, fmt.Errorf("openai: embedding %d: %w", i, err)
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a question for retrieval.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.client.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Error("query embedding failed", "err", err)
		return nil, err
	}
	if err := e.check(vector); err != nil {
		return nil, fmt.Errorf("openai: query embedding: %w", err)
	}
	return vector, nil
}

func (e *Embedder) check(v []float32) error {
	switch {
	case len(v) == 0:
		return errors.New("empty vector")
	case e.dimensions > 0 && len(v) != e.dimensions:
		return fmt.Errorf("got %d dimensions, want %d", len(v), e.dimensions)
	}
	return nil
}

// token returns the API key, or "none" for local servers that run without one.
func token(config *ai.Config) string {
	if config.APIKey == "" {
		return "none"
	}
	return config.APIKey
}
