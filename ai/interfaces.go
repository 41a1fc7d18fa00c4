package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a document embedding for a single text string.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates document embeddings for multiple text strings in one call.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding tuned for retrieval queries.
	// Backends without query/document asymmetry treat it like EmbedText.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// StreamFunc receives each incremental piece of generated text in order.
// Returning an error aborts the generation.
type StreamFunc func(ctx context.Context, chunk string) error

// Generator produces answers from a fully assembled prompt.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate returns the complete answer for prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream calls fn for every increment the model produces and returns
	// the concatenated text. On error the text produced so far is still returned.
	GenerateStream(ctx context.Context, prompt string, fn StreamFunc) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// A provider creates and manages Embedder and Generator instances,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Generator returns the answer generation service.
	// The returned Generator is safe for concurrent use.
	Generator() Generator

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
