package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, BackendGemini, cfg.Backend)
	assert.Equal(t, "text-embedding-004", cfg.EmbeddingModel)
	assert.Equal(t, 768, cfg.Dimensions)
	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 0.8, cfg.TopP)
	assert.Equal(t, 40, cfg.TopK)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://custom:8080/v1"))

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://custom:8080/v1", cfg.GenerationHost)
	})

	t.Run("with separate hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithGenerationHost("http://generate:9090/v1"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://generate:9090/v1", cfg.GenerationHost)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithBackend(BackendOpenAI),
			WithEmbeddingModel("nomic-embed-text"),
			WithGenerationModel("qwen2.5:7b"),
			WithDimensions(1024),
			WithSampling(0.2, 0.9, 20, 512),
			WithSystemPrompt("be brief"),
		)

		assert.Equal(t, BackendOpenAI, cfg.Backend)
		assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
		assert.Equal(t, "qwen2.5:7b", cfg.GenerationModel)
		assert.Equal(t, 1024, cfg.Dimensions)
		assert.Equal(t, 0.2, cfg.Temperature)
		assert.Equal(t, 0.9, cfg.TopP)
		assert.Equal(t, 20, cfg.TopK)
		assert.Equal(t, 512, cfg.MaxTokens)
		assert.Equal(t, "be brief", cfg.SystemPrompt)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		backend  Backend
		host     string
		wantHost string
		wantBknd Backend
	}{
		{"openai adds /v1", BackendOpenAI, "http://localhost:11434", "http://localhost:11434/v1", BackendOpenAI},
		{"openai trims trailing slash", BackendOpenAI, "http://localhost:11434/", "http://localhost:11434/v1", BackendOpenAI},
		{"openai keeps existing /v1", BackendOpenAI, "http://localhost:11434/v1", "http://localhost:11434/v1", BackendOpenAI},
		{"gemini leaves hosts alone", BackendGemini, "http://localhost:11434", "http://localhost:11434", BackendGemini},
		{"backend is lowercased", Backend(" OpenAI "), "http://h", "http://h/v1", BackendOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(WithBackend(tt.backend), WithHost(tt.host))
			cfg.Normalize()
			assert.Equal(t, tt.wantBknd, cfg.Backend)
			assert.Equal(t, tt.wantHost, cfg.EmbeddingHost)
			assert.Equal(t, tt.wantHost, cfg.GenerationHost)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("gemini requires api key", func(t *testing.T) {
		cfg := NewConfig()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "APIKey")

		cfg.APIKey = "secret"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("openai requires hosts", func(t *testing.T) {
		cfg := NewConfig(WithBackend(BackendOpenAI), WithHost(""))
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "EmbeddingHost")
	})

	t.Run("openai does not require api key", func(t *testing.T) {
		cfg := NewConfig(WithBackend(BackendOpenAI))
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := NewConfig(WithBackend("bedrock"), WithAPIKey("x"))
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid sampling", func(t *testing.T) {
		cfg := NewConfig(WithAPIKey("x"), WithSampling(3, 0.5, 1, 10))
		assert.Error(t, cfg.Validate())

		cfg = NewConfig(WithAPIKey("x"), WithSampling(0.5, 1.5, 1, 10))
		assert.Error(t, cfg.Validate())

		cfg = NewConfig(WithAPIKey("x"), WithSampling(0.5, 0.5, 1, -1))
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing models and dimensions", func(t *testing.T) {
		cfg := NewConfig(WithAPIKey("x"), WithEmbeddingModel(""))
		assert.Error(t, cfg.Validate())

		cfg = NewConfig(WithAPIKey("x"), WithGenerationModel(""))
		assert.Error(t, cfg.Validate())

		cfg = NewConfig(WithAPIKey("x"), WithDimensions(0))
		assert.Error(t, cfg.Validate())
	})
}
