package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/docrag/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	vectors [][]float32
	err     error
	texts   []string
}

func (f *fakeClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.texts = texts
	return f.vectors, f.err
}

func (f *fakeClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.texts = []string{text}
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[0], nil
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	client := &fakeClient{vectors: [][]float32{{1, 0}, {0, 1}}}
	e := wrapEmbedder(client, 2)

	vectors, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, client.vectors, vectors)
	assert.Equal(t, []string{"a", "b"}, client.texts)

	vectors, err = e.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedder_RejectsBadResponses(t *testing.T) {
	tests := []struct {
		name    string
		vectors [][]float32
		err     error
	}{
		{"request error", nil, errors.New("rate limited")},
		{"short response", [][]float32{{1, 0}}, nil},
		{"empty vector", [][]float32{{1, 0}, {}}, nil},
		{"wrong dimensions", [][]float32{{1, 0}, {1, 0, 0}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := wrapEmbedder(&fakeClient{vectors: tt.vectors, err: tt.err}, 2)
			_, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
			assert.Error(t, err)
		})
	}
}

func TestEmbedder_EmbedTextAndQuery(t *testing.T) {
	client := &fakeClient{vectors: [][]float32{{0.5, 0.5}}}
	e := wrapEmbedder(client, 0)

	v, err := e.EmbedText(context.Background(), "chunk")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, v)

	v, err = e.EmbedQuery(context.Background(), "question?")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, v)
	assert.Equal(t, []string{"question?"}, client.texts)

	client.vectors = [][]float32{{}}
	_, err = e.EmbedQuery(context.Background(), "question?")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	assert.Equal(t, "none", token(&ai.Config{}))
	assert.Equal(t, "sk-test", token(&ai.Config{APIKey: "sk-test"}))
}
