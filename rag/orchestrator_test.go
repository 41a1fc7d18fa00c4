package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/docrag/ai/mock"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/embedding"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 8

type env struct {
	docs      storage.DocumentRepository
	chats     storage.ChatRepository
	index     storage.VectorIndex
	embedder  *mock.MockEmbedder
	generator *mock.MockGenerator
	orch      *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	docs, chats, index, backend, err := badger.NewMemoryRepositories(testDims)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = testDims
	batcher, err := embedding.NewBatcher(embedder, embedding.WithBatchDelay(0))
	require.NoError(t, err)
	t.Cleanup(batcher.Release)

	generator := mock.NewMockGenerator()
	orch, err := NewOrchestrator(batcher, index, generator)
	require.NoError(t, err)

	return &env{docs: docs, chats: chats, index: index, embedder: embedder, generator: generator, orch: orch}
}

func (e *env) indexChunks(t *testing.T, docID string, texts ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.index.EnsureCollection(ctx, docID)
	require.NoError(t, err)

	points := make([]core.IndexedPoint, len(texts))
	for i, text := range texts {
		points[i] = core.NewIndexedPoint(docID, core.Chunk{Index: i, Text: text, Size: len(text)},
			mock.Vector(text, testDims), time.Now().UTC())
	}
	_, err = e.index.Upsert(ctx, docID, points)
	require.NoError(t, err)
}

func collect(events *[]Event) func(Event) error {
	return func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestNewOrchestrator_Validation(t *testing.T) {
	e := newEnv(t)
	_, err := NewOrchestrator(nil, e.index, e.generator)
	assert.ErrorIs(t, err, ErrQueryEmbedderRequired)
	_, err = NewOrchestrator(e.orch.embedder, nil, e.generator)
	assert.ErrorIs(t, err, ErrVectorIndexRequired)
	_, err = NewOrchestrator(e.orch.embedder, e.index, nil)
	assert.ErrorIs(t, err, ErrGeneratorRequired)
}

func TestAnswer_NoContextSkipsModel(t *testing.T) {
	e := newEnv(t)

	ans, err := e.orch.Answer(context.Background(), "doc-empty", "What is the warranty?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, ans.Text)
	assert.False(t, ans.UsedContext)
	assert.Empty(t, ans.Sources)
	assert.Zero(t, e.generator.CallCount())
}

func TestAnswer_WithContext(t *testing.T) {
	e := newEnv(t)
	e.indexChunks(t, "doc-1", "The warranty lasts two years.", "Returns within 30 days.")
	e.generator.Chunks = []string{"Two ", "years."}

	history := []*core.ChatTurn{
		{Role: core.RoleUser, Content: "Hello"},
		{Role: core.RoleAssistant, Content: "Hi there"},
	}
	ans, err := e.orch.Answer(context.Background(), "doc-1", "How long is the warranty?", history)
	require.NoError(t, err)

	assert.Equal(t, "Two years.", ans.Text)
	assert.True(t, ans.UsedContext)
	assert.Len(t, ans.Sources, 2)
	assert.Len(t, ans.ContextChunks, 2)
	assert.Equal(t, 1, e.generator.CallCount())

	prompt := e.generator.LastPrompt()
	assert.True(t, strings.HasPrefix(prompt, "Previous conversation:\nHuman: Hello\nAssistant: Hi there"))
	assert.Contains(t, prompt, "The warranty lasts two years.")
	assert.Contains(t, prompt, "Human Question: How long is the warranty?")
	assert.True(t, strings.HasSuffix(prompt, answerInstruction))
}

func TestAnswer_IsolatedPerDocument(t *testing.T) {
	e := newEnv(t)
	e.indexChunks(t, "doc-a", "Shared passage.")
	e.indexChunks(t, "doc-b", "Shared passage.")

	ans, err := e.orch.Answer(context.Background(), "doc-a", "Shared passage.", nil)
	require.NoError(t, err)
	require.NotEmpty(t, ans.ContextChunks)
	for _, c := range ans.ContextChunks {
		assert.Equal(t, "doc-a", c.DocumentID)
	}
}

func TestAnswer_TopKBound(t *testing.T) {
	e := newEnv(t)
	e.indexChunks(t, "doc-1", "a one.", "b two.", "c three.", "d four.", "e five.", "f six.", "g seven.")

	ans, err := e.orch.Answer(context.Background(), "doc-1", "letters", nil)
	require.NoError(t, err)
	assert.Len(t, ans.Sources, DefaultTopK)
}

func TestAnswer_Errors(t *testing.T) {
	e := newEnv(t)
	e.indexChunks(t, "doc-1", "Passage.")

	_, err := e.orch.Answer(context.Background(), "doc-1", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	e.generator.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("model overloaded")
	}
	_, err = e.orch.Answer(context.Background(), "doc-1", "Question?", nil)
	assert.ErrorContains(t, err, "model overloaded")
}

func TestAnswer_EmptyGenerationFallsBack(t *testing.T) {
	e := newEnv(t)
	e.indexChunks(t, "doc-1", "Passage.")
	e.generator.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "  ", nil
	}

	ans, err := e.orch.Answer(context.Background(), "doc-1", "Question?", nil)
	require.NoError(t, err)
	assert.Equal(t, EmptyAnswer, ans.Text)
}

func TestStream_MatchesAnswer(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"plain", []string{"The warranty ", "lasts ", "two years."}, "The warranty lasts two years."},
		{"trailing newline", []string{"The warranty ", "lasts two years.", "\n"}, "The warranty lasts two years."},
		{"surrounding whitespace", []string{"\n ", " The warranty", " \n", "lasts two years. ", "\n\n"}, "The warranty \nlasts two years."},
		{"whitespace only", []string{" ", "\n"}, EmptyAnswer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.indexChunks(t, "doc-1", "The warranty lasts two years.")
			e.generator.Chunks = tt.chunks
			ctx := context.Background()

			full, err := e.orch.Answer(ctx, "doc-1", "Warranty?", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, full.Text)

			var events []Event
			streamed, err := e.orch.Stream(ctx, "doc-1", "Warranty?", nil, collect(&events))
			require.NoError(t, err)

			require.GreaterOrEqual(t, len(events), 3)
			assert.Equal(t, EventMetadata, events[0].Type())
			assert.Equal(t, EventDone, events[len(events)-1].Type())
			assert.Equal(t, full.Sources, events[0].(MetadataEvent).Sources)

			var sb strings.Builder
			for _, ev := range events[1 : len(events)-1] {
				content, ok := ev.(ContentEvent)
				require.True(t, ok)
				assert.NotEmpty(t, content.Content)
				sb.WriteString(content.Content)
			}
			assert.Equal(t, full.Text, sb.String())
			assert.Equal(t, full.Text, streamed.Text)
		})
	}
}

func TestStream_NoContext(t *testing.T) {
	e := newEnv(t)

	var events []Event
	ans, err := e.orch.Stream(context.Background(), "doc-empty", "Anything?", nil, collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 3)
	meta := events[0].(MetadataEvent)
	assert.Empty(t, meta.Sources)
	assert.Equal(t, ContentEvent{Content: NoContextAnswer}, events[1])
	assert.Equal(t, DoneEvent{}, events[2])
	assert.False(t, ans.UsedContext)
	assert.Zero(t, e.generator.CallCount())
}

func TestStream_FailureMidStream(t *testing.T) {
	e := newEnv(t)
	e.indexChunks(t, "doc-1", "Passage.")
	e.generator.Chunks = []string{"Partial ", "answer"}
	e.generator.StreamErr = errors.New("connection reset")

	var events []Event
	ans, err := e.orch.Stream(context.Background(), "doc-1", "Question?", nil, collect(&events))
	require.Error(t, err)
	assert.Equal(t, "Partial answer", ans.Text)

	require.Len(t, events, 4)
	last, ok := events[3].(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, ErrorAnswer, last.Content)
	for _, ev := range events {
		assert.NotEqual(t, EventDone, ev.Type())
	}
}

func TestStream_RetrievalFailure(t *testing.T) {
	e := newEnv(t)
	e.embedder.EmbedQueryFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedder down")
	}

	var events []Event
	_, err := e.orch.Stream(context.Background(), "doc-1", "Question?", nil, collect(&events))
	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type())
}
