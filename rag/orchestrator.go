package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

const (
	// DefaultTopK is how many chunks are retrieved per question.
	DefaultTopK = 5
	// DefaultHistoryTurns is how many prior turns are included in the prompt.
	DefaultHistoryTurns = 6
)

// QueryEmbedder embeds a single question. embedding.Batcher implements it.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Answer is the result of one question.
type Answer struct {
	Text          string
	Sources       []string
	UsedContext   bool
	ContextChunks []ContextChunk
}

// Orchestrator answers questions about one document at a time by retrieving its
// closest chunks and conditioning the generator on them.
type Orchestrator struct {
	embedder     QueryEmbedder
	index        storage.VectorIndex
	generator    ai.Generator
	topK         int
	historyTurns int
	logger       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTopK sets the number of retrieved chunks.
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithHistoryTurns sets how many prior turns are kept in the prompt. Zero disables history.
func WithHistoryTurns(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.historyTurns = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(embedder QueryEmbedder, index storage.VectorIndex, generator ai.Generator, opts ...Option) (*Orchestrator, error) {
	if embedder == nil {
		return nil, ErrQueryEmbedderRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	o := &Orchestrator{
		embedder:     embedder,
		index:        index,
		generator:    generator,
		topK:         DefaultTopK,
		historyTurns: DefaultHistoryTurns,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "rag")
	return o, nil
}

// retrieve embeds the question and searches the document's collection.
func (o *Orchestrator) retrieve(ctx context.Context, documentID, question string) ([]core.ScoredPoint, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	vector, err := o.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	points, err := o.index.Search(ctx, documentID, vector, o.topK)
	if err != nil {
		return nil, fmt.Errorf("searching document %s: %w", documentID, err)
	}
	o.logger.Debug("retrieved context", "documentId", documentID, "chunks", len(points))
	return points, nil
}

func (o *Orchestrator) prompt(question string, points []core.ScoredPoint, history []*core.ChatTurn) string {
	return buildPrompt(question, buildContext(points), formatHistory(history, o.historyTurns))
}

// Answer returns a complete answer. When nothing is retrieved the generator is
// not called and the fixed no-context reply is returned.
func (o *Orchestrator) Answer(ctx context.Context, documentID, question string, history []*core.ChatTurn) (*Answer, error) {
	points, err := o.retrieve(ctx, documentID, question)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return &Answer{Text: NoContextAnswer, Sources: []string{}}, nil
	}

	text, err := o.generator.Generate(ctx, o.prompt(question, points, history))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = EmptyAnswer
	}

	return &Answer{
		Text:          text,
		Sources:       sourceLabels(points),
		UsedContext:   true,
		ContextChunks: contextChunks(points),
	}, nil
}

// Stream emits metadata, then one content event per generated increment, then
// done. On failure it emits a single error event and returns the error together
// with whatever text was produced before it.
//
// An error returned by emit stops the stream and is returned as is.
func (o *Orchestrator) Stream(ctx context.Context, documentID, question string, history []*core.ChatTurn, emit func(Event) error) (*Answer, error) {
	ans := &Answer{Sources: []string{}}

	fail := func(err error) (*Answer, error) {
		o.logger.Error("streamed answer failed", "documentId", documentID, "err", err)
		// The stream is already broken; the error event is best effort
		_ = emit(ErrorEvent{Content: ErrorAnswer, Err: err})
		return ans, err
	}

	points, err := o.retrieve(ctx, documentID, question)
	if err != nil {
		return fail(err)
	}

	if len(points) == 0 {
		ans.Text = NoContextAnswer
		for _, ev := range []Event{MetadataEvent{}, ContentEvent{Content: NoContextAnswer}, DoneEvent{}} {
			if err := emit(ev); err != nil {
				return ans, err
			}
		}
		return ans, nil
	}

	ans.Sources = sourceLabels(points)
	ans.ContextChunks = contextChunks(points)
	ans.UsedContext = true
	if err := emit(MetadataEvent{Sources: ans.Sources, ContextChunks: ans.ContextChunks}); err != nil {
		return ans, err
	}

	var (
		emitErr error
		out     trimmedStream
	)
	_, err = o.generator.GenerateStream(ctx, o.prompt(question, points, history), func(ctx context.Context, chunk string) error {
		piece := out.next(chunk)
		if piece == "" {
			return nil
		}
		if err := emit(ContentEvent{Content: piece}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	ans.Text = out.text.String()
	if emitErr != nil {
		return ans, emitErr
	}
	if err != nil {
		return fail(fmt.Errorf("generating answer: %w", err))
	}

	if ans.Text == "" {
		ans.Text = EmptyAnswer
		if err := emit(ContentEvent{Content: EmptyAnswer}); err != nil {
			return ans, err
		}
	}
	if err := emit(DoneEvent{}); err != nil {
		return ans, err
	}
	return ans, nil
}

// trimmedStream drops leading and trailing whitespace from a sequence of
// increments without buffering more than the current whitespace run, so the
// emitted pieces concatenate to strings.TrimSpace of the whole generation.
type trimmedStream struct {
	text    strings.Builder
	pending string
}

func (t *trimmedStream) next(chunk string) string {
	if t.text.Len() == 0 {
		chunk = strings.TrimLeftFunc(chunk, unicode.IsSpace)
	}
	body := strings.TrimRightFunc(chunk, unicode.IsSpace)
	if body == "" {
		if t.text.Len() > 0 {
			t.pending += chunk
		}
		return ""
	}
	piece := t.pending + body
	t.pending = chunk[len(body):]
	t.text.WriteString(piece)
	return piece
}
