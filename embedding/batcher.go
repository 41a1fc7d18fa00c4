package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/core"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize is the number of texts sent per batch.
	DefaultBatchSize = 10
	// DefaultBatchDelay is the pause between consecutive batches.
	DefaultBatchDelay = 50 * time.Millisecond
	// MaxTextLength is the character ceiling applied before a text reaches the model.
	MaxTextLength = 30000
)

// Mode selects how a batch is sent to the embedder.
type Mode int

const (
	// ModeBatch sends every batch as one EmbedTexts call. A failed call
	// leaves the whole batch without vectors.
	ModeBatch Mode = iota
	// ModeItems embeds each text of a batch with its own concurrent EmbedText
	// call. Failures only affect the failing item.
	ModeItems
)

// ProgressFunc is called after each batch finishes. batch is 1-based.
type ProgressFunc func(batch, total int)

// Batcher turns ordered texts into vectors, one optional vector per input.
type Batcher struct {
	embedder  ai.Embedder
	pool      *ants.Pool
	ownPool   bool
	batchSize int
	delay     time.Duration
	mode      Mode
	limiter   *rate.Limiter
	progress  ProgressFunc
	logger    *slog.Logger
}

// Option configures a Batcher.
type Option func(*Batcher) error

// WithBatchSize sets the number of texts per batch.
func WithBatchSize(size int) Option {
	return func(b *Batcher) error {
		if size < 1 {
			return ErrInvalidBatchSize
		}
		b.batchSize = size
		return nil
	}
}

// WithBatchDelay sets the fixed delay between batches. Zero disables it.
func WithBatchDelay(delay time.Duration) Option {
	return func(b *Batcher) error {
		if delay < 0 {
			delay = 0
		}
		b.delay = delay
		return nil
	}
}

// WithMode selects batch or per-item embedding calls.
func WithMode(mode Mode) Option {
	return func(b *Batcher) error {
		b.mode = mode
		return nil
	}
}

// WithRateLimit caps embedder calls at rps per second with the given burst.
// A non-positive rps leaves calls unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(b *Batcher) error {
		if rps <= 0 {
			b.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithPool runs embedding calls on a caller-owned pool. The Batcher will not release it.
func WithPool(pool *ants.Pool) Option {
	return func(b *Batcher) error {
		if pool == nil {
			return nil
		}
		if b.ownPool && b.pool != nil {
			b.pool.Release()
		}
		b.pool = pool
		b.ownPool = false
		return nil
	}
}

// WithPoolSize sets the size of the Batcher's own worker pool.
func WithPoolSize(size int) Option {
	return func(b *Batcher) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if b.ownPool && b.pool != nil {
			b.pool.Release()
		}
		b.pool = pool
		b.ownPool = true
		return nil
	}
}

// WithProgress registers a callback invoked after every batch.
func WithProgress(fn ProgressFunc) Option {
	return func(b *Batcher) error {
		b.progress = fn
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// NewBatcher creates a Batcher around embedder.
func NewBatcher(embedder ai.Embedder, opts ...Option) (*Batcher, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	b := &Batcher{
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		delay:     DefaultBatchDelay,
		mode:      ModeBatch,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			b.Release()
			return nil, err
		}
	}
	if b.pool == nil {
		pool, err := ants.NewPool(b.batchSize)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.ownPool = true
	}
	b.logger = b.logger.With("component", "embedding-batcher")
	return b, nil
}

// Release frees the worker pool if the Batcher created it.
func (b *Batcher) Release() {
	if b.ownPool && b.pool != nil {
		b.pool.Release()
	}
}

// Embed returns one entry per input text in input order. Entries are nil where
// embedding failed.
func (b *Batcher) Embed(ctx context.Context, texts []string) [][]float32 {
	return b.embed(ctx, texts, b.progress)
}

// EmbedWithProgress is Embed with a per-call progress callback that replaces
// the one configured on the Batcher.
func (b *Batcher) EmbedWithProgress(ctx context.Context, texts []string, fn ProgressFunc) [][]float32 {
	return b.embed(ctx, texts, fn)
}

func (b *Batcher) embed(ctx context.Context, texts []string, progress ProgressFunc) [][]float32 {
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results
	}

	total := (len(texts) + b.batchSize - 1) / b.batchSize
	for batch := 0; batch < total; batch++ {
		if batch > 0 && !b.sleep(ctx) {
			b.logger.Warn("embedding interrupted between batches", "batch", batch+1, "total", total, "err", ctx.Err())
			break
		}

		start := batch * b.batchSize
		end := min(start+b.batchSize, len(texts))
		b.runBatch(ctx, texts[start:end], results[start:end])

		b.logger.Debug("batch embedded", "batch", batch+1, "total", total, "size", end-start)
		if progress != nil {
			progress(batch+1, total)
		}
	}

	failed := 0
	for _, v := range results {
		if v == nil {
			failed++
		}
	}
	if failed > 0 {
		b.logger.Warn("some texts were not embedded", "failed", failed, "total", len(texts))
	}
	return results
}

func (b *Batcher) sleep(ctx context.Context) bool {
	if b.delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(b.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runBatch fills out with vectors for texts. out and texts have equal length.
func (b *Batcher) runBatch(ctx context.Context, texts []string, out [][]float32) {
	prepared := make([]string, len(texts))
	for i, text := range texts {
		prepared[i] = b.prepare(text)
	}

	var wg sync.WaitGroup
	switch b.mode {
	case ModeItems:
		for i := range prepared {
			wg.Add(1)
			err := b.pool.Submit(func() {
				defer wg.Done()
				vec, err := b.call(ctx, prepared[i])
				if err != nil {
					b.logger.Warn("failed to embed text", "position", i, "err", err)
					return
				}
				out[i] = vec
			})
			if err != nil {
				wg.Done()
				b.logger.Error("failed to submit embedding task", "err", err)
			}
		}
	default:
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			vectors, err := b.callBatch(ctx, prepared)
			if err != nil {
				b.logger.Error("batch embedding failed", "size", len(prepared), "err", err)
				return
			}
			copy(out, vectors)
		})
		if err != nil {
			wg.Done()
			b.logger.Error("failed to submit embedding batch", "err", err)
		}
	}
	wg.Wait()
}

func (b *Batcher) wait(ctx context.Context) error {
	if b.limiter == nil {
		return ctx.Err()
	}
	return b.limiter.Wait(ctx)
}

func (b *Batcher) call(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, core.ErrEmptyInput
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	vec, err := b.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingFailure, err)
	}
	if len(vec) == 0 {
		return nil, core.ErrEmbeddingFailure
	}
	return vec, nil
}

func (b *Batcher) callBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	vectors, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingFailure, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, received %d", core.ErrEmbeddingFailure, len(texts), len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 || texts[i] == "" {
			vectors[i] = nil
		}
	}
	return vectors, nil
}

// EmbedOne embeds a single query text without batching or delay.
func (b *Batcher) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	prepared := b.prepare(text)
	if prepared == "" {
		return nil, core.ErrEmptyInput
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	vec, err := b.embedder.EmbedQuery(ctx, prepared)
	if err != nil {
		b.logger.Error("failed to embed query", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingFailure, err)
	}
	if len(vec) == 0 {
		return nil, core.ErrEmbeddingFailure
	}
	return vec, nil
}

// prepare collapses whitespace and truncates to MaxTextLength characters.
func (b *Batcher) prepare(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= MaxTextLength {
		return text
	}
	b.logger.Warn("text truncated before embedding", "length", utf8.RuneCountInString(text), "limit", MaxTextLength)
	return string([]rune(text)[:MaxTextLength])
}
