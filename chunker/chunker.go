package chunker

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/docrag/core"
)

const (
	// DefaultMaxSize is the default upper bound on chunk length in characters.
	DefaultMaxSize = 2000

	// DefaultOverlap is the default number of characters carried into the next chunk.
	DefaultOverlap = 400

	// DefaultMinUnit is the length below which sentences are merged with their successors.
	DefaultMinUnit = 200
)

// Chunker splits normalized text into size-bounded, overlapping chunks.
// A Chunker holds no mutable state and is safe for concurrent use.
type Chunker struct {
	maxSize int
	overlap int
	minUnit int
	logger  *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxSize sets the maximum chunk length in characters.
func WithMaxSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.maxSize = size
		}
	}
}

// WithOverlap sets the number of trailing characters carried into the next chunk.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinUnit sets the length below which sentences are merged forward.
func WithMinUnit(size int) Option {
	return func(c *Chunker) {
		if size >= 0 {
			c.minUnit = size
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
	}
}

// New creates a Chunker with the given options applied over the defaults.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxSize: DefaultMaxSize,
		overlap: DefaultOverlap,
		minUnit: DefaultMinUnit,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Overlap must leave room for new content
	if c.overlap >= c.maxSize {
		c.overlap = c.maxSize / 4
	}
	// Merged units must fit in a chunk on their own
	if c.minUnit > c.maxSize {
		c.minUnit = c.maxSize
	}
	return c
}

// Split chunks text with an ad-hoc Chunker.
func Split(text string, maxSize, overlap int) ([]core.Chunk, error) {
	return New(WithMaxSize(maxSize), WithOverlap(overlap)).Split(text)
}

// Split divides text into chunks with contiguous indices starting at 0.
//
// Each chunk after the first begins with its Overlap, a suffix of the previous chunk.
// A chunk exceeds the maximum size only when a single sentence does.
func (c *Chunker) Split(text string) ([]core.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyInput
	}

	units := mergeUnits(splitSentences(text), c.minUnit)

	var (
		chunks  []core.Chunk
		buf     strings.Builder
		bufLen  int
		overlap string
	)

	emit := func() {
		chunkText := strings.TrimSpace(buf.String())
		chunks = append(chunks, core.Chunk{
			Index:   len(chunks),
			Text:    chunkText,
			Size:    utf8.RuneCountInString(chunkText),
			Overlap: overlap,
		})
		buf.Reset()
		bufLen = 0
	}

	for _, unit := range units {
		unitLen := utf8.RuneCountInString(unit)

		if bufLen > 0 && bufLen+1+unitLen > c.maxSize {
			emit()
			prev := chunks[len(chunks)-1].Text

			overlap = overlapSuffix(prev, c.overlap)
			overlapLen := utf8.RuneCountInString(overlap)
			if overlap != "" && overlapLen+1+unitLen > c.maxSize {
				overlap = ""
			}
			if overlap != "" {
				buf.WriteString(overlap)
				bufLen = overlapLen
			}
		}

		if bufLen > 0 {
			buf.WriteByte(' ')
			bufLen++
		}
		buf.WriteString(unit)
		bufLen += unitLen
	}

	if bufLen > 0 {
		emit()
	}

	c.logger.Debug("split text into chunks", "chars", utf8.RuneCountInString(text), "chunks", len(chunks))
	return chunks, nil
}

// overlapSuffix returns the last n characters of text, starting after the first
// sentence boundary found at or past the midpoint of that suffix. Without such a
// boundary the suffix is used verbatim.
func overlapSuffix(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}

	suffix := runes[len(runes)-n:]
	for i := len(suffix) / 2; i < len(suffix)-1; i++ {
		if !isTerminator(suffix[i]) {
			continue
		}
		if rest := strings.TrimSpace(string(suffix[i+1:])); rest != "" {
			return rest
		}
	}
	return strings.TrimSpace(string(suffix))
}
