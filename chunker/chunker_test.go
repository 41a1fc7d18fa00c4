package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/docrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeText(sentences int) string {
	parts := make([]string, sentences)
	for i := range parts {
		parts[i] = fmt.Sprintf("Sentence number %03d talks about topic %03d in detail.", i, i)
	}
	return strings.Join(parts, " ")
}

func TestSplit_EmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t  \n"} {
		chunks, err := Split(input, 100, 10)
		assert.ErrorIs(t, err, core.ErrEmptyInput)
		assert.Nil(t, chunks)
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	text := "The cat sat. The dog ran! Did the bird fly?"
	chunks, err := Split(text, 2000, 400)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, utf8.RuneCountInString(text), chunks[0].Size)
	assert.Empty(t, chunks[0].Overlap)
}

func TestSplit_MultipleChunksInvariants(t *testing.T) {
	const maxSize = 500
	text := makeText(40)

	chunks, err := Split(text, maxSize, 100)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index, "indices must be contiguous")
		assert.LessOrEqual(t, chunk.Size, maxSize)
		assert.Equal(t, utf8.RuneCountInString(chunk.Text), chunk.Size)
		assert.NotEmpty(t, chunk.Text)
	}

	assert.Empty(t, chunks[0].Overlap, "first chunk has nothing to carry over")
	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i].Overlap
		if overlap == "" {
			continue
		}
		assert.True(t, strings.HasSuffix(chunks[i-1].Text, overlap),
			"overlap of chunk %d must be a suffix of chunk %d", i, i-1)
		assert.True(t, strings.HasPrefix(chunks[i].Text, overlap),
			"chunk %d must start with its overlap", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(overlap), 100)
	}
}

func TestSplit_CoversAllSentences(t *testing.T) {
	text := makeText(30)
	chunks, err := Split(text, 400, 80)
	require.NoError(t, err)

	var rebuilt strings.Builder
	for _, chunk := range chunks {
		rebuilt.WriteString(strings.TrimPrefix(chunk.Text, chunk.Overlap))
		rebuilt.WriteByte(' ')
	}
	for i := 0; i < 30; i++ {
		assert.Contains(t, rebuilt.String(), fmt.Sprintf("Sentence number %03d", i))
	}
}

func TestSplit_OversizedSentence(t *testing.T) {
	long := strings.Repeat("a", 500) + "."
	text := "Short intro. " + long + " Short outro."

	chunks, err := New(WithMaxSize(100), WithOverlap(20), WithMinUnit(0)).Split(text)
	require.NoError(t, err)

	var found bool
	for _, chunk := range chunks {
		if strings.Contains(chunk.Text, long) {
			found = true
		}
		if chunk.Size > 100 {
			assert.Contains(t, chunk.Text, long, "only the oversized sentence may exceed the limit")
		}
	}
	assert.True(t, found, "oversized sentence must be emitted whole")
}

func TestSplit_Deterministic(t *testing.T) {
	text := makeText(25)
	a, err := Split(text, 300, 60)
	require.NoError(t, err)
	b, err := Split(text, 300, 60)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNew_NormalizesOptions(t *testing.T) {
	c := New(WithMaxSize(100), WithOverlap(150), WithMinUnit(500))
	assert.Equal(t, 100, c.maxSize)
	assert.Equal(t, 25, c.overlap)
	assert.Equal(t, 100, c.minUnit)

	c = New(WithMaxSize(-1), WithOverlap(-5))
	assert.Equal(t, DefaultMaxSize, c.maxSize)
	assert.Equal(t, DefaultOverlap, c.overlap)
}

func TestOverlapSuffix(t *testing.T) {
	text := "First sentence here. Second one. Tail words"

	tests := []struct {
		name string
		n    int
		want string
	}{
		{"zero overlap", 0, ""},
		{"shorter text returned whole", 100, text},
		{"boundary before midpoint is ignored", 20, "cond one. Tail words"},
		{"boundary past midpoint realigns", 30, "Tail words"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overlapSuffix(text, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.HasSuffix(text, got))
		})
	}
}

func TestOverlapSuffix_TrailingTerminatorFallsBack(t *testing.T) {
	// The only boundary is the final character, so the suffix stays verbatim
	text := "no boundaries in this long run of words at all."
	got := overlapSuffix(text, 10)
	assert.Equal(t, "ds at all.", got)
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Hi! How are you? Fine... ok")
	assert.Equal(t, []string{"Hi!", "How are you?", "Fine...", "ok"}, got)

	assert.Empty(t, splitSentences("...  !!"))
}

func TestMergeUnits(t *testing.T) {
	long := strings.Repeat("x", 250) + "."
	got := mergeUnits([]string{"a.", "b.", long, "c."}, 200)
	assert.Equal(t, []string{"a. b.", long, "c."}, got)

	assert.Equal(t, []string{"a.", "b."}, mergeUnits([]string{"a.", "b."}, 0))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b c", CleanText("a\n\n b\t\x00c"))
	assert.Equal(t, "héllo wörld", CleanText("  héllo   wörld \r\n"))
	assert.Equal(t, "", CleanText("\x01\x02"))
}
