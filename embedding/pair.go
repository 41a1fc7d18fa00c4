package embedding

import (
	"time"

	"github.com/poiesic/docrag/core"
)

// Pair keeps a chunk together with its vector so filtering never relies on
// positional alignment.
type Pair struct {
	Chunk  core.Chunk
	Vector []float32
}

// Pairs zips chunks with vectors and drops every chunk whose vector is missing.
// Extra entries on either side are ignored.
func Pairs(chunks []core.Chunk, vectors [][]float32) []Pair {
	n := min(len(chunks), len(vectors))
	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		if len(vectors[i]) == 0 {
			continue
		}
		pairs = append(pairs, Pair{Chunk: chunks[i], Vector: vectors[i]})
	}
	return pairs
}

// Points converts pairs into index points for docID.
func Points(docID string, pairs []Pair, createdAt time.Time) []core.IndexedPoint {
	points := make([]core.IndexedPoint, len(pairs))
	for i, p := range pairs {
		points[i] = core.NewIndexedPoint(docID, p.Chunk, p.Vector, createdAt)
	}
	return points
}
