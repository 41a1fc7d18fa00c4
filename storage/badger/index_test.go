package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIndex(t *testing.T, dims int) (*VectorIndex, *Backend) {
	t.Helper()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return NewVectorIndex(backend, dims), backend
}

func point(docID string, index int, vector ...float32) core.IndexedPoint {
	return core.NewIndexedPoint(docID, core.Chunk{Index: index, Text: "chunk", Size: 5}, vector, time.Now())
}

func TestVectorIndex_EnsureCollectionIdempotent(t *testing.T) {
	idx, _ := setupIndex(t, 3)
	ctx := context.Background()

	name, err := idx.EnsureCollection(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, storage.CollectionName("doc-1"), name)

	again, err := idx.EnsureCollection(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, name, again)
}

func TestVectorIndex_SearchAbsentOrEmpty(t *testing.T) {
	idx, _ := setupIndex(t, 3)
	ctx := context.Background()

	results, err := idx.Search(ctx, "nope", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	_, err = idx.EnsureCollection(ctx, "empty")
	require.NoError(t, err)
	results, err = idx.Search(ctx, "empty", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndex_UpsertAndSearchOrdered(t *testing.T) {
	idx, _ := setupIndex(t, 3)
	ctx := context.Background()

	n, err := idx.Upsert(ctx, "doc", []core.IndexedPoint{
		point("doc", 0, 1, 0, 0),
		point("doc", 1, 0.8, 0.6, 0),
		point("doc", 2, 0, 0, 1),
		point("doc", 3),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := idx.Search(ctx, "doc", []float32{2, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Payload.ChunkIndex)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, 1, results[1].Payload.ChunkIndex)
	assert.InDelta(t, 0.8, results[1].Score, 1e-5)
	assert.Equal(t, core.PointID("doc", 0), results[0].Id)
	assert.Equal(t, "doc", results[0].Payload.DocumentId)
}

func TestVectorIndex_NoValidPoints(t *testing.T) {
	idx, _ := setupIndex(t, 3)
	ctx := context.Background()

	_, err := idx.Upsert(ctx, "doc", []core.IndexedPoint{point("doc", 0), point("doc", 1)})
	assert.ErrorIs(t, err, core.ErrNoValidPoints)

	count, err := idx.Count(ctx, "doc")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestVectorIndex_UpsertIsIdempotent(t *testing.T) {
	idx, _ := setupIndex(t, 2)
	ctx := context.Background()

	points := []core.IndexedPoint{point("doc", 0, 1, 0), point("doc", 1, 0, 1)}
	_, err := idx.Upsert(ctx, "doc", points)
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, "doc", points)
	require.NoError(t, err)

	count, err := idx.Count(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestVectorIndex_CrossDocumentIsolation(t *testing.T) {
	idx, _ := setupIndex(t, 2)
	ctx := context.Background()

	_, err := idx.Upsert(ctx, "A", []core.IndexedPoint{point("A", 0, 1, 0)})
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, "B", []core.IndexedPoint{point("B", 0, 1, 0), point("B", 1, 1, 0.1)})
	require.NoError(t, err)
	// Prefix of another collection name must not leak either
	_, err = idx.Upsert(ctx, "AB", []core.IndexedPoint{point("AB", 0, 1, 0)})
	require.NoError(t, err)

	results, err := idx.Search(ctx, "A", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	for _, r := range results {
		assert.Equal(t, "A", r.Payload.DocumentId)
	}
}

func TestVectorIndex_DimensionMismatch(t *testing.T) {
	idx, _ := setupIndex(t, 3)
	_, err := idx.Upsert(context.Background(), "doc", []core.IndexedPoint{point("doc", 0, 1, 0)})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestVectorIndex_DeleteCollection(t *testing.T) {
	idx, _ := setupIndex(t, 2)
	ctx := context.Background()

	_, err := idx.Upsert(ctx, "doc", []core.IndexedPoint{point("doc", 0, 1, 0)})
	require.NoError(t, err)

	require.NoError(t, idx.DeleteCollection(ctx, "doc"))
	require.NoError(t, idx.DeleteCollection(ctx, "doc"), "delete is idempotent")
	require.NoError(t, idx.DeleteCollection(ctx, "never-existed"))

	count, err := idx.Count(ctx, "doc")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestVectorIndex_ClosedBackendIsUnavailable(t *testing.T) {
	idx, backend := setupIndex(t, 2)
	require.NoError(t, backend.Close())

	_, err := idx.Search(context.Background(), "doc", []float32{1, 0}, 3)
	assert.ErrorIs(t, err, core.ErrIndexUnavailable)
}
