package badger

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// MetricCosine is the only distance metric the index supports.
const MetricCosine = "cosine"

// VectorIndex implements storage.VectorIndex on top of BadgerDB.
// Vectors are stored normalized so cosine similarity reduces to a dot product.
type VectorIndex struct {
	backend    *Backend
	dimensions int
	logger     *slog.Logger
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates an index whose collections hold vectors of the given
// dimension. Zero disables the dimension check.
func NewVectorIndex(backend *Backend, dimensions int) *VectorIndex {
	return &VectorIndex{
		backend:    backend,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "badger-index"),
	}
}

// Close is a no-op; the backend is owned by the caller.
func (v *VectorIndex) Close() error {
	return nil
}

// EnsureCollection creates the collection marker for a document if absent.
func (v *VectorIndex) EnsureCollection(ctx context.Context, documentID string) (string, error) {
	if err := v.available(); err != nil {
		return "", err
	}
	name := storage.CollectionName(documentID)
	err := v.backend.Update(func(tx *badger.Txn) error {
		_, err := v.ensure(tx, name)
		return err
	})
	if err != nil {
		return "", v.wrap(err)
	}
	return name, nil
}

func (v *VectorIndex) ensure(tx *badger.Txn, name string) (*storage.CollectionInfo, error) {
	info, err := readValue(tx, makeCollectionKey(name), storage.UnmarshalCollectionInfo)
	if err != nil || info != nil {
		return info, err
	}
	info = &storage.CollectionInfo{
		Name:       name,
		Dimensions: v.dimensions,
		Metric:     MetricCosine,
		CreatedAt:  now(),
	}
	if err := tx.Set(makeCollectionKey(name), storage.MarshalCollectionInfo(info)); err != nil {
		return nil, err
	}
	v.logger.Debug("created collection", "collection", name, "dimensions", v.dimensions)
	return info, nil
}

// Upsert writes points with a vector into the document's collection.
func (v *VectorIndex) Upsert(ctx context.Context, documentID string, points []core.IndexedPoint) (int, error) {
	valid := make([]core.IndexedPoint, 0, len(points))
	for _, p := range points {
		if len(p.Vector) > 0 {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return 0, core.ErrNoValidPoints
	}
	if err := v.available(); err != nil {
		return 0, err
	}
	if skipped := len(points) - len(valid); skipped > 0 {
		v.logger.Warn("skipping points without vectors", "document", documentID, "skipped", skipped)
	}

	name := storage.CollectionName(documentID)
	var info *storage.CollectionInfo
	err := v.backend.Update(func(tx *badger.Txn) error {
		var err error
		info, err = v.ensure(tx, name)
		return err
	})
	if err != nil {
		return 0, v.wrap(err)
	}
	for _, p := range valid {
		if info.Dimensions > 0 && len(p.Vector) != info.Dimensions {
			return 0, fmt.Errorf("%w: collection %s expects %d, got %d",
				storage.ErrDimensionMismatch, name, info.Dimensions, len(p.Vector))
		}
	}

	// Large documents exceed a single transaction, so points go in a write batch
	err = v.backend.writeBatch(func(wb *badger.WriteBatch) error {
		for _, p := range valid {
			stored := p
			stored.Vector = normalizeVector(p.Vector)
			if err := wb.Set(makeVectorKey(name, p.Id), storage.MarshalIndexedPoint(&stored)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, v.wrap(err)
	}
	return len(valid), nil
}

// Search returns the k points most similar to vector.
func (v *VectorIndex) Search(ctx context.Context, documentID string, vector []float32, k int) ([]core.ScoredPoint, error) {
	results := []core.ScoredPoint{}
	if k <= 0 || len(vector) == 0 {
		return results, nil
	}

	if err := v.available(); err != nil {
		return nil, err
	}
	query := normalizeVector(vector)
	name := storage.CollectionName(documentID)
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		points, err := scanPrefix(tx, makePartialVectorKey(name), false, storage.UnmarshalIndexedPoint)
		if err != nil {
			return err
		}
		for _, p := range points {
			results = append(results, core.ScoredPoint{
				Id:      p.Id,
				Score:   dotProduct(query, p.Vector),
				Payload: p.Payload,
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, v.wrap(err)
	}

	// Sort by similarity descending, ties by chunk order
	slices.SortFunc(results, func(a, b core.ScoredPoint) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Payload.ChunkIndex, b.Payload.ChunkIndex)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// DeleteCollection removes every point of a document and its collection marker.
func (v *VectorIndex) DeleteCollection(ctx context.Context, documentID string) error {
	if err := v.available(); err != nil {
		return err
	}
	name := storage.CollectionName(documentID)
	removed, err := v.backend.deletePrefix(makePartialVectorKey(name))
	if err != nil {
		return v.wrap(err)
	}
	err = v.backend.Update(func(tx *badger.Txn) error {
		return tx.Delete(makeCollectionKey(name))
	})
	if err != nil {
		return v.wrap(err)
	}
	v.logger.Debug("deleted collection", "collection", name, "points", removed)
	return nil
}

// Count returns the number of points stored for a document.
func (v *VectorIndex) Count(ctx context.Context, documentID string) (int, error) {
	if err := v.available(); err != nil {
		return 0, err
	}
	count := 0
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialVectorKey(storage.CollectionName(documentID))
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	if err != nil {
		return 0, v.wrap(err)
	}
	return count, nil
}

func (v *VectorIndex) available() error {
	if v.backend.IsClosed() {
		return fmt.Errorf("%w: %w", core.ErrIndexUnavailable, badger.ErrDBClosed)
	}
	return nil
}

// wrap marks failures of a closed database as an unavailable index.
func (v *VectorIndex) wrap(err error) error {
	if err == nil {
		return nil
	}
	if v.backend.IsClosed() || err == badger.ErrDBClosed {
		return fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}
	return err
}
