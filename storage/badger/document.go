package badger

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	if backend == nil {
		return nil, storage.ErrStorageClosed
	}
	return &DocumentRepository{backend: backend}, nil
}

// Close is a no-op; the backend is owned by the caller.
func (r *DocumentRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *DocumentRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// AddDocument stores a new document.
func (r *DocumentRepository) AddDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if doc.Id == "" {
		doc.Id = uuid.NewString()
	}
	if doc.Status == 0 {
		doc.Status = core.DocumentStatusPending
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now()
	}
	doc.CreatedAt = doc.CreatedAt.UTC().Truncate(time.Microsecond)
	doc.UpdatedAt = doc.CreatedAt
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	err := r.backend.Update(func(tx *badger.Txn) error {
		if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
			return err
		}
		return tx.Set(makeDocumentStatusKey(doc.Status, doc.CreatedAt, doc.Id), nil)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocument overwrites an existing document.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}
	err := r.backend.Update(func(tx *badger.Txn) error {
		old, err := readDocument(tx, doc.Id)
		if err != nil {
			return err
		}
		if old == nil {
			return notFound("document", doc.Id)
		}
		doc.CreatedAt = old.CreatedAt
		doc.UpdatedAt = now()
		return writeDocument(tx, old, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocumentStatus changes the processing fields of a document.
func (r *DocumentRepository) UpdateDocumentStatus(ctx context.Context, id string, status core.DocumentStatus, chunkCount int, processedAt time.Time) error {
	if err := core.ValidateDocumentStatus(status); err != nil {
		return err
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		old, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if old == nil {
			return notFound("document", id)
		}
		updated := *old
		updated.Status = status
		updated.ChunkCount = chunkCount
		if !processedAt.IsZero() {
			updated.ProcessedAt = processedAt.UTC().Truncate(time.Microsecond)
		}
		updated.UpdatedAt = now()
		return writeDocument(tx, old, &updated)
	})
}

// GetDocument retrieves a single document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return notFound("document", id)
		}
		return nil
	}, false)
	return doc, err
}

// ListDocuments returns the documents of userID, newest first.
func (r *DocumentRepository) ListDocuments(ctx context.Context, userID string) ([]*core.Document, error) {
	var docs []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		all, err := scanPrefix(tx, []byte(documentPrefix), false, storage.UnmarshalDocument)
		if err != nil {
			return err
		}
		for _, doc := range all {
			if userID == "" || doc.UserId == userID {
				docs = append(docs, doc)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(docs, func(a, b *core.Document) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return docs, nil
}

// ListDocumentsByStatus returns the documents in a status, oldest first.
func (r *DocumentRepository) ListDocumentsByStatus(ctx context.Context, status core.DocumentStatus) ([]*core.Document, error) {
	var docs []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialDocumentStatusKey(status)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			id := string(key[len(opts.Prefix)+8:])
			doc, err := readDocument(tx, id)
			if err != nil {
				return err
			}
			if doc != nil {
				docs = append(docs, doc)
			}
		}
		return nil
	}, false)
	return docs, err
}

// DeleteDocument removes a document and its index entry.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		old, err := readDocument(tx, id)
		if err != nil || old == nil {
			return err
		}
		if err := tx.Delete(makeDocumentStatusKey(old.Status, old.CreatedAt, old.Id)); err != nil {
			return err
		}
		return tx.Delete(makeDocumentKey(id))
	})
}

// Helper methods

func readDocument(tx *badger.Txn, id string) (*core.Document, error) {
	return readValue(tx, makeDocumentKey(id), storage.UnmarshalDocument)
}

// writeDocument stores doc and moves its status index entry when the status changed.
func writeDocument(tx *badger.Txn, old, doc *core.Document) error {
	if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
		return err
	}
	if old.Status == doc.Status {
		return nil
	}
	if err := tx.Delete(makeDocumentStatusKey(old.Status, old.CreatedAt, old.Id)); err != nil {
		return err
	}
	return tx.Set(makeDocumentStatusKey(doc.Status, doc.CreatedAt, doc.Id), nil)
}
