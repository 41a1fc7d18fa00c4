package storage

import (
	"context"
	"io"
	"time"

	"github.com/poiesic/docrag/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// WithTransaction executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// The context passed to fn may contain transaction state.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// DocumentRepository stores uploaded documents and their processing status.
type DocumentRepository interface {
	Repository

	// AddDocument stores a new document. An empty Id is replaced with a new UUID.
	// CreatedAt and UpdatedAt are set if zero.
	AddDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// UpdateDocument overwrites an existing document and bumps UpdatedAt.
	// Returns ErrNotFound if the document doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// UpdateDocumentStatus changes only the status, chunk count and processed timestamp.
	// A zero processedAt leaves the stored value untouched.
	UpdateDocumentStatus(ctx context.Context, id string, status core.DocumentStatus, chunkCount int, processedAt time.Time) error

	// GetDocument retrieves a single document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// ListDocuments returns the documents of userID, newest first.
	// An empty userID lists every document.
	ListDocuments(ctx context.Context, userID string) ([]*core.Document, error)

	// ListDocumentsByStatus returns every document with the given status, oldest first.
	ListDocumentsByStatus(ctx context.Context, status core.DocumentStatus) ([]*core.Document, error)

	// DeleteDocument removes a document. Deleting a missing document is not an error.
	DeleteDocument(ctx context.Context, id string) error
}

// ChatRepository stores chat sessions and their turns.
type ChatRepository interface {
	Repository

	// AddChat stores a new chat. An empty Id is replaced with a new UUID.
	AddChat(ctx context.Context, chat *core.Chat) (*core.Chat, error)

	// GetChat retrieves a chat by ID.
	// Returns ErrNotFound if the chat doesn't exist.
	GetChat(ctx context.Context, id string) (*core.Chat, error)

	// GetChatByDocument retrieves the chat bound to a document.
	// Returns ErrNotFound if the document has no chat.
	GetChatByDocument(ctx context.Context, documentID string) (*core.Chat, error)

	// ListChats returns the chats of userID, most recently updated first.
	ListChats(ctx context.Context, userID string) ([]*core.Chat, error)

	// DeleteChat removes a chat and all of its turns. Missing chats are ignored.
	DeleteChat(ctx context.Context, id string) error

	// AddTurns appends turns to their chat and bumps the chat's UpdatedAt.
	// Returns ErrNotFound if the chat doesn't exist.
	AddTurns(ctx context.Context, turns ...*core.ChatTurn) ([]*core.ChatTurn, error)

	// GetTurns returns the turns of a chat in chronological order.
	GetTurns(ctx context.Context, chatID string) ([]*core.ChatTurn, error)

	// GetRecentTurns returns at most limit of the newest turns, oldest first.
	GetRecentTurns(ctx context.Context, chatID string, limit int) ([]*core.ChatTurn, error)
}

// VectorIndex keeps one isolated collection of points per document.
type VectorIndex interface {
	// EnsureCollection creates the document's collection if absent and returns its name.
	// Concurrent calls for the same document must not create duplicates.
	EnsureCollection(ctx context.Context, documentID string) (string, error)

	// Upsert writes points into the document's collection and returns how many were written.
	// Points without a vector are skipped. If no point has a vector it fails with
	// core.ErrNoValidPoints without writing anything.
	Upsert(ctx context.Context, documentID string, points []core.IndexedPoint) (int, error)

	// Search returns up to k points ordered by descending cosine similarity.
	// An absent or empty collection yields an empty result, not an error.
	Search(ctx context.Context, documentID string, vector []float32, k int) ([]core.ScoredPoint, error)

	// DeleteCollection drops the document's collection. Missing collections are ignored.
	DeleteCollection(ctx context.Context, documentID string) error

	// Count returns the number of points stored for a document.
	Count(ctx context.Context, documentID string) (int, error)

	// Close releases resources held by the index.
	Close() error
}

// BlobStore keeps the raw bytes of uploaded files under opaque keys.
type BlobStore interface {
	// Put stores r and returns the new key. ext is appended to the generated key.
	Put(ctx context.Context, r io.Reader, size int64, ext string) (string, error)

	// Get opens the blob stored under key.
	// Returns core.ErrNotFound if the key is unknown.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob. Missing keys are ignored.
	Delete(ctx context.Context, key string) error

	// URL returns a location the blob can be fetched from for the given duration.
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
