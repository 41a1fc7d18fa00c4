package core

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a numeric identifier derived from content hashing.
// Vector points use it so that the same (document, chunk) pair always maps to the same point.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// PointID returns the stable identity of a chunk inside a document collection.
func PointID(documentID string, chunkIndex int) ID {
	return IDFromContent(documentID + ":" + strconv.Itoa(chunkIndex))
}

// String renders the ID as an unsigned decimal, the form used by stores with string ids.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus int

const (
	// DocumentStatusPending means the document is stored but not yet processed.
	DocumentStatusPending DocumentStatus = iota + 1
	// DocumentStatusProcessing means an ingestion run is in flight.
	DocumentStatusProcessing
	// DocumentStatusCompleted means the document is indexed and ready for chat.
	DocumentStatusCompleted
	// DocumentStatusFailed means the last ingestion run failed.
	DocumentStatusFailed
)

var documentStatusNames = map[DocumentStatus]string{
	DocumentStatusPending:    "pending",
	DocumentStatusProcessing: "processing",
	DocumentStatusCompleted:  "completed",
	DocumentStatusFailed:     "failed",
}

func (s DocumentStatus) String() string {
	if name, ok := documentStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseDocumentStatus converts a status name back into a DocumentStatus.
func ParseDocumentStatus(name string) (DocumentStatus, error) {
	for status, n := range documentStatusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, ErrInvalidStatus
}

// CanStartProcessing reports whether a new ingestion run may begin from this status.
// Processing and completed documents are locked; pending and failed ones are eligible.
func (s DocumentStatus) CanStartProcessing() bool {
	return s == DocumentStatusPending || s == DocumentStatusFailed
}

// Document is an uploaded PDF and its processing state.
type Document struct {
	Id          string
	UserId      string
	Filename    string
	BlobKey     string // Opaque blob store key for the raw bytes
	ContentType string
	FileSize    int64
	Status      DocumentStatus
	ChunkCount  int // Number of points stored in the vector index
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt time.Time // Zero until the first successful run
}

// Chunk is an ordered segment of a document's normalized text.
type Chunk struct {
	Index   int
	Text    string
	Size    int
	Overlap string // Prefix carried over from the previous chunk
}

// PointPayload is the data stored alongside each vector.
type PointPayload struct {
	DocumentId string
	ChunkIndex int
	Text       string
	ChunkSize  int
	CreatedAt  time.Time
}

// IndexedPoint is a (vector, payload) pair inside a document collection.
type IndexedPoint struct {
	Id      ID
	Vector  []float32
	Payload PointPayload
}

// NewIndexedPoint maps a chunk and its embedding into an indexable point.
func NewIndexedPoint(documentID string, chunk Chunk, vector []float32, createdAt time.Time) IndexedPoint {
	return IndexedPoint{
		Id:     PointID(documentID, chunk.Index),
		Vector: vector,
		Payload: PointPayload{
			DocumentId: documentID,
			ChunkIndex: chunk.Index,
			Text:       chunk.Text,
			ChunkSize:  chunk.Size,
			CreatedAt:  createdAt,
		},
	}
}

// ScoredPoint is a search hit with its cosine similarity.
type ScoredPoint struct {
	Id      ID
	Score   float32
	Payload PointPayload
}

// ProcessStatus is the state of a single tracked ingestion run.
type ProcessStatus int

const (
	ProcessStatusPending ProcessStatus = iota + 1
	ProcessStatusProcessing
	ProcessStatusCompleted
	ProcessStatusFailed
)

func (s ProcessStatus) String() string {
	switch s {
	case ProcessStatusPending:
		return "pending"
	case ProcessStatusProcessing:
		return "processing"
	case ProcessStatusCompleted:
		return "completed"
	case ProcessStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s ProcessStatus) Terminal() bool {
	return s == ProcessStatusCompleted || s == ProcessStatusFailed
}

// ProcessRecord tracks the progress of one ingestion run.
type ProcessRecord struct {
	ProcessId       string
	DocumentId      string
	Status          ProcessStatus
	ProgressPercent int
	Message         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     time.Time // Set once on the first terminal transition
	Error           string    // Only set when Status is failed
}

// Role identifies the author of a chat turn.
type Role int

const (
	RoleUser Role = iota + 1
	RoleAssistant
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// Chat is the single conversation attached to a document.
type Chat struct {
	Id         string
	DocumentId string
	UserId     string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChatTurn is one message in a chat.
type ChatTurn struct {
	Id        string
	ChatId    string
	Role      Role
	Content   string
	Sources   []string // Citation labels for assistant turns
	Timestamp time.Time
}
