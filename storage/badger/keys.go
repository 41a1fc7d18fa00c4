package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/docrag/core"
)

// Key prefixes for different data types
const (
	documentPrefix       = "docrec:"
	documentStatusPrefix = "docsta:"
	chatPrefix           = "chatrec:"
	chatDocumentPrefix   = "chatdoc:"
	turnPrefix           = "turnrec:"
	turnSeq              = "turnseq"
	vectorPrefix         = "vecidx:"
	collectionPrefix     = "veccol:"
)

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id string) []byte {
	return []byte(documentPrefix + id)
}

// makeDocumentStatusKey generates a composite key for the status index.
// Format: prefix:status:createdAt:id
func makeDocumentStatusKey(status core.DocumentStatus, createdAt time.Time, id string) []byte {
	prefix := makePartialDocumentStatusKey(status)
	buf := make([]byte, len(prefix)+8+len(id))
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], id)
	return buf
}

// makePartialDocumentStatusKey generates the prefix of every index key for status.
func makePartialDocumentStatusKey(status core.DocumentStatus) []byte {
	return append([]byte(documentStatusPrefix), byte(status), ':')
}

// makeChatKey generates a key for a chat by ID.
func makeChatKey(id string) []byte {
	return []byte(chatPrefix + id)
}

// makeChatDocumentKey generates the key binding a document to its single chat.
func makeChatDocumentKey(documentID string) []byte {
	return []byte(chatDocumentPrefix + documentID)
}

// makeTurnKey generates a key for a turn. Turns sort by sequence within a chat.
// Format: prefix:chatID:seq
func makeTurnKey(chatID string, seq uint64) []byte {
	prefix := makePartialTurnKey(chatID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makePartialTurnKey generates the prefix of every turn key of a chat.
func makePartialTurnKey(chatID string) []byte {
	return []byte(turnPrefix + chatID + ":")
}

// makeCollectionKey generates the marker key of a vector collection.
func makeCollectionKey(collection string) []byte {
	return []byte(collectionPrefix + collection)
}

// makeVectorKey generates a key for a point inside a collection.
// Format: prefix:collection:pointID
func makeVectorKey(collection string, id core.ID) []byte {
	prefix := makePartialVectorKey(collection)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makePartialVectorKey generates the prefix of every point key in a collection.
func makePartialVectorKey(collection string) []byte {
	return []byte(vectorPrefix + collection + ":")
}
