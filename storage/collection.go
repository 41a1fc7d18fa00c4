package storage

import "strings"

// CollectionPrefix namespaces per-document collections.
const CollectionPrefix = "doc_"

// CollectionName derives the collection name of a document. Every character
// outside [A-Za-z0-9_] is removed from the id.
func CollectionName(documentID string) string {
	var sb strings.Builder
	sb.Grow(len(CollectionPrefix) + len(documentID))
	sb.WriteString(CollectionPrefix)
	for _, r := range documentID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
