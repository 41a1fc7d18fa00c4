package blob

import (
	"strings"

	"github.com/google/uuid"
)

// NewKey returns a fresh opaque key ending in ext. ext may be given with or
// without its leading dot.
func NewKey(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return uuid.NewString()
	}
	return uuid.NewString() + "." + ext
}

// validKey rejects keys that could escape the store's namespace.
func validKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, `/\`) && key != "." && key != ".."
}
