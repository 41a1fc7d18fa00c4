package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// FileStore keeps blobs as files in a single directory.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

var _ storage.BlobStore = (*FileStore)(nil)

// NewFileStore creates the directory if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		dir:    abs,
		logger: slog.Default().With("component", "blob-fs"),
	}, nil
}

func (s *FileStore) path(key string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("invalid blob key %q: %w", key, core.ErrNotFound)
	}
	return filepath.Join(s.dir, key), nil
}

// Put writes r to a new file. The file only becomes visible once fully written.
func (s *FileStore) Put(ctx context.Context, r io.Reader, size int64, ext string) (string, error) {
	key := NewKey(ext)
	final, _ := s.path(key)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", err
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("blob size mismatch: expected %d bytes, wrote %d", size, written)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", err
	}

	s.logger.Debug("stored blob", "key", key, "size", written)
	return key, nil
}

// Get opens the blob file.
func (s *FileStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", key, core.ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

// Delete removes the blob file.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// URL returns a file:// URL. Local files do not expire.
func (s *FileStore) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("blob %q: %w", key, core.ErrNotFound)
		}
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}
