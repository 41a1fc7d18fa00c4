package watch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/docrag"
)

// DefaultDebounce is how long a file must stay quiet before it is uploaded.
const DefaultDebounce = 2 * time.Second

// DefaultUser owns documents picked up from the watched directory.
const DefaultUser = "watcher"

// Uploader accepts files for ingestion. docrag.Service implements it.
type Uploader interface {
	Upload(ctx context.Context, userID, filename string, r io.Reader, size int64) (*docrag.Upload, error)
}

// Watcher uploads PDFs that appear or change in a directory.
type Watcher struct {
	dir      string
	uploader Uploader
	userID   string
	debounce time.Duration
	scan     bool
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	seen   map[string]string // path -> content fingerprint of the last upload
}

type Option func(*Watcher)

// WithUser sets the owner of uploaded documents.
func WithUser(userID string) Option {
	return func(w *Watcher) {
		if userID != "" {
			w.userID = userID
		}
	}
}

// WithDebounce sets the quiet period that must follow the last write to a file.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithInitialScan uploads PDFs already present when Run starts.
func WithInitialScan(scan bool) Option {
	return func(w *Watcher) {
		w.scan = scan
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

func New(dir string, uploader Uploader, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		uploader: uploader,
		userID:   DefaultUser,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		timers:   make(map[string]*time.Timer),
		seen:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watch", "dir", dir)
	return w
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching directory")

	ready := make(chan string, 16)
	defer w.stopTimers()

	if w.scan {
		w.scanExisting(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isPDF(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name, ready)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "err", err)
		case path := <-ready:
			if err := w.upload(ctx, path); err != nil {
				w.logger.Error("failed to upload file", "path", path, "err", err)
			}
		}
	}
}

// schedule (re)starts the debounce timer of path.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("failed to scan directory", "err", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isPDF(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := w.upload(ctx, path); err != nil {
			w.logger.Error("failed to upload file", "path", path, "err", err)
		}
	}
}

// upload sends path to the uploader unless its content was already uploaded.
func (w *Watcher) upload(ctx context.Context, path string) error {
	sum, err := fingerprint(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	w.mu.Lock()
	unchanged := w.seen[path] == sum
	w.mu.Unlock()
	if unchanged {
		w.logger.Debug("skipping unchanged file", "path", path)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		// Still being created; a later write event will bring it back
		return nil
	}

	up, err := w.uploader.Upload(ctx, w.userID, filepath.Base(path), f, info.Size())
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.seen[path] = sum
	w.mu.Unlock()
	w.logger.Info("uploaded file", "path", path, "documentId", up.Document.Id, "processId", up.ProcessID)
	return nil
}

func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New(32, nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
