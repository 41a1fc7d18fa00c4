// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/poiesic/docrag/chunker"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/embedding"
	"github.com/poiesic/docrag/process"
	"github.com/poiesic/docrag/storage"
)

// TextExtractor turns a file on disk into plain text. pdftext.Extractor implements it.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Result summarizes a successful run.
type Result struct {
	DocumentID string
	Chunks     int // Chunks produced by the chunker
	Points     int // Points written to the index
	Duration   time.Duration
}

// Stats counts documents by processing status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Pipeline turns an uploaded document into a searchable collection:
// download, extract, chunk, embed, index, complete.
type Pipeline struct {
	documents storage.DocumentRepository
	index     storage.VectorIndex
	blobs     storage.BlobStore
	batcher   *embedding.Batcher
	extractor TextExtractor
	chunker   *chunker.Chunker
	tracker   *process.Tracker
	chats     storage.ChatRepository
	tempDir   string
	delay     time.Duration // Pause between documents in bulk runs
	logger    *slog.Logger

	inflight sync.Map // document id -> struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithChunker replaces the default chunker (2000 chars, 400 overlap).
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) error {
		if c != nil {
			p.chunker = c
		}
		return nil
	}
}

// WithTracker records every run in tracker.
func WithTracker(tracker *process.Tracker) Option {
	return func(p *Pipeline) error {
		p.tracker = tracker
		return nil
	}
}

// WithChatRepository lets Delete remove a document's chat as well.
func WithChatRepository(chats storage.ChatRepository) Option {
	return func(p *Pipeline) error {
		p.chats = chats
		return nil
	}
}

// WithTempDir sets where downloaded files are staged. Default is os.TempDir().
func WithTempDir(dir string) Option {
	return func(p *Pipeline) error {
		p.tempDir = dir
		return nil
	}
}

// WithDocumentDelay sets the pause between documents in ProcessPending and ReprocessFailed.
func WithDocumentDelay(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d < 0 {
			d = 0
		}
		p.delay = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	documents storage.DocumentRepository,
	index storage.VectorIndex,
	blobs storage.BlobStore,
	batcher *embedding.Batcher,
	extractor TextExtractor,
	opts ...Option,
) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if batcher == nil {
		return nil, ErrBatcherRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}

	p := &Pipeline{
		documents: documents,
		index:     index,
		blobs:     blobs,
		batcher:   batcher,
		extractor: extractor,
		chunker:   chunker.New(),
		delay:     time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// Process runs the pipeline for a document and reports to the tracked process
// processID. Without a tracker or with an empty processID progress is discarded.
func (p *Pipeline) Process(ctx context.Context, documentID, processID string) (*Result, error) {
	var sink ProgressSink = nopSink{}
	if p.tracker != nil && processID != "" {
		sink = p.tracker.Sink(processID)
	}
	return p.Run(ctx, documentID, sink)
}

// Run executes every stage in order for documentID.
//
// Documents that are processing or completed are rejected with core.ErrConflict
// and left untouched. On any stage failure the document is marked failed and the
// stage's error is returned; a failure to write that status is only logged.
func (p *Pipeline) Run(ctx context.Context, documentID string, sink ProgressSink) (*Result, error) {
	if sink == nil {
		sink = nopSink{}
	}

	doc, err := p.claim(ctx, documentID)
	if err != nil {
		sink.Fail(err)
		return nil, err
	}
	defer p.inflight.Delete(documentID)

	start := time.Now()
	r := &run{doc: doc, sink: sink, rebuild: doc.Status == core.DocumentStatusFailed}
	doc.Status = core.DocumentStatusProcessing
	defer func() {
		if r.tmpPath != "" {
			if err := os.Remove(r.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				p.logger.Warn("failed to remove temp file", "path", r.tmpPath, "err", err)
			}
		}
	}()

	logger := p.logger.With("documentId", documentID, "filename", doc.Filename)
	logger.Info("processing document")

	for _, st := range p.stages() {
		if st.message != "" {
			sink.Progress(st.percent, st.message)
		}
		if err := st.exec(ctx, r); err != nil {
			err = fmt.Errorf("%s: %w", st.name, err)
			p.markFailed(documentID, err)
			sink.Fail(err)
			logger.Error("document processing failed", "stage", st.name, "err", err)
			return nil, err
		}
	}

	msg := fmt.Sprintf("Processing completed: %d chunks indexed", r.written)
	sink.Complete(msg)

	res := &Result{
		DocumentID: documentID,
		Chunks:     len(r.chunks),
		Points:     r.written,
		Duration:   time.Since(start),
	}
	logger.Info("document processed", "chunks", res.Chunks, "points", res.Points, "duration", res.Duration)
	return res, nil
}

// claim applies the entry guard and flips the stored document to processing.
// The returned document still carries the status it was claimed from.
func (p *Pipeline) claim(ctx context.Context, documentID string) (*core.Document, error) {
	if _, busy := p.inflight.LoadOrStore(documentID, struct{}{}); busy {
		return nil, fmt.Errorf("document %s is already being processed: %w", documentID, core.ErrConflict)
	}

	doc, err := p.documents.GetDocument(ctx, documentID)
	if err == nil && !doc.Status.CanStartProcessing() {
		err = fmt.Errorf("document %s is %s: %w", documentID, doc.Status, core.ErrConflict)
	}
	if err == nil {
		err = p.documents.UpdateDocumentStatus(ctx, documentID, core.DocumentStatusProcessing, 0, time.Time{})
	}
	if err != nil {
		p.inflight.Delete(documentID)
		return nil, err
	}
	return doc, nil
}

// markFailed records the failure on the document without masking cause.
// It uses a fresh context so a cancelled run still gets its status written.
func (p *Pipeline) markFailed(documentID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.documents.UpdateDocumentStatus(ctx, documentID, core.DocumentStatusFailed, 0, time.Time{}); err != nil {
		p.logger.Error("failed to mark document as failed", "documentId", documentID, "err", err, "cause", cause)
	}
}
