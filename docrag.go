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

package docrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docrag/ai"
	"github.com/poiesic/docrag/ai/gemini"
	"github.com/poiesic/docrag/ai/openai"
	"github.com/poiesic/docrag/chunker"
	"github.com/poiesic/docrag/config"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/embedding"
	"github.com/poiesic/docrag/executor"
	"github.com/poiesic/docrag/ingestion"
	"github.com/poiesic/docrag/pdftext"
	"github.com/poiesic/docrag/process"
	"github.com/poiesic/docrag/rag"
	"github.com/poiesic/docrag/reindex"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/storage/badger"
	"github.com/poiesic/docrag/storage/blob"
	"github.com/poiesic/docrag/storage/chroma"
)

// PDFContentType is stored on every uploaded document.
const PDFContentType = "application/pdf"

// Service owns every component of a running docrag instance.
type Service struct {
	cfg          *config.Config
	backend      *badger.Backend
	documents    storage.DocumentRepository
	chats        storage.ChatRepository
	index        storage.VectorIndex
	blobs        storage.BlobStore
	provider     ai.AIProvider
	batcher      *embedding.Batcher
	tracker      *process.Tracker
	pipeline     *ingestion.Pipeline
	executor     *executor.Executor
	orchestrator *rag.Orchestrator
	chat         *rag.ChatService
	stopSweep    context.CancelFunc
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*options)

type options struct {
	provider  ai.AIProvider
	extractor ingestion.TextExtractor
	blobs     storage.BlobStore
	logger    *slog.Logger
}

// WithProvider replaces the provider that would be built from the ai config section.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithExtractor replaces the PDF text extractor.
func WithExtractor(extractor ingestion.TextExtractor) Option {
	return func(o *options) {
		o.extractor = extractor
	}
}

// WithBlobStore replaces the blob store selected by the blob config section.
func WithBlobStore(blobs storage.BlobStore) Option {
	return func(o *options) {
		o.blobs = blobs
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New opens storage and builds the processing and chat components described by cfg.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (svc *Service, err error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	s := &Service{cfg: cfg, logger: o.logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.backend, err = badger.OpenBackend(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	s.documents, s.chats, err = badger.NewRepositories(s.backend)
	if err != nil {
		return nil, err
	}
	if s.index, err = s.openIndex(); err != nil {
		return nil, err
	}

	s.blobs = o.blobs
	if s.blobs == nil {
		if s.blobs, err = s.openBlobs(ctx); err != nil {
			return nil, err
		}
	}

	s.provider = o.provider
	if s.provider == nil {
		if s.provider, err = s.openProvider(ctx); err != nil {
			return nil, err
		}
	}

	batcherOpts := []embedding.Option{
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithBatchDelay(cfg.Embedding.BatchDelay),
		embedding.WithLogger(s.logger),
	}
	if cfg.Embedding.Mode == "items" {
		batcherOpts = append(batcherOpts, embedding.WithMode(embedding.ModeItems))
		if cfg.Embedding.PoolSize > 0 {
			batcherOpts = append(batcherOpts, embedding.WithPoolSize(cfg.Embedding.PoolSize))
		}
	}
	if cfg.Embedding.RateLimit > 0 {
		batcherOpts = append(batcherOpts, embedding.WithRateLimit(cfg.Embedding.RateLimit, cfg.Embedding.Burst))
	}
	if s.batcher, err = embedding.NewBatcher(s.provider.Embedder(), batcherOpts...); err != nil {
		return nil, err
	}

	s.tracker = process.NewTracker(
		process.WithRetention(cfg.Tracker.Retention),
		process.WithLogger(s.logger),
	)

	extractor := o.extractor
	if extractor == nil {
		extractor = pdftext.New(pdftext.WithLogger(s.logger))
	}
	split := chunker.New(
		chunker.WithMaxSize(cfg.Chunking.Size),
		chunker.WithOverlap(cfg.Chunking.Overlap),
		chunker.WithMinUnit(cfg.Chunking.MinUnit),
		chunker.WithLogger(s.logger),
	)
	s.pipeline, err = ingestion.NewPipeline(s.documents, s.index, s.blobs, s.batcher, extractor,
		ingestion.WithChunker(split),
		ingestion.WithTracker(s.tracker),
		ingestion.WithChatRepository(s.chats),
		ingestion.WithTempDir(cfg.Pipeline.TempDir),
		ingestion.WithDocumentDelay(cfg.Pipeline.DocumentDelay),
		ingestion.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}

	s.executor, err = executor.New(s.pipeline, s.tracker,
		executor.WithPoolSize(cfg.Pipeline.Workers),
		executor.WithRetry(cfg.Pipeline.MaxAttempts, cfg.Pipeline.RetryDelay),
		executor.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}

	s.orchestrator, err = rag.NewOrchestrator(s.batcher, s.index, s.provider.Generator(),
		rag.WithTopK(cfg.RAG.TopK),
		rag.WithHistoryTurns(cfg.RAG.HistoryTurns),
		rag.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	s.chat = rag.NewChatService(s.orchestrator, s.documents, s.chats, s.logger)

	if cfg.Tracker.SweepInterval > 0 {
		sweepCtx, cancel := context.WithCancel(context.Background())
		s.stopSweep = cancel
		go s.tracker.Run(sweepCtx, cfg.Tracker.SweepInterval)
	}
	return s, nil
}

func (s *Service) openIndex() (storage.VectorIndex, error) {
	switch s.cfg.Index.Backend {
	case "", "badger":
		return badger.NewVectorIndex(s.backend, s.cfg.AI.Dimensions), nil
	case "chroma":
		return chroma.NewVectorIndex(
			chroma.WithBaseURL(s.cfg.Index.ChromaURL),
			chroma.WithDimensions(s.cfg.AI.Dimensions),
			chroma.WithLogger(s.logger),
		)
	default:
		return nil, fmt.Errorf("%w: index backend %q", ErrUnknownBackend, s.cfg.Index.Backend)
	}
}

func (s *Service) openBlobs(ctx context.Context) (storage.BlobStore, error) {
	switch s.cfg.Blob.Backend {
	case "", "fs":
		return blob.NewFileStore(s.cfg.Blob.Dir)
	case "minio":
		return blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  s.cfg.Blob.Endpoint,
			AccessKey: s.cfg.Blob.AccessKey,
			SecretKey: s.cfg.Blob.SecretKey,
			Bucket:    s.cfg.Blob.Bucket,
			Secure:    s.cfg.Blob.Secure,
		})
	default:
		return nil, fmt.Errorf("%w: blob backend %q", ErrUnknownBackend, s.cfg.Blob.Backend)
	}
}

func (s *Service) openProvider(ctx context.Context) (ai.AIProvider, error) {
	aiCfg := s.cfg.AIOptions()
	switch aiCfg.Backend {
	case ai.BackendGemini:
		return gemini.NewProvider(ctx, aiCfg)
	case ai.BackendOpenAI:
		return openai.NewProvider(aiCfg)
	default:
		return nil, fmt.Errorf("%w: ai backend %q", ErrUnknownBackend, aiCfg.Backend)
	}
}

// Close stops background work and releases storage and provider handles.
// It is safe to call on a partially constructed Service.
func (s *Service) Close() error {
	if s.stopSweep != nil {
		s.stopSweep()
	}
	if s.executor != nil {
		s.executor.Release()
	}
	if s.batcher != nil {
		s.batcher.Release()
	}

	var errs []error
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.Error("error closing vector index", "err", err)
			errs = append(errs, err)
		}
	}
	if s.chats != nil {
		if err := s.chats.Close(); err != nil {
			s.logger.Error("error closing chat repository", "err", err)
			errs = append(errs, err)
		}
	}
	if s.documents != nil {
		if err := s.documents.Close(); err != nil {
			s.logger.Error("error closing document repository", "err", err)
			errs = append(errs, err)
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Upload is the outcome of accepting a file.
type Upload struct {
	Document  *core.Document
	ProcessID string
}

// Upload stores a PDF, records it as pending and queues it for ingestion.
// size must be the exact byte length of r.
func (s *Service) Upload(ctx context.Context, userID, filename string, r io.Reader, size int64) (*Upload, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pdf" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filename)
	}
	if size <= 0 {
		return nil, ErrEmptyFile
	}
	if limit := s.cfg.MaxFileSize(); size > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, limit)
	}

	key, err := s.blobs.Put(ctx, r, size, ext)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", filename, err)
	}
	doc, err := s.documents.AddDocument(ctx, &core.Document{
		UserId:      userID,
		Filename:    filepath.Base(filename),
		BlobKey:     key,
		ContentType: PDFContentType,
		FileSize:    size,
		Status:      core.DocumentStatusPending,
	})
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("orphaned blob", "key", key, "err", delErr)
		}
		return nil, err
	}

	processID, err := s.submit(doc)
	if err != nil {
		return &Upload{Document: doc}, err
	}
	s.logger.Info("document uploaded", "documentId", doc.Id, "filename", doc.Filename, "size", size, "processId", processID)
	return &Upload{Document: doc, ProcessID: processID}, nil
}

// Process queues a pending or failed document for another ingestion run.
func (s *Service) Process(ctx context.Context, documentID string) (string, error) {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	if !doc.Status.CanStartProcessing() {
		return "", fmt.Errorf("%w: document %s is %s", core.ErrConflict, doc.Id, doc.Status)
	}
	return s.submit(doc)
}

func (s *Service) submit(doc *core.Document) (string, error) {
	return s.executor.Submit(executor.Job{
		DocumentID: doc.Id,
		BlobKey:    doc.BlobKey,
		UserID:     doc.UserId,
	})
}

// WaitIdle blocks until every queued ingestion job has finished.
func (s *Service) WaitIdle() {
	s.executor.Wait()
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (*core.Document, error) {
	return s.documents.GetDocument(ctx, documentID)
}

// ListDocuments returns the documents of userID. An empty userID lists all of them.
func (s *Service) ListDocuments(ctx context.Context, userID string) ([]*core.Document, error) {
	return s.documents.ListDocuments(ctx, userID)
}

// DeleteDocument removes a document together with its vectors, blob and chat.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	return s.pipeline.Delete(ctx, documentID)
}

// DocumentURL returns a temporary download location for the raw upload.
func (s *Service) DocumentURL(ctx context.Context, documentID string) (string, error) {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	return s.blobs.URL(ctx, doc.BlobKey, s.cfg.Blob.URLExpiry)
}

// Ask answers a one-off question against a completed document without touching chat history.
func (s *Service) Ask(ctx context.Context, documentID, question string) (*rag.Answer, error) {
	if err := s.requireCompleted(ctx, documentID); err != nil {
		return nil, err
	}
	return s.orchestrator.Answer(ctx, documentID, question, nil)
}

// AskStream is Ask with incremental delivery through emit.
func (s *Service) AskStream(ctx context.Context, documentID, question string, emit func(rag.Event) error) (*rag.Answer, error) {
	if err := s.requireCompleted(ctx, documentID); err != nil {
		return nil, err
	}
	return s.orchestrator.Stream(ctx, documentID, question, nil, emit)
}

func (s *Service) requireCompleted(ctx context.Context, documentID string) error {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != core.DocumentStatusCompleted {
		return fmt.Errorf("%w: document %s is %s", core.ErrConflict, doc.Id, doc.Status)
	}
	return nil
}

func (s *Service) Stats(ctx context.Context) (*ingestion.Stats, error) {
	return s.pipeline.Stats(ctx)
}

// ProcessPending runs every pending document in the calling goroutine.
func (s *Service) ProcessPending(ctx context.Context) ([]ingestion.Outcome, error) {
	return s.pipeline.ProcessPending(ctx)
}

// ReprocessFailed runs every failed document in the calling goroutine.
func (s *Service) ReprocessFailed(ctx context.Context) ([]ingestion.Outcome, error) {
	return s.pipeline.ReprocessFailed(ctx)
}

// ProcessRecord returns the record of one ingestion run.
func (s *Service) ProcessRecord(processID string) (*core.ProcessRecord, error) {
	rec, ok := s.tracker.Get(processID)
	if !ok {
		return nil, fmt.Errorf("%w: process %s", core.ErrNotFound, processID)
	}
	return rec, nil
}

// ProcessRecords lists tracked runs, newest first. A non-empty documentID filters by document.
func (s *Service) ProcessRecords(documentID string) []*core.ProcessRecord {
	if documentID != "" {
		return s.tracker.ListByDocument(documentID)
	}
	return s.tracker.List()
}

// Reindex rebuilds the vectors of every completed document, writing progress to w.
func (s *Service) Reindex(ctx context.Context, w io.Writer) (*reindex.Summary, error) {
	r, err := reindex.NewReindexer(s.documents, s.pipeline, s.tracker, &reindex.Config{
		ReportInterval: 1,
		MaxRetries:     s.cfg.Pipeline.MaxAttempts,
		RetryDelay:     s.cfg.Pipeline.RetryDelay,
	}, w)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

func (s *Service) Chats() *rag.ChatService {
	return s.chat
}

func (s *Service) Config() *config.Config {
	return s.cfg
}

// Indexed reports how many points are stored for a document.
func (s *Service) Indexed(ctx context.Context, documentID string) (int, error) {
	return s.index.Count(ctx, documentID)
}

// Healthy reports whether storage answers queries.
func (s *Service) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := s.documents.ListDocumentsByStatus(ctx, core.DocumentStatusProcessing)
	return err
}
