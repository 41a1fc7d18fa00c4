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

package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/executor"
	"github.com/poiesic/docrag/ingestion"
	"github.com/poiesic/docrag/process"
	"github.com/poiesic/docrag/storage"
)

var (
	ErrDocumentRepositoryRequired = errors.New("document repository required")
	ErrPipelineRequired           = errors.New("pipeline required")
)

// Pipeline is the part of ingestion.Pipeline a reindex run needs.
type Pipeline interface {
	Reset(ctx context.Context, documentID string) error
	Process(ctx context.Context, documentID, processID string) (*ingestion.Result, error)
}

type Config struct {
	// ReportInterval is how often to report progress, in documents.
	ReportInterval int

	// MaxRetries is the attempt budget per document.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		ReportInterval: 1,
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
	}
}

// Summary describes a finished reindex run.
type Summary struct {
	Documents int
	Points    int
	Failed    []ingestion.Outcome
	Elapsed   time.Duration
}

// Reindexer rebuilds the vector collection of every completed document from its
// stored upload. It is used after changing the embedding model or the index backend.
type Reindexer struct {
	documents storage.DocumentRepository
	pipeline  Pipeline
	tracker   *process.Tracker
	config    *Config
	progress  io.Writer
	logger    *slog.Logger
}

// NewReindexer writes progress lines to progress. tracker may be nil.
func NewReindexer(documents storage.DocumentRepository, pipeline Pipeline, tracker *process.Tracker, config *Config, progress io.Writer) (*Reindexer, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries < 1 {
		return nil, executor.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Reindexer{
		documents: documents,
		pipeline:  pipeline,
		tracker:   tracker,
		config:    config,
		progress:  progress,
		logger:    slog.Default().With("component", "reindex"),
	}, nil
}

// Run reindexes every completed document, one at a time. A document that keeps
// failing is recorded in the summary and left failed; the run goes on.
func (r *Reindexer) Run(ctx context.Context) (*Summary, error) {
	docs, err := r.documents.ListDocumentsByStatus(ctx, core.DocumentStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	summary := &Summary{Documents: len(docs)}
	if len(docs) == 0 {
		fmt.Fprintf(r.progress, "No completed documents to reindex\n")
		return summary, nil
	}
	fmt.Fprintf(r.progress, "Reindexing %d documents\n", len(docs))

	progress := NewProgress(r.progress, len(docs), r.config.ReportInterval)
	progress.Start()

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		out := r.reindex(ctx, doc)
		if out.Success {
			summary.Points += out.Points
		} else {
			summary.Failed = append(summary.Failed, out)
		}
		progress.Increment(1)
	}

	progress.Finish()
	summary.Elapsed = progress.Elapsed()
	fmt.Fprintf(r.progress, "Reindex complete. %d documents, %d points, %d failed in %v\n",
		summary.Documents, summary.Points, len(summary.Failed), summary.Elapsed.Round(time.Millisecond))
	return summary, nil
}

func (r *Reindexer) reindex(ctx context.Context, doc *core.Document) ingestion.Outcome {
	out := ingestion.Outcome{DocumentID: doc.Id}
	if err := r.pipeline.Reset(ctx, doc.Id); err != nil {
		out.Error = err.Error()
		r.logger.Error("failed to reset document", "documentId", doc.Id, "err", err)
		return out
	}

	err := executor.RetryWithBackoff(ctx, func() error {
		processID := ""
		if r.tracker != nil {
			processID = r.tracker.Create(doc.Id).ProcessId
		}
		out.ProcessID = processID
		res, err := r.pipeline.Process(ctx, doc.Id, processID)
		if err != nil {
			if executor.Terminal(err) {
				return executor.Permanent(err)
			}
			return err
		}
		out.Points = res.Points
		return nil
	}, r.config.MaxRetries, r.config.RetryDelay)

	if err != nil {
		out.Error = err.Error()
		r.logger.Error("failed to reindex document", "documentId", doc.Id, "err", err)
		return out
	}
	out.Success = true
	return out
}
