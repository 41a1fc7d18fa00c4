package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/docrag/core"
)

// Outcome is the result of one document in a bulk run.
type Outcome struct {
	DocumentID string `json:"document_id"`
	ProcessID  string `json:"process_id,omitempty"`
	Success    bool   `json:"success"`
	Points     int    `json:"chunks_created,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProcessPending runs every pending document, oldest first, one at a time.
func (p *Pipeline) ProcessPending(ctx context.Context) ([]Outcome, error) {
	return p.runAll(ctx, core.DocumentStatusPending)
}

// ReprocessFailed runs every failed document again, oldest first, one at a time.
func (p *Pipeline) ReprocessFailed(ctx context.Context) ([]Outcome, error) {
	return p.runAll(ctx, core.DocumentStatusFailed)
}

func (p *Pipeline) runAll(ctx context.Context, status core.DocumentStatus) ([]Outcome, error) {
	docs, err := p.documents.ListDocumentsByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	p.logger.Info("bulk processing", "status", status, "documents", len(docs))

	outcomes := make([]Outcome, 0, len(docs))
	for i, doc := range docs {
		if i > 0 && !sleep(ctx, p.delay) {
			return outcomes, ctx.Err()
		}

		out := Outcome{DocumentID: doc.Id}
		if p.tracker != nil {
			out.ProcessID = p.tracker.Create(doc.Id).ProcessId
		}
		res, err := p.Process(ctx, doc.Id, out.ProcessID)
		if err != nil {
			out.Error = err.Error()
		} else {
			out.Success = true
			out.Points = res.Points
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stats counts documents by status.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	docs, err := p.documents.ListDocuments(ctx, "")
	if err != nil {
		return nil, err
	}
	stats := &Stats{Total: len(docs)}
	for _, doc := range docs {
		switch doc.Status {
		case core.DocumentStatusPending:
			stats.Pending++
		case core.DocumentStatusProcessing:
			stats.Processing++
		case core.DocumentStatusCompleted:
			stats.Completed++
		case core.DocumentStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Delete removes everything stored for a document: vectors, raw bytes, chat and
// the document record. A document that is being processed is rejected with
// core.ErrConflict.
func (p *Pipeline) Delete(ctx context.Context, documentID string) error {
	if _, busy := p.inflight.LoadOrStore(documentID, struct{}{}); busy {
		return fmt.Errorf("document %s is being processed: %w", documentID, core.ErrConflict)
	}
	defer p.inflight.Delete(documentID)

	doc, err := p.documents.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	var errs []error
	if err := p.index.DeleteCollection(ctx, documentID); err != nil {
		errs = append(errs, fmt.Errorf("deleting vectors: %w", err))
	}
	if doc.BlobKey != "" {
		if err := p.blobs.Delete(ctx, doc.BlobKey); err != nil {
			errs = append(errs, fmt.Errorf("deleting blob: %w", err))
		}
	}
	if p.chats != nil {
		chat, err := p.chats.GetChatByDocument(ctx, documentID)
		switch {
		case err == nil:
			if err := p.chats.DeleteChat(ctx, chat.Id); err != nil {
				errs = append(errs, fmt.Errorf("deleting chat: %w", err))
			}
		case !errors.Is(err, core.ErrNotFound):
			errs = append(errs, fmt.Errorf("looking up chat: %w", err))
		}
	}
	if len(errs) > 0 {
		// Keep the record so the delete can be retried
		return errors.Join(errs...)
	}

	if err := p.documents.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	p.logger.Info("deleted document", "documentId", documentID)
	return nil
}

// Reset drops the vectors of a document and returns it to pending so it can be
// ingested again from its stored blob. A document that is being processed is
// rejected with core.ErrConflict.
func (p *Pipeline) Reset(ctx context.Context, documentID string) error {
	if _, busy := p.inflight.LoadOrStore(documentID, struct{}{}); busy {
		return fmt.Errorf("document %s is being processed: %w", documentID, core.ErrConflict)
	}
	defer p.inflight.Delete(documentID)

	doc, err := p.documents.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status == core.DocumentStatusProcessing {
		return fmt.Errorf("document %s is being processed: %w", documentID, core.ErrConflict)
	}
	if err := p.index.DeleteCollection(ctx, documentID); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	return p.documents.UpdateDocumentStatus(ctx, documentID, core.DocumentStatusPending, 0, time.Time{})
}
