package ingestion

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docrag/chunker"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/embedding"
)

// Progress checkpoints of a run.
const (
	percentDownload = 2
	percentExtract  = 5
	percentChunk    = 10
	percentEmbed    = 15
	percentEmbedEnd = 85
	percentIndex    = 90
	percentComplete = 100
)

// run carries the state one ingestion run accumulates as it moves through the stages.
type run struct {
	doc     *core.Document
	sink    ProgressSink
	tmpPath string
	text    string
	chunks  []core.Chunk
	pairs   []embedding.Pair
	written int
	// rebuild drops whatever an earlier failed run left in the collection.
	rebuild bool
}

// stage is one named step of the pipeline. percent and message are reported
// before the step starts.
type stage struct {
	name    string
	percent int
	message string
	exec    func(ctx context.Context, r *run) error
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{"download", percentDownload, "Downloading document", p.downloadStage},
		{"extract", percentExtract, "Extracting text from PDF", p.extractStage},
		{"chunk", percentChunk, "Splitting text into chunks", p.chunkStage},
		{"embed", percentEmbed, "Generating embeddings", p.embedStage},
		{"index", percentIndex, "Storing vectors", p.indexStage},
		{"complete", percentComplete, "", p.completeStage},
	}
}

func (p *Pipeline) downloadStage(ctx context.Context, r *run) error {
	body, err := p.blobs.Get(ctx, r.doc.BlobKey)
	if err != nil {
		return fmt.Errorf("reading blob %s: %w", r.doc.BlobKey, err)
	}
	defer body.Close()

	ext := filepath.Ext(r.doc.Filename)
	if ext == "" {
		ext = ".pdf"
	}
	tmp, err := os.CreateTemp(p.tempDir, "docrag-*"+ext)
	if err != nil {
		return err
	}
	r.tmpPath = tmp.Name()

	_, err = io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (p *Pipeline) extractStage(ctx context.Context, r *run) error {
	raw, err := p.extractor.Extract(ctx, r.tmpPath)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}
	r.text = chunker.CleanText(raw)
	if strings.TrimSpace(r.text) == "" {
		return fmt.Errorf("no text could be extracted from %s: %w", r.doc.Filename, core.ErrEmptyInput)
	}
	p.logger.Debug("extracted text", "documentId", r.doc.Id, "chars", len(r.text))
	return nil
}

func (p *Pipeline) chunkStage(ctx context.Context, r *run) error {
	chunks, err := p.chunker.Split(r.text)
	if err != nil {
		return err
	}
	r.chunks = chunks
	p.logger.Debug("split document", "documentId", r.doc.Id, "chunks", len(chunks))
	return nil
}

func (p *Pipeline) embedStage(ctx context.Context, r *run) error {
	texts := make([]string, len(r.chunks))
	for i, c := range r.chunks {
		texts[i] = c.Text
	}

	span := percentEmbedEnd - percentEmbed
	vectors := p.batcher.EmbedWithProgress(ctx, texts, func(batch, total int) {
		r.sink.Progress(percentEmbed+span*batch/total,
			fmt.Sprintf("Generated embeddings for batch %d/%d", batch, total))
	})

	r.pairs = embedding.Pairs(r.chunks, vectors)
	if len(r.pairs) == 0 {
		return fmt.Errorf("all %d embeddings failed: %w", len(r.chunks), core.ErrNoValidPoints)
	}
	if dropped := len(r.chunks) - len(r.pairs); dropped > 0 {
		p.logger.Warn("dropped chunks without embeddings", "documentId", r.doc.Id, "dropped", dropped, "kept", len(r.pairs))
	}
	return nil
}

func (p *Pipeline) indexStage(ctx context.Context, r *run) error {
	if r.rebuild {
		if err := p.index.DeleteCollection(ctx, r.doc.Id); err != nil {
			return fmt.Errorf("clearing previous vectors: %w", err)
		}
	}
	collection, err := p.index.EnsureCollection(ctx, r.doc.Id)
	if err != nil {
		return err
	}
	points := embedding.Points(r.doc.Id, r.pairs, time.Now().UTC())
	written, err := p.index.Upsert(ctx, r.doc.Id, points)
	if err != nil {
		return err
	}
	r.written = written
	p.logger.Debug("indexed points", "documentId", r.doc.Id, "collection", collection, "points", written)
	return nil
}

func (p *Pipeline) completeStage(ctx context.Context, r *run) error {
	return p.documents.UpdateDocumentStatus(ctx, r.doc.Id, core.DocumentStatusCompleted, r.written, time.Now().UTC())
}
