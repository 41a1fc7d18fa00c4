package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/docrag/ai/mock"
	"github.com/poiesic/docrag/chunker"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/embedding"
	"github.com/poiesic/docrag/process"
	"github.com/poiesic/docrag/storage"
	"github.com/poiesic/docrag/storage/badger"
	"github.com/poiesic/docrag/storage/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 8

// fakeExtractor returns canned text instead of parsing the staged file.
type fakeExtractor struct {
	text  string
	err   error
	paths []string
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return f.text, f.err
}

// failingStatusRepo fails every attempt to mark a document failed.
type failingStatusRepo struct {
	storage.DocumentRepository
}

func (r failingStatusRepo) UpdateDocumentStatus(ctx context.Context, id string, status core.DocumentStatus, n int, at time.Time) error {
	if status == core.DocumentStatusFailed {
		return errors.New("status store down")
	}
	return r.DocumentRepository.UpdateDocumentStatus(ctx, id, status, n, at)
}

// gatedExtractor signals entered and then holds until release is closed.
type gatedExtractor struct {
	text    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedExtractor) Extract(ctx context.Context, path string) (string, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return g.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type fixture struct {
	docs      storage.DocumentRepository
	chats     storage.ChatRepository
	index     storage.VectorIndex
	blobs     storage.BlobStore
	embedder  *mock.MockEmbedder
	extractor *fakeExtractor
	tracker   *process.Tracker
	tempDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs, chats, index, backend, err := badger.NewMemoryRepositories(testDims)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = testDims

	return &fixture{
		docs:      docs,
		chats:     chats,
		index:     index,
		blobs:     blobs,
		embedder:  embedder,
		extractor: &fakeExtractor{text: "The warranty lasts two years. Returns are accepted within 30 days. Shipping is free."},
		tracker:   process.NewTracker(),
		tempDir:   t.TempDir(),
	}
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	return f.pipelineWith(t, f.extractor, opts...)
}

func (f *fixture) pipelineWith(t *testing.T, extractor TextExtractor, opts ...Option) *Pipeline {
	t.Helper()
	batcher, err := embedding.NewBatcher(f.embedder, embedding.WithBatchDelay(0), embedding.WithBatchSize(1))
	require.NoError(t, err)
	t.Cleanup(batcher.Release)

	opts = append([]Option{
		WithTracker(f.tracker),
		WithChatRepository(f.chats),
		WithTempDir(f.tempDir),
		WithDocumentDelay(0),
	}, opts...)
	p, err := NewPipeline(f.docs, f.index, f.blobs, batcher, extractor, opts...)
	require.NoError(t, err)
	return p
}

func (f *fixture) addDocument(t *testing.T, status core.DocumentStatus) *core.Document {
	t.Helper()
	ctx := context.Background()
	key, err := f.blobs.Put(ctx, strings.NewReader("%PDF-1.4"), 8, ".pdf")
	require.NoError(t, err)

	doc, err := f.docs.AddDocument(ctx, &core.Document{
		UserId:   "user-1",
		Filename: "manual.pdf",
		BlobKey:  key,
		FileSize: 8,
		Status:   status,
	})
	require.NoError(t, err)
	return doc
}

func (f *fixture) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged files must be removed")
}

func TestNewPipeline_Validation(t *testing.T) {
	f := newFixture(t)
	batcher, err := embedding.NewBatcher(f.embedder)
	require.NoError(t, err)
	defer batcher.Release()

	_, err = NewPipeline(nil, f.index, f.blobs, batcher, f.extractor)
	assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)
	_, err = NewPipeline(f.docs, nil, f.blobs, batcher, f.extractor)
	assert.ErrorIs(t, err, ErrVectorIndexRequired)
	_, err = NewPipeline(f.docs, f.index, nil, batcher, f.extractor)
	assert.ErrorIs(t, err, ErrBlobStoreRequired)
	_, err = NewPipeline(f.docs, f.index, f.blobs, nil, f.extractor)
	assert.ErrorIs(t, err, ErrBatcherRequired)
	_, err = NewPipeline(f.docs, f.index, f.blobs, batcher, nil)
	assert.ErrorIs(t, err, ErrExtractorRequired)
}

func TestProcess_SingleChunkDocument(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	doc := f.addDocument(t, core.DocumentStatusPending)
	ctx := context.Background()

	rec := f.tracker.Create(doc.Id)
	res, err := p.Process(ctx, doc.Id, rec.ProcessId)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 1, res.Points)

	stored, err := f.docs.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.ChunkCount)
	assert.False(t, stored.ProcessedAt.IsZero())

	count, err := f.index.Count(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	tracked, ok := f.tracker.Get(rec.ProcessId)
	require.True(t, ok)
	assert.Equal(t, core.ProcessStatusCompleted, tracked.Status)
	assert.Equal(t, 100, tracked.ProgressPercent)
	assert.False(t, tracked.CompletedAt.IsZero())

	require.Len(t, f.extractor.paths, 1)
	assert.True(t, strings.HasSuffix(f.extractor.paths[0], ".pdf"))
	f.assertTempDirEmpty(t)
}

func TestRun_ReportsStagesInOrder(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	doc := f.addDocument(t, core.DocumentStatusPending)

	var percents []int
	_, err := p.Run(context.Background(), doc.Id, SinkFunc(func(percent int, _ string) {
		percents = append(percents, percent)
	}))
	require.NoError(t, err)

	require.NotEmpty(t, percents)
	assert.Equal(t, []int{2, 5, 10, 15}, percents[:4])
	assert.Equal(t, 100, percents[len(percents)-1])
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1], "progress never goes backwards")
	}
	assert.Contains(t, percents, 90)
	assert.Contains(t, percents, 85, "last embedding batch reports the end of the embed range")
}

func TestProcess_ConflictLeavesDocumentUntouched(t *testing.T) {
	for _, status := range []core.DocumentStatus{core.DocumentStatusProcessing, core.DocumentStatusCompleted} {
		t.Run(status.String(), func(t *testing.T) {
			f := newFixture(t)
			p := f.pipeline(t)
			doc := f.addDocument(t, status)

			rec := f.tracker.Create(doc.Id)
			_, err := p.Process(context.Background(), doc.Id, rec.ProcessId)
			assert.ErrorIs(t, err, core.ErrConflict)

			stored, err := f.docs.GetDocument(context.Background(), doc.Id)
			require.NoError(t, err)
			assert.Equal(t, status, stored.Status)
			assert.Zero(t, f.embedder.CallCount())

			tracked, _ := f.tracker.Get(rec.ProcessId)
			assert.Equal(t, core.ProcessStatusFailed, tracked.Status)
		})
	}
}

func TestProcess_FailedDocumentCanBeRetried(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	doc := f.addDocument(t, core.DocumentStatusFailed)

	_, err := p.Process(context.Background(), doc.Id, "")
	require.NoError(t, err)

	stored, err := f.docs.GetDocument(context.Background(), doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusCompleted, stored.Status)
}

func TestProcess_ConcurrentAttemptsRunOnce(t *testing.T) {
	f := newFixture(t)
	gate := &gatedExtractor{
		text:    f.extractor.text,
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	p := f.pipelineWith(t, gate)
	doc := f.addDocument(t, core.DocumentStatusPending)
	ctx := context.Background()

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := p.Process(ctx, doc.Id, f.tracker.Create(doc.Id).ProcessId)
			errs <- err
		}()
	}

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no attempt reached extraction")
	}
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, core.ErrConflict)
	case <-time.After(5 * time.Second):
		t.Fatal("second attempt was not rejected while the first was running")
	}

	close(gate.release)
	require.NoError(t, <-errs)
	assert.Empty(t, gate.entered, "only one attempt may extract")

	stored, err := f.docs.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusCompleted, stored.Status)
	assert.Equal(t, stored.ChunkCount, f.embedder.CallCount(), "one embedding call per chunk")
	count, err := f.index.Count(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, stored.ChunkCount, count)
}

func TestProcess_FailedDocumentDropsStalePoints(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	doc := f.addDocument(t, core.DocumentStatusFailed)
	ctx := context.Background()

	_, err := f.index.EnsureCollection(ctx, doc.Id)
	require.NoError(t, err)
	stale := make([]core.IndexedPoint, 5)
	for i := range stale {
		chunk := core.Chunk{Index: i, Text: fmt.Sprintf("stale %d", i)}
		stale[i] = core.NewIndexedPoint(doc.Id, chunk, mock.Vector(chunk.Text, testDims), time.Now())
	}
	_, err = f.index.Upsert(ctx, doc.Id, stale)
	require.NoError(t, err)

	_, err = p.Process(ctx, doc.Id, "")
	require.NoError(t, err)

	stored, err := f.docs.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	count, err := f.index.Count(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, stored.ChunkCount, count)

	hits, err := f.index.Search(ctx, doc.Id, mock.Vector("stale 4", testDims), 10)
	require.NoError(t, err)
	for _, hit := range hits {
		assert.NotContains(t, hit.Payload.Text, "stale")
	}
}

func TestProcess_UnknownDocument(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	_, err := p.Process(context.Background(), "nope", "")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestProcess_EmptyExtractionFails(t *testing.T) {
	f := newFixture(t)
	f.extractor.text = "  \n\t "
	p := f.pipeline(t)
	doc := f.addDocument(t, core.DocumentStatusPending)

	rec := f.tracker.Create(doc.Id)
	_, err := p.Process(context.Background(), doc.Id, rec.ProcessId)
	require.ErrorIs(t, err, core.ErrEmptyInput)

	stored, err := f.docs.GetDocument(context.Background(), doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusFailed, stored.Status)

	tracked, _ := f.tracker.Get(rec.ProcessId)
	assert.Equal(t, core.ProcessStatusFailed, tracked.Status)
	assert.Contains(t, tracked.Error, "empty input")
	f.assertTempDirEmpty(t)
}

func TestProcess_PartialEmbeddingFailure(t *testing.T) {
	f := newFixture(t)
	f.extractor.text = "Alpha sentence number one is right here. " +
		"Bravo sentence FAIL two is right here too. " +
		"Charlie sentence three is also right here."
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			if strings.Contains(text, "FAIL") {
				return nil, errors.New("model rejected input")
			}
			out[i] = mock.Vector(text, testDims)
		}
		return out, nil
	}
	p := f.pipeline(t, WithChunker(chunker.New(chunker.WithMaxSize(60), chunker.WithOverlap(0), chunker.WithMinUnit(0))))
	doc := f.addDocument(t, core.DocumentStatusPending)

	res, err := p.Process(context.Background(), doc.Id, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 2, res.Points)

	stored, err := f.docs.GetDocument(context.Background(), doc.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ChunkCount, "chunk count reflects embedded chunks only")
}

func TestProcess_AllEmbeddingsFail(t *testing.T) {
	f := newFixture(t)
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("quota exceeded")
	}
	p := f.pipeline(t)
	doc := f.addDocument(t, core.DocumentStatusPending)

	_, err := p.Process(context.Background(), doc.Id, "")
	require.ErrorIs(t, err, core.ErrNoValidPoints)

	stored, err := f.docs.GetDocument(context.Background(), doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusFailed, stored.Status)

	count, err := f.index.Count(context.Background(), doc.Id)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcess_StatusWriteFailureKeepsOriginalError(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = errors.New("corrupt xref table")
	f.docs = failingStatusRepo{f.docs}
	p := f.pipeline(t)
	doc := f.addDocument(t, core.DocumentStatusPending)

	_, err := p.Process(context.Background(), doc.Id, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt xref table")
	assert.NotContains(t, err.Error(), "status store down")
	f.assertTempDirEmpty(t)
}

func TestProcess_MissingBlob(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	doc := f.addDocument(t, core.DocumentStatusPending)
	require.NoError(t, f.blobs.Delete(context.Background(), doc.BlobKey))

	_, err := p.Process(context.Background(), doc.Id, "")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestProcessPendingAndStats(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	a := f.addDocument(t, core.DocumentStatusPending)
	b := f.addDocument(t, core.DocumentStatusPending)
	f.addDocument(t, core.DocumentStatusFailed)

	outcomes, err := p.ProcessPending(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.ElementsMatch(t, []string{a.Id, b.Id}, []string{outcomes[0].DocumentID, outcomes[1].DocumentID})
	for _, out := range outcomes {
		assert.True(t, out.Success)
		assert.NotEmpty(t, out.ProcessID)
	}

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Completed: 2, Failed: 1}, *stats)

	outcomes, err = p.ReprocessFailed(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)

	stats, err = p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Completed)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()
	doc := f.addDocument(t, core.DocumentStatusPending)

	_, err := p.Process(ctx, doc.Id, "")
	require.NoError(t, err)
	_, err = f.chats.AddChat(ctx, &core.Chat{DocumentId: doc.Id, UserId: "user-1", Title: "manual"})
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, doc.Id))

	_, err = f.docs.GetDocument(ctx, doc.Id)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.chats.GetChatByDocument(ctx, doc.Id)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.blobs.Get(ctx, doc.BlobKey)
	assert.ErrorIs(t, err, core.ErrNotFound)
	count, err := f.index.Count(ctx, doc.Id)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, p.Delete(ctx, doc.Id), core.ErrNotFound)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()
	doc := f.addDocument(t, core.DocumentStatusPending)

	res, err := p.Process(ctx, doc.Id, "")
	require.NoError(t, err)
	require.Positive(t, res.Points)

	require.NoError(t, p.Reset(ctx, doc.Id))

	stored, err := f.docs.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusPending, stored.Status)
	assert.Zero(t, stored.ChunkCount)
	count, err := f.index.Count(ctx, doc.Id)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The stored blob is still there, so the document can be ingested again
	res, err = p.Process(ctx, doc.Id, "")
	require.NoError(t, err)
	assert.Positive(t, res.Points)

	processing := f.addDocument(t, core.DocumentStatusProcessing)
	assert.ErrorIs(t, p.Reset(ctx, processing.Id), core.ErrConflict)
	assert.ErrorIs(t, p.Reset(ctx, "missing"), core.ErrNotFound)
}
