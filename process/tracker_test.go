package process

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/docrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTracker_CreateAndGet(t *testing.T) {
	tr := NewTracker()
	rec := tr.Create("doc-1")

	require.NotEmpty(t, rec.ProcessId)
	assert.Equal(t, "doc-1", rec.DocumentId)
	assert.Equal(t, core.ProcessStatusPending, rec.Status)
	assert.Zero(t, rec.ProgressPercent)

	got, ok := tr.Get(rec.ProcessId)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	_, ok = tr.Get("missing")
	assert.False(t, ok)
}

func TestTracker_ReturnsCopies(t *testing.T) {
	tr := NewTracker()
	rec := tr.Create("doc-1")
	rec.Message = "mutated"

	got, _ := tr.Get(rec.ProcessId)
	assert.NotEqual(t, "mutated", got.Message)

	got.Status = core.ProcessStatusFailed
	again, _ := tr.Get(rec.ProcessId)
	assert.Equal(t, core.ProcessStatusPending, again.Status)
}

func TestTracker_StateMachine(t *testing.T) {
	clock := newClock()
	tr := NewTracker(WithClock(clock.Now))
	id := tr.Create("doc-1").ProcessId

	assert.False(t, tr.Update("unknown", core.ProcessStatusProcessing, 10, "x", ""))
	assert.Equal(t, 1, tr.Len(), "unknown ids are not created")

	require.True(t, tr.Update(id, core.ProcessStatusProcessing, 150, "embedding", "ignored"))
	rec, _ := tr.Get(id)
	assert.Equal(t, 100, rec.ProgressPercent, "percent is clamped")
	assert.Empty(t, rec.Error, "error only stored on failure")
	assert.True(t, rec.CompletedAt.IsZero())

	require.True(t, tr.Update(id, core.ProcessStatusProcessing, -3, "", ""))
	rec, _ = tr.Get(id)
	assert.Equal(t, 0, rec.ProgressPercent)
	assert.Equal(t, "embedding", rec.Message, "empty message keeps the previous one")

	clock.Advance(time.Minute)
	require.True(t, tr.Update(id, core.ProcessStatusFailed, 40, "failed", "boom"))
	rec, _ = tr.Get(id)
	assert.Equal(t, core.ProcessStatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.Error)
	assert.Equal(t, clock.Now(), rec.CompletedAt)

	clock.Advance(time.Minute)
	assert.False(t, tr.Update(id, core.ProcessStatusCompleted, 100, "done", ""), "terminal records are final")
	rec2, _ := tr.Get(id)
	assert.Equal(t, rec, rec2)
}

func TestTracker_RejectsBackwardsTransition(t *testing.T) {
	tr := NewTracker()
	id := tr.Create("doc-1").ProcessId
	require.True(t, tr.Update(id, core.ProcessStatusProcessing, 10, "", ""))
	assert.False(t, tr.Update(id, core.ProcessStatusPending, 0, "", ""))
}

func TestTracker_Cleanup(t *testing.T) {
	clock := newClock()
	tr := NewTracker(WithClock(clock.Now), WithRetention(time.Hour))

	done := tr.Create("doc-1").ProcessId
	running := tr.Create("doc-2").ProcessId
	require.True(t, tr.Update(done, core.ProcessStatusCompleted, 100, "done", ""))
	require.True(t, tr.Update(running, core.ProcessStatusProcessing, 50, "", ""))

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, tr.Cleanup(0))

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, tr.Cleanup(0))

	_, ok := tr.Get(done)
	assert.False(t, ok)
	_, ok = tr.Get(running)
	assert.True(t, ok, "non-terminal records are never swept")
}

func TestTracker_CreateSweepsOpportunistically(t *testing.T) {
	clock := newClock()
	tr := NewTracker(WithClock(clock.Now), WithRetention(time.Hour))

	old := tr.Create("doc-1").ProcessId
	require.True(t, tr.Update(old, core.ProcessStatusFailed, 0, "", "x"))
	clock.Advance(2 * time.Hour)

	tr.Create("doc-2")
	_, ok := tr.Get(old)
	assert.False(t, ok)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_ListByDocument(t *testing.T) {
	clock := newClock()
	tr := NewTracker(WithClock(clock.Now))

	first := tr.Create("doc-1")
	clock.Advance(time.Second)
	tr.Create("doc-2")
	clock.Advance(time.Second)
	second := tr.Create("doc-1")

	got := tr.ListByDocument("doc-1")
	require.Len(t, got, 2)
	assert.Equal(t, second.ProcessId, got[0].ProcessId, "newest first")
	assert.Equal(t, first.ProcessId, got[1].ProcessId)

	assert.Len(t, tr.List(), 3)
	assert.Empty(t, tr.ListByDocument("doc-3"))
}

func TestSink(t *testing.T) {
	tr := NewTracker()
	id := tr.Create("doc-1").ProcessId
	sink := tr.Sink(id)
	assert.Equal(t, id, sink.ProcessID())

	sink.Progress(15, "Generating embeddings")
	rec, _ := tr.Get(id)
	assert.Equal(t, core.ProcessStatusProcessing, rec.Status)
	assert.Equal(t, 15, rec.ProgressPercent)

	sink.Fail(errors.New("embedder down"))
	rec, _ = tr.Get(id)
	assert.Equal(t, core.ProcessStatusFailed, rec.Status)
	assert.Equal(t, 15, rec.ProgressPercent)
	assert.Equal(t, "embedder down", rec.Error)
	assert.Contains(t, rec.Message, "embedder down")

	sink.Complete("done")
	rec, _ = tr.Get(id)
	assert.Equal(t, core.ProcessStatusFailed, rec.Status)
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tr := NewTracker()
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = tr.Create("doc").ProcessId
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sink := tr.Sink(id)
			for p := 0; p <= 90; p += 10 {
				sink.Progress(p, "working")
			}
			sink.Complete("done")
		}(id)
	}
	wg.Wait()

	for _, rec := range tr.List() {
		assert.Equal(t, core.ProcessStatusCompleted, rec.Status)
		assert.Equal(t, 100, rec.ProgressPercent)
	}
}
