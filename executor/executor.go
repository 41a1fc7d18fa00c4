package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/ingestion"
	"github.com/poiesic/docrag/process"
)

// Job asks for one document to be ingested.
type Job struct {
	DocumentID string
	BlobKey    string
	UserID     string
}

// Runner runs the ingestion pipeline for one tracked process.
// ingestion.Pipeline implements it.
type Runner interface {
	Process(ctx context.Context, documentID, processID string) (*ingestion.Result, error)
}

// DefaultQueueSize is how many submitted jobs may wait for a free worker.
const DefaultQueueSize = 1024

// Executor runs ingestion jobs off the caller's path on a bounded worker pool.
// Jobs are delivered at least once: failures that may be transient are retried
// with exponential backoff, each attempt under a new process id.
//
// Submit never waits for a worker. Jobs go into a bounded queue that a single
// dispatcher drains into the pool.
type Executor struct {
	runner      Runner
	tracker     *process.Tracker
	pool        *ants.Pool
	poolSize    int
	queueSize   int
	queue       chan queued
	dispatched  chan struct{}
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type queued struct {
	job       Job
	processID string
}

// Option configures an Executor.
type Option func(*Executor) error

// WithPoolSize sets how many jobs run at once.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(e *Executor) error {
		if size < 1 {
			size = 1
		}
		e.poolSize = size
		return nil
	}
}

// WithQueueSize sets how many jobs may wait for a worker before Submit
// returns ErrQueueFull. Default is DefaultQueueSize.
func WithQueueSize(size int) Option {
	return func(e *Executor) error {
		if size < 1 {
			size = 1
		}
		e.queueSize = size
		return nil
	}
}

// WithRetry sets the attempt budget and the first backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(e *Executor) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		e.maxAttempts = maxAttempts
		e.baseDelay = baseDelay
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// New creates an Executor.
func New(runner Runner, tracker *process.Tracker, opts ...Option) (*Executor, error) {
	if runner == nil {
		return nil, ErrRunnerRequired
	}
	if tracker == nil {
		return nil, ErrTrackerRequired
	}

	e := &Executor{
		runner:      runner,
		tracker:     tracker,
		poolSize:    max(1, runtime.NumCPU()/2),
		queueSize:   DefaultQueueSize,
		maxAttempts: 3,
		baseDelay:   2 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(e.poolSize)
	if err != nil {
		return nil, err
	}
	e.pool = pool
	e.logger = e.logger.With("component", "executor")
	e.queue = make(chan queued, e.queueSize)
	e.dispatched = make(chan struct{})
	go e.dispatch()
	return e, nil
}

// Submit queues job and returns the process id of its first attempt. It does
// not wait for a free worker.
func (e *Executor) Submit(job Job) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrClosed
	}

	rec := e.tracker.Create(job.DocumentID)
	e.wg.Add(1)
	select {
	case e.queue <- queued{job: job, processID: rec.ProcessId}:
	default:
		e.wg.Done()
		e.tracker.Sink(rec.ProcessId).Fail(ErrQueueFull)
		return "", fmt.Errorf("submitting job for %s: %w", job.DocumentID, ErrQueueFull)
	}

	e.logger.Debug("job queued", "documentId", job.DocumentID, "processId", rec.ProcessId)
	return rec.ProcessId, nil
}

// dispatch hands queued jobs to the pool, blocking while every worker is busy.
func (e *Executor) dispatch() {
	defer close(e.dispatched)
	for q := range e.queue {
		err := e.pool.Submit(func() {
			defer e.wg.Done()
			e.run(q.job, q.processID)
		})
		if err != nil {
			e.wg.Done()
			e.tracker.Sink(q.processID).Fail(err)
			e.logger.Error("failed to start job", "documentId", q.job.DocumentID, "processId", q.processID, "err", err)
		}
	}
}

func (e *Executor) run(job Job, firstProcessID string) {
	// Jobs outlive the request that submitted them
	ctx := context.Background()
	logger := e.logger.With("documentId", job.DocumentID, "userId", job.UserID)

	attempt := 0
	err := RetryWithBackoff(ctx, func() error {
		processID := firstProcessID
		if attempt > 0 {
			processID = e.tracker.Create(job.DocumentID).ProcessId
			logger.Info("retrying ingestion", "attempt", attempt+1, "processId", processID)
		}
		attempt++

		_, err := e.runner.Process(ctx, job.DocumentID, processID)
		if err != nil && Terminal(err) {
			return Permanent(err)
		}
		return err
	}, e.maxAttempts, e.baseDelay)

	if err != nil {
		logger.Error("ingestion job failed", "attempts", attempt, "err", err)
		return
	}
	logger.Info("ingestion job finished", "attempts", attempt)
}

// Terminal reports whether retrying err cannot help.
func Terminal(err error) bool {
	return errors.Is(err, core.ErrConflict) ||
		errors.Is(err, core.ErrEmptyInput) ||
		errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrNoValidPoints)
}

// Wait blocks until every submitted job has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Queued returns the number of jobs waiting for a worker.
func (e *Executor) Queued() int {
	return len(e.queue)
}

// Running returns the number of jobs currently executing.
func (e *Executor) Running() int {
	return e.pool.Running()
}

// Release stops accepting jobs, waits for the submitted ones and frees the pool.
func (e *Executor) Release() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.dispatched
	e.wg.Wait()
	e.pool.Release()
}
