package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the batch queue cannot accept
// more work.
var ErrQueueFull = errors.New("batch queue full")

// ErrAlreadyQueued is returned when the batch is already queued or running.
var ErrAlreadyQueued = errors.New("batch already queued")

// Runner executes batches in the background, one at a time. Upload and
// processing are decoupled: the HTTP handler enqueues and returns, the runner
// drains.
type Runner struct {
	pipeline *Pipeline
	logger   *slog.Logger

	jobs     chan uuid.UUID
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[uuid.UUID]bool
	started bool
}

// NewRunner creates a runner with the given queue depth.
func NewRunner(p *Pipeline, queueSize int, logger *slog.Logger) *Runner {
	return &Runner{
		pipeline: p,
		logger:   logger,
		jobs:     make(chan uuid.UUID, queueSize),
		stopCh:   make(chan struct{}),
		pending:  make(map[uuid.UUID]bool),
	}
}

// Start spawns the worker goroutine. Safe to call multiple times; subsequent
// calls are no-ops.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		r.logger.Warn("batch runner already started, ignoring duplicate Start call")
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
	r.logger.Info("batch runner started")
}

// Stop signals the worker to stop and waits for the in-flight batch to
// finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.logger.Info("batch runner stopped")
}

// Enqueue schedules a batch for processing. Duplicate ids are rejected while
// the batch is queued or running.
func (r *Runner) Enqueue(batchID uuid.UUID) error {
	r.mu.Lock()
	if r.pending[batchID] {
		r.mu.Unlock()
		return ErrAlreadyQueued
	}
	r.pending[batchID] = true
	r.mu.Unlock()

	select {
	case r.jobs <- batchID:
		return nil
	default:
		r.mu.Lock()
		delete(r.pending, batchID)
		r.mu.Unlock()
		return ErrQueueFull
	}
}

func (r *Runner) run(ctx context.Context) {
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case batchID := <-r.jobs:
			if err := r.pipeline.ProcessBatch(ctx, batchID); err != nil {
				r.logger.Error("batch processing failed",
					slog.String("batch_id", batchID.String()), slog.Any("error", err))
			}
			r.mu.Lock()
			delete(r.pending, batchID)
			r.mu.Unlock()
		}
	}
}
