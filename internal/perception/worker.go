package perception

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/AaronLay10/VisorEngine/internal/events"
)

// DefaultDeadline bounds a recognition call when the worker is built with zero,
// and a frame capture unless the engine is configured otherwise.
const DefaultDeadline = 2 * time.Second

// Worker runs recognition off the control goroutine with a bounded number of
// calls in flight. A call that overruns the deadline is abandoned and
// reported as *TimeoutError; its slot is released only once the underlying
// call actually returns.
type Worker struct {
	rec      Recognizer
	sem      *semaphore.Weighted
	deadline time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewWorker wraps rec. slots <= 0 means a single-worker queue.
func NewWorker(rec Recognizer, slots int64, deadline time.Duration, logger *zap.Logger) *Worker {
	if slots <= 0 {
		slots = 1
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		rec:      rec,
		sem:      semaphore.NewWeighted(slots),
		deadline: deadline,
		logger:   logger.Named("recognition"),
	}
}

type analyzeResult struct {
	matches []Match
	err     error
}

// Analyze implements Recognizer.
func (w *Worker) Analyze(ctx context.Context, frame *Frame) ([]Match, error) {
	dctx, cancel := context.WithTimeout(ctx, w.deadline)
	defer cancel()

	if err := w.sem.Acquire(dctx, 1); err != nil {
		return nil, w.deadlineErr(ctx, "queue")
	}

	done := make(chan analyzeResult, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		m, err := w.rec.Analyze(dctx, frame)
		done <- analyzeResult{matches: m, err: err}
	}()

	select {
	case r := <-done:
		return r.matches, r.err
	case <-dctx.Done():
		return nil, w.deadlineErr(ctx, "analyze")
	}
}

func (w *Worker) deadlineErr(parent context.Context, phase string) error {
	if err := parent.Err(); err != nil {
		return err
	}
	w.logger.Warn("recognition deadline exceeded",
		zap.String("phase", phase),
		zap.Duration("deadline", w.deadline))
	events.Emit("warning", "perception.timeout", "", map[string]interface{}{
		"phase":       phase,
		"deadline_ms": w.deadline.Milliseconds(),
	})
	return &TimeoutError{Op: "recognition", Deadline: w.deadline}
}

// Wait blocks until every abandoned or running call has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}
