package gpu

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned when work is submitted to a closed queue.
var ErrQueueClosed = errors.New("gpu: queue closed")

// Queue executes device work asynchronously in submission order.
type Queue interface {
	// Submit enqueues fn. It returns ErrQueueClosed after Close.
	Submit(fn func()) error
	// WaitFinish blocks until every previously submitted job completed.
	WaitFinish(ctx context.Context) error
}

// HostQueue is a Queue backed by a single worker goroutine.
type HostQueue struct {
	log  *slog.Logger
	jobs chan func()

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewHostQueue starts a queue worker with room for depth pending jobs. If
// log is nil, slog.Default() is used.
func NewHostQueue(depth int, log *slog.Logger) *HostQueue {
	if log == nil {
		log = slog.Default()
	}
	q := &HostQueue{
		log:  log.With("component", "gpu-queue"),
		jobs: make(chan func(), depth),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *HostQueue) run() {
	defer close(q.done)
	for fn := range q.jobs {
		fn()
	}
}

// Submit enqueues fn, blocking while the queue is full.
func (q *HostQueue) Submit(fn func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.jobs <- fn
	return nil
}

// WaitFinish enqueues a fence and waits for it.
func (q *HostQueue) WaitFinish(ctx context.Context) error {
	fence := make(chan struct{})
	if err := q.Submit(func() { close(fence) }); err != nil {
		return err
	}
	select {
	case <-fence:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending jobs and stops the worker.
func (q *HostQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	<-q.done
	q.log.Debug("queue closed")
}
