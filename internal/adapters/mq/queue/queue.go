// Package queue buffers record uploads between the recorder and the
// upload workers.
//
// Enqueue never blocks: a publish must not hold up the dialog, so a full
// or closed queue refuses the upload and the caller reports it as failed.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1_024
)

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an upload. It returns ErrFull or ErrClosed when the
	// upload was not accepted.
	Enqueue(ctx context.Context, u model.Upload) error

	// Dequeue returns a channel that receives uploads as they become
	// available. The channel is closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan model.Upload

	// Len returns the number of pending uploads.
	Len() int

	// Close stops accepting uploads. Pending uploads are still delivered.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	uploads  chan model.Upload
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.uploads = make(chan model.Upload, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, u model.Upload) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueRejected("context_cancelled")
		return fmt.Errorf("enqueue: %w", err)
	}

	select {
	case q.uploads <- u:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.uploads))
		return nil
	default:
		metrics.RecordQueueRejected("queue_full")
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue implements Queue.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.Upload {
	out := make(chan model.Upload)
	go func() {
		defer close(out)
		for u := range q.uploads {
			metrics.UpdateQueueSize(len(q.uploads))
			select {
			case out <- u:
			case <-ctx.Done():
				// Nobody will run it now; report the loss.
				u.Finish(false)
				return
			}
		}
	}()
	return out
}

// Drain finishes every pending upload as failed and returns how many there
// were. It is meant for a closed queue whose consumers have stopped.
func (q *InMemoryQueue) Drain() int {
	n := 0
	for {
		select {
		case u, ok := <-q.uploads:
			if !ok {
				metrics.UpdateQueueSize(0)
				return n
			}
			u.Finish(false)
			n++
		default:
			metrics.UpdateQueueSize(len(q.uploads))
			return n
		}
	}
}

// Len implements Queue.
func (q *InMemoryQueue) Len() int {
	size := len(q.uploads)
	metrics.UpdateQueueSize(size)
	return size
}

// Close implements Queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.uploads)
	q.closed = true
	return nil
}

// IsClosed implements Queue.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
