package service

import (
	"context"

	"github.com/okian/dialogkpi/internal/adapters/mq/queue"
	"github.com/okian/dialogkpi/internal/domain/model"
)

// Publisher takes a record for asynchronous upload. When Publish returns
// nil, u.Done is called once the upload finishes. On error the upload was
// not accepted and Done is not called.
type Publisher interface {
	Publish(ctx context.Context, u model.Upload) error
}

// ContextSource delivers the session context.
type ContextSource interface {
	Fetch(ctx context.Context) (model.SessionContext, error)
}

// QueuePublisher hands uploads to the worker queue.
type QueuePublisher struct {
	queue queue.Queue
}

// NewQueuePublisher creates a Publisher over q.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{queue: q}
}

// Publish implements Publisher.
func (p *QueuePublisher) Publish(ctx context.Context, u model.Upload) error {
	return p.queue.Enqueue(ctx, u)
}
