// Package worker runs record uploads handed off by the recorder.
//
// Uploads are fire-and-forget: a failure is logged and counted, reported
// through the upload's Done callback, and never retried.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/pkg/logger"
	"github.com/okian/dialogkpi/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultUploadTimeout = 5 * time.Second
	poolShutdownTimeout  = 30 * time.Second
)

// Uploader sends one record to the collector.
type Uploader interface {
	Upload(ctx context.Context, rec *model.Record) error
}

// Queue defines how workers receive uploads.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Upload
}

// Worker processes uploads until its queue closes.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining the queue.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue    Queue
	uploader Uploader
	name     string
	timeout  time.Duration

	processed atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, uploader Uploader, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		uploader: uploader,
		name:     "worker",
		timeout:  defaultUploadTimeout,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run implements Worker.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	// Stopping the worker also stops its dequeue, so an upload already
	// taken off the queue is reported instead of stranded.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
			cancel()
		case <-runCtx.Done():
		}
	}()

	uploads := w.queue.Dequeue(runCtx)
	for {
		select {
		case <-runCtx.Done():
			return
		case u, ok := <-uploads:
			if !ok {
				return
			}
			if err := w.process(runCtx, u); err != nil {
				w.logger.Warn(ctx, "upload failed", logger.Error(err))
			}
		}
	}
}

// Shutdown implements Worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed returns how many uploads this worker has finished.
func (w *InMemoryWorker) Processed() int64 { return w.processed.Load() }

// process runs one upload. Done is called exactly once, even if the
// uploader panics.
func (w *InMemoryWorker) process(ctx context.Context, u model.Upload) (err error) {
	start := time.Now()
	ok := false
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("uploader panicked: %v", r)
		}
		latency := float64(time.Since(start).Milliseconds())
		metrics.RecordWorkerProcessingLatency(latency)
		w.processed.Add(1)
		u.Finish(ok)
	}()

	if u.Record == nil {
		metrics.RecordErrorByComponent("worker", "nil_record")
		return ErrNilRecord
	}

	uctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	uploadStart := time.Now()
	err = w.uploader.Upload(uctx, u.Record)
	metrics.RecordUploadLatency(float64(time.Since(uploadStart).Milliseconds()))
	if err != nil {
		metrics.RecordErrorByComponent("worker", "upload_error")
		return fmt.Errorf("upload record %s: %w", u.Record.ID, err)
	}

	ok = true
	w.logger.Debug(ctx, "record uploaded",
		logger.String("record_id", u.Record.ID),
		logger.Int("events", len(u.Record.EventStream)),
	)
	return nil
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below one uses
// the number of CPUs. opts apply to every worker.
func NewPool(workerCount int, queue Queue, uploader Uploader, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Nop(),
	}
	// Options target workers; a scratch worker picks up the logger.
	probe := &InMemoryWorker{logger: pool.logger}
	for _, opt := range opts {
		opt(probe)
	}
	pool.logger = probe.logger.Named("worker-pool")

	for i := 0; i < workerCount; i++ {
		workerOpts := append(append([]Option{}, opts...), WithName("worker-"+strconv.Itoa(i)))
		pool.workers[i] = NewInMemoryWorker(queue, uploader, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Processed returns how many uploads the pool has finished.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Shutdown closes the queue and waits for the workers to drain it. When
// ctx expires first the workers are stopped and every pending upload is
// finished as failed.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			_ = w.Shutdown(shutdownCtx)
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		if d, ok := p.queue.(interface{ Drain() int }); ok {
			if n := d.Drain(); n > 0 {
				p.logger.Warn(ctx, "pending uploads dropped", logger.Int("count", n))
			}
		}
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
