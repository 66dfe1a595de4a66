package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/dialogkpi/internal/adapters/mq/queue"
	worker "github.com/okian/dialogkpi/internal/adapters/mq/worker"
	model "github.com/okian/dialogkpi/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	uploads chan model.Upload
	once    sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{uploads: make(chan model.Upload, 128)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan model.Upload {
	return mq.uploads
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.uploads) })
	return nil
}

type mockUploader struct {
	mu       sync.Mutex
	uploaded map[string]int
	errs     map[string]error
	delay    time.Duration
}

func newMockUploader() *mockUploader {
	return &mockUploader{uploaded: make(map[string]int), errs: make(map[string]error)}
}

func (m *mockUploader) Upload(ctx context.Context, rec *model.Record) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "panic" {
		panic("boom")
	}
	if err, ok := m.errs[rec.ID]; ok {
		return err
	}
	m.uploaded[rec.ID]++
	return nil
}

func (m *mockUploader) setError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[id] = err
}

func (m *mockUploader) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploaded[id]
}

// result collects Done outcomes.
type result struct {
	mu   sync.Mutex
	oks  map[string]bool
	done chan string
}

func newResult() *result {
	return &result{oks: make(map[string]bool), done: make(chan string, 128)}
}

func (r *result) upload(id string) model.Upload {
	return model.Upload{
		Record: &model.Record{ID: id},
		Done: func(ok bool) {
			r.mu.Lock()
			r.oks[id] = ok
			r.mu.Unlock()
			r.done <- id
		},
	}
}

func (r *result) wait(t *testing.T, n int) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-timeout:
			t.Fatalf("timed out waiting for %d uploads, got %d", n, i)
		}
	}
}

func (r *result) ok(id string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, seen := r.oks[id]
	return ok, seen
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running worker", t, func() {
		queue := newMockQueue()
		uploader := newMockUploader()
		res := newResult()
		w := worker.NewInMemoryWorker(queue, uploader, worker.WithName("test-worker"), worker.WithTimeout(50*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When an upload succeeds", func() {
			queue.uploads <- res.upload("r-1")
			res.wait(t, 1)

			convey.Convey("Then Done should report success", func() {
				ok, seen := res.ok("r-1")
				convey.So(seen, convey.ShouldBeTrue)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(uploader.count("r-1"), convey.ShouldEqual, 1)
				convey.So(w.Processed(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When an upload fails", func() {
			uploader.setError("r-2", errors.New("collector down"))
			queue.uploads <- res.upload("r-2")
			res.wait(t, 1)

			convey.Convey("Then Done should report failure and nothing is retried", func() {
				ok, _ := res.ok("r-2")
				convey.So(ok, convey.ShouldBeFalse)
				convey.So(uploader.count("r-2"), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When an upload exceeds the timeout", func() {
			uploader.delay = time.Second
			queue.uploads <- res.upload("slow")
			res.wait(t, 1)

			convey.Convey("Then it should be reported as failed", func() {
				ok, _ := res.ok("slow")
				convey.So(ok, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the uploader panics", func() {
			queue.uploads <- res.upload("panic")
			queue.uploads <- res.upload("after")
			res.wait(t, 2)

			convey.Convey("Then Done should still run and the worker should keep going", func() {
				ok, seen := res.ok("panic")
				convey.So(seen, convey.ShouldBeTrue)
				convey.So(ok, convey.ShouldBeFalse)
				ok, _ = res.ok("after")
				convey.So(ok, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When an upload carries no record", func() {
			done := make(chan bool, 1)
			queue.uploads <- model.Upload{Done: func(ok bool) { done <- ok }}

			convey.Convey("Then it should be reported as failed", func() {
				select {
				case ok := <-done:
					convey.So(ok, convey.ShouldBeFalse)
				case <-time.After(time.Second):
					t.Fatal("Done was not called")
				}
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer shutdownCancel()

			convey.Convey("Then it should stop gracefully", func() {
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool with several workers", t, func() {
		queue := newMockQueue()
		uploader := newMockUploader()
		res := newResult()
		pool := worker.NewPool(4, queue, uploader)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("When many uploads arrive concurrently", func() {
			const producers, perProducer = 5, 20
			var wg sync.WaitGroup
			for i := 0; i < producers; i++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for j := 0; j < perProducer; j++ {
						queue.uploads <- res.upload(fmt.Sprintf("r-%d-%d", p, j))
					}
				}(i)
			}
			wg.Wait()
			res.wait(t, producers*perProducer)

			convey.Convey("Then every upload should be sent exactly once", func() {
				for i := 0; i < producers; i++ {
					for j := 0; j < perProducer; j++ {
						convey.So(uploader.count(fmt.Sprintf("r-%d-%d", i, j)), convey.ShouldEqual, 1)
					}
				}
				convey.So(pool.Processed(), convey.ShouldEqual, producers*perProducer)
			})
		})

		convey.Convey("When shutting down with uploads pending", func() {
			for i := 0; i < 10; i++ {
				queue.uploads <- res.upload(fmt.Sprintf("pending-%d", i))
			}
			err := pool.Shutdown(context.Background())

			convey.Convey("Then the queue should be drained first", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(pool.Processed(), convey.ShouldEqual, 10)
			})
		})
	})

	convey.Convey("Given a pool whose uploads never finish on their own", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		uploader := newMockUploader()
		uploader.delay = time.Hour
		res := newResult()
		pool := worker.NewPool(1, q, uploader, worker.WithTimeout(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		for _, id := range []string{"in-flight", "forwarded", "queued"} {
			convey.So(q.Enqueue(ctx, res.upload(id)), convey.ShouldBeNil)
		}
		time.Sleep(20 * time.Millisecond)

		convey.Convey("When shutdown times out", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer shutdownCancel()
			err := pool.Shutdown(shutdownCtx)
			res.wait(t, 3)

			convey.Convey("Then every upload should still report failure", func() {
				convey.So(err, convey.ShouldNotBeNil)
				for _, id := range []string{"in-flight", "forwarded", "queued"} {
					ok, seen := res.ok(id)
					convey.So(seen, convey.ShouldBeTrue)
					convey.So(ok, convey.ShouldBeFalse)
				}
				convey.So(q.Len(), convey.ShouldEqual, 0)
			})
		})
	})

	convey.Convey("Given a pool built with a default worker count", t, func() {
		pool := worker.NewPool(0, newMockQueue(), newMockUploader())

		convey.Convey("Then it should still be usable", func() {
			convey.So(pool, convey.ShouldNotBeNil)
		})
	})
}
