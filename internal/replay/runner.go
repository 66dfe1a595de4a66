// Package replay drives scripted dialog page loads through the real
// recorder, bus, upload pipeline and collector transport.
package replay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/dialogkpi/internal/adapters/bus"
	"github.com/okian/dialogkpi/internal/adapters/mq/queue"
	"github.com/okian/dialogkpi/internal/adapters/mq/worker"
	"github.com/okian/dialogkpi/internal/adapters/repository"
	"github.com/okian/dialogkpi/internal/adapters/transport"
	service "github.com/okian/dialogkpi/internal/app"
	"github.com/okian/dialogkpi/internal/config"
	"github.com/okian/dialogkpi/internal/domain/sampling"
	"github.com/okian/dialogkpi/internal/domain/session"
	"github.com/okian/dialogkpi/internal/domain/translate"
	"github.com/okian/dialogkpi/pkg/logger"
)

const (
	defaultDecisionTimeout = 10 * time.Second
	defaultQueueSize       = 64
	idleConnTimeout        = 30 * time.Second
)

// Runner replays scripts against one collector.
type Runner struct {
	cfg    *Config
	client *transport.Client
	clock  *pageClock
	coin   sampling.Coin
	memory *repository.MemoryStore
	logger logger.Logger
}

// NewRunner creates a Runner. l may be nil.
func NewRunner(cfg *Config, l logger.Logger) *Runner {
	if l == nil {
		l = logger.Nop()
	}
	return &Runner{
		cfg: cfg,
		client: transport.NewClient(cfg.CollectorURL,
			transport.WithHTTPClient(&http.Client{Transport: &http.Transport{
				MaxIdleConnsPerHost: max(cfg.Workers, 1) + 1,
				IdleConnTimeout:     idleConnTimeout,
			}}),
			transport.WithTimeout(cfg.Timeout),
			transport.WithCompression(cfg.Compression),
			transport.WithLogger(l.Named("transport")),
		),
		clock:  newPageClock(time.Now().Round(0).Truncate(time.Millisecond)),
		coin:   sampling.NewRandCoin(cfg.Seed),
		memory: repository.NewMemoryStore(),
		logger: l,
	}
}

// Run replays every page of script, publishes whatever the last page left
// in the durable slot, and waits for the uploads to drain.
func (r *Runner) Run(ctx context.Context, script *Script) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	queueSize := r.cfg.QueueSize
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	q := queue.NewInMemoryQueue(queue.WithCapacity(queueSize))
	pool := worker.NewPool(r.cfg.Workers, q, r.client,
		worker.WithTimeout(r.cfg.Timeout),
		worker.WithLogger(r.logger),
	)
	pool.Start(ctx)
	pub := &countingPublisher{next: service.NewQueuePublisher(q)}

	r.logger.Info(ctx, "starting replay",
		logger.String("collector", r.cfg.CollectorURL),
		logger.String("store", r.cfg.StoreKind),
		logger.Int("pages", len(script.Pages)),
	)

	var runErr error
	for i, page := range script.Pages {
		if err := r.runPage(ctx, i, page, script, pub, stats); err != nil {
			runErr = fmt.Errorf("page %d: %w", i, err)
			break
		}
	}
	if runErr == nil {
		runErr = r.flush(ctx, pub)
	}

	if err := pool.Shutdown(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn(ctx, "upload pool did not drain", logger.Error(err))
	}

	stats.Uploaded = int(pub.ok.Load())
	stats.UploadFailed = int(pub.failed.Load())
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	return stats, runErr
}

func (r *Runner) runPage(ctx context.Context, idx int, page Page, script *Script, pub service.Publisher, stats *Stats) error {
	pageStart := r.clock.Advance(page.gap())
	log := r.logger.Named(fmt.Sprintf("page-%d", idx))

	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(ctx, "failed to close store", logger.Error(err))
		}
	}()

	b := bus.New(bus.WithLogger(log))
	rec := service.New(
		service.WithStore(store),
		service.WithPublisher(pub),
		service.WithContextSource(r.client),
		service.WithCoin(r.coin),
		service.WithClock(r.clock.Now),
		service.WithEnvironment(page.environment()),
		service.WithContinuation(page.Continuation),
		service.WithTranslator(r.translator(log)),
		service.WithLogger(log),
	)
	if table := script.Table(); table != nil {
		rec.SetTranslations(table)
	}
	detach := rec.Attach(b)
	defer detach()

	rec.Start(ctx)
	r.waitDecided(ctx, rec, log)
	if page.ForceSampling {
		rec.ForceSampling(ctx, true)
	}

	for _, step := range page.Events {
		at := r.clock.Advance(time.Duration(step.AfterMS) * time.Millisecond)
		b.Publish(ctx, step.Event(at, pageStart))
		stats.Events++
	}

	st := rec.State()
	stream, err := rec.CurrentEventStream(ctx)
	if err != nil {
		log.Warn(ctx, "cannot read event stream", logger.Error(err))
	}

	stats.Pages++
	stats.Tuples += len(stream)
	if page.Continuation && !st.Disabled() {
		stats.Resumed++
	}
	switch st.Sampling {
	case session.Enabled:
		stats.Sampled++
	case session.Disabled:
		stats.Disabled++
	default:
		stats.Undecided++
	}

	log.Info(ctx, "page replayed",
		logger.String("name", page.Name),
		logger.String("sampling", st.Sampling.String()),
		logger.Int("events", len(page.Events)),
		logger.Int("tuples", len(stream)),
	)
	return ctx.Err()
}

func (r *Runner) waitDecided(ctx context.Context, rec *service.Recorder, log logger.Logger) {
	timeout := r.cfg.DecisionTimeout
	if timeout <= 0 {
		timeout = defaultDecisionTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-rec.Decided():
	case <-timer.C:
		log.Warn(ctx, "sampling undecided, page keeps buffering", logger.Duration("waited", timeout))
	case <-ctx.Done():
	}
}

// flush publishes the record the last page left behind, as the next page
// load would.
func (r *Runner) flush(ctx context.Context, pub service.Publisher) error {
	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec := service.New(
		service.WithStore(store),
		service.WithPublisher(pub),
		service.WithLogger(r.logger),
	)
	done := make(chan struct{})
	rec.PublishCurrent(ctx, func(bool) { close(done) })

	timer := time.NewTimer(r.cfg.Timeout + defaultDecisionTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrFlushStall
	case <-ctx.Done():
		return ctx.Err()
	}
}

// translator builds a page's name translator. Verbose runs log the event
// names that have no table entry.
func (r *Runner) translator(log logger.Logger) *translate.Translator {
	if !r.cfg.Verbose {
		return translate.New()
	}
	return translate.New(translate.WithStrict(log.Named("translate")))
}

// openStore opens the durable slot a page load sees. The memory kind
// shares one slot across pages of a run.
func (r *Runner) openStore(ctx context.Context) (repository.Store, error) {
	switch r.cfg.StoreKind {
	case "", config.StoreMemory:
		return nopCloseStore{r.memory}, nil
	case config.StoreFile:
		return repository.NewFileStore(r.cfg.StorePath)
	case config.StoreSQLite:
		return repository.NewSQLiteStore(ctx, r.cfg.StorePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrStoreKind, r.cfg.StoreKind)
	}
}

type nopCloseStore struct {
	repository.Store
}

func (nopCloseStore) Close() error { return nil }

// Summary writes stats as a short report.
func Summary(w io.Writer, stats *Stats) {
	_, _ = fmt.Fprintf(w, "pages:          %d\n", stats.Pages)
	_, _ = fmt.Fprintf(w, "  sampled:      %d\n", stats.Sampled)
	_, _ = fmt.Fprintf(w, "  disabled:     %d\n", stats.Disabled)
	_, _ = fmt.Fprintf(w, "  undecided:    %d\n", stats.Undecided)
	_, _ = fmt.Fprintf(w, "  resumed:      %d\n", stats.Resumed)
	_, _ = fmt.Fprintf(w, "events:         %d\n", stats.Events)
	_, _ = fmt.Fprintf(w, "tuples:         %d\n", stats.Tuples)
	_, _ = fmt.Fprintf(w, "uploads ok:     %d\n", stats.Uploaded)
	_, _ = fmt.Fprintf(w, "uploads failed: %d\n", stats.UploadFailed)
	_, _ = fmt.Fprintf(w, "duration:       %s\n", stats.Duration.Round(time.Millisecond))
}
