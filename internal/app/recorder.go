// Package service holds the application services: the dialog-side KPI
// Recorder and the collector-side Intake.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/okian/dialogkpi/internal/adapters/bus"
	"github.com/okian/dialogkpi/internal/adapters/repository"
	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/recorder"
	"github.com/okian/dialogkpi/internal/domain/sampling"
	"github.com/okian/dialogkpi/internal/domain/session"
	"github.com/okian/dialogkpi/internal/domain/translate"
	"github.com/okian/dialogkpi/pkg/logger"
	"github.com/okian/dialogkpi/pkg/metrics"
)

// Recorder collects the KPI record of one dialog page load.
//
// Until the sampling decision the active record is an in-memory buffer;
// once sampling is enabled it lives in the durable store so it survives a
// reload. Telemetry never fails the dialog: every error is logged and
// degrades to recording nothing.
//
// All state changes happen under mu. The publisher and the context source
// are always called without it, so their callbacks may re-enter.
type Recorder struct {
	mu     sync.Mutex
	state  session.State
	buffer *model.Record

	store        repository.Store
	publisher    Publisher
	source       ContextSource
	translator   *translate.Translator
	coin         sampling.Coin
	clock        func() time.Time
	env          model.Environment
	continuation bool

	decided     chan struct{}
	decidedOnce sync.Once

	logger logger.Logger
}

// New constructs a Recorder. It records nothing until Start.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		store:      repository.NewMemoryStore(),
		translator: translate.New(),
		coin:       sampling.NewRandCoin(0),
		clock:      time.Now,
		decided:    make(chan struct{}),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state = session.New(r.clock()).Disable()
	return r
}

// Attach subscribes the recorder to every event on b, plus the dedicated
// kpi_data event. The returned function detaches it.
func (r *Recorder) Attach(b *bus.Bus) (detach func()) {
	offAll := b.SubscribeAll(func(ctx context.Context, ev model.Event) {
		r.AddEvent(ctx, ev)
	})
	offKPI := b.Subscribe(model.EventKPIData, func(ctx context.Context, ev model.Event) {
		if data, ok := ev.(model.KPIData); ok {
			r.AddKPIData(ctx, data.Data)
		}
	})
	return func() {
		offAll()
		offKPI()
	}
}

// Start begins a session. A continuation resumes the durable record;
// otherwise a fresh buffer starts collecting, the previous session's
// record is published, and the sampling decision runs in the background
// once that publish has finished. Decided reports when it has.
func (r *Recorder) Start(ctx context.Context) {
	if r.continuation {
		r.Resume(ctx)
		return
	}

	r.mu.Lock()
	r.state = session.New(r.clock())
	r.buffer = &model.Record{EventStream: []model.Tuple{}}
	r.mu.Unlock()

	r.logger.Debug(ctx, "session started")

	// The decision must not outlive the page, but it must outlive Start's caller.
	bg := context.WithoutCancel(ctx)
	r.PublishCurrent(ctx, func(bool) {
		go r.beginSampling(bg)
	})
}

// Resume continues the record left by the session that redirected away.
// It reports whether there was one; without it sampling stays off for
// this page load.
func (r *Recorder) Resume(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.markDecided()

	now := r.clock()
	r.buffer = nil

	rec, err := r.store.Current(ctx)
	if err != nil {
		r.logger.Warn(ctx, "cannot read durable record, sampling off", logger.Error(err))
		metrics.RecordErrorByComponent("recorder", "store_read")
	}
	if rec == nil {
		r.state = session.New(now).Disable()
		metrics.RecordResume(metrics.OutcomeMissing)
		r.logger.Debug(ctx, "continuation without durable record, sampling off")
		return false
	}

	start, err := model.ParseLocalTimestamp(rec.LocalTimestamp)
	if err != nil {
		r.logger.Warn(ctx, "unparsable local_timestamp, resuming from now",
			logger.String("local_timestamp", rec.LocalTimestamp),
			logger.Error(err),
		)
		start = now
	}
	r.state = session.Resumed(start)
	metrics.RecordResume(metrics.OutcomeResumed)
	r.logger.Debug(ctx, "continuation resumed", logger.String("record_id", rec.ID))
	return true
}

// beginSampling fetches the session context and makes the decision.
// A failed fetch leaves the session undecided: it keeps buffering and
// nothing becomes durable.
func (r *Recorder) beginSampling(ctx context.Context) {
	if r.source == nil {
		r.logger.Warn(ctx, "no session context source, sampling stays undecided")
		return
	}
	sc, err := r.source.Fetch(ctx)
	if err != nil {
		r.logger.Warn(ctx, "session context unavailable, sampling stays undecided", logger.Error(err))
		metrics.RecordErrorByComponent("recorder", "context_fetch")
		return
	}
	r.Decide(ctx, sc)
}

// Decide runs the sampling decision against sc. It is a no-op once the
// session has decided.
func (r *Recorder) Decide(ctx context.Context, sc model.SessionContext) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := sampling.Decide(r.state, r.buffer, sc, r.env, r.coin)
	if !d.Made {
		return
	}
	defer r.markDecided()
	r.buffer = nil

	if d.Record == nil {
		r.state = d.State
		metrics.RecordSamplingDecision(metrics.OutcomeDisabled)
		r.logger.Debug(ctx, "session not sampled", logger.Float64("rate", sc.SampleRate))
		return
	}

	metrics.RecordSamplingDecision(metrics.OutcomeEnabled)
	r.state = r.promoteLocked(ctx, d.State, d.Record)
	r.logger.Debug(ctx, "session sampled",
		logger.String("record_id", d.Record.ID),
		logger.Int("buffered_events", len(d.Record.EventStream)),
	)
}

// promoteLocked seeds the durable slot with rec. If the slot is taken or
// unwritable the session stops sampling rather than merge into someone
// else's record.
func (r *Recorder) promoteLocked(ctx context.Context, st session.State, rec *model.Record) session.State {
	stored, err := r.store.Push(ctx, rec)
	switch {
	case err != nil:
		r.logger.Warn(ctx, "cannot write durable record, sampling off", logger.Error(err))
		metrics.RecordErrorByComponent("recorder", "store_write")
		return st.Disable()
	case !stored:
		r.logger.Warn(ctx, "durable slot already occupied, sampling off")
		metrics.RecordErrorByComponent("recorder", "slot_occupied")
		return st.Disable()
	}
	return st
}

// ForceSampling decides the session without a coin flip. Enabling an
// undecided session promotes its buffer as if the server rate were 1.
func (r *Recorder) ForceSampling(ctx context.Context, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.markDecided()

	if !enabled {
		r.state = r.state.Disable()
		r.buffer = nil
		return
	}
	if r.state.Storing {
		r.state = r.state.Enable()
		return
	}

	sc := model.SessionContext{SampleRate: 1, ServerTime: r.clock().UnixMilli()}
	undecided := r.state
	undecided.Sampling = session.Undecided
	d := sampling.Decide(undecided, r.buffer, sc, r.env, sampling.FixedCoin(0))
	r.buffer = nil
	r.state = r.promoteLocked(ctx, d.State, d.Record)
}

// Decided is closed once the session's sampling outcome is fixed.
func (r *Recorder) Decided() <-chan struct{} { return r.decided }

func (r *Recorder) markDecided() {
	r.decidedOnce.Do(func() { close(r.decided) })
}

// State returns a snapshot of the session state.
func (r *Recorder) State() session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// AddEvent records ev and returns the appended or collapsed tuple.
func (r *Recorder) AddEvent(ctx context.Context, ev model.Event) (model.Tuple, bool) {
	if ev == nil {
		return model.Tuple{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stream, err := r.currentStreamLocked(ctx)
	if err != nil {
		r.logger.Warn(ctx, "cannot read event stream, event dropped",
			logger.String("event", ev.EventName()),
			logger.Error(err),
		)
		metrics.RecordErrorByComponent("recorder", "store_read")
		return model.Tuple{}, false
	}

	res := recorder.Record(r.state, stream, r.translator, ev, r.clock())
	r.state = res.State

	switch res.Outcome {
	case recorder.Appended:
		metrics.RecordEventRecorded()
	case recorder.Collapsed:
		metrics.RecordEventCollapsed()
	case recorder.Adjusted:
		metrics.RecordStartAdjust()
	default:
		metrics.RecordEventDropped(res.Outcome.String())
	}

	if res.Changed() {
		if err := r.setCurrentStreamLocked(ctx, res.Stream); err != nil {
			r.logger.Warn(ctx, "cannot write event stream, event dropped",
				logger.String("event", ev.EventName()),
				logger.Error(err),
			)
			metrics.RecordErrorByComponent("recorder", "store_write")
			return model.Tuple{}, false
		}
	}
	if res.Tuple == nil {
		return model.Tuple{}, false
	}
	return *res.Tuple, true
}

// AddKPIData shallow-merges data into the active record.
func (r *Recorder) AddKPIData(ctx context.Context, data map[string]any) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Disabled() {
		return
	}
	rec, err := r.currentKPIsLocked(ctx)
	if err != nil || rec == nil {
		if err != nil {
			r.logger.Warn(ctx, "cannot read record, kpi data dropped", logger.Error(err))
			metrics.RecordErrorByComponent("recorder", "store_read")
		}
		return
	}
	rec.Merge(data)
	if err := r.setCurrentKPIsLocked(ctx, rec); err != nil {
		r.logger.Warn(ctx, "cannot write record, kpi data dropped", logger.Error(err))
		metrics.RecordErrorByComponent("recorder", "store_write")
	}
}

// CurrentKPIs returns a copy of the active record, or nil when there is none.
func (r *Recorder) CurrentKPIs(ctx context.Context) (*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentKPIsLocked(ctx)
}

// SetCurrentKPIs replaces the active record.
func (r *Recorder) SetCurrentKPIs(ctx context.Context, rec *model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setCurrentKPIsLocked(ctx, rec)
}

// CurrentEventStream returns a copy of the active record's events.
func (r *Recorder) CurrentEventStream(ctx context.Context) ([]model.Tuple, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentStreamLocked(ctx)
}

// SetCurrentEventStream replaces the active record's events.
func (r *Recorder) SetCurrentEventStream(ctx context.Context, stream []model.Tuple) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setCurrentStreamLocked(ctx, stream)
}

func (r *Recorder) currentKPIsLocked(ctx context.Context) (*model.Record, error) {
	if r.state.Storing {
		return r.store.Current(ctx)
	}
	return r.buffer.Clone(), nil
}

func (r *Recorder) setCurrentKPIsLocked(ctx context.Context, rec *model.Record) error {
	if r.state.Storing {
		if rec == nil {
			return r.store.Clear(ctx)
		}
		return r.store.SetCurrent(ctx, rec)
	}
	if r.state.Disabled() {
		return nil
	}
	r.buffer = rec.Clone()
	return nil
}

func (r *Recorder) currentStreamLocked(ctx context.Context) ([]model.Tuple, error) {
	rec, err := r.currentKPIsLocked(ctx)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.EventStream, nil
}

// setCurrentStreamLocked is a read-modify-write of the active record. A
// durable slot emptied under a running session is left empty.
func (r *Recorder) setCurrentStreamLocked(ctx context.Context, stream []model.Tuple) error {
	rec, err := r.currentKPIsLocked(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		if r.state.Storing || r.state.Disabled() {
			return nil
		}
		rec = &model.Record{}
	}
	rec.EventStream = model.CloneStream(stream)
	return r.setCurrentKPIsLocked(ctx, rec)
}

// PublishCurrent takes the durable record out of the slot and hands it to
// the publisher. The slot is empty when PublishCurrent returns, whatever
// happens to the upload. onDone receives the upload outcome, or false
// right away when there was nothing to send or the hand-off failed.
func (r *Recorder) PublishCurrent(ctx context.Context, onDone func(ok bool)) {
	if onDone == nil {
		onDone = func(bool) {}
	}

	rec := r.takeDurable(ctx)
	if rec == nil {
		metrics.RecordPublish(metrics.OutcomeEmpty)
		onDone(false)
		return
	}
	if r.publisher == nil {
		r.logger.Warn(ctx, "no publisher, previous record dropped", logger.String("record_id", rec.ID))
		metrics.RecordPublish(metrics.OutcomeFailure)
		onDone(false)
		return
	}

	u := model.Upload{
		Record: rec,
		Done: func(ok bool) {
			if ok {
				metrics.RecordPublish(metrics.OutcomeSuccess)
			} else {
				metrics.RecordPublish(metrics.OutcomeFailure)
			}
			onDone(ok)
		},
	}
	if err := r.publisher.Publish(ctx, u); err != nil {
		r.logger.Warn(ctx, "previous record not handed off, dropped",
			logger.String("record_id", rec.ID),
			logger.Error(err),
		)
		metrics.RecordErrorByComponent("recorder", "publish")
		u.Finish(false)
		return
	}
	r.logger.Debug(ctx, "previous record handed off", logger.String("record_id", rec.ID))
}

// takeDurable reads and clears the durable slot in one step.
func (r *Recorder) takeDurable(ctx context.Context) *model.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Current(ctx)
	if err != nil {
		r.logger.Warn(ctx, "cannot read durable record", logger.Error(err))
		metrics.RecordErrorByComponent("recorder", "store_read")
	}
	if err := r.store.Clear(ctx); err != nil {
		r.logger.Warn(ctx, "cannot clear durable slot", logger.Error(err))
		metrics.RecordErrorByComponent("recorder", "store_clear")
	}
	return rec
}

// SetTranslations overrides translation entries.
func (r *Recorder) SetTranslations(entries translate.Table) {
	r.translator.Override(entries)
}

// ResetTranslations restores the built-in translations.
func (r *Recorder) ResetTranslations() {
	r.translator.Reset()
}
