package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/dialogkpi/internal/adapters/bus"
	"github.com/okian/dialogkpi/internal/adapters/repository"
	service "github.com/okian/dialogkpi/internal/app"
	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/sampling"
	"github.com/okian/dialogkpi/internal/domain/session"
	"github.com/okian/dialogkpi/internal/domain/translate"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeSource struct {
	sc   model.SessionContext
	err  error
	gate chan struct{}
	once sync.Once
}

// release opens the gate.
func (s *fakeSource) release() {
	s.once.Do(func() { close(s.gate) })
}

func (s *fakeSource) Fetch(ctx context.Context) (model.SessionContext, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return model.SessionContext{}, ctx.Err()
		}
	}
	return s.sc, s.err
}

type fakePublisher struct {
	mu  sync.Mutex
	got []*model.Record
	err error
	ok  bool
}

func (p *fakePublisher) Publish(_ context.Context, u model.Upload) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.got = append(p.got, u.Record)
	p.mu.Unlock()
	u.Finish(p.ok)
	return nil
}

func (p *fakePublisher) published() []*model.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.Record(nil), p.got...)
}

// brokenStore accepts reads but refuses to seed the slot.
type brokenStore struct {
	*repository.MemoryStore
}

func (brokenStore) Push(context.Context, *model.Record) (bool, error) {
	return false, errors.New("disk full")
}

func waitDecided(r *service.Recorder) bool {
	select {
	case <-r.Decided():
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func xhr(url string) model.Event {
	return model.XHRCompleted{Method: "GET", URL: url, Status: 200}
}

var sessionStart = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func TestRecorderSampling(t *testing.T) {
	Convey("Given a recorder for a fresh session", t, func() {
		ctx := context.Background()
		clock := &fakeClock{t: sessionStart}
		store := repository.NewMemoryStore()
		pub := &fakePublisher{ok: true}
		src := &fakeSource{sc: model.SessionContext{SampleRate: 1, ServerTime: 1_000_003}}
		newRecorder := func(opts ...service.Option) *service.Recorder {
			base := []service.Option{
				service.WithStore(store),
				service.WithPublisher(pub),
				service.WithContextSource(src),
				service.WithClock(clock.Now),
				service.WithEnvironment(model.Environment{Lang: "en"}),
			}
			return service.New(append(base, opts...)...)
		}

		Convey("When the server rate is 1", func() {
			r := newRecorder()
			r.Start(ctx)
			So(waitDecided(r), ShouldBeTrue)

			Convey("Then the session should be sampled into the durable store", func() {
				st := r.State()
				So(st.Sampling, ShouldEqual, session.Enabled)
				So(st.Storing, ShouldBeTrue)

				rec, err := store.Current(ctx)
				So(err, ShouldBeNil)
				So(rec, ShouldNotBeNil)
				So(rec.Timestamp, ShouldEqual, 600_000)
				So(rec.SampleRate, ShouldEqual, 1)
				So(rec.LocalTimestamp, ShouldEqual, model.FormatLocalTimestamp(sessionStart))
				So(rec.Lang, ShouldEqual, "en")
				So(rec.NewAccount, ShouldBeFalse)
			})

			Convey("And a, two identical completions, b should give three tuples", func() {
				r.AddEvent(ctx, model.Named{Name: "a"})
				clock.Advance(10 * time.Millisecond)
				r.AddEvent(ctx, xhr("/api/session?x=1"))
				clock.Advance(10 * time.Millisecond)
				tp, ok := r.AddEvent(ctx, xhr("/api/session?x=2"))
				So(ok, ShouldBeTrue)
				So(tp.Repeat, ShouldEqual, 2)
				clock.Advance(10 * time.Millisecond)
				r.AddEvent(ctx, model.Named{Name: "b"})

				stream, err := r.CurrentEventStream(ctx)
				So(err, ShouldBeNil)
				So(len(stream), ShouldEqual, 3)
				So(stream[0].Name, ShouldEqual, "a")
				So(stream[1].Name, ShouldEqual, "xhr.GET/api/session")
				So(stream[1].Repeat, ShouldEqual, 2)
				So(stream[1].Offset, ShouldEqual, 10)
				So(stream[2].Name, ShouldEqual, "b")
				So(stream[2].Offset, ShouldEqual, 30)
			})

			Convey("And a later context delivery should not change the decision", func() {
				r.Decide(ctx, model.SessionContext{SampleRate: 0, ServerTime: 5})
				So(r.State().Sampling, ShouldEqual, session.Enabled)
				rec, _ := store.Current(ctx)
				So(rec.Timestamp, ShouldEqual, 600_000)
			})
		})

		Convey("When the server rate is 0", func() {
			src.sc.SampleRate = 0
			r := newRecorder()
			r.Start(ctx)
			r.AddEvent(ctx, model.Named{Name: "early"})
			So(waitDecided(r), ShouldBeTrue)
			r.AddEvent(ctx, model.Named{Name: "late"})

			Convey("Then nothing should be recorded or made durable", func() {
				So(r.State().Sampling, ShouldEqual, session.Disabled)
				rec, err := r.CurrentKPIs(ctx)
				So(err, ShouldBeNil)
				So(rec, ShouldBeNil)
				durable, _ := store.Current(ctx)
				So(durable, ShouldBeNil)
			})
		})

		Convey("When events arrive before the decision", func() {
			src.gate = make(chan struct{})
			Reset(src.release)
			r := newRecorder()
			r.Start(ctx)
			r.AddEvent(ctx, model.ServiceShown{Name: "login"})
			r.AddKPIData(ctx, map[string]any{"new_account": true, "flow": "signup"})

			Convey("Then they should sit in the buffer", func() {
				rec, err := r.CurrentKPIs(ctx)
				So(err, ShouldBeNil)
				So(rec.EventStream, ShouldResemble, []model.Tuple{model.NewTuple("screen.login", 0)})
				durable, _ := store.Current(ctx)
				So(durable, ShouldBeNil)
			})

			Convey("Then the decision should promote them", func() {
				src.release()
				So(waitDecided(r), ShouldBeTrue)
				rec, err := store.Current(ctx)
				So(err, ShouldBeNil)
				So(rec.EventStream, ShouldResemble, []model.Tuple{model.NewTuple("screen.login", 0)})
				So(rec.NewAccount, ShouldBeTrue)
				So(rec.Extra["flow"], ShouldEqual, "signup")
			})
		})

		Convey("When the session context cannot be fetched", func() {
			src.err = errors.New("offline")
			r := newRecorder()
			r.Start(ctx)
			r.AddEvent(ctx, model.Named{Name: "a"})

			Convey("Then the session should stay undecided and keep buffering", func() {
				select {
				case <-r.Decided():
					t.Fatal("session should not decide without a context")
				case <-time.After(50 * time.Millisecond):
				}
				So(r.State().Sampling, ShouldEqual, session.Undecided)
				stream, _ := r.CurrentEventStream(ctx)
				So(len(stream), ShouldEqual, 1)
				durable, _ := store.Current(ctx)
				So(durable, ShouldBeNil)
			})
		})

		Convey("When sampling is forced", func() {
			src.gate = make(chan struct{})
			Reset(src.release)
			r := newRecorder()
			r.Start(ctx)
			r.AddEvent(ctx, model.Named{Name: "a"})
			r.ForceSampling(ctx, true)

			Convey("Then the buffer should become durable without a coin flip", func() {
				So(waitDecided(r), ShouldBeTrue)
				So(r.State().Storing, ShouldBeTrue)
				rec, _ := store.Current(ctx)
				So(len(rec.EventStream), ShouldEqual, 1)
				So(rec.SampleRate, ShouldEqual, 1)
			})

			Convey("Then forcing it off should stop recording", func() {
				r.ForceSampling(ctx, false)
				_, ok := r.AddEvent(ctx, model.Named{Name: "b"})
				So(ok, ShouldBeFalse)
				So(r.State().Disabled(), ShouldBeTrue)
			})
		})

		Convey("When another session fills the slot before the decision", func() {
			src.gate = make(chan struct{})
			Reset(src.release)
			r := newRecorder()
			r.Start(ctx)
			r.AddEvent(ctx, model.Named{Name: "a"})
			_, err := store.Push(ctx, &model.Record{ID: "other"})
			So(err, ShouldBeNil)
			src.release()

			Convey("Then the session should turn itself off and leave the slot alone", func() {
				So(waitDecided(r), ShouldBeTrue)
				st := r.State()
				So(st.Sampling, ShouldEqual, session.Disabled)
				So(st.Storing, ShouldBeFalse)
				rec, err := store.Current(ctx)
				So(err, ShouldBeNil)
				So(rec.ID, ShouldEqual, "other")
				So(rec.EventStream, ShouldBeEmpty)
			})
		})

		Convey("When the slot cannot be written", func() {
			r := service.New(
				service.WithStore(brokenStore{MemoryStore: repository.NewMemoryStore()}),
				service.WithPublisher(pub),
				service.WithContextSource(src),
				service.WithClock(clock.Now),
			)
			r.Start(ctx)

			Convey("Then the session should turn itself off", func() {
				So(waitDecided(r), ShouldBeTrue)
				So(r.State().Sampling, ShouldEqual, session.Disabled)
				So(r.State().Storing, ShouldBeFalse)
				_, ok := r.AddEvent(ctx, model.Named{Name: "a"})
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the active record is replaced through the setters", func() {
			src.gate = make(chan struct{})
			Reset(src.release)
			r := newRecorder()
			r.Start(ctx)
			So(r.SetCurrentKPIs(ctx, &model.Record{Extra: map[string]any{"flow": "signup"}}), ShouldBeNil)
			So(r.SetCurrentEventStream(ctx, []model.Tuple{model.NewTuple("seeded", 3)}), ShouldBeNil)

			Convey("Then before the decision they should write the buffer", func() {
				rec, err := r.CurrentKPIs(ctx)
				So(err, ShouldBeNil)
				So(rec.Extra["flow"], ShouldEqual, "signup")
				So(rec.EventStream, ShouldResemble, []model.Tuple{model.NewTuple("seeded", 3)})
				durable, _ := store.Current(ctx)
				So(durable, ShouldBeNil)
			})

			Convey("Then after the decision they should write the durable slot", func() {
				src.release()
				So(waitDecided(r), ShouldBeTrue)
				durable, _ := store.Current(ctx)
				So(durable.EventStream, ShouldResemble, []model.Tuple{model.NewTuple("seeded", 3)})

				So(r.SetCurrentEventStream(ctx, []model.Tuple{model.NewTuple("replaced", 7)}), ShouldBeNil)
				durable, _ = store.Current(ctx)
				So(durable.EventStream, ShouldResemble, []model.Tuple{model.NewTuple("replaced", 7)})
				So(durable.Extra["flow"], ShouldEqual, "signup")

				next := durable.Clone()
				next.Lang = "de"
				So(r.SetCurrentKPIs(ctx, next), ShouldBeNil)
				durable, _ = store.Current(ctx)
				So(durable.Lang, ShouldEqual, "de")
				So(durable.ID, ShouldEqual, next.ID)
			})
		})

		Convey("When a fixed coin draws above the rate", func() {
			src.sc.SampleRate = 0.5
			r := newRecorder(service.WithCoin(sampling.FixedCoin(0.7)))
			r.Start(ctx)

			Convey("Then the session should not be sampled", func() {
				So(waitDecided(r), ShouldBeTrue)
				So(r.State().Disabled(), ShouldBeTrue)
			})
		})
	})
}

func TestRecorderPublishPrevious(t *testing.T) {
	Convey("Given a durable record left by the previous session", t, func() {
		ctx := context.Background()
		clock := &fakeClock{t: sessionStart}
		store := repository.NewMemoryStore()
		previous := &model.Record{ID: "prev", EventStream: []model.Tuple{model.NewTuple("old", 5)}}
		_, err := store.Push(ctx, previous)
		So(err, ShouldBeNil)

		src := &fakeSource{sc: model.SessionContext{SampleRate: 1, ServerTime: 1_200_000}, gate: make(chan struct{})}
		Reset(src.release)
		newRecorder := func(pub service.Publisher) *service.Recorder {
			return service.New(
				service.WithStore(store),
				service.WithPublisher(pub),
				service.WithContextSource(src),
				service.WithClock(clock.Now),
			)
		}

		Convey("When a new session starts and the upload succeeds", func() {
			pub := &fakePublisher{ok: true}
			r := newRecorder(pub)
			r.Start(ctx)

			Convey("Then the old record should be published once and the slot emptied", func() {
				got := pub.published()
				So(len(got), ShouldEqual, 1)
				So(got[0].ID, ShouldEqual, "prev")
				durable, _ := store.Current(ctx)
				So(durable, ShouldBeNil)
			})

			Convey("Then the current record should be the fresh buffer, not stale data", func() {
				rec, err := r.CurrentKPIs(ctx)
				So(err, ShouldBeNil)
				So(rec.ID, ShouldBeEmpty)
				So(rec.EventStream, ShouldBeEmpty)
			})

			Convey("Then the new session should get its own durable record", func() {
				src.release()
				So(waitDecided(r), ShouldBeTrue)
				rec, _ := store.Current(ctx)
				So(rec.ID, ShouldNotEqual, "prev")
				So(rec.Timestamp, ShouldEqual, 1_200_000)
			})
		})

		Convey("When the upload fails", func() {
			pub := &fakePublisher{ok: false}
			r := newRecorder(pub)
			r.Start(ctx)

			Convey("Then the slot should still be cleared and sampling should proceed", func() {
				durable, _ := store.Current(ctx)
				So(durable, ShouldBeNil)
				src.release()
				So(waitDecided(r), ShouldBeTrue)
				So(r.State().Storing, ShouldBeTrue)
			})
		})

		Convey("When PublishCurrent is called directly", func() {
			pub := &fakePublisher{ok: true}
			r := newRecorder(pub)
			var outcomes []bool
			r.PublishCurrent(ctx, func(ok bool) { outcomes = append(outcomes, ok) })
			r.PublishCurrent(ctx, func(ok bool) { outcomes = append(outcomes, ok) })

			Convey("Then the second call should find nothing to send", func() {
				So(outcomes, ShouldResemble, []bool{true, false})
				So(len(pub.published()), ShouldEqual, 1)
			})
		})

		Convey("When the publisher refuses the hand-off", func() {
			pub := &fakePublisher{err: errors.New("queue full")}
			r := newRecorder(pub)
			var outcome *bool
			r.PublishCurrent(ctx, func(ok bool) { outcome = &ok })

			Convey("Then onDone should report failure and the slot should be empty", func() {
				So(outcome, ShouldNotBeNil)
				So(*outcome, ShouldBeFalse)
				durable, _ := store.Current(ctx)
				So(durable, ShouldBeNil)
			})
		})
	})
}

func TestRecorderContinuation(t *testing.T) {
	Convey("Given a continuation page load", t, func() {
		ctx := context.Background()
		origin := sessionStart.Add(-5 * time.Second)
		clock := &fakeClock{t: sessionStart}
		store := repository.NewMemoryStore()
		pub := &fakePublisher{ok: true}
		newRecorder := func() *service.Recorder {
			return service.New(
				service.WithStore(store),
				service.WithPublisher(pub),
				service.WithClock(clock.Now),
				service.WithContinuation(true),
			)
		}

		Convey("When the originating session left a durable record", func() {
			_, err := store.Push(ctx, &model.Record{
				ID:             "origin",
				EventStream:    []model.Tuple{model.NewTuple("screen.login", 0)},
				LocalTimestamp: model.FormatLocalTimestamp(origin),
			})
			So(err, ShouldBeNil)
			r := newRecorder()
			r.Start(ctx)

			Convey("Then recording should resume against the original start", func() {
				So(waitDecided(r), ShouldBeTrue)
				st := r.State()
				So(st.Sampling, ShouldEqual, session.Enabled)
				So(st.Storing, ShouldBeTrue)
				So(st.StartTime.Equal(origin), ShouldBeTrue)

				r.AddEvent(ctx, model.Named{Name: "back"})
				rec, _ := store.Current(ctx)
				So(rec.ID, ShouldEqual, "origin")
				So(rec.EventStream, ShouldResemble, []model.Tuple{
					model.NewTuple("screen.login", 0),
					model.NewTuple("back", 5_000),
				})
			})

			Convey("Then nothing should be published", func() {
				So(pub.published(), ShouldBeEmpty)
			})
		})

		Convey("When the durable record has an unparsable start", func() {
			_, _ = store.Push(ctx, &model.Record{ID: "origin", LocalTimestamp: "yesterday"})
			r := newRecorder()

			Convey("Then it should resume from now", func() {
				So(r.Resume(ctx), ShouldBeTrue)
				So(r.State().StartTime.Equal(sessionStart), ShouldBeTrue)
			})
		})

		Convey("When there is no durable record", func() {
			r := newRecorder()

			Convey("Then sampling should stay off for the page load", func() {
				So(r.Resume(ctx), ShouldBeFalse)
				So(waitDecided(r), ShouldBeTrue)
				So(r.State().Sampling, ShouldEqual, session.Disabled)
				_, ok := r.AddEvent(ctx, model.Named{Name: "a"})
				So(ok, ShouldBeFalse)
				durable, _ := store.Current(ctx)
				So(durable, ShouldBeNil)
			})
		})
	})
}

func TestRecorderStartTimeAdjust(t *testing.T) {
	Convey("Given a sampled session with one event", t, func() {
		ctx := context.Background()
		clock := &fakeClock{t: sessionStart}
		r := service.New(service.WithClock(clock.Now))
		r.Start(ctx)
		r.ForceSampling(ctx, true)
		clock.Advance(100 * time.Millisecond)
		r.AddEvent(ctx, model.Named{Name: "a"})

		Convey("When the start is corrected 50ms earlier", func() {
			_, ok := r.AddEvent(ctx, model.StartTimeAdjusted{StartTime: sessionStart.Add(-50 * time.Millisecond)})
			So(ok, ShouldBeFalse)
			clock.Advance(100 * time.Millisecond)
			r.AddEvent(ctx, model.Named{Name: "b"})

			Convey("Then existing offsets should shift by the delta and new ones use the new base", func() {
				stream, err := r.CurrentEventStream(ctx)
				So(err, ShouldBeNil)
				So(stream, ShouldResemble, []model.Tuple{
					model.NewTuple("a", 150),
					model.NewTuple("b", 250),
				})
			})
		})

		Convey("When an event carries its own time and duration", func() {
			r.AddEvent(ctx, model.Named{Name: "timed", Meta: model.Meta{
				At:       sessionStart.Add(40 * time.Millisecond),
				Duration: model.DurationPtr(25 * time.Millisecond),
			}})

			Convey("Then the tuple should use them", func() {
				stream, _ := r.CurrentEventStream(ctx)
				So(stream[1], ShouldResemble, model.NewTuple("timed", 40).WithDuration(25))
			})
		})
	})
}

func TestRecorderBus(t *testing.T) {
	Convey("Given a recorder attached to a bus", t, func() {
		ctx := context.Background()
		b := bus.New()
		r := service.New()
		detach := r.Attach(b)
		r.Start(ctx)
		r.ForceSampling(ctx, true)

		Convey("When producers publish events and kpi data", func() {
			b.Publish(ctx, model.ServiceShown{Name: "password"})
			b.Publish(ctx, model.XHRSent{Method: "POST", URL: "/login"})
			b.Publish(ctx, model.KPIData{Data: map[string]any{"new_account": true}})
			b.Publish(ctx, model.ErrorShown{Code: "INCORRECT_PASSWORD", HTTPStatus: 401})

			Convey("Then the record should hold the translated events and merged data", func() {
				rec, err := r.CurrentKPIs(ctx)
				So(err, ShouldBeNil)
				names := make([]string, 0, len(rec.EventStream))
				for _, tp := range rec.EventStream {
					names = append(names, tp.Name)
				}
				So(names, ShouldResemble, []string{"screen.password", "screen.error.invalid_credentials.401"})
				So(rec.NewAccount, ShouldBeTrue)
			})
		})

		Convey("When translations are overridden", func() {
			r.SetTranslations(translate.Table{"noisy": translate.Drop(), "old": translate.Rename("new")})
			b.Publish(ctx, model.Named{Name: "noisy"})
			b.Publish(ctx, model.Named{Name: "old"})
			r.ResetTranslations()
			b.Publish(ctx, model.Named{Name: "old"})

			Convey("Then they should apply until reset", func() {
				stream, _ := r.CurrentEventStream(ctx)
				So(len(stream), ShouldEqual, 2)
				So(stream[0].Name, ShouldEqual, "new")
				So(stream[1].Name, ShouldEqual, "old")
			})
		})

		Convey("When detached", func() {
			detach()
			b.Publish(ctx, model.Named{Name: "ignored"})

			Convey("Then nothing should be recorded", func() {
				stream, _ := r.CurrentEventStream(ctx)
				So(stream, ShouldBeEmpty)
			})
		})
	})
}
