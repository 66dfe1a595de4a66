package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/dialogkpi/internal/adapters/repository"
	service "github.com/okian/dialogkpi/internal/app"
	"github.com/okian/dialogkpi/internal/domain/dedupe"
	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// flakySink fails the first Append.
type flakySink struct {
	*repository.MemorySink
	failures int
}

func (s *flakySink) Append(ctx context.Context, rec *model.Record) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	return s.MemorySink.Append(ctx, rec)
}

func TestIntake(t *testing.T) {
	Convey("Given an intake", t, func() {
		ctx := context.Background()
		now := time.UnixMilli(1_000_003)
		sink := repository.NewMemorySink()
		in := service.NewIntake(sink,
			service.WithSampleRate(0.25),
			service.WithIntakeClock(func() time.Time { return now }),
		)
		rec := &model.Record{ID: "r-1", EventStream: []model.Tuple{model.NewTuple("a", 0)}, SampleRate: 0.25}

		Convey("Then it should serve the configured session context", func() {
			So(in.SessionContext(), ShouldResemble, model.SessionContext{SampleRate: 0.25, ServerTime: 1_000_003})
		})

		Convey("When a record is accepted twice", func() {
			first, err1 := in.Accept(ctx, rec)
			second, err2 := in.Accept(ctx, rec)

			Convey("Then only the first should be archived", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first, ShouldResemble, types.Ack{Status: types.StatusAccepted, RecordID: "r-1"})
				So(second.Duplicate, ShouldBeTrue)
				So(second.Status, ShouldEqual, types.StatusDuplicate)
				n, _ := sink.Count(ctx)
				So(n, ShouldEqual, 1)

				stats := in.GetStats()
				So(stats["received"], ShouldEqual, int64(1))
				So(stats["duplicates"], ShouldEqual, int64(1))
				So(stats["stored"], ShouldEqual, 1)
			})
		})

		Convey("When a record has no ID", func() {
			_, err := in.Accept(ctx, &model.Record{})

			Convey("Then it should be rejected", func() {
				So(errors.Is(err, service.ErrMissingRecordID), ShouldBeTrue)
				So(errors.Is(err, service.ErrInvalidRecord), ShouldBeTrue)
			})
		})

		Convey("When a record claims an impossible sample rate", func() {
			_, err := in.Accept(ctx, &model.Record{ID: "r-2", SampleRate: 2})

			Convey("Then it should be rejected", func() {
				So(errors.Is(err, service.ErrInvalidSampleRate), ShouldBeTrue)
			})
		})

		Convey("When a record carries an empty stream", func() {
			ack, err := in.Accept(ctx, &model.Record{ID: "quiet"})

			Convey("Then it should still be accepted", func() {
				So(err, ShouldBeNil)
				So(ack.Status, ShouldEqual, types.StatusAccepted)
			})
		})
	})

	Convey("Given two intakes sharing one deduper", t, func() {
		ctx := context.Background()
		shared := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(8))
		a := service.NewIntake(nil, service.WithDeduper(shared))
		b := service.NewIntake(nil, service.WithDeduper(shared))

		Convey("When the same record reaches both", func() {
			first, err1 := a.Accept(ctx, &model.Record{ID: "r-1"})
			second, err2 := b.Accept(ctx, &model.Record{ID: "r-1"})

			Convey("Then the second should see it as a duplicate", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first.Status, ShouldEqual, types.StatusAccepted)
				So(second.Status, ShouldEqual, types.StatusDuplicate)
			})
		})
	})

	Convey("Given an intake whose sink fails once", t, func() {
		ctx := context.Background()
		in := service.NewIntake(&flakySink{MemorySink: repository.NewMemorySink(), failures: 1})
		rec := &model.Record{ID: "r-1"}

		Convey("When the record is retried after the failure", func() {
			_, err := in.Accept(ctx, rec)
			So(errors.Is(err, service.ErrSink), ShouldBeTrue)
			ack, err := in.Accept(ctx, rec)

			Convey("Then the retry should not count as a duplicate", func() {
				So(err, ShouldBeNil)
				So(ack.Status, ShouldEqual, types.StatusAccepted)
			})
		})
	})
}
