package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func sinkContract(t *testing.T, name string, open func(t *testing.T) Sink) {
	Convey("Given a "+name, t, func() {
		ctx := context.Background()
		s := open(t)
		Reset(func() { _ = s.Close() })

		Convey("When records are appended", func() {
			for i := 1; i <= 3; i++ {
				So(s.Append(ctx, sampleRecord(fmt.Sprintf("r-%d", i))), ShouldBeNil)
			}

			Convey("Then Count should report them", func() {
				n, err := s.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)
			})

			Convey("Then Recent should return newest first", func() {
				recs, err := s.Recent(ctx, 2)
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 2)
				So(recs[0].ID, ShouldEqual, "r-3")
				So(recs[1].ID, ShouldEqual, "r-2")
				So(recs[0].EventStream, ShouldResemble, sampleRecord("r-3").EventStream)
			})

			Convey("Then appending a known ID should be a no-op", func() {
				So(s.Append(ctx, sampleRecord("r-2")), ShouldBeNil)
				n, _ := s.Count(ctx)
				So(n, ShouldEqual, 3)
			})
		})

		Convey("When asking for a non-positive number of records", func() {
			_, err := s.Recent(ctx, 0)

			Convey("Then it should fail", func() {
				So(err, ShouldEqual, ErrInvalidLimit)
			})
		})
	})
}

func TestMemorySink(t *testing.T) {
	sinkContract(t, "memory sink", func(*testing.T) Sink { return NewMemorySink() })

	Convey("Given a memory sink with capacity 2", t, func() {
		ctx := context.Background()
		s := NewMemorySink(WithSinkCapacity(2))
		for i := 1; i <= 3; i++ {
			So(s.Append(ctx, sampleRecord(fmt.Sprintf("r-%d", i))), ShouldBeNil)
		}

		Convey("Then the oldest record should be evicted", func() {
			recs, err := s.Recent(ctx, 10)
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 2)
			So(recs[1].ID, ShouldEqual, "r-2")
		})
	})
}

func TestSQLiteSink(t *testing.T) {
	sinkContract(t, "SQLite sink", func(t *testing.T) Sink {
		s, err := NewSQLiteSink(context.Background(), filepath.Join(t.TempDir(), "sink.db"))
		if err != nil {
			t.Fatalf("open sqlite sink: %v", err)
		}
		return s
	})
}
