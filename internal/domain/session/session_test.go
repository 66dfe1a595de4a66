package session_test

import (
	"testing"
	"time"

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

func TestState(t *testing.T) {
	Convey("Given a fresh session", t, func() {
		start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
		st := session.New(start)

		Convey("Then it should be undecided and buffering", func() {
			So(st.Decided(), ShouldBeFalse)
			So(st.Storing, ShouldBeFalse)
			So(st.Sampling.String(), ShouldEqual, "undecided")
		})

		Convey("When enabling", func() {
			on := st.Enable()

			Convey("Then it should store durably and leave the original untouched", func() {
				So(on.Sampling, ShouldEqual, session.Enabled)
				So(on.Storing, ShouldBeTrue)
				So(st.Decided(), ShouldBeFalse)
			})
		})

		Convey("When disabling", func() {
			off := st.Disable()

			Convey("Then it should report disabled", func() {
				So(off.Disabled(), ShouldBeTrue)
				So(off.Storing, ShouldBeFalse)
				So(off.Sampling.String(), ShouldEqual, "disabled")
			})
		})

		Convey("When the start moves 250ms earlier", func() {
			stream := []model.Tuple{model.NewTuple("a", 10), model.NewTuple("b", 40), model.NewTuple("c", -5)}
			adjusted, delta := st.AdjustStart(start.Add(-250*time.Millisecond), stream)

			Convey("Then every offset should grow by the delta", func() {
				So(delta, ShouldEqual, 250)
				So(stream[0].Offset, ShouldEqual, 260)
				So(stream[1].Offset, ShouldEqual, 290)
				So(stream[2].Offset, ShouldEqual, 245)
				So(stream[1].Offset-stream[0].Offset, ShouldEqual, 30)
				So(adjusted.Offset(start), ShouldEqual, 250)
			})
		})

		Convey("When the start moves later", func() {
			stream := []model.Tuple{model.NewTuple("a", 10)}
			_, delta := st.AdjustStart(start.Add(time.Second), stream)

			Convey("Then offsets should shrink", func() {
				So(delta, ShouldEqual, -1000)
				So(stream[0].Offset, ShouldEqual, -990)
			})
		})
	})

	Convey("Given a resumed session", t, func() {
		st := session.Resumed(time.Unix(0, 0))

		Convey("Then it should already be storing durably", func() {
			So(st.Sampling, ShouldEqual, session.Enabled)
			So(st.Storing, ShouldBeTrue)
		})
	})
}
