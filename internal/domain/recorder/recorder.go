// Package recorder turns bus events into event-stream tuples.
package recorder

import (
	"time"

	"github.com/okian/dialogkpi/internal/domain/dedupe"
	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/session"
)

// Translator resolves reporting names.
type Translator interface {
	Translate(ev model.Event) (string, bool)
}

// Outcome says what Record did with an event.
type Outcome uint8

// Outcomes.
const (
	Appended Outcome = iota
	Collapsed
	Adjusted
	Dropped
	SamplingOff
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Collapsed:
		return "collapsed"
	case Adjusted:
		return "adjusted"
	case Dropped:
		return "dropped"
	default:
		return "sampling_off"
	}
}

// Result is the outcome of recording one event.
type Result struct {
	State   session.State
	Stream  []model.Tuple
	Outcome Outcome
	// Tuple is the appended or collapsed tuple.
	Tuple *model.Tuple
}

// Changed reports whether Stream differs from the input and must be
// written back to the active record.
func (r Result) Changed() bool {
	switch r.Outcome {
	case Appended, Collapsed:
		return true
	case Adjusted:
		return len(r.Stream) > 0
	default:
		return false
	}
}

// Record applies ev to the session. It never mutates stream; the
// returned Stream is a fresh copy whenever it changed.
func Record(st session.State, stream []model.Tuple, tr Translator, ev model.Event, now time.Time) Result {
	if adj, ok := ev.(model.StartTimeAdjusted); ok {
		if adj.StartTime.IsZero() {
			return Result{State: st, Stream: stream, Outcome: Dropped}
		}
		out := model.CloneStream(stream)
		st, _ = st.AdjustStart(adj.StartTime, out)
		return Result{State: st, Stream: out, Outcome: Adjusted}
	}

	if st.Disabled() {
		return Result{State: st, Stream: stream, Outcome: SamplingOff}
	}

	name, ok := tr.Translate(ev)
	if !ok {
		return Result{State: st, Stream: stream, Outcome: Dropped}
	}

	out := model.CloneStream(stream)
	if idx := dedupe.Collapse(out, name); idx >= 0 {
		return Result{State: st, Stream: out, Outcome: Collapsed, Tuple: &out[idx]}
	}

	meta := ev.Metadata()
	tuple := model.NewTuple(name, st.Offset(meta.Time(now)))
	if meta.Duration != nil {
		tuple = tuple.WithDuration(meta.Duration.Milliseconds())
	}
	out = append(out, tuple)
	return Result{State: st, Stream: out, Outcome: Appended, Tuple: &out[len(out)-1]}
}
