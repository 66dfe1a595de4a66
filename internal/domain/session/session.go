// Package session holds the per-page-load state of a KPI session.
//
// State is a value: operations return an updated copy instead of mutating
// shared fields, so the recorder and the sampling engine stay pure.
package session

import (
	"time"

	"github.com/okian/dialogkpi/internal/domain/model"
)

// Sampling is the tri-state sampling decision.
type Sampling int8

// Sampling states. Undecided moves to Enabled or Disabled once per session.
const (
	Undecided Sampling = iota
	Enabled
	Disabled
)

func (s Sampling) String() string {
	switch s {
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	default:
		return "undecided"
	}
}

// State is the session context every recorder operation runs against.
type State struct {
	Sampling Sampling
	// Storing is true once the active record lives in the durable store
	// rather than the in-memory buffer.
	Storing   bool
	StartTime time.Time
}

// New starts an undecided, buffering session at start.
func New(start time.Time) State {
	return State{Sampling: Undecided, StartTime: start}
}

// Resumed is the state of a continuation that found a durable record.
func Resumed(start time.Time) State {
	return State{Sampling: Enabled, Storing: true, StartTime: start}
}

// Decided reports whether the sampling decision has been made.
func (s State) Decided() bool { return s.Sampling != Undecided }

// Disabled reports whether sampling was explicitly turned off.
func (s State) Disabled() bool { return s.Sampling == Disabled }

// Disable returns s with sampling turned off and the buffer abandoned.
func (s State) Disable() State {
	s.Sampling = Disabled
	s.Storing = false
	return s
}

// Enable returns s with sampling on and the durable store active.
func (s State) Enable() State {
	s.Sampling = Enabled
	s.Storing = true
	return s
}

// Offset returns the milliseconds between the session start and at.
func (s State) Offset(at time.Time) int64 {
	return at.Sub(s.StartTime).Milliseconds()
}

// AdjustStart moves the start to newStart and shifts every offset in
// stream by old-new, preserving order and spacing. stream is modified in
// place. The returned delta is in milliseconds.
func (s State) AdjustStart(newStart time.Time, stream []model.Tuple) (State, int64) {
	delta := s.StartTime.Sub(newStart).Milliseconds()
	s.StartTime = newStart
	for i := range stream {
		stream[i].Offset += delta
	}
	return s, delta
}
