// Package model contains domain models passed between layers.
package model

import "time"

// Event names produced by the dialog's screens and network layer.
const (
	EventService         = "service"
	EventXHRSent         = "xhr_sent"
	EventXHRComplete     = "xhr_complete"
	EventErrorScreen     = "error_screen"
	EventAdjustStartTime = "adjust_start_time"
	EventKPIData         = "kpi_data"
	EventTabFocus        = "tab_focus"
	EventTabBlur         = "tab_blur"
)

// Event is a named message broadcast on the dialog bus. The set of
// implementations is closed; switch on the concrete type to handle one.
type Event interface {
	EventName() string
	Metadata() Meta
	isEvent()
}

// Meta carries the timing fields every event may have.
type Meta struct {
	// At is when the event happened; zero means "now".
	At time.Time
	// Duration, when set, is appended to the recorded tuple.
	Duration *time.Duration
}

// Metadata returns the event's timing fields.
func (m Meta) Metadata() Meta { return m }

func (Meta) isEvent() {}

// Named is any UI event without a dedicated payload.
type Named struct {
	Meta
	Name string
}

// EventName implements Event.
func (e Named) EventName() string { return e.Name }

// ServiceShown reports a dialog screen becoming visible.
type ServiceShown struct {
	Meta
	Name string
}

// EventName implements Event.
func (ServiceShown) EventName() string { return EventService }

// XHRSent reports a request leaving the dialog.
type XHRSent struct {
	Meta
	Method string
	URL    string
}

// EventName implements Event.
func (XHRSent) EventName() string { return EventXHRSent }

// XHRCompleted reports a finished request.
type XHRCompleted struct {
	Meta
	Method string
	URL    string
	Status int
}

// EventName implements Event.
func (XHRCompleted) EventName() string { return EventXHRComplete }

// ErrorShown reports the error screen. Code is looked up in the
// known-error table; Title is the fallback kind.
type ErrorShown struct {
	Meta
	Code       string
	Title      string
	HTTPStatus int
}

// EventName implements Event.
func (ErrorShown) EventName() string { return EventErrorScreen }

// StartTimeAdjusted moves the session start to StartTime.
type StartTimeAdjusted struct {
	Meta
	StartTime time.Time
}

// EventName implements Event.
func (StartTimeAdjusted) EventName() string { return EventAdjustStartTime }

// KPIData is merged verbatim into the active record.
type KPIData struct {
	Meta
	Data map[string]any
}

// EventName implements Event.
func (KPIData) EventName() string { return EventKPIData }

// Time returns m.At, or now when At is unset.
func (m Meta) Time(now time.Time) time.Time {
	if m.At.IsZero() {
		return now
	}
	return m.At
}

// DurationPtr is a convenience for building Meta literals.
func DurationPtr(d time.Duration) *time.Duration { return &d }
