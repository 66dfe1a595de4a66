package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// LocalTimestampLayout formats Record.LocalTimestamp. It round-trips to the
// millisecond so a continuation can recover the exact session start.
const LocalTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Record keys with typed fields. Anything else lands in Record.Extra.
const (
	KeyRecordID       = "record_id"
	KeyEventStream    = "event_stream"
	KeySampleRate     = "sample_rate"
	KeyTimestamp      = "timestamp"
	KeyLocalTimestamp = "local_timestamp"
	KeyLang           = "lang"
	KeyScreenSize     = "screen_size"
	KeyNewAccount     = "new_account"
)

// ScreenSize is the dialog's screen dimensions.
type ScreenSize struct {
	Width  int `json:"width" cbor:"width"`
	Height int `json:"height" cbor:"height"`
}

// Record is the telemetry unit for one logical dialog session.
type Record struct {
	ID             string         `cbor:"record_id"`
	EventStream    []Tuple        `cbor:"event_stream"`
	SampleRate     float64        `cbor:"sample_rate"`
	Timestamp      int64          `cbor:"timestamp"`
	LocalTimestamp string         `cbor:"local_timestamp"`
	Lang           string         `cbor:"lang,omitempty"`
	ScreenSize     *ScreenSize    `cbor:"screen_size,omitempty"`
	NewAccount     bool           `cbor:"new_account"`
	Extra          map[string]any `cbor:"extra,omitempty"`
}

// NewRecordID returns a fresh record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// FormatLocalTimestamp renders a session start for Record.LocalTimestamp.
func FormatLocalTimestamp(t time.Time) string {
	return t.Format(LocalTimestampLayout)
}

// ParseLocalTimestamp is the inverse of FormatLocalTimestamp.
func ParseLocalTimestamp(s string) (time.Time, error) {
	return time.Parse(LocalTimestampLayout, s)
}

// Clone returns a deep copy of r. Extra values are copied shallowly.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.EventStream = CloneStream(r.EventStream)
	if r.ScreenSize != nil {
		s := *r.ScreenSize
		out.ScreenSize = &s
	}
	if r.Extra != nil {
		out.Extra = maps.Clone(r.Extra)
	}
	return &out
}

// Merge shallow-overwrites r with data. Keys matching a typed field are
// converted when the value has a usable type and ignored otherwise; the
// rest are kept in Extra.
func (r *Record) Merge(data map[string]any) {
	for k, v := range data {
		switch k {
		case KeyNewAccount:
			if b, ok := v.(bool); ok {
				r.NewAccount = b
			}
		case KeyLang:
			if s, ok := v.(string); ok {
				r.Lang = s
			}
		case KeySampleRate:
			if f, ok := toFloat(v); ok {
				r.SampleRate = f
			}
		case KeyTimestamp:
			if f, ok := toFloat(v); ok {
				r.Timestamp = int64(f)
			}
		case KeyLocalTimestamp:
			if s, ok := v.(string); ok {
				r.LocalTimestamp = s
			}
		case KeyScreenSize:
			switch s := v.(type) {
			case ScreenSize:
				r.ScreenSize = &s
			case map[string]any:
				w, _ := toFloat(s["width"])
				h, _ := toFloat(s["height"])
				r.ScreenSize = &ScreenSize{Width: int(w), Height: int(h)}
			}
		case KeyRecordID, KeyEventStream:
			// Owned by the recorder.
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]any)
			}
			r.Extra[k] = v
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// MarshalJSON flattens Extra into the top-level object.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+8)
	maps.Copy(out, r.Extra)
	stream := r.EventStream
	if stream == nil {
		stream = []Tuple{}
	}
	out[KeyRecordID] = r.ID
	out[KeyEventStream] = stream
	out[KeySampleRate] = r.SampleRate
	out[KeyTimestamp] = r.Timestamp
	out[KeyLocalTimestamp] = r.LocalTimestamp
	out[KeyNewAccount] = r.NewAccount
	if r.Lang != "" {
		out[KeyLang] = r.Lang
	}
	if r.ScreenSize != nil {
		out[KeyScreenSize] = r.ScreenSize
	}
	return json.Marshal(out)
}

// UnmarshalJSON collects unknown keys into Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Record
	fields := map[string]any{
		KeyRecordID:       &out.ID,
		KeyEventStream:    &out.EventStream,
		KeySampleRate:     &out.SampleRate,
		KeyTimestamp:      &out.Timestamp,
		KeyLocalTimestamp: &out.LocalTimestamp,
		KeyLang:           &out.Lang,
		KeyScreenSize:     &out.ScreenSize,
		KeyNewAccount:     &out.NewAccount,
	}
	for k, v := range raw {
		if dst, ok := fields[k]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return fmt.Errorf("record field %s: %w", k, err)
			}
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("record field %s: %w", k, err)
		}
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[k] = val
	}
	*r = out
	return nil
}
