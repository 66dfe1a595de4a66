package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedTuple is returned when decoding a tuple that is not
// [name, offset, duration?, repeat?].
var ErrMalformedTuple = errors.New("malformed event tuple")

// Tuple is one entry of a record's event stream. It encodes as a JSON
// array: [name, offsetMs], [name, offsetMs, durationMs] or
// [name, offsetMs, durationMs|null, repeat].
type Tuple struct {
	_ struct{} `cbor:",toarray"`

	Name string
	// Offset is milliseconds since the session start; negative when the
	// event predates a corrected start.
	Offset int64
	// Duration is in milliseconds.
	Duration *int64
	// Repeat is zero until a duplicate completion collapses into this tuple.
	Repeat int
}

// NewTuple builds a tuple without duration.
func NewTuple(name string, offset int64) Tuple {
	return Tuple{Name: name, Offset: offset}
}

// WithDuration returns a copy of t carrying durationMs.
func (t Tuple) WithDuration(durationMs int64) Tuple {
	t.Duration = &durationMs
	return t
}

// Count returns how many events this tuple stands for.
func (t Tuple) Count() int {
	if t.Repeat < 1 {
		return 1
	}
	return t.Repeat
}

// MarshalJSON implements json.Marshaler.
func (t Tuple) MarshalJSON() ([]byte, error) {
	out := []any{t.Name, t.Offset}
	switch {
	case t.Repeat > 1:
		if t.Duration != nil {
			out = append(out, *t.Duration)
		} else {
			out = append(out, nil)
		}
		out = append(out, t.Repeat)
	case t.Duration != nil:
		out = append(out, *t.Duration)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tuple) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedTuple, err)
	}
	if len(raw) < 2 || len(raw) > 4 {
		return fmt.Errorf("%w: %d elements", ErrMalformedTuple, len(raw))
	}

	var out Tuple
	if err := json.Unmarshal(raw[0], &out.Name); err != nil {
		return fmt.Errorf("%w: name: %w", ErrMalformedTuple, err)
	}
	if err := json.Unmarshal(raw[1], &out.Offset); err != nil {
		return fmt.Errorf("%w: offset: %w", ErrMalformedTuple, err)
	}
	if len(raw) > 2 {
		if err := json.Unmarshal(raw[2], &out.Duration); err != nil {
			return fmt.Errorf("%w: duration: %w", ErrMalformedTuple, err)
		}
	}
	if len(raw) > 3 {
		if err := json.Unmarshal(raw[3], &out.Repeat); err != nil {
			return fmt.Errorf("%w: repeat: %w", ErrMalformedTuple, err)
		}
	}
	*t = out
	return nil
}

// CloneStream returns a deep copy of stream.
func CloneStream(stream []Tuple) []Tuple {
	if stream == nil {
		return nil
	}
	out := make([]Tuple, len(stream))
	for i, t := range stream {
		out[i] = t
		if t.Duration != nil {
			d := *t.Duration
			out[i].Duration = &d
		}
	}
	return out
}
