package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrInvalidRecord     = errors.New("invalid record")
	ErrMissingRecordID   = errors.New("missing record_id")
	ErrInvalidSampleRate = errors.New("sample_rate must be within [0,1]")
	ErrSink              = errors.New("store record")
)
