package worker

import "errors"

// Sentinel kinds for worker errors.
var (
	ErrNilRecord = errors.New("upload without record")
)
