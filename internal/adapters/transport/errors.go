package transport

import "errors"

// Sentinel kinds for transport errors.
var (
	ErrUploadRejected     = errors.New("collector rejected upload")
	ErrFetchContext       = errors.New("fetch session context")
	ErrUnknownCompression = errors.New("unknown compression")
)
