package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNilRecord    = errors.New("nil record")
	ErrCorruptSlot  = errors.New("durable slot is corrupt")
	ErrOpenStore    = errors.New("open store")
	ErrInvalidLimit = errors.New("invalid record limit")
)
