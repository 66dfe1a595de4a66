package replay

import "errors"

// Sentinel kinds for replay errors.
var (
	ErrScript     = errors.New("invalid replay script")
	ErrStoreKind  = errors.New("unknown store kind")
	ErrFlushStall = errors.New("final publish did not finish")
)
