package repository

import "io/fs"

// Default repository configuration constants.
const (
	defaultFilePerm       fs.FileMode = 0o600
	defaultMemorySinkSize             = 10_000
)

// FileOption applies a configuration option to the FileStore.
type FileOption func(*FileStore)

// WithFilePerm sets the permission bits of the slot file.
func WithFilePerm(perm fs.FileMode) FileOption {
	return func(s *FileStore) {
		if perm != 0 {
			s.perm = perm
		}
	}
}

// SinkOption applies a configuration option to the MemorySink.
type SinkOption func(*MemorySink)

// WithSinkCapacity bounds how many records the MemorySink keeps. The
// oldest records are evicted first.
func WithSinkCapacity(n int) SinkOption {
	return func(s *MemorySink) {
		if n > 0 {
			s.capacity = n
		}
	}
}
