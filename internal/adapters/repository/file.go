package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/okian/dialogkpi/internal/domain/model"
)

// FileStore keeps the durable slot in a single CBOR file. An absent or
// empty file is an empty slot. Writes go through a temp file and a
// rename so a reader never sees a partial record.
type FileStore struct {
	mu   sync.Mutex
	path string
	perm fs.FileMode
}

// NewFileStore creates a FileStore at path, creating its directory.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrOpenStore)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %w", ErrOpenStore, err)
	}
	s := &FileStore{path: path, perm: defaultFilePerm}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the slot file.
func (s *FileStore) Path() string { return s.path }

// Current implements Store.
func (s *FileStore) Current(context.Context) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// SetCurrent implements Store.
func (s *FileStore) SetCurrent(_ context.Context, rec *model.Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(rec)
}

// Push implements Store.
func (s *FileStore) Push(_ context.Context, rec *model.Record) (bool, error) {
	if rec == nil {
		return false, ErrNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.read()
	if err != nil && !errors.Is(err, ErrCorruptSlot) {
		return false, err
	}
	if cur != nil {
		return false, nil
	}
	if err := s.write(rec); err != nil {
		return false, err
	}
	return true, nil
}

// Clear implements Store.
func (s *FileStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear slot: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (*model.Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil, nil //nolint:nilnil // empty slot
	}
	if err != nil {
		return nil, fmt.Errorf("read slot: %w", err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSlot, err)
	}
	return rec, nil
}

func (s *FileStore) write(rec *model.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".slot-*")
	if err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write slot: %w", err)
	}
	if err := tmp.Chmod(s.perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write slot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	return nil
}
