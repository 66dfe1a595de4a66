package repository

import (
	"context"
	"sync"

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/pkg/metrics"
)

// MemoryStore is a Store that lives as long as the process.
type MemoryStore struct {
	mu  sync.Mutex
	rec *model.Record
}

// NewMemoryStore creates an empty in-memory slot.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Current implements Store.
func (s *MemoryStore) Current(context.Context) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone(), nil
}

// SetCurrent implements Store.
func (s *MemoryStore) SetCurrent(_ context.Context, rec *model.Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec.Clone()
	return nil
}

// Push implements Store.
func (s *MemoryStore) Push(_ context.Context, rec *model.Record) (bool, error) {
	if rec == nil {
		return false, ErrNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		return false, nil
	}
	s.rec = rec.Clone()
	return true, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// MemorySink is a bounded Sink kept in memory.
type MemorySink struct {
	mu       sync.RWMutex
	records  []*model.Record
	ids      map[string]struct{}
	capacity int
}

// NewMemorySink creates an empty sink.
func NewMemorySink(opts ...SinkOption) *MemorySink {
	s := &MemorySink{
		ids:      make(map[string]struct{}),
		capacity: defaultMemorySinkSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append implements Sink.
func (s *MemorySink) Append(_ context.Context, rec *model.Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[rec.ID]; ok {
		return nil
	}
	if len(s.records) >= s.capacity {
		delete(s.ids, s.records[0].ID)
		s.records = s.records[1:]
	}
	s.records = append(s.records, rec.Clone())
	s.ids[rec.ID] = struct{}{}
	metrics.UpdateRecordsStored(len(s.records))
	return nil
}

// Count implements Sink.
func (s *MemorySink) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Recent implements Sink.
func (s *MemorySink) Recent(_ context.Context, n int) ([]*model.Record, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n = min(n, len(s.records))
	out := make([]*model.Record, 0, n)
	for i := len(s.records) - 1; i >= len(s.records)-n; i-- {
		out = append(out, s.records[i].Clone())
	}
	return out, nil
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }
