// Package dedupe holds the two deduplication rules of the KPI pipeline:
// collapsing consecutive network completions inside a stream, and
// at-most-once acceptance of record IDs at the collector.
package dedupe

import (
	"context"
	"sync"
)

// defaultMaxSize bounds the seen-ID cache when no option is given.
const defaultMaxSize = 50_000

// Deduper records seen record IDs to ensure at-most-once acceptance.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a retry of a failed acceptance is not
	// mistaken for a duplicate.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// ringDeduper keeps the most recent maxSize IDs, evicting the oldest.
// maxSize <= 0 means unbounded.
type ringDeduper struct {
	mu      sync.Mutex
	seen    map[string]int // id -> slot in ring, -1 in unbounded mode
	ring    []string
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &ringDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

// SeenAndRecord implements Deduper.
func (d *ringDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if d.maxSize <= 0 {
		d.seen[id] = -1
		return false
	}

	// Slots vacated by Unrecord hold "", so only evict live IDs.
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.seen[id] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

// Unrecord implements Deduper.
func (d *ringDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[id]
	if !ok {
		return
	}
	delete(d.seen, id)
	if slot >= 0 {
		d.ring[slot] = ""
	}
}

// Size returns the number of IDs currently remembered.
func (d *ringDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
