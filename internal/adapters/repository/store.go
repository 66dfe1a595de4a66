// Package repository persists KPI records: the dialog-side durable slot
// that survives page reloads, and the collector-side sink received
// records are archived to.
package repository

import (
	"context"

	"github.com/okian/dialogkpi/internal/domain/model"
)

// Store holds at most one durable record.
type Store interface {
	// Current returns the durable record, or nil when the slot is empty.
	Current(ctx context.Context) (*model.Record, error)

	// SetCurrent overwrites the slot.
	SetCurrent(ctx context.Context, rec *model.Record) error

	// Push seeds the slot with rec only if it is empty. It reports
	// whether rec was stored.
	Push(ctx context.Context, rec *model.Record) (bool, error)

	// Clear empties the slot.
	Clear(ctx context.Context) error

	Close() error
}

// Sink archives records accepted by the collector.
type Sink interface {
	// Append stores rec. Appending a record ID that is already present
	// is a no-op.
	Append(ctx context.Context, rec *model.Record) error

	// Count returns the number of archived records.
	Count(ctx context.Context) (int, error)

	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]*model.Record, error)

	Close() error
}
