package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/okian/dialogkpi/internal/adapters/repository"
	"github.com/okian/dialogkpi/internal/domain/dedupe"
	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/types"
	"github.com/okian/dialogkpi/pkg/logger"
	"github.com/okian/dialogkpi/pkg/metrics"
)

// Intake is the collector side: it serves the session context and
// accepts uploaded records at most once each.
type Intake struct {
	deduper    dedupe.Deduper
	dedupeSize int
	sink       repository.Sink
	sampleRate float64
	clock      func() time.Time

	received   atomic.Int64
	duplicates atomic.Int64

	logger logger.Logger
}

// NewIntake creates an Intake archiving to sink. A nil sink keeps
// records in memory.
func NewIntake(sink repository.Sink, opts ...IntakeOption) *Intake {
	i := &Intake{
		sink:       sink,
		dedupeSize: 50_000,
		sampleRate: 1,
		clock:      time.Now,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.sink == nil {
		i.sink = repository.NewMemorySink()
	}
	if i.deduper == nil {
		i.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(i.dedupeSize))
	}
	return i
}

// SessionContext is what a starting dialog needs for its sampling decision.
func (i *Intake) SessionContext() model.SessionContext {
	return model.SessionContext{
		SampleRate: i.sampleRate,
		ServerTime: i.clock().UnixMilli(),
	}
}

// Accept archives rec unless its ID was already accepted. A failed
// archive forgets the ID so the client may retry.
func (i *Intake) Accept(ctx context.Context, rec *model.Record) (types.Ack, error) {
	if err := validateRecord(rec); err != nil {
		return types.Ack{}, err
	}

	if i.deduper.SeenAndRecord(ctx, rec.ID) {
		i.duplicates.Add(1)
		metrics.RecordRecordDuplicate()
		i.logger.Debug(ctx, "duplicate record", logger.String("record_id", rec.ID))
		return types.Ack{Status: types.StatusDuplicate, RecordID: rec.ID, Duplicate: true}, nil
	}

	if err := i.sink.Append(ctx, rec); err != nil {
		i.deduper.Unrecord(ctx, rec.ID)
		metrics.RecordErrorByComponent("intake", "sink_error")
		i.logger.Error(ctx, "cannot archive record",
			logger.String("record_id", rec.ID),
			logger.Error(err),
		)
		return types.Ack{}, fmt.Errorf("%w: %w", ErrSink, err)
	}

	i.received.Add(1)
	metrics.RecordRecordReceived()
	i.logger.Debug(ctx, "record accepted",
		logger.String("record_id", rec.ID),
		logger.Int("events", len(rec.EventStream)),
	)
	return types.Ack{Status: types.StatusAccepted, RecordID: rec.ID}, nil
}

func validateRecord(rec *model.Record) error {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrMissingRecordID)
	}
	if rec.SampleRate < 0 || rec.SampleRate > 1 {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrInvalidSampleRate)
	}
	return nil
}

// Recent returns up to n archived records, newest first.
func (i *Intake) Recent(ctx context.Context, n int) ([]*model.Record, error) {
	return i.sink.Recent(ctx, n)
}

// GetStats returns intake statistics for monitoring.
func (i *Intake) GetStats() map[string]any {
	stats := map[string]any{
		"sampleRate": i.sampleRate,
		"received":   i.received.Load(),
		"duplicates": i.duplicates.Load(),
		"dedupeSize": i.deduper.Size(),
	}
	if n, err := i.sink.Count(context.Background()); err == nil {
		stats["stored"] = n
		metrics.UpdateRecordsStored(n)
	}
	return stats
}

// Close releases the sink.
func (i *Intake) Close() error {
	return i.sink.Close()
}
