package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/pkg/metrics"
)

const (
	slotSchema = `CREATE TABLE IF NOT EXISTS kpi_slot (
	slot   INTEGER PRIMARY KEY CHECK (slot = 1),
	record BLOB NOT NULL
)`
	sinkSchema = `CREATE TABLE IF NOT EXISTS kpi_records (
	record_id   TEXT PRIMARY KEY,
	received_at INTEGER NOT NULL,
	body        TEXT NOT NULL
)`
)

// openSQLite opens path and applies schema.
func openSQLite(ctx context.Context, path, schema string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", ErrOpenStore)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %w", ErrOpenStore, err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenStore, err)
	}
	// One connection serialises writers; SQLite would lock anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrOpenStore, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: schema: %w", ErrOpenStore, err)
	}
	return db, nil
}

// SQLiteStore keeps the durable slot as a CBOR blob in a one-row table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the slot database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := openSQLite(ctx, path, slotSchema)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Current implements Store.
func (s *SQLiteStore) Current(ctx context.Context) (*model.Record, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM kpi_slot WHERE slot = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // empty slot
	}
	if err != nil {
		return nil, fmt.Errorf("read slot: %w", err)
	}
	rec, err := decodeRecord(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSlot, err)
	}
	return rec, nil
}

// SetCurrent implements Store.
func (s *SQLiteStore) SetCurrent(ctx context.Context, rec *model.Record) error {
	blob, err := s.encode(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO kpi_slot (slot, record) VALUES (1, ?)
		 ON CONFLICT(slot) DO UPDATE SET record = excluded.record`, blob); err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	return nil
}

// Push implements Store.
func (s *SQLiteStore) Push(ctx context.Context, rec *model.Record) (bool, error) {
	blob, err := s.encode(rec)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO kpi_slot (slot, record) VALUES (1, ?)`, blob)
	if err != nil {
		return false, fmt.Errorf("push slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("push slot: %w", err)
	}
	return n == 1, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kpi_slot`); err != nil {
		return fmt.Errorf("clear slot: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) encode(rec *model.Record) ([]byte, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}
	blob, err := encodeRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return blob, nil
}

// SQLiteSink archives received records as JSON rows keyed by record ID.
type SQLiteSink struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSink opens or creates the archive database at path.
func NewSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := openSQLite(ctx, path, sinkSchema)
	if err != nil {
		return nil, err
	}
	s := &SQLiteSink{db: db, now: time.Now}
	if n, err := s.Count(ctx); err == nil {
		metrics.UpdateRecordsStored(n)
	}
	return s, nil
}

// Append implements Sink.
func (s *SQLiteSink) Append(ctx context.Context, rec *model.Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO kpi_records (record_id, received_at, body) VALUES (?, ?, ?)`,
		rec.ID, s.now().UnixMilli(), string(body))
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		if count, err := s.Count(ctx); err == nil {
			metrics.UpdateRecordsStored(count)
		}
	}
	return nil
}

// Count implements Sink.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kpi_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Recent implements Sink.
func (s *SQLiteSink) Recent(ctx context.Context, n int) ([]*model.Record, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM kpi_records ORDER BY received_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return out, nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error { return s.db.Close() }
