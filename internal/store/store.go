// Package store provides the local SQLite index of emitted records, so the
// site dashboard and the upload worker can query events without scanning
// the NDJSON journal.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/invincible-ocean/roboi-edge/internal/journal"
)

// ErrNotFound is returned by Get when no record has the requested ID.
var ErrNotFound = errors.New("record not found")

// List page sizes. A zero limit falls back to DefaultLimit; anything above
// MaxLimit is clamped to it.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// DB wraps the SQLite connection.
type DB struct {
	*sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the index database under dataDir.
func Open(dataDir string) (*DB, error) {
	logger := slog.Default().With("component", "store")

	path := filepath.Join(dataDir, "roboi.db")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{DB: db, path: path, logger: logger}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Event index opened", "path", path)
	return d, nil
}

func (d *DB) migrate() error {
	_, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id                TEXT PRIMARY KEY,
			type              TEXT NOT NULL,
			camera_id         TEXT NOT NULL,
			ts                INTEGER NOT NULL,
			status            TEXT NOT NULL,
			triggers          TEXT,
			people_count      INTEGER NOT NULL DEFAULT 0,
			detection_count   INTEGER NOT NULL DEFAULT 0,
			capture_triggered INTEGER NOT NULL DEFAULT 0,
			evidence_path     TEXT,
			payload           TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_records_camera_ts ON records(camera_id, ts);
		CREATE INDEX IF NOT EXISTS idx_records_type_ts ON records(type, ts);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialise schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	d.logger.Info("Closing event index")
	return d.DB.Close()
}

// RecordStore indexes journal records. It implements journal.Sink.
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a record store over db.
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Write inserts one record. The full payload is kept as JSON alongside the
// indexed columns so nothing in the journal line is lost.
func (s *RecordStore) Write(rec *journal.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	captured := 0
	if rec.Data.CaptureTriggered {
		captured = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO records (
			id, type, camera_id, ts, status, triggers,
			people_count, detection_count, capture_triggered, evidence_path, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, string(rec.Type), rec.Meta.CameraID, rec.Meta.Timestamp,
		rec.Data.Status, strings.Join(rec.Data.Triggers, ","),
		rec.Data.PeopleCount, rec.Data.DetectionCount, captured,
		rec.Data.EvidencePath, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to index record: %w", err)
	}
	return nil
}

// EffectiveLimit resolves a requested page size to the one List applies.
func EffectiveLimit(requested int) int {
	switch {
	case requested <= 0:
		return DefaultLimit
	case requested > MaxLimit:
		return MaxLimit
	}
	return requested
}

// ListOptions filters a record query.
type ListOptions struct {
	CameraID string
	Type     string
	Status   string
	Since    int64
	Until    int64
	Limit    int
	Offset   int
}

// List returns matching records, newest first, plus the unpaged total.
func (s *RecordStore) List(ctx context.Context, opts ListOptions) ([]*journal.Record, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if opts.CameraID != "" {
		where += " AND camera_id = ?"
		args = append(args, opts.CameraID)
	}
	if opts.Type != "" {
		where += " AND type = ?"
		args = append(args, opts.Type)
	}
	if opts.Status != "" {
		where += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.Since > 0 {
		where += " AND ts >= ?"
		args = append(args, opts.Since)
	}
	if opts.Until > 0 {
		where += " AND ts <= ?"
		args = append(args, opts.Until)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT payload FROM records" + where + " ORDER BY ts DESC LIMIT ?"
	args = append(args, EffectiveLimit(opts.Limit))
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []*journal.Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, err
		}
		rec := &journal.Record{}
		if err := json.Unmarshal([]byte(payload), rec); err != nil {
			return nil, 0, fmt.Errorf("failed to decode stored record: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// Get returns one record by ID.
func (s *RecordStore) Get(ctx context.Context, id string) (*journal.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM records WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	rec := &journal.Record{}
	if err := json.Unmarshal([]byte(payload), rec); err != nil {
		return nil, fmt.Errorf("failed to decode stored record: %w", err)
	}
	return rec, nil
}
