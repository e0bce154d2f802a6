package backend

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteBackend persists committed records to SQLite.
// It is suitable for single-process production use.
type SQLiteBackend struct {
	kind    Kind
	enabled atomic.Bool

	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteBackend creates a SQLite-backed consumer of the given kind.
// The path should be a file path (e.g. "./trace.db") or ":memory:"
// for testing.
func NewSQLiteBackend(kind Kind, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			event TEXT NOT NULL,
			created_at TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_records_event
		ON records(event)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records index: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			name TEXT PRIMARY KEY,
			format TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	b := &SQLiteBackend{kind: kind, db: db}
	b.enabled.Store(true)
	return b, nil
}

// Kind implements Backend.
func (s *SQLiteBackend) Kind() Kind { return s.kind }

// Enabled implements Backend.
func (s *SQLiteBackend) Enabled() bool { return s.enabled.Load() }

// SetEnabled toggles whether Commit keeps records.
func (s *SQLiteBackend) SetEnabled(v bool) { s.enabled.Store(v) }

// Commit implements Backend.
func (s *SQLiteBackend) Commit(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, event, created_at, data)
		VALUES (?, ?, ?, ?)
	`, id, rec.Event, created.Format(time.RFC3339Nano), rec.Data)

	if err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// DeclareEvent stores an event declaration. Implements the registry's
// declaration surface.
func (s *SQLiteBackend) DeclareEvent(ctx context.Context, name, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (name, format) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET format = excluded.format
	`, name, format)

	if err != nil {
		return fmt.Errorf("declare event: %w", err)
	}
	return nil
}

// UndeclareEvent removes an event declaration.
func (s *SQLiteBackend) UndeclareEvent(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("undeclare event: %w", err)
	}
	return nil
}

// List returns the committed records for one event, oldest first,
// up to limit (0 means no limit).
func (s *SQLiteBackend) List(ctx context.Context, event string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	query := `
		SELECT id, event, created_at, data FROM records
		WHERE event = ? ORDER BY created_at
	`
	args := []any{event}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var created string
		if err := rows.Scan(&rec.ID, &rec.Event, &created, &rec.Data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return out, nil
}

// Count returns the total number of committed records.
func (s *SQLiteBackend) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
