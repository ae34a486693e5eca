// Package queue provides the durable mutation queue backed by embedded SQLite.
//
// The queue is the only mutable state shared between execution contexts: a
// CLI invocation, a background daemon and any other process may open the same
// database file at once. Every operation is a single statement or a single
// short transaction, so no caller ever holds the database for the duration of
// a whole drive cycle.
//
// Layout:
//   - mutations: one row per queued record (unique idempotency_key, indexes on
//     status and entity_type)
//   - confirmed: idempotency keys the server has acknowledged, with the
//     server-assigned identity, so later records may still depend on them
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DefaultTTL is how long records are kept before PurgeExpired removes them,
// whatever their status.
const DefaultTTL = 7 * 24 * time.Hour

// timeFormat is fixed-width so that stored timestamps compare lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrDuplicateKey is returned when an idempotency key is already known,
	// either queued or confirmed.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrUnknownDependency is returned when a record depends on a key the
	// store has never seen.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDependencyFailed is returned when a record depends on a failed record.
	ErrDependencyFailed = errors.New("dependency already failed")

	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("mutation not found")

	// ErrActive is returned when an operation needs a failed or conflicting
	// record but the record is still pending or in flight.
	ErrActive = errors.New("mutation is still active")
)

// Store wraps the SQLite connection holding the mutation queue.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the queue database at path.
//
// The database runs in WAL mode so readers in other processes are not blocked
// by a writer, with a busy timeout so concurrent writers wait instead of
// failing. Transactions start IMMEDIATE to take the write lock up front.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist.
// Safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS mutations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		idempotency_key TEXT NOT NULL,
		operation TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		payload TEXT NOT NULL,
		depends_on TEXT NOT NULL DEFAULT '[]',  -- JSON array of idempotency keys
		cached_revision TEXT,
		cached_fields TEXT,                     -- JSON object
		attempt INTEGER NOT NULL DEFAULT 0,
		retry_floor INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		next_attempt_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS confirmed (
		idempotency_key TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		server_id TEXT,
		revision TEXT,
		confirmed_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_mutations_key ON mutations(idempotency_key);
	CREATE INDEX IF NOT EXISTS idx_mutations_status ON mutations(status);
	CREATE INDEX IF NOT EXISTS idx_mutations_entity ON mutations(entity_type);
	CREATE INDEX IF NOT EXISTS idx_mutations_created ON mutations(created_at);
	CREATE INDEX IF NOT EXISTS idx_confirmed_at ON confirmed(confirmed_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Rows written by older builds used RFC3339.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY)
}
