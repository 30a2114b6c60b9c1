// Package vectorstore provides the SQLite-backed store that mirrors remote
// block metadata and holds their embedding vectors for similarity search.
package vectorstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Dimensions is the fixed embedding vector width stored per block.
const Dimensions = 384

// SyncStatus tracks the state of the vector index synchronization.
type SyncStatus string

const (
	StatusNotInitialized SyncStatus = "not_initialized"
	StatusInProgress     SyncStatus = "in_progress"
	StatusCompleted      SyncStatus = "completed"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blocks (
	uid          TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	page_uid     TEXT,
	page_title   TEXT,
	parent_uid   TEXT,
	parent_chain TEXT,
	edit_time    INTEGER,
	embedded_at  INTEGER
);

CREATE TABLE IF NOT EXISTS sync_state (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS embeddings (
	uid    TEXT PRIMARY KEY,
	vector BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blocks_edit_time ON blocks(edit_time);
CREATE INDEX IF NOT EXISTS idx_blocks_embedded_at ON blocks(embedded_at);
`

// Store persists block metadata and embedding vectors for one graph. The
// connection is opened and the schema applied lazily on first use; schema
// creation is idempotent across restarts.
type Store struct {
	graph string
	path  string
	now   func() time.Time

	mu   sync.Mutex
	conn *sql.DB
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPath overrides the database file location. ":memory:" gives an
// ephemeral store for tests.
func WithPath(path string) StoreOption {
	return func(s *Store) { s.path = path }
}

// WithClock replaces the clock used for embedded_at stamps (tests).
func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) { s.now = fn }
}

// DefaultPath returns the per-user database location for a graph.
func DefaultPath(graph string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("vectorstore: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".raido", graph+"_vectors.db"), nil
}

// NewStore creates a store for a graph. No connection is opened until the
// first operation.
func NewStore(graph string, opts ...StoreOption) *Store {
	s := &Store{graph: graph, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the database file location, resolving the default lazily.
func (s *Store) Path() (string, error) {
	if s.path != "" {
		return s.path, nil
	}
	return DefaultPath(s.graph)
}

// db returns the open connection, connecting and applying the schema on
// first call.
func (s *Store) db() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}

	path, err := s.Path()
	if err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("vectorstore: create data dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open db: %w", err)
	}
	// One connection serializes writes and keeps ":memory:" stores coherent.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("vectorstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("vectorstore: apply schema: %w", err)
	}

	slog.Info("vector store opened", slog.String("graph", s.graph), slog.String("path", path))
	s.conn = conn
	return s.conn, nil
}

// Close releases the connection. Idempotent, and safe to call when no
// connection was ever opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// GetSyncStatus returns the stored sync status, defaulting to
// StatusNotInitialized.
func (s *Store) GetSyncStatus() (SyncStatus, error) {
	conn, err := s.db()
	if err != nil {
		return "", err
	}
	var value string
	err = conn.QueryRow(`SELECT value FROM sync_state WHERE key = 'status'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusNotInitialized, nil
	}
	if err != nil {
		return "", fmt.Errorf("vectorstore: get sync status: %w", err)
	}
	return SyncStatus(value), nil
}

// SetSyncStatus stores the sync status.
func (s *Store) SetSyncStatus(status SyncStatus) error {
	conn, err := s.db()
	if err != nil {
		return err
	}
	_, err = conn.Exec(`INSERT OR REPLACE INTO sync_state (key, value) VALUES ('status', ?)`, string(status))
	if err != nil {
		return fmt.Errorf("vectorstore: set sync status: %w", err)
	}
	return nil
}

// GetLastSyncTimestamp returns the highest edit time observed by a previous
// sync, or 0 when none is stored.
func (s *Store) GetLastSyncTimestamp() (int64, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	var value int64
	err = conn.QueryRow(`SELECT value FROM sync_state WHERE key = 'last_sync_timestamp'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vectorstore: get last sync timestamp: %w", err)
	}
	return value, nil
}

// SetLastSyncTimestamp stores the last sync timestamp.
func (s *Store) SetLastSyncTimestamp(ts int64) error {
	conn, err := s.db()
	if err != nil {
		return err
	}
	_, err = conn.Exec(`INSERT OR REPLACE INTO sync_state (key, value) VALUES ('last_sync_timestamp', ?)`, ts)
	if err != nil {
		return fmt.Errorf("vectorstore: set last sync timestamp: %w", err)
	}
	return nil
}

// GetBlockCount returns the number of metadata rows.
func (s *Store) GetBlockCount() (int, error) {
	return s.count(`SELECT COUNT(*) FROM blocks`)
}

// GetEmbeddingCount returns the number of stored vectors.
func (s *Store) GetEmbeddingCount() (int, error) {
	return s.count(`SELECT COUNT(*) FROM embeddings`)
}

func (s *Store) count(query string) (int, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	var n int
	if err := conn.QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return n, nil
}

// DropAllData clears metadata, vectors, and sync state in one transaction.
// Used only by full resync.
func (s *Store) DropAllData() error {
	conn, err := s.db()
	if err != nil {
		return err
	}
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("vectorstore: begin drop: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, stmt := range []string{
		`DELETE FROM embeddings`,
		`DELETE FROM blocks`,
		`DELETE FROM sync_state`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("vectorstore: drop: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vectorstore: commit drop: %w", err)
	}
	slog.Info("vector store data dropped", slog.String("graph", s.graph))
	return nil
}
