package ipc

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteLog is a Transport backed by an append-only SQLite table opened in
// WAL mode, standing in for the shared-memory media driver's log buffer: an
// offer is an insert, a poll by a downstream reader is an ordinary SELECT.
// It holds no strategy state and is never read back by this process; it
// exists purely as the durable side of the publish path (spec §4.4, §6).
type SQLiteLog struct {
	mu        sync.Mutex
	db        *sql.DB
	connected bool
}

// NewSQLiteLog opens (or creates) the log database at path.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: open sqlite log: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("ipc: set pragma %q: %w", p, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS offers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ipc: create offers table: %w", err)
	}

	return &SQLiteLog{db: db}, nil
}

func (s *SQLiteLog) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = s.db.Ping(); err == nil {
			s.connected = true
			return nil
		}
		time.Sleep(retrySleep)
	}
	return fmt.Errorf("%w: %v", ErrConnectTimedOut, err)
}

// Offer inserts payload as a single row. A write failure is reported as
// OutcomeFailure rather than surfaced as an error, matching the offer/poll
// contract's convention of expressing backpressure and failure through the
// return value instead of an error type.
func (s *SQLiteLog) Offer(payload []byte) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return OutcomeNotConnected
	}
	if _, err := s.db.Exec("INSERT INTO offers (payload) VALUES (?)", payload); err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

func (s *SQLiteLog) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SQLiteLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return s.db.Close()
}

// Count returns the number of offers persisted so far, read straight from
// the database; the tests use it to check what was offered.
func (s *SQLiteLog) Count() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM offers").Scan(&n)
	return n, err
}
