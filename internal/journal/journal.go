// Package journal persists the exchange history: every dispatched utterance
// and how it resolved. parley history reads it back.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Exchange statuses. An exchange is written as dispatched and later resolved
// exactly once.
const (
	StatusDispatched = "dispatched"
	StatusReplied    = "replied"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

const defaultRecentLimit = 10

// Exchange is one journaled utterance round trip.
type Exchange struct {
	ID         string     `json:"id"`
	Utterance  string     `json:"utterance"`
	Reply      string     `json:"reply"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Store is a SQLite-backed exchange journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the journal database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			utterance TEXT NOT NULL,
			reply TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			resolved_at TEXT
		);
	`); err != nil {
		return fmt.Errorf("create exchanges table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at)"); err != nil {
		return fmt.Errorf("create exchanges index: %w", err)
	}

	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RecordDispatch journals a freshly dispatched utterance.
func (s *Store) RecordDispatch(id, utterance string, at time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("exchange id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO exchanges(id, utterance, status, created_at) VALUES(?, ?, ?, ?)`,
		id,
		utterance,
		StatusDispatched,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record dispatch %s: %w", id, err)
	}
	return nil
}

// Resolve finishes an exchange with its terminal status and reply text.
// Returns sql.ErrNoRows when the exchange was never dispatched.
func (s *Store) Resolve(id, status, reply string, at time.Time) error {
	res, err := s.db.Exec(
		`UPDATE exchanges SET status = ?, reply = ?, resolved_at = ? WHERE id = ?`,
		status,
		reply,
		at.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("resolve exchange %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve exchange rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Recent returns the latest n exchanges, newest first.
func (s *Store) Recent(n int) ([]Exchange, error) {
	if n <= 0 {
		n = defaultRecentLimit
	}

	rows, err := s.db.Query(
		`SELECT id, utterance, reply, status, created_at, resolved_at
		 FROM exchanges
		 ORDER BY created_at DESC
		 LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent exchanges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	exchanges := make([]Exchange, 0, n)
	for rows.Next() {
		var ex Exchange
		var createdAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&ex.ID, &ex.Utterance, &ex.Reply, &ex.Status, &createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}

		parsedCreated, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse exchange %s created_at: %w", ex.ID, err)
		}
		ex.CreatedAt = parsedCreated

		if resolvedAt.Valid {
			parsedResolved, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse exchange %s resolved_at: %w", ex.ID, err)
			}
			ex.ResolvedAt = &parsedResolved
		}

		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange rows: %w", err)
	}

	return exchanges, nil
}
