package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed course store.
//
// The database handle is opened on first use and shared by every caller for
// the lifetime of the process.
type Store struct {
	path   string
	conn   func() (*sql.DB, error)
	opened atomic.Bool
}

// New returns a store for the SQLite database at dbPath. No connection is made
// until the first operation.
func New(dbPath string) *Store {
	s := &Store{path: dbPath}
	s.conn = sync.OnceValues(s.open)
	return s
}

func (s *Store) open() (*sql.DB, error) {
	slog.Info("opening database", "path", s.path)
	db, err := sql.Open("sqlite", s.path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if s.path == ":memory:" {
		// Every new connection to :memory: would see a fresh, empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.opened.Store(true)
	return db, nil
}

// DB returns the shared handle, opening it on first call.
func (s *Store) DB() (*sql.DB, error) {
	return s.conn()
}

// Ping opens the database if needed and checks it is reachable.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close closes the handle if it was ever opened.
func (s *Store) Close() error {
	if !s.opened.Load() {
		return nil
	}
	db, err := s.conn()
	if err != nil {
		return nil
	}
	return db.Close()
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS courses (
		video_id TEXT PRIMARY KEY,
		course_title TEXT NOT NULL,
		title_key TEXT NOT NULL UNIQUE,
		course_video_name TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '',
		passing_criteria INTEGER NOT NULL DEFAULT 0,
		quiz TEXT NOT NULL DEFAULT '[]',
		answers TEXT NOT NULL DEFAULT '[]',
		language TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS video_progress (
		user_email TEXT NOT NULL,
		video_id TEXT NOT NULL,
		progress_time REAL NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_email, video_id)
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		user_email TEXT NOT NULL,
		video_id TEXT NOT NULL,
		course_name TEXT NOT NULL DEFAULT '',
		enrolled_at DATETIME NOT NULL,
		PRIMARY KEY (user_email, video_id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// titleKey folds a course title for case-insensitive uniqueness.
func titleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
