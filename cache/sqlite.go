package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite implements Store on a local SQLite database, for caches that should
// survive restarts of the CLI.
type SQLite struct {
	db         *sql.DB
	defaultTTL time.Duration
	now        func() time.Time
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for a
// throwaway store.
func OpenSQLite(path string, defaultTTL time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache sqlite: open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	s, err := NewSQLite(db, defaultTTL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite uses an already opened database and creates the cache table.
func NewSQLite(db *sql.DB, defaultTTL time.Duration) (*SQLite, error) {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS response_cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("cache sqlite: create response_cache table: %w", err)
	}
	return &SQLite{db: db, defaultTTL: defaultTTL, now: time.Now}, nil
}

// Get returns the value for key or ErrMiss. Expired rows are removed lazily.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM response_cache WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache sqlite get: %w", err)
	}
	if s.now().UnixNano() > expiresAt {
		_ = s.Delete(ctx, key)
		return nil, ErrMiss
	}
	return value, nil
}

// Set stores value under key. A zero ttl uses the default TTL.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO response_cache (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache sqlite set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM response_cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("cache sqlite delete: %w", err)
	}
	return nil
}

// Purge removes every expired row and returns how many were removed.
func (s *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM response_cache WHERE expires_at < ?", s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cache sqlite purge: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
