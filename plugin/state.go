package plugin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// State is the locally persisted state of one plugin.
type State struct {
	Name       string
	Enabled    bool
	Version    string
	EnabledAt  string
	DisabledAt string
}

// StateStore persists which plugins the local user has switched off, so a
// plugin the server enables can still be skipped on this machine.
type StateStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStateStore opens (or creates) the SQLite database at path.
func OpenStateStore(path string) (*StateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open plugin state %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewStateStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStateStore uses db and creates the plugin_state table if needed.
func NewStateStore(db *sql.DB) (*StateStore, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS plugin_state (
		name TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT 0,
		version TEXT NOT NULL,
		enabled_at TEXT,
		disabled_at TEXT
	)`)
	if err != nil {
		return nil, fmt.Errorf("create plugin_state table: %w", err)
	}
	return &StateStore{db: db, now: time.Now}, nil
}

// SetEnabled records the state of a plugin.
func (s *StateStore) SetEnabled(ctx context.Context, name, version string, enabled bool) error {
	now := s.now().UTC().Format(time.RFC3339)
	var enabledAt, disabledAt any
	if enabled {
		enabledAt = now
	} else {
		disabledAt = now
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO plugin_state (name, enabled, version, enabled_at, disabled_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			enabled = excluded.enabled,
			version = excluded.version,
			enabled_at = CASE WHEN excluded.enabled_at IS NOT NULL THEN excluded.enabled_at ELSE plugin_state.enabled_at END,
			disabled_at = CASE WHEN excluded.disabled_at IS NOT NULL THEN excluded.disabled_at ELSE plugin_state.disabled_at END`,
		name, enabled, version, enabledAt, disabledAt,
	)
	if err != nil {
		return fmt.Errorf("persist plugin state %q: %w", name, err)
	}
	return nil
}

// Get returns the stored state of name.
func (s *StateStore) Get(ctx context.Context, name string) (State, bool, error) {
	var st State
	var enabledAt, disabledAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT name, enabled, version, enabled_at, disabled_at FROM plugin_state WHERE name = ?", name,
	).Scan(&st.Name, &st.Enabled, &st.Version, &enabledAt, &disabledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("query plugin_state: %w", err)
	}
	st.EnabledAt = enabledAt.String
	st.DisabledAt = disabledAt.String
	return st, true, nil
}

// Disabled returns the names of plugins switched off locally.
func (s *StateStore) Disabled(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM plugin_state WHERE enabled = 0 ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query plugin_state: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan plugin_state row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plugin_state rows: %w", err)
	}
	return names, nil
}

// Close closes the database.
func (s *StateStore) Close() error {
	return s.db.Close()
}
