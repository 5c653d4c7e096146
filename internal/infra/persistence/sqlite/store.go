// Package sqlite provides the SQLite-backed persistence collaborator using
// the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"txcore/internal/infra/persistence/migrations"
	"txcore/internal/infra/persistence/sqlstore"
)

const defaultPath = "txcore.db"

// Store persists objects to a single SQLite database file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating when needed) the database at path and migrates it.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps writes serialized and makes ":memory:" usable.
	db.SetMaxOpenConns(1)
	if err := migrations.Up(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: sqlstore.New(db, sqlstore.SQLite), path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
