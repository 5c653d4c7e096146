// Package migrations embeds the schema of the SQL persistence backends and
// applies it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Dialect names understood by Up.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Up applies every pending up migration for dialect to db. The caller keeps
// ownership of db.
func Up(db *sql.DB, dialect string) error {
	src, err := iofs.New(files, dialect)
	if err != nil {
		return fmt.Errorf("migration source %s: %w", dialect, err)
	}
	var driver database.Driver
	switch dialect {
	case SQLite:
		driver, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	case Postgres:
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	default:
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("migration driver %s: %w", dialect, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}
	// m.Close would close db as well; only the source is released here.
	defer func() { _ = src.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s up: %w", dialect, err)
	}
	return nil
}
