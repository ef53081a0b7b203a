package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies all pending up migrations for the store's dialect.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+dialectDir(s.dialect))
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	switch s.dialect {
	case DialectSQLite:
		// The sqlite driver closes the shared handle on Close, which would
		// destroy an in-memory database, so the migrator is not closed.
		driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
		if err != nil {
			_ = src.Close()
			return fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}
		defer src.Close()
		return runUp("iofs", src, "sqlite3", driver, false)

	case DialectPostgres:
		// The pgx driver pins a connection until Close, so it gets its own handle.
		db, err := sql.Open("pgx", s.dsn)
		if err != nil {
			_ = src.Close()
			return fmt.Errorf("failed to open migration connection: %w", err)
		}
		driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
		if err != nil {
			_ = src.Close()
			_ = db.Close()
			return fmt.Errorf("failed to create postgres migration driver: %w", err)
		}
		return runUp("iofs", src, "pgx5", driver, true)
	}
	return fmt.Errorf("unsupported dialect %q", s.dialect)
}

func runUp(sourceName string, src source.Driver, dbName string, driver database.Driver, closeAfter bool) error {
	m, err := migrate.NewWithInstance(sourceName, src, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if closeAfter {
		defer m.Close()
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func dialectDir(d Dialect) string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}
