// Package sqlite implements the core's repository interfaces on a local
// sqlite database. It is the default wiring for the batch CLI; the engine
// itself only sees the interfaces in the reid package.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/rickyjs1955/wandr-sub001/internal/reid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the sqlite handle and implements every repository interface
// of the reid core.
type Store struct {
	DB *sql.DB
}

// Interface conformance is part of the contract; keep it checked at
// compile time.
var (
	_ reid.TrackletSource     = (*Store)(nil)
	_ reid.TopologyRepo       = (*Store)(nil)
	_ reid.FrequentOutfitRepo = (*Store)(nil)
	_ reid.AssociationSink    = (*Store)(nil)
	_ reid.JourneySink        = (*Store)(nil)
	_ reid.FrequentOutfitSink = (*Store)(nil)
)

// Open opens (or creates) the database at path, applies pragmas suited to
// batch workloads and runs pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	s := &Store{DB: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies all pending schema migrations from the embedded set.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// Not closing m: it would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// migrateLogger routes migrate output through the standard logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }
