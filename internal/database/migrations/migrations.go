// Package migrations embeds the history and space store schema and applies
// it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFS embed.FS

// ErrUnversioned is returned for a database that was never migrated.
var ErrUnversioned = errors.New("database has no schema version (needs migration)")

// Status is the schema state of one database compared to this binary.
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Err reports why a database with this status cannot be used, or nil.
func (s Status) Err() error {
	switch {
	case s.Dirty:
		return fmt.Errorf("schema version %d is dirty; a previous migration failed", s.Current)
	case s.Current < s.Latest:
		return fmt.Errorf("schema version %d is %d behind %d; run a migration", s.Current, s.Latest-s.Current, s.Latest)
	case s.Current > s.Latest:
		return fmt.Errorf("schema version %d is newer than this binary supports (%d)", s.Current, s.Latest)
	}
	return nil
}

// ReadStatus compares the recorded schema version of db with the embedded
// migrations. An unmigrated database yields ErrUnversioned.
func ReadStatus(db *sql.DB) (Status, error) {
	latest, err := Latest()
	if err != nil {
		return Status{}, err
	}
	m, err := open(db)
	if err != nil {
		return Status{}, err
	}
	// m stays open: closing it would close db, which belongs to the caller.
	current, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Latest: latest}, ErrUnversioned
	}
	if err != nil {
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}
	return Status{Current: current, Latest: latest, Dirty: dirty}, nil
}

// Check returns nil when db is at the latest schema version.
func Check(db *sql.DB) error {
	st, err := ReadStatus(db)
	if err != nil {
		return err
	}
	return st.Err()
}

// Latest returns the newest schema version embedded in the binary.
func Latest() (uint, error) {
	src, err := iofs.New(schemaFS, "files")
	if err != nil {
		return 0, fmt.Errorf("reading embedded schema: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

// Up applies every pending migration. An up-to-date database is not an error.
func Up(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(schemaFS, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schema: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing migrations: %w", err)
	}
	return m, nil
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("listing embedded schema: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
