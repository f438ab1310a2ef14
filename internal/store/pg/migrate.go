package pg

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator builds a *migrate.Migrate bound to the embedded migrations
// FS, for callers (cmd/migrate.go) that need more than Up — Down,
// Version, Force, Goto, Drop.
func NewMigrator(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	migrateDSN := dsn
	switch {
	case strings.HasPrefix(migrateDSN, "postgres://"):
		migrateDSN = "pgx5://" + strings.TrimPrefix(migrateDSN, "postgres://")
	case strings.HasPrefix(migrateDSN, "postgresql://"):
		migrateDSN = "pgx5://" + strings.TrimPrefix(migrateDSN, "postgresql://")
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateDSN)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

// Migrate applies every pending up migration against dsn, grounded on the
// teacher's golang-migrate/v4 wiring style (iofs source, pgx driver). dsn
// is a standard "postgres://..." URL; the pgx5 driver scheme is
// substituted so golang-migrate dials through pgx rather than lib/pq.
func Migrate(dsn string) error {
	m, err := NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
