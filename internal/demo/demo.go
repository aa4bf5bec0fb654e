// Package demo creates the sample SQLite database used when no database is
// configured, and by tests.
package demo

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"

	"github.com/leapstack-labs/leaprepl/pkg/adapters/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Name is the name the demo database is configured under.
const Name = "demo"

// Migrate runs all pending migrations on db.
func Migrate(ctx context.Context, db *sql.DB) error {
	// Configure goose for embedded migrations
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Create writes a migrated demo database at path and returns its connection
// string. An existing database is migrated in place.
func Create(ctx context.Context, path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create demo directory: %w", err)
	}

	url := "sqlite:" + path
	db, err := sql.Open("sqlite", sqlite.DataSource(url, false))
	if err != nil {
		return "", fmt.Errorf("failed to open demo database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := Migrate(ctx, db); err != nil {
		return "", err
	}
	return url, nil
}

// DefaultPath is where the demo database lives when none is given.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "leaprepl", "demo.db")
}
