package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded session-store migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetTableName("schema_migrations")

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Rollback reverts the latest migration.
func Rollback(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetTableName("schema_migrations")

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose: set dialect: %w", err)
	}
	return goose.Down(db, "migrations")
}
