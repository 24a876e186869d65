package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*
var migrationFiles embed.FS

// migrate applies every pending migration for driver. Safe to call on
// every startup: golang-migrate no-ops once the schema is current.
func migrate(driver string, db *sql.DB) error {
	var m *migrate.Migrate

	switch driver {
	case "sqlite3":
		dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			return err
		}
		src, err := iofs.New(migrationFiles, "migrations/sqlite3")
		if err != nil {
			return err
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", dbDriver)
		if err != nil {
			return err
		}
	case "mysql":
		dbDriver, err := mysql.WithInstance(db, &mysql.Config{})
		if err != nil {
			return err
		}
		src, err := iofs.New(migrationFiles, "migrations/mysql")
		if err != nil {
			return err
		}
		m, err = migrate.NewWithInstance("iofs", src, "mysql", dbDriver)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("store: unsupported database driver %q", driver)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
