// Package migration provides Postgres schema versioning and migration
// running for the Hive store. It runs atop database/sql via the
// pgx/v5/stdlib driver rather than a native pgx pool, since migrations are a
// one-shot startup concern where the stdlib *sql.Tx/*sql.DB surface (and its
// ecosystem of tooling) is the more natural fit than pgx's own Tx type.
package migration

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion records the schema version applied to the database.
type SchemaVersion struct {
	Version   int
	AppliedAt time.Time
}

const createVersionTable = `
CREATE TABLE IF NOT EXISTS _schema_version (
	id         INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	version    INTEGER NOT NULL DEFAULT 0,
	applied_at TIMESTAMPTZ NOT NULL
)`

func ensureTable(db *sql.DB) error {
	if _, err := db.Exec(createVersionTable); err != nil {
		return fmt.Errorf("create _schema_version: %w", err)
	}
	return nil
}

// CurrentVersion returns the current schema version stored in db. Returns 0
// if the _schema_version table does not exist or is empty.
func CurrentVersion(db *sql.DB) (int, error) {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_name = '_schema_version'
	)`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check _schema_version table: %w", err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`SELECT version FROM _schema_version WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// SetVersion upserts the schema version in db.
func SetVersion(db *sql.DB, version int) error {
	if err := ensureTable(db); err != nil {
		return err
	}
	_, err := db.Exec(`
		INSERT INTO _schema_version (id, version, applied_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, applied_at = EXCLUDED.applied_at
	`, version)
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// NeedsMigration reports whether the current schema version is below
// targetVersion.
func NeedsMigration(db *sql.DB, targetVersion int) (bool, error) {
	current, err := CurrentVersion(db)
	if err != nil {
		return false, err
	}
	return current < targetVersion, nil
}

// CheckVersion returns an error if the schema version stored in db is newer
// than binaryVersion. Call during startup to refuse running an old binary
// against a newer schema.
func CheckVersion(db *sql.DB, binaryVersion int) error {
	current, err := CurrentVersion(db)
	if err != nil {
		return err
	}
	if current > binaryVersion {
		return fmt.Errorf(
			"database schema version %d is newer than binary version %d — refusing to start",
			current, binaryVersion,
		)
	}
	return nil
}
