package migration

import (
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Migration describes a single forward schema change.
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a human-readable summary.
	Description string
	// Up applies the migration inside tx.
	Up func(tx *sql.Tx) error
}

// Runner applies ordered migrations to a database.
type Runner struct {
	migrations []Migration
	logger     *zap.Logger
}

// NewRunner creates a Runner for the given migrations, sorted by Version
// ascending. logger defaults to zap.NewNop() if nil.
func NewRunner(migrations []Migration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return &Runner{migrations: sorted, logger: logger.Named("migration")}
}

// Migrate applies all pending up-migrations in version order. Each
// migration runs in its own transaction; on error the transaction is rolled
// back and the error is returned immediately, leaving later migrations
// unapplied.
func (r *Runner) Migrate(db *sql.DB) error {
	current, err := CurrentVersion(db)
	if err != nil {
		return fmt.Errorf("migration: read current version: %w", err)
	}

	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		if err := r.apply(db, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) apply(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration: begin tx for v%d: %w", m.Version, err)
	}

	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration: up v%d (%s): %w", m.Version, m.Description, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration: commit v%d: %w", m.Version, err)
	}

	if err := SetVersion(db, m.Version); err != nil {
		return fmt.Errorf("migration: set version %d: %w", m.Version, err)
	}

	r.logger.Info("applied migration", zap.Int("version", m.Version), zap.String("description", m.Description))
	return nil
}
