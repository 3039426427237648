package migration

import (
	"context"

	"hypoguard/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order. Every statement
// is idempotent so Run is safe on every start.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createHypothesesTable(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create hypotheses table"))
	}

	if err := r.createSessionTestsTable(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create session_tests table"))
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to create indexes"))
	}

	return nil
}

func (r *MigrationRunner) createHypothesesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS hypotheses (
			id VARCHAR(64) PRIMARY KEY,
			description TEXT NOT NULL,
			null_statement TEXT NOT NULL DEFAULT '',
			alternative_statement TEXT NOT NULL DEFAULT '',
			category VARCHAR(32) NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			group_name VARCHAR(255) NOT NULL DEFAULT '',
			test_type VARCHAR(100) NOT NULL DEFAULT '',
			p_value DOUBLE PRECISION CHECK (p_value IS NULL OR (p_value >= 0 AND p_value <= 1)),
			effect_size DOUBLE PRECISION,
			status VARCHAR(20) NOT NULL DEFAULT 'REGISTERED',
			pre_registered BOOLEAN NOT NULL DEFAULT false,
			registration_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			version INTEGER NOT NULL DEFAULT 1
		)
	`)
	return err
}

func (r *MigrationRunner) createSessionTestsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_tests (
			id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			sequence BIGINT NOT NULL,
			recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
			test_type VARCHAR(100) NOT NULL,
			variables TEXT[] NOT NULL DEFAULT '{}',
			p_value DOUBLE PRECISION NOT NULL CHECK (p_value >= 0 AND p_value <= 1),
			effect_size DOUBLE PRECISION,
			corrected BOOLEAN NOT NULL DEFAULT false,
			correction_method VARCHAR(50) NOT NULL DEFAULT '',
			flagged BOOLEAN NOT NULL DEFAULT false
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_hypotheses_group ON hypotheses(group_name)`,
		`CREATE INDEX IF NOT EXISTS idx_hypotheses_status ON hypotheses(status)`,
		`CREATE INDEX IF NOT EXISTS idx_hypotheses_tags ON hypotheses USING GIN(tags)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_session_tests_sequence ON session_tests(session_id, sequence)`,
		`CREATE INDEX IF NOT EXISTS idx_session_tests_recorded_at ON session_tests(recorded_at)`,
	}

	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
