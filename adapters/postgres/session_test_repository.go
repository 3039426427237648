package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"hypoguard/domain/core"
	"hypoguard/internal/sessionlog"
	"hypoguard/ports"
)

// SessionTestRepositoryImpl implements SessionTestRepository for PostgreSQL
type SessionTestRepositoryImpl struct {
	db *sqlx.DB
}

// NewSessionTestRepository creates a new PostgreSQL session test repository
func NewSessionTestRepository(db *sqlx.DB) ports.SessionTestRepository {
	return &SessionTestRepositoryImpl{db: db}
}

type sessionTestRow struct {
	ID               string          `db:"id"`
	SessionID        string          `db:"session_id"`
	Sequence         int64           `db:"sequence"`
	RecordedAt       time.Time       `db:"recorded_at"`
	TestType         string          `db:"test_type"`
	Variables        pq.StringArray  `db:"variables"`
	PValue           float64         `db:"p_value"`
	EffectSize       sql.NullFloat64 `db:"effect_size"`
	Corrected        bool            `db:"corrected"`
	CorrectionMethod string          `db:"correction_method"`
	Flagged          bool            `db:"flagged"`
}

func (row sessionTestRow) toRecord() sessionlog.Record {
	rec := sessionlog.Record{
		ID:               core.SessionTestID(row.ID),
		Sequence:         row.Sequence,
		Timestamp:        row.RecordedAt.UTC(),
		TestType:         row.TestType,
		Variables:        []string(row.Variables),
		PValue:           row.PValue,
		Corrected:        row.Corrected,
		CorrectionMethod: row.CorrectionMethod,
		Flagged:          row.Flagged,
	}
	if rec.Variables == nil {
		rec.Variables = []string{}
	}
	if row.EffectSize.Valid {
		e := row.EffectSize.Float64
		rec.EffectSize = &e
	}
	return rec
}

// AppendTest inserts a session test record. Records are never updated here.
func (r *SessionTestRepositoryImpl) AppendTest(ctx context.Context, sessionID core.SessionID, rec sessionlog.Record) error {
	vars := rec.Variables
	if vars == nil {
		vars = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_tests (
			id, session_id, sequence, recorded_at, test_type, variables,
			p_value, effect_size, corrected, correction_method, flagged
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(rec.ID), string(sessionID), rec.Sequence, rec.Timestamp, rec.TestType, pq.Array(vars),
		rec.PValue, nullFloat(rec.EffectSize), rec.Corrected, rec.CorrectionMethod, rec.Flagged)
	if err != nil {
		return fmt.Errorf("failed to append session test %s: %w", rec.ID, err)
	}
	return nil
}

// SetFlag updates the flagged column of one record
func (r *SessionTestRepositoryImpl) SetFlag(ctx context.Context, sessionID core.SessionID, id core.SessionTestID, flagged bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE session_tests SET flagged = $3
		WHERE session_id = $1 AND id = $2`, string(sessionID), string(id), flagged)
	if err != nil {
		return fmt.Errorf("failed to flag session test %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s in session %s", core.ErrSessionTestNotFound, id, sessionID)
	}
	return nil
}

// ListSessionTests returns a session's records ordered by sequence
func (r *SessionTestRepositoryImpl) ListSessionTests(ctx context.Context, sessionID core.SessionID) ([]sessionlog.Record, error) {
	var rows []sessionTestRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, session_id, sequence, recorded_at, test_type, variables,
			   p_value, effect_size, corrected, correction_method, flagged
		FROM session_tests
		WHERE session_id = $1
		ORDER BY sequence`, string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to list session tests for %s: %w", sessionID, err)
	}

	out := make([]sessionlog.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// ListSessions returns every session id with at least one record
func (r *SessionTestRepositoryImpl) ListSessions(ctx context.Context) ([]core.SessionID, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT session_id FROM session_tests ORDER BY session_id`); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]core.SessionID, len(ids))
	for i, id := range ids {
		out[i] = core.SessionID(id)
	}
	return out, nil
}
