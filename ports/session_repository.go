package ports

import (
	"context"

	"hypoguard/domain/core"
	"hypoguard/internal/sessionlog"
)

// SessionTestRepository persists session test logs
type SessionTestRepository interface {
	// AppendTest stores a new record for a session
	AppendTest(ctx context.Context, sessionID core.SessionID, rec sessionlog.Record) error

	// SetFlag updates the only mutable column of a record
	SetFlag(ctx context.Context, sessionID core.SessionID, id core.SessionTestID, flagged bool) error

	// ListSessionTests returns a session's records ordered by sequence
	ListSessionTests(ctx context.Context, sessionID core.SessionID) ([]sessionlog.Record, error)

	// ListSessions returns every session id with at least one record
	ListSessions(ctx context.Context) ([]core.SessionID, error)
}
