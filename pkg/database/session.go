package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/netra-ai/netra/pkg/faults"
)

// SessionState tracks the lifecycle of a request-scoped session.
// Transitions: OPEN → {COMMITTED | ROLLED_BACK} → CLOSED. No transition may
// be skipped and CLOSED is terminal.
type SessionState int

const (
	StateOpen SessionState = iota
	StateCommitted
	StateRolledBack
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionMetadata tags a session with its owner at creation time. It is the
// evidence the isolation guard inspects before handing a session anywhere.
type SessionMetadata struct {
	UserID          string
	RequestID       string
	ThreadID        string
	IsRequestScoped bool
	ValidatedAt     time.Time
}

// RequestScopedSession is a single-transaction database session bound to
// exactly one (user, request) pair. It must never be stored on any object
// that outlives the request; MarkGloballyStored exists so legacy code that
// does so anyway gets caught by ValidateRequestScoped before the session can
// contaminate another request.
type RequestScopedSession struct {
	mu    sync.Mutex
	conn  *sql.Conn
	tx    *sql.Tx
	meta  SessionMetadata
	state SessionState

	globallyStored bool
}

// Metadata returns the creation-time tags.
func (s *RequestScopedSession) Metadata() SessionMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// State returns the current lifecycle state.
func (s *RequestScopedSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkGloballyStored flags the session as having been written to a structure
// with a longer lifetime than the request. Only legacy singleton code calls
// this; the flag makes the violation detectable instead of silent.
func (s *RequestScopedSession) MarkGloballyStored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globallyStored = true
}

// GloballyStored reports whether the session carries the global-storage mark.
func (s *RequestScopedSession) GloballyStored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globallyStored
}

func (s *RequestScopedSession) guardOpen(op string) (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil, faults.Newf(faults.KindIsolation, faults.CodeSessionClosed,
			"%s on %s session (request %s)", op, s.state, s.meta.RequestID)
	}
	return s.tx, nil
}

// ExecContext runs a statement inside the session's transaction.
func (s *RequestScopedSession) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := s.guardOpen("exec")
	if err != nil {
		return nil, err
	}
	return tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the session's transaction.
func (s *RequestScopedSession) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, err := s.guardOpen("query")
	if err != nil {
		return nil, err
	}
	return tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the session's transaction.
func (s *RequestScopedSession) QueryRowContext(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	tx, err := s.guardOpen("query_row")
	if err != nil {
		return nil, err
	}
	return tx.QueryRowContext(ctx, query, args...), nil
}

// Commit commits the transaction. The session still holds its connection
// until Close.
func (s *RequestScopedSession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return faults.Newf(faults.KindIsolation, faults.CodeSessionClosed,
			"commit on %s session (request %s)", s.state, s.meta.RequestID)
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session for request %s: %w", s.meta.RequestID, err)
	}
	s.state = StateCommitted
	return nil
}

// Rollback rolls back the transaction. The session still holds its
// connection until Close.
func (s *RequestScopedSession) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return faults.Newf(faults.KindIsolation, faults.CodeSessionClosed,
			"rollback on %s session (request %s)", s.state, s.meta.RequestID)
	}
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to roll back session for request %s: %w", s.meta.RequestID, err)
	}
	s.state = StateRolledBack
	return nil
}

// Close releases the connection back to the pool. A still-open transaction
// is rolled back first, so Close is safe to defer unconditionally - the
// guaranteed-release discipline depends on exactly that. Closing an already
// closed session is a no-op.
func (s *RequestScopedSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return nil
	case StateOpen:
		if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Warn("Rollback during session close failed",
				"request_id", s.meta.RequestID, "error", err)
		}
		s.state = StateRolledBack
	}

	s.state = StateClosed
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to release session connection for request %s: %w", s.meta.RequestID, err)
	}
	slog.Debug("Session released",
		"request_id", s.meta.RequestID, "user_id", s.meta.UserID)
	return nil
}

// ValidateRequestScoped raises a distinct isolation-violation error if the
// session lacks the request-scoped tag, carries the globally-stored mark, or
// is no longer usable. Any code about to hand a session to a longer-lived
// object calls this first.
func (s *RequestScopedSession) ValidateRequestScoped(expectedUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.meta.IsRequestScoped {
		return faults.Newf(faults.KindIsolation, faults.CodeSessionNotRequestScoped,
			"session for request %s is not tagged request-scoped", s.meta.RequestID)
	}
	if s.globallyStored {
		return faults.Newf(faults.KindIsolation, faults.CodeSessionGloballyStored,
			"session for request %s was stored globally by a prior owner", s.meta.RequestID)
	}
	if s.state == StateClosed {
		return faults.Newf(faults.KindIsolation, faults.CodeSessionClosed,
			"session for request %s is closed", s.meta.RequestID)
	}
	if expectedUserID != "" && s.meta.UserID != expectedUserID {
		return faults.Newf(faults.KindIsolation, faults.CodeSessionNotRequestScoped,
			"session for request %s belongs to a different user", s.meta.RequestID)
	}
	return nil
}
