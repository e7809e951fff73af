package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/netra-ai/netra/pkg/auth"
	"github.com/netra-ai/netra/pkg/faults"
)

// OperationSessionCreation is the operation label passed to the credential
// validator when a service identity asks for a database session.
const OperationSessionCreation = "database_session_creation"

// SessionFactory creates request-scoped sessions bound to one (user, request)
// pair. It is the only component allowed to lease connections from the pools.
type SessionFactory struct {
	db        *sql.DB
	systemDB  *sql.DB
	validator auth.CredentialValidator
}

// NewSessionFactory builds a factory over the client's pools. The validator
// is consulted for "service:<name>" identities only.
func NewSessionFactory(client *Client, validator auth.CredentialValidator) *SessionFactory {
	return &SessionFactory{
		db:        client.DB(),
		systemDB:  client.SystemDB(),
		validator: validator,
	}
}

// Acquire classifies the caller, authenticates service identities, and opens
// a tagged request-scoped session. The caller owns the session and must
// Close it before the request ends; prefer WithSession which guarantees that.
func (f *SessionFactory) Acquire(ctx context.Context, userID, requestID string) (*RequestScopedSession, error) {
	return f.acquire(ctx, userID, requestID, "")
}

// GetIsolatedSession is Acquire with an additional thread tag for tracing.
func (f *SessionFactory) GetIsolatedSession(ctx context.Context, userID, requestID, threadID string) (*RequestScopedSession, error) {
	return f.acquire(ctx, userID, requestID, threadID)
}

func (f *SessionFactory) acquire(ctx context.Context, userID, requestID, threadID string) (*RequestScopedSession, error) {
	if userID == "" {
		return nil, faults.New(faults.KindValidation, faults.CodeInvalidPayload,
			"user_id is required to acquire a session")
	}
	if requestID == "" {
		return nil, faults.New(faults.KindValidation, faults.CodeInvalidPayload,
			"request_id is required to acquire a session")
	}

	identity, err := auth.ClassifyIdentity(userID)
	if err != nil {
		return nil, err
	}

	pool := f.db
	switch identity.Kind {
	case auth.IdentitySystem:
		// Legacy bypass: no further authentication, privileged pool.
		pool = f.systemDB
	case auth.IdentityService:
		if f.validator == nil {
			return nil, faults.Newf(faults.KindConfiguration, faults.CodeMissingServiceCredentials,
				"no credential validator configured; cannot authenticate %q", userID).
				WithHint("wire a ServiceCredentialValidator into the session factory")
		}
		if err := f.validator.ValidateServiceCredentials(ctx, identity.ServiceName, OperationSessionCreation); err != nil {
			return nil, fmt.Errorf("service validation for %q failed: %w", identity.ServiceName, err)
		}
	}

	conn, err := pool.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lease connection for request %s: %w", requestID, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to begin session transaction for request %s: %w", requestID, err)
	}

	session := &RequestScopedSession{
		conn: conn,
		tx:   tx,
		meta: SessionMetadata{
			UserID:          userID,
			RequestID:       requestID,
			ThreadID:        threadID,
			IsRequestScoped: true,
			ValidatedAt:     time.Now(),
		},
		state: StateOpen,
	}

	slog.Debug("Session acquired",
		"request_id", requestID,
		"user_id", userID,
		"identity", identity.Kind.String())
	return session, nil
}

// WithSession runs fn inside a request-scoped session and guarantees release
// on every exit path: success commits, an error from fn rolls back, and a
// panic or context cancellation still releases the connection via the
// deferred Close. This is the Go shape of acquire/yield/cleanup.
func (f *SessionFactory) WithSession(ctx context.Context, userID, requestID string, fn func(*RequestScopedSession) error) error {
	session, err := f.Acquire(ctx, userID, requestID)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("Session close failed", "request_id", requestID, "error", err)
		}
	}()

	if err := fn(session); err != nil {
		if rbErr := session.Rollback(); rbErr != nil {
			slog.Warn("Session rollback failed", "request_id", requestID, "error", rbErr)
		}
		return err
	}
	return session.Commit()
}
