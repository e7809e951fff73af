// Package execution defines the per-request execution context and the
// session-aware manager that preserves conversation continuity across
// messages. A context binds one user to one thread, one run, and exactly one
// request; every inbound HTTP request or WebSocket message gets its own
// instance, and instances never share mutable state.
package execution

import (
	"fmt"
	"time"

	"github.com/netra-ai/netra/pkg/database"
)

// UserExecutionContext is an immutable-per-creation value binding a user
// identity to a conversation thread, an execution run, and a request.
// Metadata is owned exclusively by this instance: it is created fresh for
// every context and is never shared with another context.
type UserExecutionContext struct {
	UserID                string
	ThreadID              string
	RunID                 string
	RequestID             string
	WebSocketClientID     string
	WebSocketConnectionID string

	// Metadata carries request-scoped payload such as the raw user message.
	Metadata map[string]any

	// DBSession is set only when a caller explicitly attaches one. The
	// context never creates or owns a session; the attached session must be
	// request-scoped and must be released before the request ends.
	DBSession *database.RequestScopedSession

	CreatedAt time.Time
}

// newContext builds a context with a fresh metadata map. userID must be
// non-empty; identifier generation happens in the Manager, not here.
func newContext(userID, threadID, runID, requestID string) (*UserExecutionContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id must be a non-empty string")
	}
	return &UserExecutionContext{
		UserID:    userID,
		ThreadID:  threadID,
		RunID:     runID,
		RequestID: requestID,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now(),
	}, nil
}

// WithMetadata sets a metadata key on this context and returns it for
// chaining. Only this instance is affected.
func (c *UserExecutionContext) WithMetadata(key string, value any) *UserExecutionContext {
	c.Metadata[key] = value
	return c
}
