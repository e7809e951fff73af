package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/netra-ai/netra/pkg/ident"
)

// threadSession is the continuity record for one (user, thread) pair. It
// remembers the run id so successive messages on the same thread observe the
// same run until a genuinely new run starts.
type threadSession struct {
	runID       string
	lastTouched time.Time
}

// Manager hands out execution contexts with conversation continuity. The
// continuity store is per-process and in-memory with TTL eviction: entries
// expire after TTL of inactivity, at which point the next message on that
// thread starts a fresh run. Cross-process continuity is explicitly out of
// scope - each pod tracks its own conversations.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*threadSession
	ttl      time.Duration
}

// NewManager creates a context manager whose continuity entries expire after
// ttl of inactivity.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*threadSession),
		ttl:      ttl,
	}
}

func sessionKey(userID, threadID string) string {
	// NUL separator: neither id can contain it, so keys never collide.
	return userID + "\x00" + threadID
}

// GetUserExecutionContext resolves a context with continuity semantics:
//
//   - no live session for (user, thread), or no thread given: mint a new
//     thread, run, and request id;
//   - live session and runID empty or matching: reuse thread and run ids,
//     mint only a new request id (the conversation continues);
//   - live session and a different runID supplied: keep the thread, adopt
//     the supplied run id, mint a new request id (a new run starts).
//
// Every call returns a new instance with its own metadata map; continuity is
// a property of the identifiers, never of object identity.
func (m *Manager) GetUserExecutionContext(userID, threadID, runID string) (*UserExecutionContext, error) {
	if userID == "" {
		return nil, errEmptyUserID()
	}

	now := time.Now()

	if threadID == "" {
		newThreadID, newRunID, requestID := ident.GenerateUserContextIDs(userID, "websocket")
		m.storeSession(userID, newThreadID, newRunID, now)
		return newContext(userID, newThreadID, newRunID, requestID)
	}

	m.mu.Lock()
	key := sessionKey(userID, threadID)
	existing, ok := m.sessions[key]
	if ok && m.expired(existing, now) {
		delete(m.sessions, key)
		ok = false
	}

	var resolvedRunID string
	switch {
	case !ok:
		// First message on this thread (or the old run expired).
		if runID != "" {
			resolvedRunID = runID
		} else {
			resolvedRunID = ident.GenerateRunID(userID)
		}
	case runID == "" || runID == existing.runID:
		// Conversation continues: same run.
		resolvedRunID = existing.runID
	default:
		// Caller started a new run within the same thread.
		resolvedRunID = runID
		slog.Debug("New run within thread",
			"user_id", userID, "thread_id", threadID, "run_id", runID)
	}

	m.sessions[key] = &threadSession{runID: resolvedRunID, lastTouched: now}
	m.mu.Unlock()

	return newContext(userID, threadID, resolvedRunID, ident.GenerateRequestID("websocket"))
}

// CreateUserExecutionContext mints a context unconditionally, bypassing the
// continuity store.
//
// Deprecated: indiscriminate use breaks conversation continuity - each call
// starts a new run even mid-conversation. Callers needing continuity must
// use GetUserExecutionContext.
func (m *Manager) CreateUserExecutionContext(userID, threadID, runID, websocketClientID string) (*UserExecutionContext, error) {
	if userID == "" {
		return nil, errEmptyUserID()
	}
	if threadID == "" {
		threadID = ident.GenerateThreadID(userID)
	}
	if runID == "" {
		runID = ident.GenerateRunID(userID)
	}
	ctx, err := newContext(userID, threadID, runID, ident.GenerateRequestID("direct"))
	if err != nil {
		return nil, err
	}
	ctx.WebSocketClientID = websocketClientID
	return ctx, nil
}

// ActiveRunID returns the live run id for (user, thread), or "" if none.
func (m *Manager) ActiveRunID(userID, threadID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[sessionKey(userID, threadID)]; ok && !m.expired(s, time.Now()) {
		return s.runID
	}
	return ""
}

// EndRun drops the continuity entry for (user, thread); the next message on
// that thread starts a fresh run.
func (m *Manager) EndRun(userID, threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey(userID, threadID))
}

// Sweep removes expired continuity entries and returns how many were evicted.
func (m *Manager) Sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, key)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					slog.Debug("Evicted expired context sessions", "count", n)
				}
			}
		}
	}()
}

func (m *Manager) storeSession(userID, threadID, runID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey(userID, threadID)] = &threadSession{runID: runID, lastTouched: now}
}

func (m *Manager) expired(s *threadSession, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.lastTouched) > m.ttl
}

func errEmptyUserID() error {
	return &EmptyUserIDError{}
}

// EmptyUserIDError rejects context construction without a user identity.
type EmptyUserIDError struct{}

func (e *EmptyUserIDError) Error() string {
	return "user_id must be a non-empty string"
}
