package execution

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netra-ai/netra/pkg/ident"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(30 * time.Minute)
}

// Distinct threads for the same user get independently constructed
// contexts with different run and request ids.
func TestGetContext_ThreadIsolation(t *testing.T) {
	m := newTestManager(t)

	ctxA, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)
	ctxB, err := m.GetUserExecutionContext("u1", "threadB", "")
	require.NoError(t, err)

	assert.NotSame(t, ctxA, ctxB)
	assert.Equal(t, "u1", ctxA.UserID)
	assert.Equal(t, "u1", ctxB.UserID)
	assert.NotEqual(t, ctxA.RunID, ctxB.RunID)
	assert.NotEqual(t, ctxA.RequestID, ctxB.RequestID)

	// No shared mutable state: mutating one metadata map is invisible to
	// the other.
	ctxA.Metadata["message"] = "hello from A"
	assert.Empty(t, ctxB.Metadata)
}

// Successive resolutions for the same (user, thread) observe the same
// run id, while request ids stay unique.
func TestGetContext_SessionContinuity(t *testing.T) {
	m := newTestManager(t)

	first, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)
	second, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)

	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.NotSame(t, first, second)
}

func TestGetContext_MatchingRunIDContinues(t *testing.T) {
	m := newTestManager(t)

	first, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)
	second, err := m.GetUserExecutionContext("u1", "threadA", first.RunID)
	require.NoError(t, err)

	assert.Equal(t, first.RunID, second.RunID)
}

func TestGetContext_NewRunWithinThread(t *testing.T) {
	m := newTestManager(t)

	first, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)

	newRunID := ident.GenerateRunID("u1")
	second, err := m.GetUserExecutionContext("u1", "threadA", newRunID)
	require.NoError(t, err)

	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Equal(t, newRunID, second.RunID)
	assert.NotEqual(t, first.RunID, second.RunID)

	// The new run is now the live one.
	assert.Equal(t, newRunID, m.ActiveRunID("u1", "threadA"))
}

func TestGetContext_NoThreadStartsNewConversation(t *testing.T) {
	m := newTestManager(t)

	ctx, err := m.GetUserExecutionContext("u1", "", "")
	require.NoError(t, err)

	assert.True(t, ident.IsValidID(ctx.ThreadID, ident.PrefixThread))
	assert.True(t, ident.IsValidID(ctx.RunID, ident.PrefixRun))
	assert.True(t, ident.IsValidID(ctx.RequestID, ident.PrefixRequest))
	// Continuity now exists for the minted thread.
	assert.Equal(t, ctx.RunID, m.ActiveRunID("u1", ctx.ThreadID))
}

// Contexts for different users never share run ids or metadata.
func TestGetContext_MultiUserIsolation(t *testing.T) {
	m := newTestManager(t)

	ctx1, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)
	ctx2, err := m.GetUserExecutionContext("u2", "threadA", "")
	require.NoError(t, err)

	assert.NotEqual(t, ctx1.RunID, ctx2.RunID)

	ctx1.Metadata["secret"] = "u1-data"
	assert.Empty(t, ctx2.Metadata)
}

func TestGetContext_EmptyUserIDRejected(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetUserExecutionContext("", "threadA", "")
	require.Error(t, err)

	_, err = m.CreateUserExecutionContext("", "threadA", "", "")
	require.Error(t, err)
}

func TestCreateContext_BypassesContinuity(t *testing.T) {
	m := newTestManager(t)

	first, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)

	direct, err := m.CreateUserExecutionContext("u1", "threadA", "", "wsclient_x")
	require.NoError(t, err)

	// The deprecated constructor mints a fresh run regardless of the live
	// session; that is exactly why it is deprecated.
	assert.NotEqual(t, first.RunID, direct.RunID)
	assert.Equal(t, "wsclient_x", direct.WebSocketClientID)
	// And it must not have clobbered the continuity store.
	assert.Equal(t, first.RunID, m.ActiveRunID("u1", "threadA"))
}

func TestEndRun_NextMessageStartsFreshRun(t *testing.T) {
	m := newTestManager(t)

	first, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)

	m.EndRun("u1", "threadA")

	second, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestTTL_ExpiredSessionStartsFreshRun(t *testing.T) {
	m := NewManager(10 * time.Millisecond)

	first, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, m.ActiveRunID("u1", "threadA"))
	second, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestSweep_EvictsOnlyExpired(t *testing.T) {
	m := NewManager(20 * time.Millisecond)

	_, err := m.GetUserExecutionContext("u1", "old-thread", "")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = m.GetUserExecutionContext("u1", "fresh-thread", "")
	require.NoError(t, err)

	assert.Equal(t, 1, m.Sweep())
	assert.NotEmpty(t, m.ActiveRunID("u1", "fresh-thread"))
}

// Continuity must be read-after-write consistent under concurrent access:
// all contexts resolved for one (user, thread) observe a single run id.
func TestGetContext_ConcurrentSameThread(t *testing.T) {
	m := newTestManager(t)

	seed, err := m.GetUserExecutionContext("u1", "threadA", "")
	require.NoError(t, err)

	const workers = 16
	runIDs := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, err := m.GetUserExecutionContext("u1", "threadA", "")
			assert.NoError(t, err)
			runIDs[i] = ctx.RunID
		}(i)
	}
	wg.Wait()

	for i, runID := range runIDs {
		assert.Equal(t, seed.RunID, runID, "worker %d observed a different run", i)
	}
}

func TestGetContext_ConcurrentDistinctUsers(t *testing.T) {
	m := newTestManager(t)

	const users = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	runIDs := make(map[string]bool, users)

	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", i)
			ctx, err := m.GetUserExecutionContext(userID, "", "")
			assert.NoError(t, err)
			assert.Equal(t, userID, ctx.UserID)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, runIDs[ctx.RunID], "run id shared across users")
			runIDs[ctx.RunID] = true
		}(i)
	}
	wg.Wait()

	assert.Len(t, runIDs, users)
}
