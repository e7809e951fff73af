package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netra-ai/netra/pkg/agent"
	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/execution"
	"github.com/netra-ai/netra/pkg/llm"
	"github.com/netra-ai/netra/pkg/services"
)

type fakeNotifier struct {
	mu      sync.Mutex
	events  []OutboundEvent
	threads []string
}

func (f *fakeNotifier) NotifyConnection(_ string, event OutboundEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) NotifyUser(_ string, event OutboundEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) AssociateThread(_ *Connection, threadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads = append(f.threads, threadID)
}

func (f *fakeNotifier) byType(eventType string) []OutboundEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []OutboundEvent
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Generate(context.Context, []llm.Message) (string, error) {
	return f.reply, f.err
}

func newTestHandler(t *testing.T, model llm.Manager) (*AgentMessageHandler, *fakeNotifier, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := &fakeNotifier{}
	factory := database.NewSessionFactory(database.NewClientFromDB(db, db), nil)
	supervisors, err := agent.NewSupervisorFactory(model, services.NewThreadService(), agent.NewDispatcher(), "")
	require.NoError(t, err)
	handler := NewAgentMessageHandler(execution.NewManager(30*time.Minute), factory,
		func(*execution.UserExecutionContext) (*agent.SupervisorFactory, error) { return supervisors, nil },
		func(*execution.UserExecutionContext) (Notifier, error) { return notifier, nil })
	return handler, notifier, mock
}

// expectTurn queues the database activity of one successful agent turn.
func expectTurn(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery("FROM threads WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}))
	mock.ExpectExec("INSERT INTO threads").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func testConn(userID string) *Connection {
	return &Connection{
		ID:       "wsconn_test_1",
		ClientID: "wsclient_test_1",
		UserID:   userID,
	}
}

func TestHandleMessage_StartAgentSucceeds(t *testing.T) {
	handler, notifier, mock := newTestHandler(t, &fakeLLM{reply: "on it"})
	expectTurn(mock)

	ok := handler.HandleMessage(context.Background(), testConn("user-1"), &InboundMessage{
		Type:    TypeStartAgent,
		Payload: map[string]any{"user_request": "check the cluster"},
	})
	require.True(t, ok)

	started := notifier.byType(EventAgentStarted)
	require.Len(t, started, 1)
	responses := notifier.byType(EventAgentResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, "on it", responses[0].Content)
	assert.Equal(t, started[0].RunID, responses[0].RunID)

	stats := handler.Stats()
	assert.Equal(t, int64(1), stats.MessagesProcessed)
	assert.Equal(t, int64(1), stats.StartAgentRequests)
	assert.Equal(t, int64(0), stats.ErrorCount)
	assert.False(t, stats.LastProcessedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessage_InvalidPayloadTouchesNothing(t *testing.T) {
	handler, notifier, mock := newTestHandler(t, &fakeLLM{reply: "never called"})

	ok := handler.HandleMessage(context.Background(), testConn("user-1"), &InboundMessage{
		Type:    TypeStartAgent,
		Payload: map[string]any{"user_request": "   "},
	})
	require.False(t, ok)

	errs := notifier.byType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid_payload", errs[0].Code)

	stats := handler.Stats()
	assert.Equal(t, int64(0), stats.MessagesProcessed)
	assert.Equal(t, int64(1), stats.ErrorCount)
	// No database activity at all.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessage_LLMFailureRollsBack(t *testing.T) {
	handler, notifier, mock := newTestHandler(t, &fakeLLM{err: errors.New("model down")})

	mock.ExpectBegin()
	mock.ExpectQuery("FROM threads WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}))
	mock.ExpectRollback()

	ok := handler.HandleMessage(context.Background(), testConn("user-1"), &InboundMessage{
		Type:    TypeUserMessage,
		Payload: map[string]any{"message": "hello"},
	})
	require.False(t, ok)

	errs := notifier.byType(EventError)
	require.Len(t, errs, 1)
	// Internal failures never leak their cause to the client.
	assert.Equal(t, "message could not be processed", errs[0].Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessage_ContinuityAcrossMessages(t *testing.T) {
	handler, notifier, mock := newTestHandler(t, &fakeLLM{reply: "sure"})
	expectTurn(mock)

	conn := testConn("user-1")
	ok := handler.HandleMessage(context.Background(), conn, &InboundMessage{
		Type:    TypeChat,
		Payload: map[string]any{"message": "first"},
	})
	require.True(t, ok)

	first := notifier.byType(EventAgentResponse)[0]

	// Second message on the same thread: same run, new request.
	mock.ExpectBegin()
	mock.ExpectQuery("FROM threads WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}).
			AddRow(first.ThreadID, "user-1", "", time.Now(), time.Now()))
	mock.ExpectQuery("FROM messages WHERE thread_id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "thread_id", "run_id", "request_id", "role", "content", "created_at"}))
	mock.ExpectExec("INSERT INTO threads").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok = handler.HandleMessage(context.Background(), conn, &InboundMessage{
		Type:     TypeChat,
		ThreadID: first.ThreadID,
		Payload:  map[string]any{"message": "second"},
	})
	require.True(t, ok)

	responses := notifier.byType(EventAgentResponse)
	require.Len(t, responses, 2)
	assert.Equal(t, responses[0].ThreadID, responses[1].ThreadID)
	assert.Equal(t, responses[0].RunID, responses[1].RunID)
	assert.NotEqual(t, responses[0].RequestID, responses[1].RequestID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessage_ResolvesEngineAndBridgePerMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := &fakeNotifier{}
	factory := database.NewSessionFactory(database.NewClientFromDB(db, db), nil)
	supervisors, err := agent.NewSupervisorFactory(&fakeLLM{reply: "ok"}, services.NewThreadService(), agent.NewDispatcher(), "")
	require.NoError(t, err)

	var engineCalls, bridgeCalls int
	handler := NewAgentMessageHandler(execution.NewManager(30*time.Minute), factory,
		func(execCtx *execution.UserExecutionContext) (*agent.SupervisorFactory, error) {
			engineCalls++
			require.NotNil(t, execCtx)
			return supervisors, nil
		},
		func(*execution.UserExecutionContext) (Notifier, error) {
			bridgeCalls++
			return notifier, nil
		})

	expectTurn(mock)
	expectTurn(mock)

	conn := testConn("user-1")
	for i := 0; i < 2; i++ {
		ok := handler.HandleMessage(context.Background(), conn, &InboundMessage{
			Type:    TypeUserMessage,
			Payload: map[string]any{"message": "hello"},
		})
		require.True(t, ok)
	}

	// Every message goes back through the providers, so a mode change is
	// picked up on the very next message.
	assert.Equal(t, 2, engineCalls)
	assert.Equal(t, 2, bridgeCalls)
}

func TestHandleMessage_EngineResolverFailureNotifiesClient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := &fakeNotifier{}
	factory := database.NewSessionFactory(database.NewClientFromDB(db, db), nil)
	handler := NewAgentMessageHandler(execution.NewManager(30*time.Minute), factory,
		func(*execution.UserExecutionContext) (*agent.SupervisorFactory, error) {
			return nil, errors.New("engine unavailable")
		},
		func(*execution.UserExecutionContext) (Notifier, error) { return notifier, nil })

	mock.ExpectBegin()
	mock.ExpectRollback()

	ok := handler.HandleMessage(context.Background(), testConn("user-1"), &InboundMessage{
		Type:    TypeUserMessage,
		Payload: map[string]any{"message": "hello"},
	})
	require.False(t, ok)

	errs := notifier.byType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, int64(1), handler.Stats().ErrorCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessage_ConcurrentUsersStayIsolated(t *testing.T) {
	handler, notifier, mock := newTestHandler(t, &fakeLLM{reply: "done"})

	const users = 10
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < users; i++ {
		expectTurn(mock)
	}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &Connection{
				ID:       fmt.Sprintf("wsconn_test_%d", i),
				ClientID: fmt.Sprintf("wsclient_test_%d", i),
				UserID:   fmt.Sprintf("user-%d", i),
			}
			ok := handler.HandleMessage(context.Background(), conn, &InboundMessage{
				Type:    TypeUserMessage,
				Payload: map[string]any{"message": "hello"},
			})
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	responses := notifier.byType(EventAgentResponse)
	require.Len(t, responses, users)
	seen := make(map[string]bool, users)
	for _, resp := range responses {
		assert.False(t, seen[resp.RunID], "run id shared across users")
		seen[resp.RunID] = true
	}

	stats := handler.Stats()
	assert.Equal(t, int64(users), stats.MessagesProcessed)
	assert.Equal(t, int64(users), stats.UserMessages)
	assert.Equal(t, int64(0), stats.ErrorCount)
}
