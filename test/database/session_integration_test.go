package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/ident"
	"github.com/netra-ai/netra/pkg/models"
	"github.com/netra-ai/netra/pkg/services"
	"github.com/netra-ai/netra/test/util"
)

func userMessage(userID, threadID, runID, requestID, content string) models.Message {
	return models.Message{
		ID:        ident.GenerateMessageID(userID),
		ThreadID:  threadID,
		RunID:     runID,
		RequestID: requestID,
		Role:      models.MessageRoleUser,
		Content:   content,
	}
}

func TestWithSession_CommitPersists(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	factory := database.NewSessionFactory(client, nil)
	threads := services.NewThreadService()
	ctx := context.Background()

	threadID := ident.GenerateThreadID("user-1")
	runID := ident.GenerateRunID("user-1")
	requestID := ident.GenerateRequestID("test")

	err := factory.WithSession(ctx, "user-1", requestID, func(session *database.RequestScopedSession) error {
		if err := threads.EnsureThread(ctx, session, models.Thread{ID: threadID, UserID: "user-1"}); err != nil {
			return err
		}
		if err := threads.EnsureRun(ctx, session, models.Run{ID: runID, ThreadID: threadID, UserID: "user-1"}); err != nil {
			return err
		}
		return threads.AppendMessage(ctx, session, userMessage("user-1", threadID, runID, requestID, "hello"))
	})
	require.NoError(t, err)

	// Visible from a fresh session after commit.
	err = factory.WithSession(ctx, "user-1", ident.GenerateRequestID("test"), func(session *database.RequestScopedSession) error {
		detail, err := threads.GetThread(ctx, session, threadID)
		if err != nil {
			return err
		}
		require.Len(t, detail.Messages, 1)
		assert.Equal(t, "hello", detail.Messages[0].Content)
		return nil
	})
	require.NoError(t, err)
}

func TestWithSession_ErrorRollsBackEverything(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	factory := database.NewSessionFactory(client, nil)
	threads := services.NewThreadService()
	ctx := context.Background()

	threadID := ident.GenerateThreadID("user-1")

	err := factory.WithSession(ctx, "user-1", ident.GenerateRequestID("test"), func(session *database.RequestScopedSession) error {
		if err := threads.EnsureThread(ctx, session, models.Thread{ID: threadID, UserID: "user-1"}); err != nil {
			return err
		}
		// Malformed message: missing request id.
		return threads.AppendMessage(ctx, session, models.Message{
			ID: ident.GenerateMessageID("user-1"), ThreadID: threadID,
			Role: models.MessageRoleUser, Content: "orphan",
		})
	})
	require.Error(t, err)

	// The thread insert must have rolled back with the failed message.
	err = factory.WithSession(ctx, "user-1", ident.GenerateRequestID("test"), func(session *database.RequestScopedSession) error {
		_, err := threads.GetThread(ctx, session, threadID)
		assert.ErrorIs(t, err, services.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestSession_UseAfterCloseFails(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	factory := database.NewSessionFactory(client, nil)
	ctx := context.Background()

	session, err := factory.Acquire(ctx, "user-1", ident.GenerateRequestID("test"))
	require.NoError(t, err)
	require.NoError(t, session.Close())

	_, err = session.ExecContext(ctx, "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, database.StateClosed, session.State())
}

func TestListThreads_PaginatesAgainstRealData(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	factory := database.NewSessionFactory(client, nil)
	threads := services.NewThreadService()
	ctx := context.Background()

	err := factory.WithSession(ctx, "user-1", ident.GenerateRequestID("test"), func(session *database.RequestScopedSession) error {
		for i := 0; i < 5; i++ {
			threadID := ident.GenerateThreadID("user-1")
			if err := threads.EnsureThread(ctx, session, models.Thread{ID: threadID, UserID: "user-1"}); err != nil {
				return err
			}
		}
		// One thread for a different user, invisible to user-1.
		return threads.EnsureThread(ctx, session, models.Thread{
			ID: ident.GenerateThreadID("user-2"), UserID: "user-2",
		})
	})
	require.NoError(t, err)

	err = factory.WithSession(ctx, "user-1", ident.GenerateRequestID("test"), func(session *database.RequestScopedSession) error {
		page, err := threads.ListThreads(ctx, session, "user-1", 3, 0)
		if err != nil {
			return err
		}
		assert.Equal(t, 5, page.TotalCount)
		assert.Len(t, page.Threads, 3)

		rest, err := threads.ListThreads(ctx, session, "user-1", 3, 3)
		if err != nil {
			return err
		}
		assert.Len(t, rest.Threads, 2)
		return nil
	})
	require.NoError(t, err)
}
