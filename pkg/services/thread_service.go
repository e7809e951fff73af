package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/models"
)

// ThreadService persists threads, runs, and messages. Every statement runs
// through a caller-supplied request-scoped session; the service itself holds
// no database handle, so it cannot accidentally outlive a request's session.
type ThreadService struct{}

// NewThreadService creates a new ThreadService
func NewThreadService() *ThreadService {
	return &ThreadService{}
}

// EnsureThread creates the thread row if it does not exist yet and bumps
// updated_at if it does.
func (t *ThreadService) EnsureThread(ctx context.Context, session *database.RequestScopedSession, thread models.Thread) error {
	if thread.ID == "" {
		return NewValidationError("thread_id", "required")
	}
	if thread.UserID == "" {
		return NewValidationError("user_id", "required")
	}

	_, err := session.ExecContext(ctx, `
		INSERT INTO threads (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE SET updated_at = now()`,
		thread.ID, thread.UserID, nullable(thread.Title))
	if err != nil {
		return fmt.Errorf("failed to ensure thread %s: %w", thread.ID, err)
	}
	return nil
}

// EnsureRun creates the run row if it does not exist yet.
func (t *ThreadService) EnsureRun(ctx context.Context, session *database.RequestScopedSession, run models.Run) error {
	if run.ID == "" {
		return NewValidationError("run_id", "required")
	}
	if run.ThreadID == "" {
		return NewValidationError("thread_id", "required")
	}

	status := run.Status
	if status == "" {
		status = models.RunStatusActive
	}

	_, err := session.ExecContext(ctx, `
		INSERT INTO runs (id, thread_id, user_id, status, started_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO NOTHING`,
		run.ID, run.ThreadID, run.UserID, status)
	if err != nil {
		return fmt.Errorf("failed to ensure run %s: %w", run.ID, err)
	}
	return nil
}

// CompleteRun marks a run terminal with the given status.
func (t *ThreadService) CompleteRun(ctx context.Context, session *database.RequestScopedSession, runID, status string) error {
	res, err := session.ExecContext(ctx, `
		UPDATE runs SET status = $2, ended_at = now() WHERE id = $1`,
		runID, status)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage persists one conversation message.
func (t *ThreadService) AppendMessage(ctx context.Context, session *database.RequestScopedSession, msg models.Message) error {
	if msg.ID == "" {
		return NewValidationError("message_id", "required")
	}
	if msg.ThreadID == "" {
		return NewValidationError("thread_id", "required")
	}
	if msg.RequestID == "" {
		return NewValidationError("request_id", "required")
	}
	if msg.Role == "" {
		return NewValidationError("role", "required")
	}
	if msg.Content == "" {
		return NewValidationError("content", "required")
	}

	_, err := session.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, run_id, request_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		msg.ID, msg.ThreadID, nullable(msg.RunID), msg.RequestID, msg.Role, msg.Content)
	if err != nil {
		return fmt.Errorf("failed to append message %s: %w", msg.ID, err)
	}
	return nil
}

// GetThread returns a thread with its messages in chronological order.
func (t *ThreadService) GetThread(ctx context.Context, session *database.RequestScopedSession, threadID string) (*models.ThreadDetail, error) {
	row, err := session.QueryRowContext(ctx, `
		SELECT id, user_id, COALESCE(title, ''), created_at, updated_at
		FROM threads WHERE id = $1`, threadID)
	if err != nil {
		return nil, err
	}

	var thread models.Thread
	if err := row.Scan(&thread.ID, &thread.UserID, &thread.Title, &thread.CreatedAt, &thread.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thread %s: %w", threadID, err)
	}

	rows, err := session.QueryContext(ctx, `
		SELECT id, thread_id, COALESCE(run_id, ''), request_id, role, content, created_at
		FROM messages WHERE thread_id = $1 ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	detail := &models.ThreadDetail{Thread: thread, Messages: []models.Message{}}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.RunID, &msg.RequestID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		detail.Messages = append(detail.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return detail, nil
}

// ListThreads lists a user's threads, newest first, with pagination.
func (t *ThreadService) ListThreads(ctx context.Context, session *database.RequestScopedSession, userID string, limit, offset int) (*models.ThreadListResponse, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	row, err := session.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM threads WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	var total int
	if err := row.Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count threads: %w", err)
	}

	rows, err := session.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(title, ''), created_at, updated_at
		FROM threads WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	resp := &models.ThreadListResponse{
		Threads:    []models.Thread{},
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}
	for rows.Next() {
		var thread models.Thread
		if err := rows.Scan(&thread.ID, &thread.UserID, &thread.Title, &thread.CreatedAt, &thread.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		resp.Threads = append(resp.Threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate threads: %w", err)
	}
	return resp, nil
}

// RecordExchange persists a user message and the assistant's reply in one
// call, creating the thread and run rows on first contact.
func (t *ThreadService) RecordExchange(ctx context.Context, session *database.RequestScopedSession, userMsg, assistantMsg models.Message) error {
	if err := t.EnsureThread(ctx, session, models.Thread{
		ID:     userMsg.ThreadID,
		UserID: session.Metadata().UserID,
	}); err != nil {
		return err
	}
	if userMsg.RunID != "" {
		if err := t.EnsureRun(ctx, session, models.Run{
			ID:       userMsg.RunID,
			ThreadID: userMsg.ThreadID,
			UserID:   session.Metadata().UserID,
		}); err != nil {
			return err
		}
	}
	if err := t.AppendMessage(ctx, session, userMsg); err != nil {
		return err
	}
	return t.AppendMessage(ctx, session, assistantMsg)
}

// PurgeThreadsOlderThan deletes threads whose last activity predates cutoff.
// Runs and messages go with them via cascade. Returns the number of threads
// removed.
func (t *ThreadService) PurgeThreadsOlderThan(ctx context.Context, session *database.RequestScopedSession, cutoff time.Time) (int64, error) {
	res, err := session.ExecContext(ctx,
		`DELETE FROM threads WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old threads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged threads: %w", err)
	}
	return n, nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
