// Package models holds the persisted domain types shared across services and
// API responses.
package models

import "time"

// Thread is a logical, possibly long-lived conversation between one user and
// the system.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run statuses.
const (
	RunStatusActive    = "active"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one execution/session within a thread; it may span multiple
// messages.
type Run struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"thread_id"`
	UserID    string     `json:"user_id"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Message roles.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

// Message is one persisted conversation message. RequestID records which
// individual request produced it.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id,omitempty"`
	RequestID string    `json:"request_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadDetail is a thread with its messages, as returned by the read API.
type ThreadDetail struct {
	Thread   Thread    `json:"thread"`
	Messages []Message `json:"messages"`
}

// ThreadListResponse is a paginated thread listing.
type ThreadListResponse struct {
	Threads    []Thread `json:"threads"`
	TotalCount int      `json:"total_count"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
}
