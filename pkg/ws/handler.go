package ws

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/netra-ai/netra/pkg/agent"
	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/execution"
	"github.com/netra-ai/netra/pkg/faults"
)

// HandlerStats is a point-in-time snapshot of handler counters.
type HandlerStats struct {
	MessagesProcessed  int64     `json:"messages_processed"`
	StartAgentRequests int64     `json:"start_agent_requests"`
	UserMessages       int64     `json:"user_messages"`
	ChatMessages       int64     `json:"chat_messages"`
	ErrorCount         int64     `json:"error_count"`
	LastProcessedAt    time.Time `json:"last_processed_at"`
}

// EngineResolver hands back the supervisor factory serving one request. The
// host decides per configured mode whether that is the shared instance or a
// freshly built one; callers cannot tell and must not care.
type EngineResolver func(*execution.UserExecutionContext) (*agent.SupervisorFactory, error)

// BridgeResolver hands back the notifier serving one request, under the same
// mode contract as EngineResolver. A nil context is allowed for failures that
// happen before a context exists.
type BridgeResolver func(*execution.UserExecutionContext) (Notifier, error)

// AgentMessageHandler turns inbound frames into supervised agent turns. One
// instance serves all connections; all per-request state lives in the
// execution context and session created for each message, and the execution
// engine and bridge are resolved through the host's providers on every
// message so mode flags take effect without a restart.
type AgentMessageHandler struct {
	contexts *execution.Manager
	sessions *database.SessionFactory
	engine   EngineResolver
	bridge   BridgeResolver

	messagesProcessed  atomic.Int64
	startAgentRequests atomic.Int64
	userMessages       atomic.Int64
	chatMessages       atomic.Int64
	errorCount         atomic.Int64
	lastProcessedNano  atomic.Int64
}

// NewAgentMessageHandler wires the handler with process-lifetime dependencies.
func NewAgentMessageHandler(contexts *execution.Manager, sessions *database.SessionFactory, engine EngineResolver, bridge BridgeResolver) *AgentMessageHandler {
	return &AgentMessageHandler{
		contexts: contexts,
		sessions: sessions,
		engine:   engine,
		bridge:   bridge,
	}
}

// HandleMessage processes one inbound frame end to end and reports success.
//
// The sequence is strict: validate the payload, resolve the execution
// context, acquire a request-scoped session, resolve a supervisor factory
// through the execution-engine provider, run the turn, commit, notify. A
// failure at any step rejects this one message; the session (if acquired) is
// rolled back and released by the deferred Close, and nothing leaks into the
// next message.
func (h *AgentMessageHandler) HandleMessage(ctx context.Context, conn *Connection, msg *InboundMessage) bool {
	content, err := msg.UserContent()
	if err != nil {
		return h.fail(conn, msg, nil, err)
	}

	execCtx, err := h.contexts.GetUserExecutionContext(conn.UserID, msg.ThreadID, msg.RunID)
	if err != nil {
		return h.fail(conn, msg, nil, err)
	}
	execCtx.WebSocketConnectionID = conn.ID
	execCtx.WebSocketClientID = conn.ClientID
	execCtx.WithMetadata("message_type", msg.Type)

	session, err := h.sessions.GetIsolatedSession(ctx, execCtx.UserID, execCtx.RequestID, execCtx.ThreadID)
	if err != nil {
		return h.fail(conn, msg, execCtx, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("Session close failed",
				"request_id", execCtx.RequestID, "error", err)
		}
	}()

	engine, err := h.engine(execCtx)
	if err != nil {
		return h.fail(conn, msg, execCtx, err)
	}
	supervisor, err := engine.NewSupervisor(execCtx, session)
	if err != nil {
		return h.fail(conn, msg, execCtx, err)
	}

	notifier, err := h.bridge(execCtx)
	if err != nil {
		return h.fail(conn, msg, execCtx, err)
	}

	if msg.Type == TypeStartAgent {
		notifier.NotifyConnection(conn.ID, OutboundEvent{
			Type:      EventAgentStarted,
			ThreadID:  execCtx.ThreadID,
			RunID:     execCtx.RunID,
			RequestID: execCtx.RequestID,
			Timestamp: time.Now().UTC(),
		})
	}

	reply, err := supervisor.ProcessUserMessage(ctx, content)
	if err != nil {
		return h.fail(conn, msg, execCtx, err)
	}

	if err := session.Commit(); err != nil {
		return h.fail(conn, msg, execCtx, err)
	}

	notifier.AssociateThread(conn, execCtx.ThreadID)
	notifier.NotifyConnection(conn.ID, OutboundEvent{
		Type:      EventAgentResponse,
		ThreadID:  execCtx.ThreadID,
		RunID:     execCtx.RunID,
		RequestID: execCtx.RequestID,
		Content:   reply,
		Timestamp: time.Now().UTC(),
	})

	h.record(msg.Type)
	return true
}

// Stats returns a snapshot of the handler counters.
func (h *AgentMessageHandler) Stats() HandlerStats {
	stats := HandlerStats{
		MessagesProcessed:  h.messagesProcessed.Load(),
		StartAgentRequests: h.startAgentRequests.Load(),
		UserMessages:       h.userMessages.Load(),
		ChatMessages:       h.chatMessages.Load(),
		ErrorCount:         h.errorCount.Load(),
	}
	if nano := h.lastProcessedNano.Load(); nano > 0 {
		stats.LastProcessedAt = time.Unix(0, nano).UTC()
	}
	return stats
}

func (h *AgentMessageHandler) record(msgType string) {
	h.messagesProcessed.Add(1)
	switch msgType {
	case TypeStartAgent:
		h.startAgentRequests.Add(1)
	case TypeUserMessage:
		h.userMessages.Add(1)
	case TypeChat:
		h.chatMessages.Add(1)
	}
	h.lastProcessedNano.Store(time.Now().UnixNano())
}

// fail counts the error, best-effort notifies the client, and returns false.
// Notification failures are swallowed here so they never mask the original
// error path.
func (h *AgentMessageHandler) fail(conn *Connection, msg *InboundMessage, execCtx *execution.UserExecutionContext, err error) bool {
	h.errorCount.Add(1)

	code := faults.CodeOf(err)
	if code == "" {
		code = "internal_error"
	}
	slog.Error("WebSocket message failed",
		"connection_id", conn.ID,
		"user_id", conn.UserID,
		"message_type", msg.Type,
		"code", code,
		"error", err)

	notifier, bridgeErr := h.bridge(execCtx)
	if bridgeErr != nil {
		slog.Error("WebSocket bridge unavailable for error notification",
			"connection_id", conn.ID, "error", bridgeErr)
		return false
	}
	notifier.NotifyConnection(conn.ID, OutboundEvent{
		Type:      EventError,
		ThreadID:  msg.ThreadID,
		Code:      code,
		Message:   publicMessage(err),
		Timestamp: time.Now().UTC(),
	})
	return false
}

// publicMessage picks what the client may see. Validation problems are safe
// to echo; everything else gets a generic line so internals stay internal.
func publicMessage(err error) string {
	if faults.IsKind(err, faults.KindValidation) {
		return err.Error()
	}
	return "message could not be processed"
}
