// Package agent hosts the supervisor that drives one conversation turn: it
// validates session isolation, assembles the conversation for the LLM, and
// persists the exchange. Supervisors are per-request objects built by a
// long-lived SupervisorFactory; the factory holds only process-lifetime
// dependencies.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/execution"
	"github.com/netra-ai/netra/pkg/ident"
	"github.com/netra-ai/netra/pkg/llm"
	"github.com/netra-ai/netra/pkg/masking"
	"github.com/netra-ai/netra/pkg/models"
	"github.com/netra-ai/netra/pkg/services"
)

const defaultSystemPrompt = "You are Netra, a helpful assistant. Answer clearly and concisely."

// historyLimit caps how many prior messages are replayed to the model.
const historyLimit = 50

// maxToolRounds caps tool-call round trips within one turn so a looping
// model cannot spin forever.
const maxToolRounds = 3

// SupervisorFactory builds per-request supervisors. Safe for concurrent use.
type SupervisorFactory struct {
	llm          llm.Manager
	threads      *services.ThreadService
	tools        *Dispatcher
	masker       *masking.Service
	systemPrompt string
}

// NewSupervisorFactory wires the factory with process-lifetime dependencies.
// Every dependency is required: a missing one means the host application
// never finished assembling its shared infrastructure, which is a startup
// integrity problem to surface here, not paper over with a stub.
func NewSupervisorFactory(manager llm.Manager, threads *services.ThreadService, tools *Dispatcher, systemPrompt string) (*SupervisorFactory, error) {
	if manager == nil {
		return nil, fmt.Errorf("LLM manager is required")
	}
	if threads == nil {
		return nil, fmt.Errorf("thread service is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &SupervisorFactory{
		llm:          manager,
		threads:      threads,
		tools:        tools,
		masker:       masking.NewService(nil),
		systemPrompt: systemPrompt,
	}, nil
}

// NewSupervisor binds a supervisor to one execution context and its session.
// The session is checked before anything else: a session that was stored
// globally, lost its request-scoped tag, or belongs to another user is
// refused outright.
func (f *SupervisorFactory) NewSupervisor(execCtx *execution.UserExecutionContext, session *database.RequestScopedSession) (*Supervisor, error) {
	if execCtx == nil {
		return nil, fmt.Errorf("execution context is required")
	}
	if session == nil {
		return nil, fmt.Errorf("database session is required")
	}
	if err := session.ValidateRequestScoped(execCtx.UserID); err != nil {
		return nil, fmt.Errorf("refusing session for request %s: %w", execCtx.RequestID, err)
	}
	return &Supervisor{
		execCtx:      execCtx,
		session:      session,
		llm:          f.llm,
		threads:      f.threads,
		tools:        f.tools,
		masker:       f.masker,
		systemPrompt: f.systemPrompt,
	}, nil
}

// Supervisor executes conversation turns for exactly one request. It is not
// safe for reuse across requests and must be discarded when the request ends.
type Supervisor struct {
	execCtx      *execution.UserExecutionContext
	session      *database.RequestScopedSession
	llm          llm.Manager
	threads      *services.ThreadService
	tools        *Dispatcher
	masker       *masking.Service
	systemPrompt string
}

// Context returns the execution context this supervisor is bound to.
func (s *Supervisor) Context() *execution.UserExecutionContext {
	return s.execCtx
}

// ProcessUserMessage runs one turn: replay history, generate a reply, persist
// both sides of the exchange. The reply is returned for delivery.
func (s *Supervisor) ProcessUserMessage(ctx context.Context, content string) (string, error) {
	// Scrub pasted credentials before anything leaves this function: the
	// masked form is what the LLM sees and what lands in the database.
	content = s.masker.MaskString(content)

	history, err := s.loadHistory(ctx)
	if err != nil {
		return "", err
	}

	conversation := make([]llm.Message, 0, len(history)+2)
	conversation = append(conversation, llm.Message{Role: llm.RoleSystem, Content: s.prompt()})
	conversation = append(conversation, history...)
	conversation = append(conversation, llm.Message{Role: llm.RoleUser, Content: content})

	reply, err := s.generate(ctx, conversation)
	if err != nil {
		return "", fmt.Errorf("agent turn failed for request %s: %w", s.execCtx.RequestID, err)
	}

	userMsg := models.Message{
		ID:        ident.GenerateMessageID(s.execCtx.UserID),
		ThreadID:  s.execCtx.ThreadID,
		RunID:     s.execCtx.RunID,
		RequestID: s.execCtx.RequestID,
		Role:      models.MessageRoleUser,
		Content:   content,
	}
	assistantMsg := models.Message{
		ID:        ident.GenerateMessageID(s.execCtx.UserID),
		ThreadID:  s.execCtx.ThreadID,
		RunID:     s.execCtx.RunID,
		RequestID: s.execCtx.RequestID,
		Role:      models.MessageRoleAssistant,
		Content:   reply,
	}
	if err := s.threads.RecordExchange(ctx, s.session, userMsg, assistantMsg); err != nil {
		return "", fmt.Errorf("failed to persist exchange for request %s: %w", s.execCtx.RequestID, err)
	}

	slog.Info("Agent turn completed",
		"user_id", s.execCtx.UserID,
		"thread_id", s.execCtx.ThreadID,
		"run_id", s.execCtx.RunID,
		"request_id", s.execCtx.RequestID)
	return reply, nil
}

// prompt is the system prompt, extended with the tool registry when any
// tools are available.
func (s *Supervisor) prompt() string {
	lines := s.tools.Describe()
	if len(lines) == 0 {
		return s.systemPrompt
	}
	var b strings.Builder
	b.WriteString(s.systemPrompt)
	b.WriteString("\n\nYou may call a tool by replying with only a JSON object of the form ")
	b.WriteString(`{"tool": "<name>", "args": {}}. Available tools:`)
	for _, line := range lines {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	return b.String()
}

// generate runs the model, dispatching tool calls until the model produces a
// plain reply or the round budget runs out.
func (s *Supervisor) generate(ctx context.Context, conversation []llm.Message) (string, error) {
	reply, err := s.llm.Generate(ctx, conversation)
	if err != nil {
		return "", err
	}

	for round := 0; round < maxToolRounds; round++ {
		call := parseToolCall(reply)
		if call == nil {
			return reply, nil
		}

		result, err := s.tools.Dispatch(ctx, s.execCtx, call.Tool, call.Args)
		if err != nil {
			// The model sees the failure and can answer without the tool.
			result = "tool failed: " + err.Error()
		}
		slog.Debug("Tool dispatched",
			"tool", call.Tool,
			"request_id", s.execCtx.RequestID,
			"error", err)

		conversation = append(conversation,
			llm.Message{Role: llm.RoleAssistant, Content: reply},
			llm.Message{Role: llm.RoleSystem, Content: "Tool " + call.Tool + " returned: " + result})
		reply, err = s.llm.Generate(ctx, conversation)
		if err != nil {
			return "", err
		}
	}
	return reply, nil
}

// toolCall is the directive shape the model uses to invoke a tool.
type toolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// parseToolCall recognizes a reply that is exactly a tool directive. Anything
// else, including JSON without a tool field, is treated as a plain reply.
func parseToolCall(reply string) *toolCall {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var call toolCall
	if err := json.Unmarshal([]byte(trimmed), &call); err != nil || call.Tool == "" {
		return nil
	}
	return &call
}

// loadHistory replays the persisted thread as LLM messages. A thread that
// does not exist yet is simply an empty history.
func (s *Supervisor) loadHistory(ctx context.Context) ([]llm.Message, error) {
	detail, err := s.threads.GetThread(ctx, s.session, s.execCtx.ThreadID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load history for thread %s: %w", s.execCtx.ThreadID, err)
	}

	msgs := detail.Messages
	if len(msgs) > historyLimit {
		msgs = msgs[len(msgs)-historyLimit:]
	}

	history := make([]llm.Message, 0, len(msgs))
	for _, msg := range msgs {
		history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return history, nil
}
