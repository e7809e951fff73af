// Package ws carries the WebSocket surface: message types, the connection
// manager, and the agent message handler that turns inbound frames into
// supervised conversation turns.
package ws

import (
	"strings"
	"time"

	"github.com/netra-ai/netra/pkg/faults"
)

// Inbound message types.
const (
	TypeStartAgent  = "START_AGENT"
	TypeUserMessage = "USER_MESSAGE"
	TypeChat        = "CHAT"
	TypePing        = "ping"
)

// Outbound event types.
const (
	EventConnectionEstablished = "connection.established"
	EventAgentResponse         = "agent.response"
	EventAgentStarted          = "agent.started"
	EventError                 = "error"
	EventPong                  = "pong"
)

// InboundMessage is one client frame. Payload keys depend on the type:
// START_AGENT carries user_request; USER_MESSAGE and CHAT carry the text
// under message, content, or text.
type InboundMessage struct {
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	ThreadID  string         `json:"thread_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// OutboundEvent is one server frame.
type OutboundEvent struct {
	Type         string    `json:"type"`
	ThreadID     string    `json:"thread_id,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Content      string    `json:"content,omitempty"`
	Code         string    `json:"code,omitempty"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// payloadString reads a string payload field, tolerating absent maps.
func (m *InboundMessage) payloadString(key string) string {
	if m.Payload == nil {
		return ""
	}
	s, _ := m.Payload[key].(string)
	return s
}

// UserContent extracts the user's text according to the message type.
//
// START_AGENT requires a non-blank user_request. USER_MESSAGE and CHAT take
// the first non-blank of message, content, text. A validation fault is
// returned for blank content or an unrecognized type; the caller rejects the
// single message and touches nothing else.
func (m *InboundMessage) UserContent() (string, error) {
	switch m.Type {
	case TypeStartAgent:
		content := strings.TrimSpace(m.payloadString("user_request"))
		if content == "" {
			return "", faults.New(faults.KindValidation, faults.CodeInvalidPayload,
				"START_AGENT requires a non-empty user_request")
		}
		return content, nil
	case TypeUserMessage, TypeChat:
		for _, key := range []string{"message", "content", "text"} {
			if content := strings.TrimSpace(m.payloadString(key)); content != "" {
				return content, nil
			}
		}
		return "", faults.Newf(faults.KindValidation, faults.CodeInvalidPayload,
			"%s requires message, content, or text", m.Type)
	default:
		return "", faults.Newf(faults.KindValidation, faults.CodeInvalidPayload,
			"unsupported message type %q", m.Type)
	}
}
