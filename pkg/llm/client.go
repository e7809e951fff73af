// Package llm wraps the LLM provider behind a small Manager interface so the
// rest of the backend never touches provider SDK types directly.
package llm

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/netra-ai/netra/pkg/faults"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Manager generates completions for a conversation. Implemented by
// OpenAIManager; faked in tests.
type Manager interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Options configures the OpenAI-backed manager.
type Options struct {
	Model       string
	BaseURL     string
	APIKeyEnv   string
	Temperature *float32
	MaxTokens   int
}

// OpenAIManager talks to an OpenAI-compatible endpoint.
type OpenAIManager struct {
	client      *openai.Client
	model       string
	temperature *float32
	maxTokens   int
}

// NewOpenAIManager builds a manager from options. A missing API key is a
// configuration fault: better to fail at startup than on the first user
// message.
func NewOpenAIManager(opts Options) (*OpenAIManager, error) {
	keyEnv := opts.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, faults.Newf(faults.KindConfiguration, faults.CodeServiceMissing,
			"LLM API key env %s is not set", keyEnv).
			WithHint("export " + keyEnv + " or point llm.api_key_env at the right variable")
	}

	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &OpenAIManager{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// Generate sends the conversation and returns the assistant's reply.
func (m *OpenAIManager) Generate(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	if m.temperature != nil {
		req.Temperature = *m.temperature
	}
	if m.maxTokens > 0 {
		req.MaxTokens = m.maxTokens
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("LLM completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
