// Package provider defines the LLM provider interface backing agent runs.
package provider

import (
	"context"
	"fmt"
	"net/http"
)

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"` // for tool results
}

// ToolDef describes a tool the agent can invoke.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Response is a completed provider response.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider is an LLM backend that powers agent reasoning. Runs poll for
// results rather than streaming, so only the blocking Chat form is needed.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string

	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error)
}

// Options configures a provider client. Zero values fall back to
// per-provider defaults.
type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// New constructs a provider client by name. Names correspond to the
// llm_provider field of a run configuration. "mock" answers offline, for
// dry runs without an API key.
func New(name string, opts Options) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropic(opts), nil
	case "openai":
		return NewOpenAI(opts), nil
	case "mock":
		return offlineClient{}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", name)
	}
}

// offlineClient echoes the last user message without touching the network.
type offlineClient struct{}

func (offlineClient) Name() string { return "mock" }

func (offlineClient) Chat(_ context.Context, messages []Message, _ []ToolDef) (*Response, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return &Response{Content: "mock response to: " + messages[i].Content}, nil
		}
	}
	return &Response{Content: "mock response"}, nil
}
