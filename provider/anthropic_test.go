package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key=test-key, got %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("unexpected anthropic-version %s", r.Header.Get("anthropic-version"))
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "claude-3-5-sonnet-20241022" {
			t.Errorf("model = %s, want default", req.Model)
		}
		if req.Temperature != 0.7 {
			t.Errorf("temperature = %v, want 0.7", req.Temperature)
		}
		if req.System != "You are a browser agent." {
			t.Errorf("system = %q", req.System)
		}
		if len(req.Messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(req.Messages))
		}

		resp := anthropicResponse{
			ID:   "msg_123",
			Type: "message",
			Content: []anthropicRespItem{
				{Type: "text", Text: "Navigating now."},
				{Type: "tool_use", ID: "tu_1", Name: "browser_navigate",
					Input: map[string]any{"url": "https://example.com"}},
			},
			Usage: anthropicUsage{InputTokens: 15, OutputTokens: 8},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewAnthropic(Options{
		APIKey:      "test-key",
		BaseURL:     server.URL,
		Temperature: 0.7,
	})

	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are a browser agent."},
		{Role: RoleUser, Content: "go to example.com"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Navigating now." {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "browser_navigate" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["url"] != "https://example.com" {
		t.Errorf("tool args = %v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.InputTokens != 15 || resp.Usage.OutputTokens != 8 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestAnthropicChat_ToolResultMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// Tool results are wrapped into user-role structured content.
		last := req.Messages[len(req.Messages)-1]
		if last.Role != "user" {
			t.Errorf("tool result role = %s, want user", last.Role)
		}
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicRespItem{{Type: "text", Text: "done"}},
		})
	}))
	defer server.Close()

	p := NewAnthropic(Options{APIKey: "k", BaseURL: server.URL})
	_, err := p.Chat(context.Background(), []Message{
		{Role: RoleUser, Content: "go"},
		{Role: RoleAssistant, Content: "clicking"},
		{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "tu_1"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestAnthropicChat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	p := NewAnthropic(Options{APIKey: "k", BaseURL: server.URL})
	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestNewFactory(t *testing.T) {
	for _, name := range []string{"anthropic", "openai", "mock"} {
		p, err := New(name, Options{APIKey: "k"})
		if err != nil {
			t.Fatalf("New(%s): %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("Name = %s, want %s", p.Name(), name)
		}
	}
	if _, err := New("gemini", Options{}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestOfflineProviderChat(t *testing.T) {
	p, err := New("mock", Options{})
	if err != nil {
		t.Fatalf("New(mock): %v", err)
	}
	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "ping"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "mock response to: ping" {
		t.Errorf("Content = %q", resp.Content)
	}
}
