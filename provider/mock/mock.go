// Package mock provides a scripted LLM provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/voyagent/voyagent/provider"
)

const defaultContent = "Task acknowledged. Working on it."

// Provider implements provider.Provider for testing. It replays scripted
// responses in order and can simulate tool calls.
type Provider struct {
	mu        sync.Mutex
	responses []*provider.Response
	idx       int
	err       error

	// Calls records every Chat invocation's messages for assertions.
	Calls [][]provider.Message
}

// New creates a Provider that cycles through text responses.
func New(texts ...string) *Provider {
	p := &Provider{}
	for _, t := range texts {
		p.responses = append(p.responses, &provider.Response{Content: t})
	}
	return p
}

// Queue appends a full scripted response, tool calls included.
func (m *Provider) Queue(resp *provider.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// FailWith makes every subsequent Chat call return err.
func (m *Provider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Name returns the provider identifier.
func (m *Provider) Name() string { return "mock" }

// Chat returns the next scripted response, cycling through the queue.
func (m *Provider) Chat(_ context.Context, messages []provider.Message, _ []provider.ToolDef) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, messages)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &provider.Response{Content: defaultContent}, nil
	}
	resp := m.responses[m.idx%len(m.responses)]
	m.idx++
	return resp, nil
}
