// Package runner executes admitted tasks against an LLM provider and the
// shared browser, driving them from admission to a terminal registry state.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/voyagent/voyagent/config"
	"github.com/voyagent/voyagent/provider"
	"github.com/voyagent/voyagent/task"
)

// Backend launches one goroutine per admitted task and reports the outcome
// back to the registry.
type Backend struct {
	reg     *task.Registry
	pages   PageProvider
	release func()
	logger  *slog.Logger

	// NewProvider builds the LLM client for a run. Overridable in tests.
	NewProvider func(cfg config.RunConfig) (provider.Provider, error)

	// NewTools builds the action set for a run. Overridable in tests.
	NewTools func(cfg config.RunConfig) []Tool
}

// New creates a Backend. release is invoked after every run to let the
// browser manager reclaim the run's page; pass a no-op when there is no
// browser.
func New(reg *task.Registry, pages PageProvider, release func(), logger *slog.Logger) *Backend {
	if release == nil {
		release = func() {}
	}
	b := &Backend{
		reg:     reg,
		pages:   pages,
		release: release,
		logger:  logger,
	}
	b.NewProvider = b.defaultProvider
	b.NewTools = func(config.RunConfig) []Tool { return BrowserTools(b.pages) }
	return b
}

func (b *Backend) defaultProvider(cfg config.RunConfig) (provider.Provider, error) {
	return provider.New(cfg.LLMProvider, provider.Options{
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModelName,
		BaseURL:     cfg.LLMBaseURL,
		Temperature: cfg.LLMTemperature,
	})
}

// StartAgentRun admits an agent run and begins executing it. The returned id
// is pollable immediately.
func (b *Backend) StartAgentRun(cfg config.RunConfig) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t, err := b.reg.Admit(task.KindAgentRun, cancel)
	if err != nil {
		cancel()
		return "", err
	}

	go func() {
		defer cancel()
		defer b.release()

		p, perr := b.NewProvider(cfg)
		if perr != nil {
			b.reg.Fail(t.ID, perr.Error())
			return
		}

		res, rerr := runAgent(ctx, p, b.NewTools(cfg), cfg, b.logger.With("task_id", t.ID))
		b.finish(t.ID, res, rerr)
	}()

	return t.ID, nil
}

// StartDeepSearch admits a deep-search run and begins executing it.
func (b *Backend) StartDeepSearch(params SearchParams, cfg config.RunConfig) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t, err := b.reg.Admit(task.KindDeepSearch, cancel)
	if err != nil {
		cancel()
		return "", err
	}

	go func() {
		defer cancel()
		defer b.release()

		p, perr := b.NewProvider(cfg)
		if perr != nil {
			b.reg.Fail(t.ID, perr.Error())
			return
		}

		res, rerr := runDeepSearch(ctx, p, b.NewTools(cfg), params, cfg, b.logger.With("task_id", t.ID))
		b.finish(t.ID, res, rerr)
	}()

	return t.ID, nil
}

// finish maps a run outcome onto the registry's terminal transitions.
func (b *Backend) finish(id string, res any, err error) {
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			b.reg.Fail(id, "cancelled")
			return
		}
		b.reg.Fail(id, err.Error())
		return
	}
	payload, merr := json.Marshal(res)
	if merr != nil {
		b.reg.Fail(id, "encode result: "+merr.Error())
		return
	}
	b.reg.Complete(id, payload)
}
