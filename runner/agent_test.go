package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voyagent/voyagent/config"
	"github.com/voyagent/voyagent/provider"
	"github.com/voyagent/voyagent/provider/mock"
)

type fakeTool struct {
	name  string
	calls []map[string]any
	fn    func(ctx context.Context, args map[string]any) (any, error)
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Definition() provider.ToolDef {
	return provider.ToolDef{Name: f.name, Parameters: map[string]any{"type": "object"}}
}

func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	f.calls = append(f.calls, args)
	if f.fn != nil {
		return f.fn(ctx, args)
	}
	return map[string]any{"success": true}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRunConfig(t *testing.T) config.RunConfig {
	t.Helper()
	cfg := config.DefaultRunConfig()
	cfg.SaveAgentHistoryPath = t.TempDir()
	cfg.SaveRecordingPath = ""
	cfg.SaveTracePath = ""
	return cfg
}

func TestRunAgentCompletes(t *testing.T) {
	p := mock.New()
	p.Queue(&provider.Response{
		Content: "navigating first",
		ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "probe", Arguments: map[string]any{"url": "https://example.com"}},
		},
	})
	p.Queue(&provider.Response{Content: "The answer is 42."})

	tool := &fakeTool{name: "probe"}
	cfg := testRunConfig(t)
	cfg.Task = "find the answer"

	res, err := runAgent(context.Background(), p, []Tool{tool}, cfg, testLogger())
	if err != nil {
		t.Fatalf("runAgent: %v", err)
	}
	if res.FinalResult != "The answer is 42." {
		t.Fatalf("final result = %q", res.FinalResult)
	}
	if len(tool.calls) != 1 {
		t.Fatalf("tool executed %d times, want 1", len(tool.calls))
	}
	if !strings.Contains(res.ModelThoughts, "navigating first") {
		t.Fatalf("thoughts missing step text: %q", res.ModelThoughts)
	}
	if !strings.Contains(res.ModelActions, "probe") {
		t.Fatalf("actions missing tool name: %q", res.ModelActions)
	}

	// history file should exist and carry both steps
	if res.HistoryFile == "" {
		t.Fatal("no history file written")
	}
	b, err := os.ReadFile(res.HistoryFile)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	var hist runHistory
	if err := json.Unmarshal(b, &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Steps) != 2 {
		t.Fatalf("history has %d steps, want 2", len(hist.Steps))
	}
	if hist.FinalResult != "The answer is 42." {
		t.Fatalf("history final result = %q", hist.FinalResult)
	}
}

func TestRunAgentCapsActionsPerStep(t *testing.T) {
	p := mock.New()
	p.Queue(&provider.Response{
		ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "probe"},
			{ID: "c2", Name: "probe"},
			{ID: "c3", Name: "probe"},
		},
	})
	p.Queue(&provider.Response{Content: "done"})

	tool := &fakeTool{name: "probe"}
	cfg := testRunConfig(t)
	cfg.MaxActionsPerStep = 2

	if _, err := runAgent(context.Background(), p, []Tool{tool}, cfg, testLogger()); err != nil {
		t.Fatalf("runAgent: %v", err)
	}
	if len(tool.calls) != 2 {
		t.Fatalf("tool executed %d times, want 2", len(tool.calls))
	}
}

func TestRunAgentCancelledBeforeWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runAgent(ctx, mock.New("unused"), nil, testRunConfig(t), testLogger())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestRunAgentCancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := mock.New()
	p.Queue(&provider.Response{
		Content:   "partial progress",
		ToolCalls: []provider.ToolCall{{ID: "c1", Name: "probe"}},
	})

	tool := &fakeTool{name: "probe", fn: func(context.Context, map[string]any) (any, error) {
		cancel()
		return map[string]any{"success": true}, nil
	}}

	res, err := runAgent(ctx, p, []Tool{tool}, testRunConfig(t), testLogger())
	if err != nil {
		t.Fatalf("runAgent: %v", err)
	}
	if res.FinalResult != "partial progress" {
		t.Fatalf("partial result = %q", res.FinalResult)
	}
}

func TestRunAgentStepLimit(t *testing.T) {
	p := mock.New()
	p.Queue(&provider.Response{
		Content:   "still going",
		ToolCalls: []provider.ToolCall{{ID: "c1", Name: "probe"}},
	})

	tool := &fakeTool{name: "probe"}
	cfg := testRunConfig(t)
	cfg.MaxSteps = 3

	res, err := runAgent(context.Background(), p, []Tool{tool}, cfg, testLogger())
	if err != nil {
		t.Fatalf("runAgent: %v", err)
	}
	if res.Errors != "max steps reached" {
		t.Fatalf("errors = %q", res.Errors)
	}
	if len(tool.calls) != 3 {
		t.Fatalf("tool executed %d times, want 3", len(tool.calls))
	}
}

func TestRunAgentProviderError(t *testing.T) {
	p := mock.New()
	p.FailWith(errors.New("boom"))

	_, err := runAgent(context.Background(), p, nil, testRunConfig(t), testLogger())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want provider error", err)
	}
}

func TestRunAgentUnknownTool(t *testing.T) {
	p := mock.New()
	p.Queue(&provider.Response{
		ToolCalls: []provider.ToolCall{{ID: "c1", Name: "missing"}},
	})
	p.Queue(&provider.Response{Content: "done"})

	res, err := runAgent(context.Background(), p, nil, testRunConfig(t), testLogger())
	if err != nil {
		t.Fatalf("runAgent: %v", err)
	}
	if res.FinalResult != "done" {
		t.Fatalf("final result = %q", res.FinalResult)
	}
	// the unknown-tool message goes back to the model as a tool result
	last := p.Calls[len(p.Calls)-1]
	found := false
	for _, m := range last {
		if m.Role == provider.RoleTool && strings.Contains(m.Content, "unknown tool") {
			found = true
		}
	}
	if !found {
		t.Fatal("unknown tool result not fed back to model")
	}
}

func TestLatestFile(t *testing.T) {
	if got := latestFile(""); got != "" {
		t.Fatalf("latestFile(\"\") = %q", got)
	}

	dir := t.TempDir()
	if got := latestFile(dir); got != "" {
		t.Fatalf("latestFile(empty dir) = %q", got)
	}

	old := filepath.Join(dir, "old.webm")
	if err := os.WriteFile(old, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	newer := filepath.Join(dir, "new.webm")
	if err := os.WriteFile(newer, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	if got := latestFile(dir); got != newer {
		t.Fatalf("latestFile = %q, want %q", got, newer)
	}
}
