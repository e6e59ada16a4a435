package runner

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/voyagent/voyagent/provider/mock"
)

func searchTool(text string) *fakeTool {
	return &fakeTool{name: "navigate", fn: func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"title": "results", "text": text}, nil
	}}
}

func TestRunDeepSearch(t *testing.T) {
	// one query round, then convergence, then the synthesis pass
	p := mock.New("go concurrency\ngoroutine scheduling", "DONE", "Goroutines are cheap.")

	nav := searchTool("goroutines multiplex onto OS threads")
	cfg := testRunConfig(t)
	params := SearchParams{ResearchTask: "how goroutines work", MaxSearchIterations: 3, MaxQueryPerIteration: 5}

	res, err := runDeepSearch(context.Background(), p, []Tool{nav}, params, cfg, testLogger())
	if err != nil {
		t.Fatalf("runDeepSearch: %v", err)
	}

	if len(nav.calls) != 2 {
		t.Fatalf("navigate called %d times, want 2", len(nav.calls))
	}
	url, _ := nav.calls[0]["url"].(string)
	if !strings.Contains(url, "go+concurrency") {
		t.Fatalf("first search url = %q", url)
	}

	if !strings.HasPrefix(res.MarkdownContent, "# How Goroutines Work") {
		t.Fatalf("report heading missing: %q", res.MarkdownContent[:min(len(res.MarkdownContent), 60)])
	}
	if !strings.Contains(res.MarkdownContent, "Goroutines are cheap.") {
		t.Fatal("synthesis text missing from report")
	}

	if res.FilePath == "" {
		t.Fatal("no report file written")
	}
	b, err := os.ReadFile(res.FilePath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if string(b) != res.MarkdownContent {
		t.Fatal("report file does not match markdown content")
	}
}

func TestRunDeepSearchCapsQueries(t *testing.T) {
	p := mock.New("q1\nq2\nq3\nq4", "DONE", "report")
	nav := searchTool("text")
	params := SearchParams{ResearchTask: "topic", MaxSearchIterations: 2, MaxQueryPerIteration: 2}

	if _, err := runDeepSearch(context.Background(), p, []Tool{nav}, params, testRunConfig(t), testLogger()); err != nil {
		t.Fatalf("runDeepSearch: %v", err)
	}
	if len(nav.calls) != 2 {
		t.Fatalf("navigate called %d times, want 2", len(nav.calls))
	}
}

func TestRunDeepSearchDefaultQueryLimit(t *testing.T) {
	// an omitted max_query_per_iteration caps each round at one query
	p := mock.New("q1\nq2", "DONE", "report")
	nav := searchTool("text")

	if _, err := runDeepSearch(context.Background(), p, []Tool{nav}, SearchParams{ResearchTask: "topic"}, testRunConfig(t), testLogger()); err != nil {
		t.Fatalf("runDeepSearch: %v", err)
	}
	if len(nav.calls) != 1 {
		t.Fatalf("navigate called %d times, want 1", len(nav.calls))
	}
}

func TestRunDeepSearchCancelledBeforeWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runDeepSearch(ctx, mock.New(), []Tool{searchTool("x")}, SearchParams{ResearchTask: "t"}, testRunConfig(t), testLogger())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestRunDeepSearchCancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := mock.New("only query")
	nav := &fakeTool{name: "navigate", fn: func(context.Context, map[string]any) (any, error) {
		cancel()
		return map[string]any{"text": "partial finding"}, nil
	}}

	res, err := runDeepSearch(ctx, p, []Tool{nav}, SearchParams{ResearchTask: "partial topic", MaxSearchIterations: 5}, testRunConfig(t), testLogger())
	if err != nil {
		t.Fatalf("runDeepSearch: %v", err)
	}
	if !strings.Contains(res.MarkdownContent, "partial finding") {
		t.Fatal("partial findings missing from report")
	}
}

func TestRunDeepSearchRequiresNavigate(t *testing.T) {
	_, err := runDeepSearch(context.Background(), mock.New(), nil, SearchParams{ResearchTask: "t"}, testRunConfig(t), testLogger())
	if err == nil {
		t.Fatal("expected error without navigate tool")
	}
}
