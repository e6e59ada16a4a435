package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/voyagent/voyagent/config"
	"github.com/voyagent/voyagent/provider"
	"github.com/voyagent/voyagent/task"
)

// SearchParams controls a deep-search run.
type SearchParams struct {
	ResearchTask         string `json:"research_task"`
	MaxSearchIterations  int    `json:"max_search_iterations"`
	MaxQueryPerIteration int    `json:"max_query_per_iteration"`
}

const searchEngineURL = "https://www.bing.com/search?q="

const queryPrompt = `You are a research assistant. Given a research task and the
findings gathered so far, produce the next web search queries, one per line,
nothing else. Produce at most %d queries. If the findings already cover the
task, reply with the single word DONE.`

const synthesisPrompt = `You are a research assistant. Write a thorough markdown
report answering the research task from the findings below. Use sections and
cite the source queries where relevant.`

// finding is one extracted search result kept for the synthesis pass.
type finding struct {
	Query   string `json:"query"`
	Content string `json:"content"`
}

// runDeepSearch performs iterative query generation and browsing, then a
// synthesis pass producing a markdown report. Cancellation semantics match
// runAgent: ErrCancelled before any iteration completed, otherwise a partial
// report built from the findings gathered so far.
func runDeepSearch(ctx context.Context, p provider.Provider, tools []Tool, params SearchParams, cfg config.RunConfig, logger *slog.Logger) (*task.SearchResult, error) {
	if params.MaxSearchIterations <= 0 {
		params.MaxSearchIterations = 3
	}
	if params.MaxQueryPerIteration <= 0 {
		params.MaxQueryPerIteration = 1
	}

	var nav Tool
	for _, t := range tools {
		if t.Name() == "navigate" {
			nav = t
			break
		}
	}
	if nav == nil {
		return nil, fmt.Errorf("deep search requires the navigate tool")
	}

	var findings []finding
	iterations := 0

	for iter := 1; iter <= params.MaxSearchIterations; iter++ {
		if ctx.Err() != nil {
			break
		}

		queries, err := nextQueries(ctx, p, params, findings)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if iterations == 0 {
				return nil, fmt.Errorf("generate queries: %w", err)
			}
			break
		}
		if len(queries) == 0 {
			logger.Info("deep search converged", "iterations", iterations)
			break
		}

		for _, q := range queries {
			if ctx.Err() != nil {
				break
			}
			out, err := nav.Execute(ctx, map[string]any{
				"url": searchEngineURL + url.QueryEscape(q),
			})
			if err != nil {
				logger.Warn("deep search query failed", "query", q, "error", err)
				continue
			}
			findings = append(findings, finding{Query: q, Content: pageText(out)})
		}
		iterations++
	}

	if ctx.Err() != nil && iterations == 0 {
		return nil, ErrCancelled
	}

	md := synthesize(ctx, p, params, findings, logger)
	path := writeReport(cfg.SaveAgentHistoryPath, md, logger)
	return &task.SearchResult{MarkdownContent: md, FilePath: path}, nil
}

// nextQueries asks the model for the next round of search queries.
func nextQueries(ctx context.Context, p provider.Provider, params SearchParams, findings []finding) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("Research task: ")
	sb.WriteString(params.ResearchTask)
	if len(findings) > 0 {
		sb.WriteString("\n\nFindings so far:\n")
		for _, f := range findings {
			sb.WriteString("- [")
			sb.WriteString(f.Query)
			sb.WriteString("] ")
			sb.WriteString(truncate(f.Content, 500))
			sb.WriteString("\n")
		}
	}

	resp, err := p.Chat(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: fmt.Sprintf(queryPrompt, params.MaxQueryPerIteration)},
		{Role: provider.RoleUser, Content: sb.String()},
	}, nil)
	if err != nil {
		return nil, err
	}

	var queries []string
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "DONE") {
			return nil, nil
		}
		queries = append(queries, line)
		if len(queries) == params.MaxQueryPerIteration {
			break
		}
	}
	return queries, nil
}

// synthesize produces the final markdown report. When the context is already
// cancelled it falls back to a raw dump of the findings instead of a model
// pass.
func synthesize(ctx context.Context, p provider.Provider, params SearchParams, findings []finding, logger *slog.Logger) string {
	heading := "# " + cases.Title(language.English).String(params.ResearchTask) + "\n\n"

	if ctx.Err() == nil && len(findings) > 0 {
		var sb strings.Builder
		sb.WriteString("Research task: ")
		sb.WriteString(params.ResearchTask)
		sb.WriteString("\n\nFindings:\n")
		for _, f := range findings {
			sb.WriteString("\n## Query: ")
			sb.WriteString(f.Query)
			sb.WriteString("\n")
			sb.WriteString(f.Content)
			sb.WriteString("\n")
		}
		resp, err := p.Chat(ctx, []provider.Message{
			{Role: provider.RoleSystem, Content: synthesisPrompt},
			{Role: provider.RoleUser, Content: sb.String()},
		}, nil)
		if err == nil {
			return heading + resp.Content
		}
		logger.Warn("deep search synthesis failed, using raw findings", "error", err)
	}

	var sb strings.Builder
	sb.WriteString(heading)
	if len(findings) == 0 {
		sb.WriteString("No findings were gathered.\n")
	}
	for _, f := range findings {
		sb.WriteString("## ")
		sb.WriteString(f.Query)
		sb.WriteString("\n\n")
		sb.WriteString(f.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func pageText(out any) string {
	m, ok := out.(map[string]any)
	if !ok {
		b, _ := json.Marshal(out)
		return string(b)
	}
	text, _ := m["text"].(string)
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// writeReport saves the markdown report and returns its path, or "" when the
// directory is unset or the write fails.
func writeReport(dir, md string, logger *slog.Logger) string {
	if dir == "" {
		return ""
	}
	name := fmt.Sprintf("deep_search_%s_%s.md", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		logger.Warn("write deep search report", "path", path, "error", err)
		return ""
	}
	return path
}
