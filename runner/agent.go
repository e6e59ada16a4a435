package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/voyagent/voyagent/config"
	"github.com/voyagent/voyagent/provider"
	"github.com/voyagent/voyagent/task"
)

// ErrCancelled reports a run that was stopped before it produced anything.
var ErrCancelled = errors.New("cancelled")

const agentSystemPrompt = `You are a browser automation agent. You control a web browser
through the provided tools. Work step by step towards the given task. When the
task is complete, reply with the final answer as plain text and no tool calls.`

// stepRecord captures one loop iteration for the run history.
type stepRecord struct {
	Step    int            `json:"step"`
	Thought string         `json:"thought,omitempty"`
	Actions []actionRecord `json:"actions,omitempty"`
}

type actionRecord struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
}

type runHistory struct {
	Task        string       `json:"task"`
	AddInfos    string       `json:"add_infos,omitempty"`
	Steps       []stepRecord `json:"steps"`
	FinalResult string       `json:"final_result,omitempty"`
	Errors      string       `json:"errors,omitempty"`
}

// runAgent drives the provider/tool loop for a single agent run. On
// cancellation it returns whatever was accumulated so far; it returns
// ErrCancelled only when the run was stopped before completing any step.
func runAgent(ctx context.Context, p provider.Provider, tools []Tool, cfg config.RunConfig, logger *slog.Logger) (*task.AgentResult, error) {
	byName := make(map[string]Tool, len(tools))
	defs := make([]provider.ToolDef, 0, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
		defs = append(defs, t.Definition())
	}

	user := "Task: " + cfg.Task
	if cfg.AddInfos != "" {
		user += "\n\nAdditional information: " + cfg.AddInfos
	}
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: agentSystemPrompt},
		{Role: provider.RoleUser, Content: user},
	}

	hist := runHistory{Task: cfg.Task, AddInfos: cfg.AddInfos}
	var thoughts, actions []string

	result := func(final, errMsg string) *task.AgentResult {
		hist.FinalResult = final
		hist.Errors = errMsg
		return &task.AgentResult{
			FinalResult:   final,
			Errors:        errMsg,
			ModelActions:  strings.Join(actions, "\n"),
			ModelThoughts: strings.Join(thoughts, "\n"),
			LatestVideo:   latestFile(cfg.SaveRecordingPath),
			TraceFile:     latestFile(cfg.SaveTracePath),
			HistoryFile:   writeHistory(cfg.SaveAgentHistoryPath, &hist, logger),
		}
	}

	for step := 1; step <= cfg.MaxSteps; step++ {
		if ctx.Err() != nil {
			if len(hist.Steps) == 0 {
				return nil, ErrCancelled
			}
			logger.Info("agent run stopped", "completed_steps", len(hist.Steps))
			return result(partialSummary(thoughts), ""), nil
		}

		resp, err := p.Chat(ctx, messages, defs)
		if err != nil {
			if ctx.Err() != nil {
				if len(hist.Steps) == 0 {
					return nil, ErrCancelled
				}
				return result(partialSummary(thoughts), ""), nil
			}
			return result("", fmt.Sprintf("provider error: %v", err)), fmt.Errorf("provider chat: %w", err)
		}

		rec := stepRecord{Step: step, Thought: resp.Content}
		if resp.Content != "" {
			thoughts = append(thoughts, resp.Content)
		}

		if len(resp.ToolCalls) == 0 {
			hist.Steps = append(hist.Steps, rec)
			logger.Info("agent run finished", "steps", step)
			return result(resp.Content, ""), nil
		}

		calls := resp.ToolCalls
		if cfg.MaxActionsPerStep > 0 && len(calls) > cfg.MaxActionsPerStep {
			calls = calls[:cfg.MaxActionsPerStep]
		}

		messages = append(messages, provider.Message{
			Role:    provider.RoleAssistant,
			Content: resp.Content,
		})

		for _, tc := range calls {
			out := execTool(ctx, byName, tc)
			actions = append(actions, tc.Name)
			rec.Actions = append(rec.Actions, actionRecord{Name: tc.Name, Args: tc.Arguments, Result: out})
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    out,
				ToolCallID: tc.ID,
			})
		}
		hist.Steps = append(hist.Steps, rec)
	}

	logger.Warn("agent run hit step limit", "max_steps", cfg.MaxSteps)
	return result(partialSummary(thoughts), "max steps reached"), nil
}

func execTool(ctx context.Context, byName map[string]Tool, tc provider.ToolCall) string {
	t, ok := byName[tc.Name]
	if !ok {
		return fmt.Sprintf("unknown tool %q", tc.Name)
	}
	out, err := t.Execute(ctx, tc.Arguments)
	if err != nil {
		return fmt.Sprintf("tool error: %v", err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(b)
}

// partialSummary picks the last model thought as the result of an
// interrupted run.
func partialSummary(thoughts []string) string {
	if len(thoughts) == 0 {
		return ""
	}
	return thoughts[len(thoughts)-1]
}

// writeHistory persists the run history as JSON and returns the file path,
// or "" when the directory is unset or the write fails.
func writeHistory(dir string, h *runHistory, logger *slog.Logger) string {
	if dir == "" {
		return ""
	}
	b, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		logger.Warn("marshal run history", "error", err)
		return ""
	}
	path := filepath.Join(dir, uuid.NewString()+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		logger.Warn("write run history", "path", path, "error", err)
		return ""
	}
	return path
}

// latestFile returns the most recently modified regular file in dir, or ""
// when dir is unset or empty.
func latestFile(dir string) string {
	if dir == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestMod int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestMod {
			best = filepath.Join(dir, e.Name())
			bestMod = mod
		}
	}
	return best
}
