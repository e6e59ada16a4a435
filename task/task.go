// Package task tracks long-running agent work: admission, single-flight
// enforcement, status polling, and cooperative cancellation.
package task

import (
	"encoding/json"
	"errors"
	"time"
)

// Kind identifies the variety of work a task performs.
type Kind string

const (
	KindAgentRun   Kind = "agent_run"
	KindDeepSearch Kind = "deep_search"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusRunning       Status = "running"
	StatusStopRequested Status = "stop_requested"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Registry error taxonomy, mapped to HTTP status codes at the API boundary.
var (
	// ErrConflict is returned when admission is attempted while a task of
	// the same kind is already running.
	ErrConflict = errors.New("a task of this kind is already running")

	// ErrNotFound is returned for status or stop calls referencing an
	// unknown task id or an idle kind.
	ErrNotFound = errors.New("task not found")
)

// Task is one admitted unit of work.
//
// A task is created on admission and mutated exactly once by the execution
// backend when it finishes. Result is immutable once set.
type Task struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Status      Status          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"` // populated only when terminal
	Error       string          `json:"error,omitempty"`  // populated only when failed
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// View returns the poll payload for the task: a minimal {"status":"running"}
// while work is in flight, or the full result merged with the terminal status.
func (t *Task) View() map[string]any {
	if !t.Status.Terminal() {
		// StopRequested is reported as running; stop is advisory and the
		// caller keeps polling until a terminal state appears.
		return map[string]any{"status": string(StatusRunning)}
	}

	view := map[string]any{}
	if len(t.Result) > 0 {
		_ = json.Unmarshal(t.Result, &view)
	}
	view["status"] = string(t.Status)
	if t.Error != "" {
		view["errors"] = t.Error
	}
	return view
}

// AgentResult is the terminal payload of an agent_run task.
type AgentResult struct {
	FinalResult   string `json:"final_result"`
	Errors        string `json:"errors"`
	ModelActions  string `json:"model_actions"`
	ModelThoughts string `json:"model_thoughts"`
	LatestVideo   string `json:"latest_video,omitempty"`
	TraceFile     string `json:"trace_file,omitempty"`
	HistoryFile   string `json:"history_file,omitempty"`
}

// SearchResult is the terminal payload of a deep_search task.
type SearchResult struct {
	MarkdownContent string `json:"markdown_content"`
	FilePath        string `json:"file_path,omitempty"`
}
