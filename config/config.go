// Package config defines the voyagent application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level voyagent configuration.
type Config struct {
	Server   ServerConfig `json:"server" yaml:"server"`
	Dirs     DirConfig    `json:"dirs" yaml:"dirs"`
	Archive  string       `json:"archive_db" yaml:"archive_db"` // SQLite path for finished task records
	LogLevel string       `json:"log_level" yaml:"log_level"`
	Run      RunConfig    `json:"run" yaml:"run"` // default run configuration
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":8000"
}

// DirConfig names the output directories provisioned at startup.
type DirConfig struct {
	Recordings string `json:"recordings" yaml:"recordings"`
	Traces     string `json:"traces" yaml:"traces"`
	History    string `json:"history" yaml:"history"`
}

// RunConfig is the per-run agent configuration. The registry and the HTTP
// layer treat it as opaque pass-through; only the runner interprets it.
type RunConfig struct {
	AgentType            string  `json:"agent_type" yaml:"agent_type"`
	MaxSteps             int     `json:"max_steps" yaml:"max_steps"`
	MaxActionsPerStep    int     `json:"max_actions_per_step" yaml:"max_actions_per_step"`
	UseVision            bool    `json:"use_vision" yaml:"use_vision"`
	ToolCallingMethod    string  `json:"tool_calling_method" yaml:"tool_calling_method"`
	LLMProvider          string  `json:"llm_provider" yaml:"llm_provider"`
	LLMModelName         string  `json:"llm_model_name" yaml:"llm_model_name"`
	LLMNumCtx            int     `json:"llm_num_ctx" yaml:"llm_num_ctx"`
	LLMTemperature       float64 `json:"llm_temperature" yaml:"llm_temperature"`
	LLMBaseURL           string  `json:"llm_base_url" yaml:"llm_base_url"`
	LLMAPIKey            string  `json:"llm_api_key" yaml:"llm_api_key"`
	UseOwnBrowser        bool    `json:"use_own_browser" yaml:"use_own_browser"`
	KeepBrowserOpen      bool    `json:"keep_browser_open" yaml:"keep_browser_open"`
	Headless             bool    `json:"headless" yaml:"headless"`
	DisableSecurity      bool    `json:"disable_security" yaml:"disable_security"`
	EnableRecording      bool    `json:"enable_recording" yaml:"enable_recording"`
	WindowW              int     `json:"window_w" yaml:"window_w"`
	WindowH              int     `json:"window_h" yaml:"window_h"`
	SaveRecordingPath    string  `json:"save_recording_path" yaml:"save_recording_path"`
	SaveTracePath        string  `json:"save_trace_path" yaml:"save_trace_path"`
	SaveAgentHistoryPath string  `json:"save_agent_history_path" yaml:"save_agent_history_path"`
	Task                 string  `json:"task" yaml:"task"`
	AddInfos             string  `json:"add_infos,omitempty" yaml:"add_infos"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
		},
		Dirs: DirConfig{
			Recordings: "./tmp/record_videos",
			Traces:     "./tmp/traces",
			History:    "./tmp/agent_history",
		},
		Archive:  "./tmp/tasks.db",
		LogLevel: "info",
		Run:      DefaultRunConfig(),
	}
}

// DefaultRunConfig returns the default per-run agent configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		AgentType:            "custom",
		MaxSteps:             100,
		MaxActionsPerStep:    10,
		UseVision:            true,
		ToolCallingMethod:    "auto",
		LLMProvider:          "anthropic",
		LLMModelName:         "claude-3-5-sonnet-20241022",
		LLMNumCtx:            32000,
		LLMTemperature:       1.0,
		UseOwnBrowser:        false,
		KeepBrowserOpen:      false,
		Headless:             false,
		DisableSecurity:      true,
		EnableRecording:      true,
		WindowW:              1280,
		WindowH:              1100,
		SaveRecordingPath:    "./tmp/record_videos",
		SaveTracePath:        "./tmp/traces",
		SaveAgentHistoryPath: "./tmp/agent_history",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// EnsureDirs creates the output directories if they do not exist, along with
// the parent directory of the archive database.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Dirs.Recordings, c.Dirs.Traces, c.Dirs.History}
	if c.Archive != "" {
		dirs = append(dirs, filepath.Dir(c.Archive))
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", d, err)
		}
	}
	return nil
}
