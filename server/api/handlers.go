package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/voyagent/voyagent/config"
	"github.com/voyagent/voyagent/internal/version"
	"github.com/voyagent/voyagent/provider"
	"github.com/voyagent/voyagent/runner"
	"github.com/voyagent/voyagent/task"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Backend  Backend
	Registry Registry
	Browser  BrowserCloser
	Defaults config.RunConfig
	Dirs     config.DirConfig
	Logger   *slog.Logger
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.liveness)
	mux.HandleFunc("GET /config/default", h.defaultConfig)
	mux.HandleFunc("GET /config/models", h.listModels)

	mux.HandleFunc("POST /agent/run", h.runAgent)
	mux.HandleFunc("GET /agent/status/{task_id}", h.statusFor(task.KindAgentRun))
	mux.HandleFunc("POST /agent/stop", h.stopFor(task.KindAgentRun))

	mux.HandleFunc("POST /deep-search/run", h.runDeepSearch)
	mux.HandleFunc("GET /deep-search/status/{task_id}", h.statusFor(task.KindDeepSearch))
	mux.HandleFunc("POST /deep-search/stop", h.stopFor(task.KindDeepSearch))

	mux.HandleFunc("GET /tasks", h.listTasks)

	mux.HandleFunc("GET /recordings", h.listRecordings)
	mux.HandleFunc("GET /recordings/{filename}", h.getRecording)
	mux.HandleFunc("GET /agent/history-files", h.listHistoryFiles)
	mux.HandleFunc("GET /agent/history/{filename}", h.getHistoryFile)

	mux.HandleFunc("POST /browser/close", h.closeBrowser)
	mux.HandleFunc("GET /version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error body every failing endpoint uses.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (h *Handlers) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "voyagent API is running",
	})
}

func (h *Handlers) defaultConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Defaults)
}

func (h *Handlers) listModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerType := q.Get("provider")
	if providerType == "" {
		writeError(w, http.StatusBadRequest, "provider query parameter is required")
		return
	}

	models, err := provider.ListModels(r.Context(), providerType, q.Get("api_key"), q.Get("base_url"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// --- Run admission ---

func (h *Handlers) runAgent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}

	cfg, err := h.decodeRunConfig(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if cfg.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	id, err := h.Backend.StartAgentRun(cfg)
	if err != nil {
		h.startError(w, err)
		return
	}
	h.Logger.Info("agent run admitted", "task_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id})
}

func (h *Handlers) runDeepSearch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}

	var params runner.SearchParams
	if err := json.Unmarshal(body, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if params.ResearchTask == "" {
		writeError(w, http.StatusBadRequest, "research_task is required")
		return
	}

	cfg, err := h.decodeRunConfig(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := h.Backend.StartDeepSearch(params, cfg)
	if err != nil {
		h.startError(w, err)
		return
	}
	h.Logger.Info("deep search admitted", "task_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id})
}

// decodeRunConfig merges a request body over the server defaults. Run
// settings nest under "config", with task and add_infos alongside; flat
// config fields at the top level are accepted too and win over the nested
// object.
func (h *Handlers) decodeRunConfig(body []byte) (config.RunConfig, error) {
	cfg := h.Defaults

	var wrapper struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return cfg, err
	}
	if len(wrapper.Config) > 0 && string(wrapper.Config) != "null" {
		if err := json.Unmarshal(wrapper.Config, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := json.Unmarshal(body, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (h *Handlers) startError(w http.ResponseWriter, err error) {
	if errors.Is(err, task.ErrConflict) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// --- Status and stop ---

func (h *Handlers) statusFor(kind task.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("task_id")
		t, err := h.Registry.Get(id)
		if err != nil || t.Kind != kind {
			writeError(w, http.StatusNotFound, "unknown task id: "+id)
			return
		}
		writeJSON(w, http.StatusOK, t.View())
	}
}

func (h *Handlers) stopFor(kind task.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		id, err := h.Registry.RequestStop(kind)
		if err != nil {
			if errors.Is(err, task.ErrNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.Logger.Info("stop requested", "task_id", id)
		writeJSON(w, http.StatusOK, map[string]string{
			"task_id": id,
			"message": "stop requested",
		})
	}
}

// --- Task listing ---

type taskSummary struct {
	TaskID      string      `json:"task_id"`
	Kind        task.Kind   `json:"kind"`
	Status      task.Status `json:"status"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	tasks := h.Registry.List(limit)
	out := make([]taskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskSummary{
			TaskID:      t.ID,
			Kind:        t.Kind,
			Status:      t.Status,
			Error:       t.Error,
			CreatedAt:   t.CreatedAt,
			CompletedAt: t.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

// --- File serving ---

func (h *Handlers) listRecordings(w http.ResponseWriter, _ *http.Request) {
	names, err := listDir(h.Dirs.Recordings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": names})
}

func (h *Handlers) getRecording(w http.ResponseWriter, r *http.Request) {
	h.serveFrom(w, r, h.Dirs.Recordings)
}

func (h *Handlers) listHistoryFiles(w http.ResponseWriter, _ *http.Request) {
	names, err := listDir(h.Dirs.History)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history_files": names})
}

func (h *Handlers) getHistoryFile(w http.ResponseWriter, r *http.Request) {
	h.serveFrom(w, r, h.Dirs.History)
}

// serveFrom streams a single file out of dir, rejecting names that try to
// escape it.
func (h *Handlers) serveFrom(w http.ResponseWriter, r *http.Request, dir string) {
	name := r.PathValue("filename")
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found: "+name)
		return
	}
	http.ServeFile(w, r, path)
}

// listDir returns the sorted file names in dir; a missing dir is an empty
// listing, not an error.
func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// --- Browser and version ---

func (h *Handlers) closeBrowser(w http.ResponseWriter, _ *http.Request) {
	if err := h.Browser.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Logger.Info("browser closed")
	writeJSON(w, http.StatusOK, map[string]string{"message": "browser closed"})
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.Commit,
		"build_date": version.BuildDate,
	})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
