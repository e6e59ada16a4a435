package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Archive persists terminal task records so they stay queryable across
// process restarts. Implemented by SQLiteStore.
type Archive interface {
	Save(t *Task) error
	Get(id string) (*Task, error)
	List(limit int) ([]*Task, error)
}

// Registry admits long-running work, enforces single-flight per kind, and
// answers status polls without blocking on the execution backend.
//
// All mutation is funneled through Admit, RequestStop, Complete, and Fail
// behind a single mutex. None of these wait for the backend's work.
type Registry struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	running map[Kind]string               // current running task id per kind
	cancels map[string]context.CancelFunc // cooperative stop handles
	seq     map[Kind]int

	archive Archive
	notify  func(Task)
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tasks:   make(map[string]*Task),
		running: make(map[Kind]string),
		cancels: make(map[string]context.CancelFunc),
		seq:     make(map[Kind]int),
		logger:  logger,
	}
}

// SetArchive attaches a persistent store for terminal task records and
// advances the id counters past every archived id, so a restarted process
// never mints an id that would upsert over an earlier run's record.
// Call before the registry is in use.
func (r *Registry) SetArchive(a Archive) {
	r.archive = a

	archived, err := a.List(0)
	if err != nil {
		r.logger.Error("seed id counters from archive", slog.Any("err", err))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range archived {
		if n := idSeq(t.ID); n > r.seq[t.Kind] {
			r.seq[t.Kind] = n
		}
	}
}

// idSeq extracts the numeric suffix of a task id, 0 when there is none.
func idSeq(id string) int {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// SetNotify registers a callback invoked with a task snapshot after every
// state transition. Intended for the event bus; must not block.
func (r *Registry) SetNotify(fn func(Task)) { r.notify = fn }

// idPrefix returns the id prefix used for a kind, matching the wire format
// clients parse out of the run response.
func idPrefix(k Kind) string {
	if k == KindDeepSearch {
		return "search"
	}
	return "task"
}

// Admit accepts a new unit of work of the given kind. It fails with
// ErrConflict while a same-kind task is still in flight. cancel is the
// backend's context-cancel handle, invoked later by RequestStop; it may be
// nil. Admit returns immediately; it never waits for the backend.
func (r *Registry) Admit(kind Kind, cancel context.CancelFunc) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.running[kind]; ok {
		return nil, fmt.Errorf("%w (kind=%s, id=%s)", ErrConflict, kind, id)
	}

	r.seq[kind]++
	t := &Task{
		ID:        fmt.Sprintf("%s_%d", idPrefix(kind), r.seq[kind]),
		Kind:      kind,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	r.tasks[t.ID] = t
	r.running[kind] = t.ID
	if cancel != nil {
		r.cancels[t.ID] = cancel
	}

	snapshot := *t
	r.emit(snapshot)
	return &snapshot, nil
}

// Get returns a snapshot of the task with the given id, or ErrNotFound.
// Polling is side-effect-free; a terminal task returns the same payload
// indefinitely. Tasks from before the current process are served from the
// archive when one is configured.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		snapshot := *t
		r.mu.Unlock()
		return &snapshot, nil
	}
	r.mu.Unlock()

	if r.archive != nil {
		if archived, err := r.archive.Get(id); err == nil {
			return archived, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// RequestStop flags the currently running task of the given kind for
// cooperative cancellation and returns its id. It fails with ErrNotFound
// when nothing of that kind is in flight. The task stays non-terminal until
// the backend reports Complete or Fail; this call returns immediately.
func (r *Registry) RequestStop(kind Kind) (string, error) {
	r.mu.Lock()
	id, ok := r.running[kind]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: no running %s task", ErrNotFound, kind)
	}

	t := r.tasks[id]
	cancel := r.cancels[id]
	var snapshot Task
	notified := false
	if t.Status == StatusRunning {
		t.Status = StatusStopRequested
		snapshot = *t
		notified = true
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if notified {
		r.emit(snapshot)
	}
	return id, nil
}

// Complete records a successful result for the task. Invoked by the
// execution backend, never by an HTTP caller. Completing an already
// terminal task is a logged no-op.
func (r *Registry) Complete(id string, result []byte) {
	r.finish(id, StatusCompleted, result, "")
}

// Fail records a backend failure for the task. The error detail is stored
// in place of a result; pollers observe a well-formed failed payload rather
// than a transport error. Same double-completion guard as Complete.
func (r *Registry) Fail(id string, errMsg string) {
	r.finish(id, StatusFailed, nil, errMsg)
}

func (r *Registry) finish(id string, status Status, result []byte, errMsg string) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("finish for unknown task", slog.String("id", id), slog.String("status", string(status)))
		return
	}
	if t.Status.Terminal() {
		r.mu.Unlock()
		r.logger.Warn("duplicate completion ignored",
			slog.String("id", id),
			slog.String("have", string(t.Status)),
			slog.String("got", string(status)))
		return
	}

	now := time.Now().UTC()
	t.Status = status
	t.Result = result
	t.Error = errMsg
	t.CompletedAt = &now
	if r.running[t.Kind] == id {
		delete(r.running, t.Kind)
	}
	delete(r.cancels, id)
	snapshot := *t
	r.mu.Unlock()

	if r.archive != nil {
		if err := r.archive.Save(&snapshot); err != nil {
			r.logger.Error("archive task", slog.String("id", id), slog.Any("err", err))
		}
	}
	r.emit(snapshot)
}

// List returns snapshots of known tasks, newest first: everything tracked
// in memory plus archived records from earlier runs. limit <= 0 means no
// limit.
func (r *Registry) List(limit int) []*Task {
	r.mu.Lock()
	out := make([]*Task, 0, len(r.tasks))
	seen := make(map[string]bool, len(r.tasks))
	for _, t := range r.tasks {
		snapshot := *t
		out = append(out, &snapshot)
		seen[t.ID] = true
	}
	r.mu.Unlock()

	if r.archive != nil {
		archived, err := r.archive.List(0)
		if err != nil {
			r.logger.Error("list archived tasks", slog.Any("err", err))
		}
		for _, t := range archived {
			if !seen[t.ID] {
				out = append(out, t)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Registry) emit(t Task) {
	if r.notify != nil {
		r.notify(t)
	}
}
