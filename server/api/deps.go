package api

import (
	"github.com/voyagent/voyagent/config"
	"github.com/voyagent/voyagent/runner"
	"github.com/voyagent/voyagent/task"
)

// Backend launches admitted runs. Implemented by runner.Backend.
type Backend interface {
	StartAgentRun(cfg config.RunConfig) (string, error)
	StartDeepSearch(params runner.SearchParams, cfg config.RunConfig) (string, error)
}

// Registry answers status queries and stop requests. Implemented by
// task.Registry.
type Registry interface {
	Get(id string) (*task.Task, error)
	RequestStop(kind task.Kind) (string, error)
	List(limit int) []*task.Task
}

// BrowserCloser releases browser resources. Implemented by browser.Manager.
type BrowserCloser interface {
	Close() error
}
