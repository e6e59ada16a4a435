// Package server implements the voyagent HTTP server, REST API, and SSE
// event stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voyagent/voyagent/config"
	"github.com/voyagent/voyagent/events"
	"github.com/voyagent/voyagent/server/api"
)

// Server is the voyagent HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	backend  api.Backend
	registry api.Registry
	browser  api.BrowserCloser
	bus      events.Bus
	unsub    func()

	// SSE clients
	sseMu      sync.RWMutex
	sseClients map[chan []byte]struct{}
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, logger *slog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		logger:     logger,
		sseClients: make(map[chan []byte]struct{}),
	}
}

// SetBackend attaches the run backend to the server.
func (s *Server) SetBackend(b api.Backend) { s.backend = b }

// SetRegistry attaches the task registry to the server.
func (s *Server) SetRegistry(r api.Registry) { s.registry = r }

// SetBrowser attaches the browser manager to the server.
func (s *Server) SetBrowser(b api.BrowserCloser) { s.browser = b }

// SetBus attaches the event bus; task transitions published on it are
// forwarded to SSE clients.
func (s *Server) SetBus(bus events.Bus) { s.bus = bus }

// Start registers routes and begins listening.
func (s *Server) Start() error {
	s.registerRoutes()

	if s.bus != nil {
		s.unsub = s.bus.Subscribe(func(_ context.Context, ev *events.Event) error {
			s.broadcast(ev)
			return nil
		})
	}

	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":8000"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           corsMiddleware(s.mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Backend:  s.backend,
		Registry: s.registry,
		Browser:  s.browser,
		Defaults: s.cfg.Run,
		Dirs:     s.cfg.Dirs,
		Logger:   s.logger,
	}
	h.RegisterRoutes(s.mux)

	s.mux.HandleFunc("GET /events", s.handleSSE)
}

// corsMiddleware allows cross-origin calls from any UI host.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleSSE implements Server-Sent Events for task transition updates.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := make(chan []byte, 64)
	s.sseMu.Lock()
	s.sseClients[ch] = struct{}{}
	s.sseMu.Unlock()

	defer func() {
		s.sseMu.Lock()
		delete(s.sseClients, ch)
		s.sseMu.Unlock()
		close(ch)
	}()

	// Send initial connected event
	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n") //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			lines := strings.Split(string(data), "\n")
			for _, line := range lines {
				fmt.Fprintf(w, "data: %s\n", line) //nolint:errcheck
			}
			fmt.Fprintln(w) //nolint:errcheck
			flusher.Flush()
		}
	}
}

// broadcast sends an event to all connected SSE clients.
func (s *Server) broadcast(ev *events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("broadcast event marshal", slog.Any("err", err))
		return
	}

	s.sseMu.RLock()
	defer s.sseMu.RUnlock()
	for ch := range s.sseClients {
		select {
		case ch <- data:
		default:
			// Client channel full, skip
		}
	}
}
