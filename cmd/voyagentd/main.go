// Command voyagentd is the voyagent server daemon. It wires the task
// registry, the run backend, the shared browser, and the REST API together
// from a YAML config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voyagent/voyagent/browser"
	"github.com/voyagent/voyagent/config"
	"github.com/voyagent/voyagent/events"
	"github.com/voyagent/voyagent/internal/version"
	"github.com/voyagent/voyagent/runner"
	"github.com/voyagent/voyagent/server"
	"github.com/voyagent/voyagent/task"
)

var configPath = flag.String("config", "voyagent.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("starting voyagentd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create output directories: %v", err)
	}

	reg := task.NewRegistry(logger)

	if cfg.Archive != "" {
		archive, err := task.NewSQLiteStore(cfg.Archive)
		if err != nil {
			log.Fatalf("Failed to open task archive %s: %v", cfg.Archive, err)
		}
		defer archive.Close() //nolint:errcheck
		reg.SetArchive(archive)
	}

	bus := events.NewInMemoryBus()
	reg.SetNotify(func(t task.Task) {
		if err := bus.Publish(context.Background(), events.FromTask(t)); err != nil {
			logger.Warn("publish task event", "task_id", t.ID, "error", err)
		}
	})

	if !browser.IsAvailable() {
		logger.Warn("no Chrome/Chromium binary found, agent runs will fail to launch a browser")
	}
	mgr := browser.NewManager(browser.Options{
		Headless:        cfg.Run.Headless,
		DisableSecurity: cfg.Run.DisableSecurity,
		WindowW:         cfg.Run.WindowW,
		WindowH:         cfg.Run.WindowH,
		KeepOpen:        cfg.Run.KeepBrowserOpen,
	})

	backend := runner.New(reg, mgr, mgr.ReleasePage, logger)

	srv := server.New(*cfg, logger)
	srv.SetBackend(backend)
	srv.SetRegistry(reg)
	srv.SetBrowser(mgr)
	srv.SetBus(bus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	fmt.Printf("voyagent server running on http://localhost%s\n", cfg.Server.Addr)
	fmt.Printf("Version: %s (%s)\n", version.Version, version.Commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	case <-sigCh:
	}

	fmt.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	if err := mgr.Close(); err != nil {
		logger.Error("browser close error", "error", err)
	}
	fmt.Println("Shutdown complete")
}

// loadConfig reads the YAML config, falling back to defaults when the file
// does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return nil, err
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
