// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/annostore/internal/api"
	"github.com/starford/annostore/internal/docservice"
	"github.com/starford/annostore/internal/journal"
	"github.com/starford/annostore/internal/mcpserver"
	"github.com/starford/annostore/internal/session"
	"github.com/starford/annostore/internal/sse"
	"github.com/starford/annostore/internal/storage"
	"github.com/starford/annostore/internal/watch"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// components holds what every command shares.
type components struct {
	fs      *storage.FS
	journal *journal.DB // nil when disabled
	svc     *docservice.Service
}

func (rt *components) Close() error {
	if rt.journal != nil {
		return rt.journal.Close()
	}
	return nil
}

// newComponents opens the data area and the journal and wires the document
// service. events may be nil.
func newComponents(cfg *Config, logger *slog.Logger, events docservice.Publisher) (*components, error) {
	if err := os.MkdirAll(cfg.Data.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	fs, err := storage.NewFS(cfg.Data.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	rt := &components{fs: fs}
	var j journal.Journal
	if cfg.Journal.Path != "" {
		db, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
		rt.journal = db
		j = db
	}

	opener := &session.Opener{
		FS:     fs,
		Locker: storage.NewLocker(fs.Root(), cfg.Lock.Options(), logger),
		Logger: logger,
	}
	rt.svc = docservice.NewService(opener, j, events, logger)
	return rt, nil
}

// Run starts the HTTP server and the data-area watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_path", cfg.Data.Path),
		slog.String("journal_path", cfg.Journal.Path),
		slog.String("stale_policy", cfg.Lock.StalePolicy),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := newComponents(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer rt.Close()

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := os.Stat(rt.fs.Root()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"data area unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start data-area watcher with SSE callback.
	g.Go(func() error {
		err := watch.Watch(gCtx, rt.fs, logger, func(kind, doc string) {
			broker.PublishDocumentEvent(kind, doc)
		})
		if err != nil {
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tool surface over stdio until stdin closes.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()

	rt, err := newComponents(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("MCP server starting", slog.String("data_path", app.config.Data.Path))
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}

// ErrCheckFailed is returned by Check when a document has lines that
// could not be parsed.
var ErrCheckFailed = errors.New("documents with unparsed lines")

// Check parses each document under the data-area lock and writes one JSON
// report per line to w.
func Check(ctx context.Context, w io.Writer, docs []string, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()

	rt, err := newComponents(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	enc := json.NewEncoder(w)
	failed := 0
	for _, doc := range docs {
		report, err := rt.svc.Check(ctx, doc)
		if err != nil {
			return fmt.Errorf("check %s: %w", doc, err)
		}
		if len(report.FailedLines) > 0 {
			failed++
		}
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrCheckFailed, failed, len(docs))
	}
	return nil
}
