// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
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

	"github.com/starford/folio/internal/api"
	"github.com/starford/folio/internal/diag"
	"github.com/starford/folio/internal/entryservice"
	"github.com/starford/folio/internal/form"
	"github.com/starford/folio/internal/frontmatter"
	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/mcpserver"
	"github.com/starford/folio/internal/sse"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/watch"
)

var (
	errConfigRequired = errors.New("config is required")
	errShutdown       = errors.New("shutdown requested")
)

// NewLogger returns a structured JSON logger writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// project holds the components shared by every command.
type project struct {
	store *storage.FS
	db    *index.DB
	svc   *entryservice.Service
}

// openProject opens storage and the index and loads the schema. The index
// is brought up to date with the content directory.
func openProject(ctx context.Context, app *application, notifier entryservice.Notifier) (*project, error) {
	cfg := app.config
	logger := app.logger

	store, err := storage.NewFS(cfg.Project.Root, cfg.Project.Extensions...)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	svc := entryservice.New(store, db, entryservice.Options{
		ConfigFile: cfg.Project.ConfigFile,
		ContentDir: cfg.Project.ContentDir,
		Codec:      frontmatter.Codec{Order: cfg.Sync.Order()},
		Policy:     form.Policy{StrictConstraints: cfg.Sync.StrictConstraints},
		Debounce:   cfg.Sync.Debounce,
		Autosave:   cfg.Sync.Autosave,
		Logger:     logger,
		Notifier:   notifier,
	})
	if err := svc.LoadSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("load schema: %w", err)
	}
	for _, d := range svc.Diagnostics() {
		logger.Warn("schema: diagnostic",
			slog.String("severity", d.Severity.String()),
			slog.String("message", d.Error()))
	}

	if err := svc.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	return &project{store: store, db: db, svc: svc}, nil
}

func (p *project) close(ctx context.Context, logger *slog.Logger) {
	if err := p.svc.Close(ctx); err != nil {
		logger.Error("session shutdown error", slog.String("error", err.Error()))
	}
	if err := p.db.Close(); err != nil {
		logger.Error("index close error", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server and file watcher with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(os.Stdout, opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("project_root", cfg.Project.Root),
		slog.String("config_file", cfg.Project.ConfigFile),
		slog.String("content_dir", cfg.Project.ContentDir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	proj, err := openProject(ctx, app, broker)
	if err != nil {
		return err
	}
	svc := proj.svc

	assets := api.NewAssetHandler(proj.store.Root(), cfg.Project.AssetsDir)
	apiRouter := api.NewRouter(svc, api.RouterOptions{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
		Assets:      assets,
	})

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
		if svc.Diagnostics().HasErrors() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"schema errors"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// Uploaded images (unauthenticated, like any static asset).
	r.Get("/assets/{filename}", assets.ServeFile)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	watcher := watch.New(watch.Options{
		Root:       proj.store.Root(),
		Extensions: cfg.Project.Extensions,
		Extra:      []string{svc.ConfigFile()},
		Debounce:   cfg.Sync.Debounce,
		Logger:     logger,
	})

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher feeding the index, open sessions and schema reloads.
	g.Go(func() error {
		err := watcher.Run(gCtx, func(n watch.Notification) {
			svc.HandleNotification(gCtx, n)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("watcher error: %w", err)
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

		// Stops the watcher.
		return errShutdown
	})

	err = g.Wait()

	// Flush pending autosaves before the process exits.
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	proj.close(closeCtx, logger)

	if err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// Check validates every entry of the project and returns the report.
func Check(ctx context.Context, opts ...Option) (*entryservice.Report, error) {
	app, err := newApplication(os.Stderr, opts)
	if err != nil {
		return nil, err
	}
	proj, err := openProject(ctx, app, nil)
	if err != nil {
		return nil, err
	}
	defer proj.close(ctx, app.logger)

	return proj.svc.Check(ctx)
}

// SchemaSummary describes the collections of the loaded schema.
type SchemaSummary struct {
	Collections []entryservice.CollectionInfo `json:"collections"`
	Schemas     map[string]any                `json:"schemas"`
	Diagnostics []string                      `json:"diagnostics,omitempty"`
	Errors      int                           `json:"errors"`
}

// DescribeSchema loads the schema source and returns every collection with
// its JSON Schema. When name is non-empty only that collection is described.
func DescribeSchema(ctx context.Context, name string, opts ...Option) (*SchemaSummary, error) {
	app, err := newApplication(os.Stderr, opts)
	if err != nil {
		return nil, err
	}
	proj, err := openProject(ctx, app, nil)
	if err != nil {
		return nil, err
	}
	defer proj.close(ctx, app.logger)

	infos, err := proj.svc.Collections(ctx)
	if err != nil {
		return nil, err
	}
	out := &SchemaSummary{Schemas: make(map[string]any)}
	for _, info := range infos {
		if name != "" && info.Name != name {
			continue
		}
		coll, err := proj.svc.Collection(ctx, info.Name)
		if err != nil {
			return nil, err
		}
		out.Collections = append(out.Collections, info)
		out.Schemas[info.Name] = coll.JSONSchema()
	}
	if name != "" && len(out.Collections) == 0 {
		return nil, fmt.Errorf("collection %q is not declared in %s", name, proj.svc.ConfigFile())
	}

	diags := proj.svc.Diagnostics()
	if name != "" {
		diags = diags.ForCollection(name)
	}
	for _, d := range diags {
		out.Diagnostics = append(out.Diagnostics, d.Severity.String()+": "+d.Error())
	}
	out.Errors = diags.Count(diag.SeverityError)
	return out, nil
}

// ServeMCP runs the MCP tool server on stdio until the client disconnects.
// Content changes made while it runs are picked up by the file watcher.
// Logs go to stderr since stdout carries the protocol.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(os.Stderr, opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger
	slog.SetDefault(logger)

	proj, err := openProject(ctx, app, nil)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher := watch.New(watch.Options{
		Root:       proj.store.Root(),
		Extensions: cfg.Project.Extensions,
		Extra:      []string{proj.svc.ConfigFile()},
		Debounce:   cfg.Sync.Debounce,
		Logger:     logger,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := watcher.Run(watchCtx, func(n watch.Notification) {
			proj.svc.HandleNotification(watchCtx, n)
		}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		cancel()
		<-done
		proj.close(context.Background(), logger)
	}()

	srv := mcpserver.New(proj.svc, proj.store, cfg.Project.AssetsDir)
	logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}
