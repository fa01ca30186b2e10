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
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/schable/internal/api"
	"github.com/starford/schable/internal/flatten"
	"github.com/starford/schable/internal/index"
	"github.com/starford/schable/internal/mcpserver"
	"github.com/starford/schable/internal/resolver"
	"github.com/starford/schable/internal/schemaservice"
	"github.com/starford/schable/internal/sse"
	"github.com/starford/schable/internal/storage"
)

const purgeInterval = time.Hour

// runtime holds the components shared by every command.
type runtime struct {
	cfg      *Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    *storage.FS
	db       *index.DB
	svc      *schemaservice.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logWriter: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, errors.New("config is required")
	}
	return app, nil
}

// open initializes logging, the catalog, the index and the rendering
// pipeline. The caller must close the returned runtime.
func (app *application) open() (*runtime, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logWriter, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("catalog_path", cfg.Catalog.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("use_relay", cfg.Fetch.UseRelay),
		slog.Int("max_depth", cfg.Render.MaxDepth),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure catalog directory exists.
	if err := os.MkdirAll(cfg.Catalog.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := index.Sync(db, store, cfg.Fetch.LenientJSON, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpSrc := resolver.NewHTTPSource(cfg.Fetch.HTTP())
	ropts := resolver.Options{
		Sources: map[string]resolver.Source{
			"http":                 httpSrc,
			"https":                httpSrc,
			resolver.CatalogScheme: resolver.NewCatalogSource(store),
		},
		CacheSize: cfg.Fetch.CacheSize,
		Repair:    cfg.Fetch.LenientJSON,
		Metrics:   resolver.NewMetrics(registry),
		Logger:    logger,
	}
	if cfg.Fetch.CacheTTL > 0 {
		ropts.Store = db
		ropts.StoreTTL = cfg.Fetch.CacheTTL
	}
	res, err := resolver.New(ropts)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init resolver: %w", err)
	}

	engine := flatten.NewEngine(res, logger, flatten.NewMetrics(registry))

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    store,
		db:       db,
		svc:      schemaservice.NewService(store, db, engine, res, cfg.Fetch.LenientJSON),
	}, nil
}

func (rt *runtime) close() {
	if err := rt.db.Close(); err != nil {
		rt.logger.Error("close index", slog.String("error", err.Error()))
	}
}

func (rt *runtime) renderDefaults() flatten.Options {
	return flatten.Options{MaxDepth: rt.cfg.Render.MaxDepth, MaxRows: rt.cfg.Render.MaxRows, UseRelay: rt.cfg.Fetch.UseRelay}
}

// Run starts the HTTP server with the given options and blocks until ctx is
// cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.open()
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := rt.cfg
	logger := rt.logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	apiRouter := api.NewRouter(rt.svc, api.RouterOptions{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
		Defaults: api.RenderDefaults{
			MaxDepth: cfg.Render.MaxDepth,
			MaxRows:  cfg.Render.MaxRows,
			UseRelay: cfg.Fetch.UseRelay,
		},
	})
	metrics := api.NewMetrics(rt.registry)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if err := rt.db.Ping(); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	if cfg.Static.Path != "" {
		r.Handle("/*", api.NewStaticHandler(cfg.Static.Path))
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		err := index.Watch(gCtx, rt.db, rt.store, rt.store.Root(), cfg.Fetch.LenientJSON, logger, func(kind, path string) {
			broker.PublishSchemaEvent(kind, path)
		})
		if err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

	// Expire the persistent document cache.
	if cfg.Fetch.CacheTTL > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(purgeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					n, err := rt.db.PurgeDocuments(cfg.Fetch.CacheTTL)
					if err != nil {
						logger.Warn("purge documents failed", slog.String("error", err.Error()))
						continue
					}
					logger.Debug("purged documents", slog.Int64("count", n))
				}
			}
		})
	}

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

		// Ends open event streams so Shutdown does not wait on them.
		broker.Close()

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

// errShutdown cancels the group once the server has stopped so that the
// watcher and purge loops exit.
var errShutdown = errors.New("shutdown")

// RenderRequest selects what the render command prints.
type RenderRequest struct {
	Locator string
	// UseRelay forces relaying; otherwise fetch.use_relay applies.
	UseRelay bool
	// MaxDepth overrides render.max_depth when positive.
	MaxDepth int
	// Format is "json" (default) or "text".
	Format string
}

// Render flattens one schema and writes the table to w.
func Render(ctx context.Context, w io.Writer, req RenderRequest, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.open()
	if err != nil {
		return err
	}
	defer rt.close()

	ro := rt.renderDefaults()
	ro.UseRelay = ro.UseRelay || req.UseRelay
	if req.MaxDepth > 0 {
		if req.MaxDepth > flatten.MaxDepthLimit {
			return fmt.Errorf("max depth must be between 1 and %d", flatten.MaxDepthLimit)
		}
		ro.MaxDepth = req.MaxDepth
	}

	table, err := rt.svc.Render(ctx, req.Locator, ro)
	if err != nil {
		return err
	}
	for _, is := range table.Issues {
		rt.logger.Warn("branch skipped", slog.String("path", is.Path), slog.String("ref", is.Ref), slog.String("error", is.Message))
	}

	switch req.Format {
	case "", "json":
		out, err := json.MarshalIndent(table, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "text":
		return flatten.WriteText(w, table)
	default:
		return fmt.Errorf("unknown format %q", req.Format)
	}
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.open()
	if err != nil {
		return err
	}
	defer rt.close()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := index.Watch(gCtx, rt.db, rt.store, rt.store.Root(), rt.cfg.Fetch.LenientJSON, rt.logger, nil)
		if err != nil {
			rt.logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		rt.logger.Info("MCP server starting on stdio")
		if err := mcpserver.New(rt.svc, rt.renderDefaults()).ServeStdio(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}
