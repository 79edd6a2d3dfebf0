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

	"github.com/starford/linkgraph/internal/api"
	"github.com/starford/linkgraph/internal/export"
	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/mcpserver"
	"github.com/starford/linkgraph/internal/sse"
	"github.com/starford/linkgraph/internal/storage"
	"github.com/starford/linkgraph/internal/telemetry"
)

// runtime holds the components every command shares.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
	graph  *graphservice.Service
	ledger *index.Persister
}

func (rt *runtime) Close() error {
	return rt.db.Close()
}

// saveSnapshot persists the current graph, logging instead of failing.
func (rt *runtime) saveSnapshot(ctx context.Context) {
	info, err := rt.ledger.Save(ctx)
	if err != nil {
		rt.logger.Error("save snapshot failed", slog.String("error", err.Error()))
		return
	}
	rt.logger.Info("snapshot saved",
		slog.String("id", info.ID),
		slog.Int("entities", info.Entities),
		slog.Int("edges", info.Edges))
}

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

// setup opens storage and the index and restores the last persisted graph.
func (a *application) setup(ctx context.Context) (*runtime, error) {
	cfg := a.config

	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("source_path", cfg.Source.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("create_link_targets", cfg.Ingest.CreateLinkTargets),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Source.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create source dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Source.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	graph := graphservice.New(
		graphservice.WithCreateLinkTargets(cfg.Ingest.CreateLinkTargets),
		graphservice.WithLogger(logger),
	)

	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := graph.Restore(snap); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	logger.Info("graph restored",
		slog.Int("entities", len(snap.Entities)),
		slog.Int("edges", snap.EdgeCount()))

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		graph:  graph,
		ledger: index.NewPersister(db, graph),
	}, nil
}

func start(ctx context.Context, opts []Option) (*runtime, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	return app.setup(ctx)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	tel, err := telemetry.Init(ctx, telemetry.Config{
		Exporter:       app.config.App.Metrics.Exporter,
		ServiceName:    "linkgraph",
		ServiceVersion: app.version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	rt, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg, logger := rt.cfg, rt.logger

	if _, err := index.Sync(ctx, rt.ledger, rt.store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	rt.graph.SetEventCallback(broker.PublishGraphEvent)

	handler := api.NewHandler(rt.graph, api.NewSourceService(rt.store, rt.ledger, rt.graph), rt.ledger)
	apiRouter := api.NewRouter(handler, api.RouterConfig{
		AuthEnabled:  cfg.Auth.AuthEnabled(),
		Token:        cfg.Auth.Token,
		Events:       broker,
		WriteLimiter: api.NewWriteLimiter(cfg.App.HTTP.WriteRate, cfg.App.HTTP.WriteBurst),
	})

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
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.PingContext(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if h := tel.Handler(); h != nil {
		r.Handle(cfg.App.Metrics.Path, h)
	}

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Ingest.Watch {
		g.Go(func() error {
			return index.Watch(gCtx, rt.ledger, rt.store, index.WatchOptions{
				Root:             rt.store.Root(),
				SnapshotDebounce: cfg.Ingest.SnapshotDebounce,
				Logger:           logger,
				OnChange:         broker.PublishSourceEvent,
			})
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

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
		// Stop the watcher once the server is gone.
		return errShutdown
	})

	err = g.Wait()
	rt.saveSnapshot(context.Background())
	if err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// Ingest runs a single sync pass over the source directory and persists the
// resulting graph.
func Ingest(ctx context.Context, opts ...Option) (index.SyncResult, error) {
	rt, err := start(ctx, opts)
	if err != nil {
		return index.SyncResult{}, err
	}
	defer rt.Close()

	res, err := index.Sync(ctx, rt.ledger, rt.store, rt.logger)
	if err != nil {
		return res, fmt.Errorf("sync: %w", err)
	}
	return res, nil
}

// Export writes the persisted graph to w.
func Export(ctx context.Context, w io.Writer, exportOpts export.Options, opts ...Option) error {
	rt, err := start(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := export.Write(w, rt.graph.Snapshot(), exportOpts); err != nil {
		return err
	}
	rt.logger.Info("graph exported", slog.Bool("compressed", exportOpts.Compress))
	return nil
}

// Import replaces the persisted graph with a document produced by Export.
// The source ledger is left alone, so unchanged files are not re-ingested.
func Import(ctx context.Context, r io.Reader, opts ...Option) error {
	rt, err := start(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	doc, err := export.Read(r)
	if err != nil {
		return err
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return err
	}
	if err := rt.graph.Restore(snap); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	info, err := rt.ledger.Save(ctx)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	rt.logger.Info("graph imported",
		slog.String("snapshot_id", info.ID),
		slog.Int("entities", info.Entities),
		slog.Int("edges", info.Edges))
	return nil
}

// ServeMCP serves the graph as MCP tools over stdio until the client
// disconnects. Each recorded observation is saved before the tool returns.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := index.Sync(ctx, rt.ledger, rt.store, rt.logger); err != nil {
		rt.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	srv := mcpserver.New(rt.graph, rt.store, app.version, mcpserver.WithLedger(rt.ledger))
	err = srv.ServeStdio()
	rt.saveSnapshot(context.Background())
	if err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}
