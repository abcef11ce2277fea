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

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/fileindex"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/resolver"
	"github.com/starford/ansuz/internal/rulefile"
	"github.com/starford/ansuz/internal/ruleservice"
	"github.com/starford/ansuz/internal/sse"
)

// components are the collaborators shared by every command.
type components struct {
	db       *index.DB
	files    *fileindex.FS
	svc      *ruleservice.Service
	rulesDir *rulefile.Dir // nil when file-based rules are disabled
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// setup opens the rule store, the file index and the rule dir.
func (a *application) setup(ctx context.Context, logger *slog.Logger, events ruleservice.Publisher) (*components, error) {
	cfg := a.config

	extractor, err := cfg.Dates.Extractor()
	if err != nil {
		return nil, fmt.Errorf("init dates: %w", err)
	}
	files, err := fileindex.New(cfg.Files.Root,
		fileindex.WithIgnore(cfg.Files.Ignore...),
		fileindex.WithExtractor(extractor))
	if err != nil {
		return nil, fmt.Errorf("init file index: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init rule store: %w", err)
	}

	res := resolver.New(db, files,
		resolver.WithLogger(logger),
		resolver.WithExtractor(extractor),
		resolver.WithTimeout(cfg.Resolve.Timeout))
	c := &components{
		db:    db,
		files: files,
		svc:   ruleservice.NewService(db, res, events, logger),
	}

	if cfg.Rules.Dir != "" {
		if err := os.MkdirAll(cfg.Rules.Dir, 0o755); err != nil {
			db.Close()
			return nil, fmt.Errorf("create rules dir: %w", err)
		}
		if c.rulesDir, err = rulefile.NewDir(cfg.Rules.Dir); err != nil {
			db.Close()
			return nil, fmt.Errorf("init rules dir: %w", err)
		}
	}
	return c, nil
}

// loadRules brings the store in step with the rule dir, if any. Failures are
// logged: the store keeps serving the rules it already has.
func (c *components) loadRules(ctx context.Context, logger *slog.Logger) {
	if c.rulesDir == nil {
		return
	}
	rep, err := c.svc.SyncRules(ctx, c.rulesDir)
	if err != nil {
		logger.Warn("rule sync failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("rules synced",
		slog.Int("loaded", len(rep.Loaded)),
		slog.Int("unchanged", rep.Unchanged),
		slog.Int("removed", len(rep.Removed)),
		slog.Int("failed", len(rep.Failed)))
}

// Run starts the HTTP server, and the rule dir watcher when enabled.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("rules_dir", cfg.Rules.Dir),
		slog.String("files_root", cfg.Files.Root),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	c, err := app.setup(ctx, logger, broker)
	if err != nil {
		return err
	}
	defer c.db.Close()
	c.loadRules(ctx, logger)

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", readyHandler(c.db, broker.ClientCount))

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if c.rulesDir != nil && cfg.Rules.Watch {
		g.Go(func() error {
			if err := c.svc.WatchRules(gCtx, c.rulesDir); err != nil {
				logger.Error("rule watcher failed", slog.String("error", err.Error()))
			}
			return nil
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

		// Closing the broker ends open SSE streams so Shutdown can drain.
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

// errShutdown cancels the group context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio. Logs go to stderr since stdout
// carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, app.config.App.LogLevel)
	slog.SetDefault(logger)

	c, err := app.setup(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer c.db.Close()
	c.loadRules(ctx, logger)

	logger.Info("MCP server starting", slog.String("version", app.version))
	return mcpserver.New(c.svc, app.version).ServeStdio()
}

// ResolveRequest selects the records a one-shot resolve reports on.
type ResolveRequest struct {
	Paths     []string
	Glob      string
	Annotated bool
	Explain   bool
}

// Resolve prints one JSON line per record. Unknown paths are reported inline
// and do not stop the run; a store failure does.
func Resolve(ctx context.Context, req ResolveRequest, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, app.config.App.LogLevel)

	c, err := app.setup(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer c.db.Close()
	c.loadRules(ctx, logger)

	paths := req.Paths
	if req.Glob != "" {
		matched, err := c.files.Glob(req.Glob)
		if err != nil {
			return err
		}
		paths = append(paths, matched...)
	}

	enc := json.NewEncoder(app.out)
	for _, p := range paths {
		var out any
		var err error
		switch {
		case req.Explain:
			var res *resolver.Resolution
			if res, err = c.svc.Explain(ctx, p); err == nil {
				out = map[string]any{
					"path":       p,
					"annotation": res.Annotation,
					"applied":    res.Applied,
					"skipped":    res.Skipped,
					"filter":     res.Filter.String(),
				}
			}
		case req.Annotated:
			out, err = c.svc.Annotated(ctx, p)
		default:
			var ann map[string]any
			if ann, err = c.svc.Resolve(ctx, p); err == nil {
				out = map[string]any{"path": p, "annotation": ann}
			}
		}
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			out = map[string]any{"path": p, "error": "not found"}
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

// Sync loads the rule dir into the store once and prints the report.
func Sync(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	if app.config.Rules.Dir == "" {
		return fmt.Errorf("rules.dir is not configured")
	}
	logger := newLogger(os.Stderr, app.config.App.LogLevel)

	c, err := app.setup(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer c.db.Close()

	rep, err := c.svc.SyncRules(ctx, c.rulesDir)
	if err != nil {
		return err
	}
	_, total, err := c.db.List(ctx, index.ListOptions{Limit: 1})
	if err != nil {
		return err
	}
	return json.NewEncoder(app.out).Encode(map[string]any{
		"report":      rep,
		"rules_total": total,
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// readyHandler reports store reachability and the number of SSE subscribers.
func readyHandler(db pinger, clients func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status, code := "ok", http.StatusOK
		if err := db.Ping(req.Context()); err != nil {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      status,
			"sse_clients": clients(),
		})
	}
}
