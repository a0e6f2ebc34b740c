// Command deepresearch runs LLM research workflows with a human plan review.
// One binary serves the HTTP/WebSocket API, runs a single research thread in
// the terminal, or exposes the workflow as MCP tools over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Milix-M/DeepReSearch/internal/checkpoint"
	"github.com/Milix-M/DeepReSearch/internal/cli"
	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/hitl"
	"github.com/Milix-M/DeepReSearch/internal/httpapi"
	"github.com/Milix-M/DeepReSearch/internal/janitor"
	"github.com/Milix-M/DeepReSearch/internal/logging"
	"github.com/Milix-M/DeepReSearch/internal/model"
	"github.com/Milix-M/DeepReSearch/internal/research"
	"github.com/Milix-M/DeepReSearch/internal/service"
	"github.com/Milix-M/DeepReSearch/internal/streaming"
	"github.com/Milix-M/DeepReSearch/internal/tools"
	"github.com/Milix-M/DeepReSearch/pkg/mcp"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "run":
		runQuery(os.Args[2:])
	case "mcp":
		runMCP(os.Args[2:])
	case "version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `deepresearch runs LLM research workflows with human plan review.

Usage:
  deepresearch serve              start the HTTP/WebSocket/SSE server
  deepresearch run -query "..."   run one research thread in the terminal
  deepresearch mcp                serve research tools over MCP stdio
  deepresearch version            print the build version
`)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// app bundles the collaborators shared by every subcommand, wired
// store → hub → engine → service.
type app struct {
	cfg     Config
	logger  *slog.Logger
	store   checkpoint.Store
	hub     *streaming.MemoryHub
	engine  *engine.Engine
	service *service.WorkflowService
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	logger := logging.New(cfg.LogLevel)

	client, err := model.NewAnthropic(model.Config{
		APIKey:  cfg.AnthropicAPIKey,
		BaseURL: cfg.AnthropicBaseURL,
		Model:   cfg.Model,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	searcher := tools.NewDuckDuckGoSearcher(tools.DuckDuckGoConfig{})
	registry, err := research.NewToolRegistry(client, searcher)
	if err != nil {
		return nil, err
	}
	g, err := research.NewGraph(client, registry, logger)
	if err != nil {
		return nil, err
	}

	predicate, err := hitl.New(cfg.HITLPredicate)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	hub := streaming.NewMemoryHub()

	eng, err := engine.New(engine.Config{
		Graph:     g,
		Store:     store,
		Hub:       hub,
		Predicate: predicate,
		StepLimit: cfg.RecursionLimit,
		Logger:    logger,
	})
	if err != nil {
		hub.Close()
		store.Close()
		return nil, err
	}

	svc, err := service.New(service.Config{Engine: eng, Store: store, Hub: hub, Logger: logger})
	if err != nil {
		hub.Close()
		store.Close()
		return nil, err
	}

	// Threads paused before the last shutdown must stay resumable.
	if err := svc.Rehydrate(ctx); err != nil {
		hub.Close()
		store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		hub:     hub,
		engine:  eng,
		service: svc,
	}, nil
}

func (a *app) Close() {
	a.hub.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}

// openStore picks the checkpoint store: in-memory when no db path is
// configured, libSQL otherwise.
func openStore(ctx context.Context, cfg Config) (checkpoint.Store, error) {
	if cfg.DBPath == "" {
		return checkpoint.NewMemoryStore(), nil
	}
	path := cfg.DBPath
	if !strings.Contains(path, ":") {
		path = "file:" + path
	}
	store, err := checkpoint.NewLibSQLStore(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", "", "TCP listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig()
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	srv, err := httpapi.New(httpapi.Config{
		Service:      a.service,
		AllowOrigins: cfg.allowOrigins(),
		Logger:       a.logger,
	})
	if err != nil {
		fatal(err)
	}

	jan, err := janitor.New(janitor.Config{
		Store:        a.store,
		Engine:       a.engine,
		Hub:          a.hub,
		Schedule:     cfg.RetentionSchedule,
		RetentionAge: cfg.retentionAge(),
		Logger:       a.logger,
	})
	if err != nil {
		fatal(err)
	}
	if err := jan.Start(ctx); err != nil {
		fatal(err)
	}
	defer jan.Stop()

	// SSE and WebSocket connections stay open, so only the header read is
	// bounded.
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", slog.String("addr", cfg.ListenAddr))
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	failed := false
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case serveErr := <-errCh:
		a.logger.Error("server failed", slog.String("error", serveErr.Error()))
		failed = true
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("forced shutdown", slog.String("error", err.Error()))
	}
	if failed {
		jan.Stop()
		a.Close()
		os.Exit(1)
	}
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	query := fs.String("query", "", "research question to investigate")
	auto := fs.Bool("auto", false, "skip plan review and run to completion")
	logLevel := fs.String("log-level", "warn", "log level for the in-process engine")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if strings.TrimSpace(*query) == "" {
		fmt.Fprintln(os.Stderr, "Error: -query is required")
		fs.Usage()
		os.Exit(2)
	}

	cfg := loadConfig()
	// Engine logs to stderr would drown the event lines on stdout.
	cfg.LogLevel = *logLevel

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	runner, err := cli.New(cli.Config{Service: a.service, Auto: *auto, Logger: a.logger})
	if err != nil {
		fatal(err)
	}
	if err := runner.Run(ctx, *query); err != nil {
		a.Close()
		fatal(err)
	}
}

func runMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	srv := mcp.NewResearchServer(mcp.ResearchServerDeps{Service: a.service, Logger: a.logger})

	a.logger.Info("mcp server on stdio")
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Close()
		fatal(err)
	}
}
