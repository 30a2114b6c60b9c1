package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/embedding"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/roamapi"
	"github.com/starford/raido/internal/syncer"
	"github.com/starford/raido/internal/vectorstore"
)

// components holds the wired application dependencies.
type components struct {
	client   *roamapi.Client
	registry *vectorstore.Registry
	store    *vectorstore.Store
	embedder embedding.Embedder
	engine   *syncer.Engine
}

// build wires the client, vector store, embedder, and sync engine from the
// configuration. Callers must close the returned registry.
func build(cfg *Config) (*components, error) {
	var clientOpts []roamapi.Option
	if cfg.Roam.BaseURL != "" {
		clientOpts = append(clientOpts, roamapi.WithBaseURL(cfg.Roam.BaseURL))
	}
	client, err := roamapi.New(cfg.Roam.Token, cfg.Roam.Graph, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("init roam client: %w", err)
	}

	var storeOpts []vectorstore.StoreOption
	if cfg.Vector.Path != "" {
		storeOpts = append(storeOpts, vectorstore.WithPath(cfg.Vector.Path))
	}
	registry := vectorstore.NewRegistry(storeOpts...)
	store := registry.Get(cfg.Roam.Graph)

	// The embedding backend may not be running yet at boot. The lazy wrapper
	// defers the connection until the first embed call.
	embedCfg := cfg.Embedding
	embedder := embedding.NewLazy(func() (embedding.Embedder, error) {
		return embedding.NewHTTPClient(
			embedding.WithBaseURL(embedCfg.URL),
			embedding.WithModel(embedCfg.Model),
			embedding.WithBatchSize(embedCfg.BatchSize),
		), nil
	})

	engine := syncer.New(client, store, embedder, syncer.WithBatchSize(cfg.Sync.BatchSize))

	return &components{
		client:   client,
		registry: registry,
		store:    store,
		embedder: embedder,
		engine:   engine,
	}, nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Stdout carries the MCP protocol, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("graph", cfg.Roam.Graph),
		slog.String("token", roamapi.MaskToken(cfg.Roam.Token)),
		slog.String("embedding_url", cfg.Embedding.URL),
		slog.String("embedding_model", cfg.Embedding.Model),
		slog.String("log_level", cfg.App.LogLevel.String()))

	comps, err := build(cfg)
	if err != nil {
		return err
	}
	defer comps.registry.CloseAll()

	srv := mcpserver.New(comps.client, comps.store, comps.engine, comps.embedder)

	g, gCtx := errgroup.WithContext(ctx)

	// MCP stdio transport. ServeStdio returns when stdin closes; a context
	// cancellation unblocks the group without waiting for it.
	g.Go(func() error {
		logger.Info("Starting MCP server on stdio")
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ServeStdio()
		}()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp server error: %w", err)
			}
			return errShutdown
		case <-gCtx.Done():
			return nil
		}
	})

	// Optional HTTP status API.
	var httpServer *http.Server
	if cfg.App.HTTP.Enabled() {
		svc := api.NewService(cfg.Roam.Graph, comps.store, comps.engine, comps.embedder)
		apiRouter := api.NewRouter(svc, cfg.App.HTTP.Token != "", cfg.App.HTTP.Token)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)

		r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})

		r.Mount("/api", apiRouter)

		httpServer = &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: r,
		}

		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Background incremental sync at boot.
	if cfg.Sync.OnStartup {
		g.Go(func() error {
			logger.Info("Running startup sync")
			stats, err := comps.engine.Sync(gCtx, false)
			if err != nil {
				logger.Warn("startup sync failed", slog.String("error", err.Error()))
				return nil
			}
			logger.Info("Startup sync completed",
				slog.Int("blocks_fetched", stats.BlocksFetched),
				slog.Int("blocks_embedded", stats.BlocksEmbedded))
			return nil
		})
	}

	// Scheduled incremental sync.
	if cfg.Sync.Schedule != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.Sync.Schedule, func() {
			stats, err := comps.engine.Sync(gCtx, false)
			if err != nil {
				logger.Warn("scheduled sync failed", slog.String("error", err.Error()))
				return
			}
			logger.Info("Scheduled sync completed",
				slog.Int("blocks_fetched", stats.BlocksFetched),
				slog.Int("blocks_embedded", stats.BlocksEmbedded))
		})
		if err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", cfg.Sync.Schedule, err)
		}
		c.Start()
		g.Go(func() error {
			<-gCtx.Done()
			<-c.Stop().Done()
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
		}

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped")
	return nil
}

// errShutdown cancels the group during an orderly shutdown. It is swallowed
// before Run returns.
var errShutdown = errors.New("shutting down")

// RunSync performs a one-shot index synchronization and exits. It backs the
// sync subcommand so the index can be built without starting the server.
func RunSync(ctx context.Context, cfg *Config, full bool) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	comps, err := build(cfg)
	if err != nil {
		return err
	}
	defer comps.registry.CloseAll()

	logger.Info("Starting sync",
		slog.String("graph", cfg.Roam.Graph),
		slog.Bool("full", full))

	stats, err := comps.engine.Sync(ctx, full)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	blocks, _ := comps.store.GetBlockCount()
	vectors, _ := comps.store.GetEmbeddingCount()
	logger.Info("Sync completed",
		slog.Int("blocks_fetched", stats.BlocksFetched),
		slog.Int("blocks_embedded", stats.BlocksEmbedded),
		slog.Int("index_blocks", blocks),
		slog.Int("index_vectors", vectors))
	return nil
}
