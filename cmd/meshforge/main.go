package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"meshforge/internal/adapters/assetdir"
	"meshforge/internal/adapters/duckdb"
	"meshforge/internal/adapters/gltf"
	"meshforge/internal/adapters/scene"
	"meshforge/internal/adapters/trellis"
	"meshforge/internal/config"
	"meshforge/internal/core/services"
	"meshforge/pkg/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting meshforge")

	configPath := flag.String("config", os.Getenv("MESHFORGE_CONFIG"), "path to config file")
	flag.Parse()

	if err := run(logger, *configPath); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Adapters
	store, err := duckdb.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open slot store: %w", err)
	}
	defer store.Close()

	index, err := assetdir.New(logger, cfg.ContentRoot, cfg.GeneratedDir)
	if err != nil {
		return fmt.Errorf("failed to init content index: %w", err)
	}
	defer index.Close()

	graph := scene.NewGraph()
	generator := trellis.NewClient(logger, cfg.TrellisURL)
	loader := gltf.New(logger, graph, cfg.ContentRoot)

	// Initialize Core Services
	eventBus := services.NewEventBus(logger)
	resolver := services.NewResolver(logger, index,
		services.WithRecencyWindow(time.Duration(cfg.RecencyWindowSeconds)*time.Second),
	)
	history := services.NewHistoryService(logger, graph)

	adopt := trellis.AdoptOrphan(logger, graph)
	factory := func(slot string) *services.Orchestrator {
		return services.NewOrchestrator(logger, slot, store, graph, resolver, generator, loader, eventBus,
			services.WithAdoptHook(adopt),
			services.WithRetryAfter(cfg.PollRetrySeconds),
		)
	}

	apiServer, err := server.New(logger, factory, history, eventBus)
	if err != nil {
		return fmt.Errorf("failed to init api server: %w", err)
	}
	handler, err := apiServer.Handler()
	if err != nil {
		return fmt.Errorf("failed to build api handler: %w", err)
	}

	// CORS Configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: c.Handler(handler),
	}

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Keep the content index fresh
	g.Go(func() error {
		index.Watch(gCtx)
		return nil
	})

	// 2. Start API Server
	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	// 3. Graceful Shutdown for API Server
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
