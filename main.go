package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/budget"
	"github.com/routewise-ai/routewise/internal/config"
	"github.com/routewise-ai/routewise/internal/llm"
	"github.com/routewise-ai/routewise/internal/miner"
	"github.com/routewise-ai/routewise/internal/pipeline"
	"github.com/routewise-ai/routewise/internal/planner"
	"github.com/routewise-ai/routewise/internal/router"
	"github.com/routewise-ai/routewise/internal/search"
	"github.com/routewise-ai/routewise/internal/server"
	"github.com/routewise-ai/routewise/internal/session"
	"github.com/routewise-ai/routewise/internal/synthesis"
	"github.com/routewise-ai/routewise/internal/tasks"
	"github.com/routewise-ai/routewise/internal/tracing"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Configuration invalid", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Configuration incomplete", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Initialize(ctx, logger)
	if err != nil {
		logger.Fatal("Tracing setup failed", zap.Error(err))
	}

	policy := budget.DefaultPolicy()
	if err := config.WatchPolicy(ctx, cfg.Budget.PolicyFile, policy, logger); err != nil {
		logger.Fatal("Policy file unusable", zap.Error(err),
			zap.String("path", cfg.Budget.PolicyFile))
	}

	store, err := session.Open(cfg.Session.DBPath, cfg.Session.HistoryLimit, logger)
	if err != nil {
		logger.Fatal("Session store unavailable", zap.Error(err))
	}
	defer store.Close()

	llmClient := llm.NewClient(cfg.LLM, logger)

	httpClient := &http.Client{Timeout: cfg.Search.FetchTimeout}
	providers := buildProviders(cfg, httpClient, logger)
	cache := buildCache(cfg, logger)
	aggregator := search.NewAggregator(providers, cache,
		search.NewExtractor(httpClient), cfg.Search.FetchDelay,
		func() config.RerankWeights { return cfg.Rerank }, logger)

	var saver *pipeline.ArtifactSaver
	if cfg.Output.SaveArtifacts {
		saver = pipeline.NewArtifactSaver(cfg.Output.Dir, logger)
	}

	pipe := pipeline.New(cfg, policy, store,
		router.New(llmClient, logger),
		planner.New(llmClient, logger),
		aggregator,
		miner.New(llmClient, logger),
		tasks.New(llmClient, logger),
		synthesis.New(llmClient, logger),
		saver, logger)

	srv := server.New(cfg, pipe, store, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Trace flush incomplete", zap.Error(err))
	}
	logger.Info("Stopped")
}

// buildProviders assembles the provider set. Hybrid queries the keyless
// scraper and, when a key is configured, Tavily alongside it.
func buildProviders(cfg *config.Settings, httpClient *http.Client, logger *zap.Logger) []search.Provider {
	switch cfg.Search.Provider {
	case "tavily":
		if cfg.Search.TavilyAPIKey == "" {
			logger.Warn("Tavily selected without an API key, using DuckDuckGo")
			return []search.Provider{search.NewDuckDuckGo(httpClient)}
		}
		return []search.Provider{search.NewTavily(cfg.Search.TavilyAPIKey, httpClient)}
	case "duckduckgo":
		return []search.Provider{search.NewDuckDuckGo(httpClient)}
	default: // hybrid
		providers := []search.Provider{search.NewDuckDuckGo(httpClient)}
		if cfg.Search.TavilyAPIKey != "" {
			providers = append(providers, search.NewTavily(cfg.Search.TavilyAPIKey, httpClient))
		}
		return providers
	}
}

func buildCache(cfg *config.Settings, logger *zap.Logger) search.Cache {
	if cfg.Cache.Backend == "redis" {
		return search.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.TTL, logger)
	}
	cache, err := search.NewFileCache(cfg.Cache.Dir, cfg.Cache.TTL, logger)
	if err != nil {
		logger.Warn("File cache unavailable, running uncached", zap.Error(err))
		return nil
	}
	return cache
}
