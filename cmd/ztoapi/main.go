package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ztoapi/internal/api"
	"ztoapi/internal/auth"
	"ztoapi/internal/cache"
	"ztoapi/internal/config"
	"ztoapi/internal/httputil"
	"ztoapi/internal/notifications"
	"ztoapi/internal/provider"
	"ztoapi/internal/provider/zai"
	"ztoapi/internal/provider/zread"
	"ztoapi/internal/queue"
	"ztoapi/internal/repository"
	"ztoapi/internal/router"
	"ztoapi/internal/secrets"
	"ztoapi/internal/stats"
	"ztoapi/internal/telemetry"
	"ztoapi/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting gateway", "addr", cfg.Addr, "default_model", cfg.DefaultModel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "ztoapi", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	registry := config.Platforms(cfg)
	modelRouter := router.New(registry, cfg.Routes, cfg.DefaultModel)

	client := httputil.DefaultClient()

	staticPool := cfg.UpstreamTokens
	if cfg.TokenPoolSecret != "" && cfg.AWSRegion != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to initialize secrets manager", "error", err)
			os.Exit(1)
		}
		pooled, err := secrets.LoadTokenPool(ctx, store, cfg.TokenPoolSecret)
		if err != nil {
			slog.Warn("failed to load token pool secret", "error", err)
		} else {
			staticPool = append(staticPool, pooled...)
			slog.Info("seeded token pool from secrets manager", "tokens", len(pooled))
		}
	}

	tokenOpts := []token.Option{token.WithAuthTimeout(cfg.AuthTimeout)}

	var kvPool *token.RedisPool
	if cfg.RedisURL != "" {
		kvPool, err = token.NewRedisPool(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis token pool", "error", err)
		} else {
			tokenOpts = append(tokenOpts, token.WithKVPool(kvPool))
			defer kvPool.Close()
			slog.Info("using redis token pool")
		}
	}

	tokens := token.New(staticPool, client, tokenOpts...)

	var responseCache cache.Cache
	if kvPool != nil {
		responseCache = cache.NewRedisCache(kvPool.Client(), cfg.CacheTTL)
		slog.Info("using redis response cache", "ttl", cfg.CacheTTL)
	} else {
		memCache := cache.NewInMemoryCache(cfg.CacheTTL, cfg.CacheMaxEntries)
		defer memCache.Close()
		responseCache = memCache
		slog.Info("using in-memory response cache", "ttl", cfg.CacheTTL)
	}

	providers := make(map[string]provider.Provider)
	checkers := []api.HealthChecker{}

	if desc, ok := registry.Get("zai"); ok {
		providers[desc.ID] = zai.New(desc, client, cfg.SendTimeout, cfg.ThinkTagsMode)
		slog.Info("registered provider", "provider", desc.ID)
	}
	if desc, ok := registry.Get("zread"); ok {
		providers[desc.ID] = zread.New(desc, client, cfg.TalkSendTimeout, zread.TalkContext{
			RepoID:     cfg.ZreadRepoID,
			WikiPageID: cfg.ZreadWikiPageID,
			WikiID:     cfg.ZreadWikiID,
		})
		slog.Info("registered provider", "provider", desc.ID)
	}

	var sinks []stats.Sink

	if cfg.DatabaseURL != "" {
		db, err := repository.Open(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to stats database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		sinks = append(sinks, repository.NewPostgresStatsRepository(db))
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("persisting request stats to postgres")
	}

	if cfg.StatsQueueURL != "" && cfg.AWSRegion != "" {
		publisher, err := queue.NewSQSPublisher(ctx, cfg.AWSRegion, cfg.StatsQueueURL)
		if err != nil {
			slog.Error("failed to initialize stats queue", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, publisher)
		slog.Info("publishing request stats to sqs")
	}

	if kvPool != nil {
		checkers = append(checkers, api.NewRedisHealthChecker(kvPool.Client()))
	}

	recorder := stats.NewRecorder(sinks...)
	defer recorder.Close()

	var notifier notifications.Notifier
	if cfg.AlertTopicARN != "" && cfg.AWSRegion != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.AlertTopicARN)
		if err != nil {
			slog.Error("failed to initialize alert notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("alerting over sns", "topic", cfg.AlertTopicARN)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Verifier:       auth.NewVerifier(cfg.APIKey, cfg.APIKeyHash),
		Router:         modelRouter,
		Providers:      providers,
		Tokens:         tokens,
		Cache:          responseCache,
		Recorder:       recorder,
		Notifier:       notifier,
		TokenHeader:    cfg.TokenHeaderOverride,
		DefaultStream:  cfg.DefaultStream,
		EnableThinking: cfg.EnableThinking,
		HealthCheckers: checkers,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
		// No write timeout: streaming responses stay open for as long as the
		// upstream keeps talking.
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
