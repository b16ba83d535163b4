package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/tourai/internal/api"
	"github.com/felipepmaragno/tourai/internal/capability"
	"github.com/felipepmaragno/tourai/internal/config"
	"github.com/felipepmaragno/tourai/internal/cost"
	"github.com/felipepmaragno/tourai/internal/moderation"
	"github.com/felipepmaragno/tourai/internal/notifications"
	"github.com/felipepmaragno/tourai/internal/orchestrator"
	"github.com/felipepmaragno/tourai/internal/provider"
	"github.com/felipepmaragno/tourai/internal/provider/anthropic"
	"github.com/felipepmaragno/tourai/internal/provider/bedrock"
	"github.com/felipepmaragno/tourai/internal/provider/google"
	"github.com/felipepmaragno/tourai/internal/provider/openai"
	"github.com/felipepmaragno/tourai/internal/queue"
	"github.com/felipepmaragno/tourai/internal/ratelimit"
	"github.com/felipepmaragno/tourai/internal/secrets"
	"github.com/felipepmaragno/tourai/internal/telemetry"
)

const (
	serviceName = "tourai"
	version     = "0.1.0"

	outageAlertInterval = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting tourai", "addr", cfg.Addr, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SecretsName != "" {
		store, err := secrets.NewAWSStore(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to create secrets store", "error", err)
			os.Exit(1)
		}
		applied, err := secrets.Overlay(ctx, store, cfg.SecretsName, cfg.ProviderKeys())
		if err != nil {
			slog.Error("failed to load provider secrets", "secret", cfg.SecretsName, "error", err)
			os.Exit(1)
		}
		slog.Info("applied provider secrets", "secret", cfg.SecretsName, "keys", applied)
	}

	shutdownTracing, err := telemetry.Init(ctx, serviceName, version, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	registry := provider.NewRegistry(providerFactories(cfg), slog.Default())
	if len(registry.Configured()) == 0 {
		slog.Warn("no providers configured, every call will fail until credentials are set")
	} else {
		slog.Info("providers configured", "providers", registry.Configured())
	}

	var checkers []api.HealthChecker

	limiterCfg := ratelimit.Config{Limit: cfg.RateLimitRequests, Window: cfg.RateLimitWindow}
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL, limiterCfg)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisLimiter.Close()
		checkers = append(checkers, api.NewPingChecker("redis", redisLimiter.Ping))
		limiter = redisLimiter
		slog.Info("using redis rate limiter")
	} else {
		memLimiter := ratelimit.NewInMemoryLimiter(limiterCfg)
		memLimiter.Start(ctx)
		defer memLimiter.Stop()
		limiter = memLimiter
		slog.Info("using in-memory rate limiter")
	}

	calculator, err := cost.LoadCalculator(cfg.PricingFile)
	if err != nil {
		slog.Error("failed to load pricing", "file", cfg.PricingFile, "error", err)
		os.Exit(1)
	}

	var tracker cost.Tracker
	if cfg.DatabaseURL != "" {
		db, err := cost.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := cost.NewPostgresTracker(db)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate usage table", "error", err)
			os.Exit(1)
		}
		checkers = append(checkers, api.NewPingChecker("postgres", pg.Ping))
		tracker = pg
		slog.Info("using postgres usage tracker")
	} else {
		tracker = cost.NewInMemoryTracker()
		slog.Info("using in-memory usage tracker")
	}

	var notifier notifications.Notifier = notifications.NewLogNotifier(slog.Default())
	if cfg.SNSTopicARN != "" {
		sns, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to create sns notifier", "error", err)
			os.Exit(1)
		}
		notifier = sns
		slog.Info("outage notifications via sns", "topic", cfg.SNSTopicARN)
	}
	notifier = notifications.NewThrottled(notifier, outageAlertInterval)

	defaultOrder, err := provider.ParseNames(cfg.FallbackOrder)
	if err != nil {
		slog.Error("invalid FALLBACK_ORDER", "error", err)
		os.Exit(1)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Registry:   registry,
		Limiter:    limiter,
		Calculator: calculator,
		Tracker:    tracker,
		Notifier:   notifier,
		Screen:     moderation.New(cfg.ModerationKeywords),
		Logger:     slog.Default(),
	}, orchestrator.Config{
		DefaultOrder:       defaultOrder,
		DefaultTemperature: cfg.DefaultTemperature,
		DefaultMaxTokens:   cfg.DefaultMaxTokens,
		ProviderTimeout:    cfg.ProviderTimeout,
	})
	if err != nil {
		slog.Error("failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	caps := capability.NewService(orch, slog.Default())

	var jobs queue.Queue
	if cfg.SQSRequestQueueURL != "" && cfg.SQSResponseQueue != "" {
		jobs, err = queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSRequestQueueURL, cfg.SQSResponseQueue)
		if err != nil {
			slog.Error("failed to create sqs queue", "error", err)
			os.Exit(1)
		}
		slog.Info("content jobs via sqs", "queue", cfg.SQSRequestQueueURL)
	} else {
		jobs = queue.NewInMemoryQueue()
		slog.Info("content jobs via in-memory queue")
	}

	worker := queue.NewWorker(jobs, caps, slog.Default(), queue.WorkerConfig{})
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	handler := api.NewHandler(api.HandlerConfig{
		Orchestrator:   orch,
		Capabilities:   caps,
		Providers:      registry,
		Jobs:           jobs,
		HealthCheckers: checkers,
		Version:        version,
		Logger:         slog.Default(),
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Admin routes are unauthenticated and stay on their own listener,
	// loopback-only unless ADMIN_ADDR says otherwise.
	adminSrv := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      api.NewAdminHandler(tracker, calculator, slog.Default()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		slog.Info("admin server listening", "addr", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server forced to shutdown", "error", err)
	}

	cancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		slog.Warn("content worker did not stop before shutdown timeout")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("server stopped")
}

// providerFactories only sets a factory when the provider has credentials,
// so the registry reports the rest as not configured.
func providerFactories(cfg *config.Config) provider.Factories {
	var f provider.Factories
	if cfg.OpenAIAPIKey != "" {
		f.OpenAI = func(context.Context) (provider.Client, error) {
			return openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
	}
	if cfg.AnthropicAPIKey != "" {
		f.Anthropic = func(context.Context) (provider.Client, error) {
			return anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		}
	}
	if cfg.GoogleAPIKey != "" {
		f.Google = func(context.Context) (provider.Client, error) {
			return google.New(cfg.GoogleAPIKey, cfg.GoogleModel)
		}
	}
	if cfg.AWSRegion != "" && cfg.BedrockModel != "" {
		f.Bedrock = func(ctx context.Context) (provider.Client, error) {
			return bedrock.New(ctx, cfg.AWSRegion, cfg.BedrockModel)
		}
	}
	return f
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
