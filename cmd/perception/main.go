// Package main wires together the analysis service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/api"
	cachememory "github.com/haybaler/perception/internal/cache/memory"
	cachepostgres "github.com/haybaler/perception/internal/cache/postgres"
	"github.com/haybaler/perception/internal/clock/system"
	"github.com/haybaler/perception/internal/config"
	"github.com/haybaler/perception/internal/dispatcher"
	"github.com/haybaler/perception/internal/engine"
	mobileengine "github.com/haybaler/perception/internal/engine/mobile"
	performanceengine "github.com/haybaler/perception/internal/engine/performance"
	seoengine "github.com/haybaler/perception/internal/engine/seo"
	technicalengine "github.com/haybaler/perception/internal/engine/technical"
	"github.com/haybaler/perception/internal/hash/sha256"
	"github.com/haybaler/perception/internal/id/uuid"
	"github.com/haybaler/perception/internal/logging"
	"github.com/haybaler/perception/internal/metrics"
	"github.com/haybaler/perception/internal/orchestrator"
	memorypublisher "github.com/haybaler/perception/internal/publisher/memory"
	pubsubpublisher "github.com/haybaler/perception/internal/publisher/pubsub"
	queuememory "github.com/haybaler/perception/internal/queue/memory"
	"github.com/haybaler/perception/internal/ratelimit"
	"github.com/haybaler/perception/internal/storage/gcs"
	memorystorage "github.com/haybaler/perception/internal/storage/memory"
	postgresstorage "github.com/haybaler/perception/internal/storage/postgres"
	"github.com/haybaler/perception/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.NewGenerator()
	hasher := sha256.New()
	queue := queuememory.NewQueue(cfg.Analysis.QueueDepth)

	jobStore, closeJobStore, err := buildJobStore(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	defer closeJobStore()

	cache, closeCache, err := buildCache(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	defer closeCache()

	reports, err := buildReportStore(ctx, cfg)
	if err != nil {
		logger.Fatal("report store init failed", zap.Error(err))
	}

	publisher, stopPublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer stopPublisher()

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   float64(cfg.Analysis.RateLimitRPS),
		DefaultBurst: cfg.Analysis.RateLimitBurst,
	})
	retry := analysis.NewExponentialRetryPolicyWith(
		cfg.HTTP.MaxRetries,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	fetcher := engine.NewFetcher(engine.FetchConfig{
		UserAgent: cfg.Analysis.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, limiter, retry)

	var renderer mobileengine.Renderer
	if cfg.Headless.Enabled {
		chromeRenderer, rendererErr := mobileengine.NewChromedpRenderer(mobileengine.RendererConfig{
			UserAgent:      cfg.Analysis.UserAgent,
			Timeout:        time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			MaxConcurrency: cfg.Headless.MaxParallel,
		}, logger.Named("renderer"))
		if rendererErr != nil {
			logger.Warn("headless renderer init failed", zap.Error(rendererErr))
		} else {
			renderer = chromeRenderer
			defer func() {
				if closeErr := chromeRenderer.Close(); closeErr != nil {
					logger.Warn("renderer close failed", zap.Error(closeErr))
				}
			}()
		}
	}

	registry := analysis.NewRegistry(
		technicalengine.New(fetcher, clock),
		performanceengine.New(performanceengine.Config{
			APIKey:     cfg.Performance.PageSpeedAPIKey,
			APITimeout: time.Duration(cfg.Performance.PageSpeedTimeout) * time.Second,
		}, fetcher, clock),
		seoengine.New(fetcher, clock),
		mobileengine.New(fetcher, renderer, clock, logger.Named("mobile")),
	)

	orch := orchestrator.New(
		orchestrator.Config{
			GlobalTimeout:      cfg.JobTimeout(),
			EngineTimeout:      cfg.EngineTimeout(),
			CacheTTL:           cfg.CacheTTL(),
			MaxParallelEngines: int64(cfg.Analysis.MaxParallelEngines),
			MaxRecommendations: cfg.Analysis.MaxRecommendations,
			EventTopic:         cfg.PubSub.TopicName,
			ReportPrefix:       cfg.Storage.Prefix,
		},
		registry,
		cache,
		jobStore,
		reports,
		publisher,
		hasher,
		clock,
		logger.Named("orchestrator"),
	)

	workers := make([]*worker.Worker, 0, cfg.Analysis.Workers)
	for i := 0; i < cfg.Analysis.Workers; i++ {
		workers = append(workers, worker.New(queue, orch, logger.Named("worker").With(zap.Int("index", i))))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(jobStore, cache, registry, dispatch, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Analysis.Workers))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

func buildJobStore(ctx context.Context, cfg config.Config, clock analysis.Clock) (analysis.JobStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewJobStore(clock), func() {}, nil
	}
	store, err := postgresstorage.NewJobStore(ctx, postgresstorage.JobStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
		MinConns: int32(cfg.DB.MinIdleConns),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("migrate job store: %w", err)
	}
	return store, store.Close, nil
}

func buildCache(ctx context.Context, cfg config.Config, clock analysis.Clock) (analysis.CacheStore, func(), error) {
	if cfg.Cache.Provider != "postgres" {
		return cachememory.NewCache(clock), func() {}, nil
	}
	cache, err := cachepostgres.New(ctx, cachepostgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
		MinConns: int32(cfg.DB.MinIdleConns),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := cache.Migrate(ctx); err != nil {
		cache.Close()
		return nil, nil, fmt.Errorf("migrate cache: %w", err)
	}
	return cache, cache.Close, nil
}

func buildReportStore(ctx context.Context, cfg config.Config) (analysis.ReportStore, error) {
	if cfg.Storage.GCSBucket == "" {
		return memorystorage.NewBlobStore(), nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: ""})
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (analysis.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), func() {}, nil
	}
	pub, err := pubsubpublisher.NewFromProject(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("pubsub publisher configured",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName))
	return pub, pub.Stop, nil
}
