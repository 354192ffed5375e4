package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/personal/banner-lifecycle/internal/application/service"
	"github.com/personal/banner-lifecycle/internal/infrastructure/cache"
	"github.com/personal/banner-lifecycle/internal/infrastructure/external"
	"github.com/personal/banner-lifecycle/internal/infrastructure/persistence"
	"github.com/personal/banner-lifecycle/pkg/config"
	mylogger "github.com/personal/banner-lifecycle/pkg/logger"
	"github.com/personal/banner-lifecycle/pkg/monitoring"
)

func main() {
	// Handle health check command
	if len(os.Args) > 1 && os.Args[1] == "-health-check" {
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	myLogger := mylogger.New(cfg.LogLevel, cfg.Environment)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := persistence.OpenPostgres(ctx, cfg.Database.DSN(), persistence.ConnectionPoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		myLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedisClient(ctx, cache.RedisOptions{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		ReadTimeout:  time.Duration(cfg.Redis.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Redis.WriteTimeoutSeconds) * time.Second,
	})
	if err != nil {
		myLogger.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer redisClient.Close()

	storage, err := external.NewLocalAssetStorage(cfg.Storage.BaseDir, cfg.Storage.PublicBaseURL)
	if err != nil {
		myLogger.Fatalf("Failed to initialize asset storage: %v", err)
	}

	timer := cache.NewRedisActivationTimer(redisClient, cfg.Scheduler.KeyPrefix)

	// Activations only need the listing invalidated, so the local level stays off
	publishedCache := cache.NewPublishedCache(redisClient, &cache.PublishedCacheConfig{
		L2TTL:    cfg.Cache.PublishedTTL(),
		EnableL2: true,
	})

	bannerService := service.NewBannerService(
		persistence.NewPostgresBannerRepository(db),
		timer,
		storage,
		persistence.NewPostgresStaffDirectory(db),
		publishedCache,
		myLogger,
		service.BannerServiceConfig{ValidateManualReorder: cfg.Ranking.ValidateManualReorder},
	)

	consumer := service.NewActivationConsumer(bannerService, timer, myLogger, service.ActivationConsumerConfig{
		RetryAttempts:      uint(cfg.Scheduler.RetryAttempts),
		RetryDelay:         cfg.Scheduler.RetryDelay(),
		MaxRequeueAttempts: cfg.Scheduler.MaxRequeueAttempts,
	})

	processor := NewActivationProcessor(timer, consumer, myLogger, cfg.Scheduler)
	processor.Start(ctx)

	var metricsServer *http.Server
	if cfg.Monitoring.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Monitoring.Metrics.Path, monitoring.PrometheusHandler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Monitoring.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				myLogger.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	myLogger.Info("Shutting down scheduler...")
	processor.Stop()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}

	myLogger.Info("Scheduler exited")
}
