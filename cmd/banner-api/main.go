package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/personal/banner-lifecycle/internal/application/service"
	"github.com/personal/banner-lifecycle/internal/infrastructure/cache"
	"github.com/personal/banner-lifecycle/internal/infrastructure/external"
	"github.com/personal/banner-lifecycle/internal/infrastructure/persistence"
	"github.com/personal/banner-lifecycle/internal/interfaces/http/handlers"
	"github.com/personal/banner-lifecycle/pkg/config"
	"github.com/personal/banner-lifecycle/pkg/logger"
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

	logger := logger.New(cfg.LogLevel, cfg.Environment)
	ctx := context.Background()

	db, err := persistence.OpenPostgres(ctx, cfg.Database.DSN(), persistence.ConnectionPoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
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
		logger.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer redisClient.Close()

	storage, err := external.NewLocalAssetStorage(cfg.Storage.BaseDir, cfg.Storage.PublicBaseURL)
	if err != nil {
		logger.Fatalf("Failed to initialize asset storage: %v", err)
	}

	publishedCache := cache.NewPublishedCache(redisClient, &cache.PublishedCacheConfig{
		L1TTL:      cfg.Cache.LocalTTL(),
		L2TTL:      cfg.Cache.PublishedTTL(),
		L1MaxItems: cfg.Cache.LocalMaxItems,
		EnableL1:   cfg.Cache.EnableLocal,
		EnableL2:   true,
	})

	bannerService := service.NewBannerService(
		persistence.NewPostgresBannerRepository(db),
		cache.NewRedisActivationTimer(redisClient, cfg.Scheduler.KeyPrefix),
		storage,
		persistence.NewPostgresStaffDirectory(db),
		publishedCache,
		logger,
		service.BannerServiceConfig{ValidateManualReorder: cfg.Ranking.ValidateManualReorder},
	)

	bannerHandler := handlers.NewBannerHandler(bannerService, cfg.Server.MaxUploadBytes, logger).
		WithReadiness(func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		})

	router := setupRouter(cfg, logger)
	bannerHandler.RegisterRoutes(router)
	router.Static(assetRoute(cfg.Storage.PublicBaseURL), storage.BaseDir())
	if cfg.Monitoring.Metrics.Enabled {
		router.GET(cfg.Monitoring.Metrics.Path, gin.WrapH(monitoring.PrometheusHandler()))
	}

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	stopCleanup := make(chan struct{})
	go runCacheMaintenance(publishedCache, cfg.Cache.LocalTTL(), stopCleanup)

	go func() {
		logger.Infof("Starting Banner API server on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	close(stopCleanup)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// assetRoute returns the path under which uploaded images are served
func assetRoute(publicBaseURL string) string {
	u, err := url.Parse(publicBaseURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/assets"
	}
	return u.Path
}

func runCacheMaintenance(c *cache.PublishedCache, every time.Duration, stop <-chan struct{}) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			maintainCache(c)
		}
	}
}

// maintainCache drops expired local listings and exports the hit counters
func maintainCache(c *cache.PublishedCache) {
	c.CleanupExpired()

	stats := c.GetStats()
	monitoring.UpdatePublishedCacheStats(stats.L1Hits, stats.L2Hits, stats.Misses, stats.CalculateHitRatio())
}

func setupRouter(cfg *config.Config, logger *logger.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggingMiddleware(logger))
	router.Use(monitoring.MetricsMiddleware())

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Staff-ID")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func loggingMiddleware(logger *logger.Logger) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: logger.Writer(),
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[%s] %s %s %d %s %s\n",
				param.TimeStamp.Format("2006-01-02 15:04:05"),
				param.Method,
				param.Path,
				param.StatusCode,
				param.Latency,
				param.ClientIP,
			)
		},
		SkipPaths: []string{"/health", "/ready"},
	})
}
