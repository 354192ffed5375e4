package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the banner lifecycle engine
var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// Lifecycle metrics
	BannerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banner_transitions_total",
			Help: "Total number of applied banner status transitions",
		},
		[]string{"event", "from", "to"},
	)

	BannersCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banners_created_total",
			Help: "Total number of banners created",
		},
		[]string{"category", "status"},
	)

	BannersDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banners_deleted_total",
			Help: "Total number of banners deleted",
		},
		[]string{"category"},
	)

	// Ranking metrics
	RankingGapClosuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_gap_closures_total",
			Help: "Total number of ranking gaps closed",
		},
		[]string{"category"},
	)

	RankingRowsShifted = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranking_rows_shifted",
			Help:    "Number of banners renumbered by one gap closure",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"category"},
	)

	RankingReordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_manual_reorders_total",
			Help: "Total number of manual running number overrides",
		},
		[]string{"result"},
	)

	// Activation metrics
	ActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banner_activations_total",
			Help: "Scheduled activation operations by action and result",
		},
		[]string{"action", "result"},
	)

	ActivationLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "banner_activation_lag_seconds",
			Help:    "Delay between an activation's due time and its delivery",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
	)

	ActivationQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "banner_activation_queue_size",
			Help: "Number of outstanding scheduled activations",
		},
	)

	ActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Number of currently active workers",
		},
		[]string{"service"},
	)

	// Asset metrics
	AssetOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_operations_total",
			Help: "Image storage operations by kind and result",
		},
		[]string{"operation", "result"},
	)

	// Cache metrics
	PublishedCacheLookups = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "published_cache_lookups",
			Help: "Storefront listing lookups since start by outcome",
		},
		[]string{"outcome"},
	)

	PublishedCacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "published_cache_hit_ratio",
			Help: "Share of storefront listing lookups served from cache",
		},
	)

	// Database metrics
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_seconds",
			Help:    "Database query execution time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"query_type", "table"},
	)

	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"error_type", "table"},
	)

	// Redis metrics
	RedisCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_command_duration_seconds",
			Help:    "Redis command execution time",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"command"},
	)

	RedisErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"command"},
	)
)

// MetricsMiddleware creates a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route templates keep label cardinality bounded
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, endpoint, status).Observe(time.Since(start).Seconds())
	}
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// RecordTransition records an applied status transition
func RecordTransition(event, from, to string) {
	BannerTransitionsTotal.WithLabelValues(event, from, to).Inc()
}

// RecordBannerCreated records when a new banner is created
func RecordBannerCreated(category, status string) {
	BannersCreatedTotal.WithLabelValues(category, status).Inc()
}

// RecordBannerDeleted records when a banner is deleted
func RecordBannerDeleted(category string) {
	BannersDeletedTotal.WithLabelValues(category).Inc()
}

// RecordGapClosure records a ranking gap closure and how many ranks moved
func RecordGapClosure(category string, shifted int64) {
	RankingGapClosuresTotal.WithLabelValues(category).Inc()
	RankingRowsShifted.WithLabelValues(category).Observe(float64(shifted))
}

// RecordReorder records a manual reorder outcome
func RecordReorder(result string) {
	RankingReordersTotal.WithLabelValues(result).Inc()
}

// RecordActivation records an activation operation (enqueue, cancel, fire, requeue)
func RecordActivation(action, result string) {
	ActivationsTotal.WithLabelValues(action, result).Inc()
}

// RecordActivationLag records how late an activation was delivered
func RecordActivationLag(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	ActivationLag.Observe(lag.Seconds())
}

// UpdateActivationQueueSize sets the outstanding activation gauge
func UpdateActivationQueueSize(size int64) {
	ActivationQueueSize.Set(float64(size))
}

// UpdateActiveWorkers updates the number of active workers
func UpdateActiveWorkers(service string, count int) {
	ActiveWorkers.WithLabelValues(service).Set(float64(count))
}

// UpdatePublishedCacheStats publishes the listing cache counters
func UpdatePublishedCacheStats(l1Hits, l2Hits, misses int64, hitRatio float64) {
	PublishedCacheLookups.WithLabelValues("l1_hit").Set(float64(l1Hits))
	PublishedCacheLookups.WithLabelValues("l2_hit").Set(float64(l2Hits))
	PublishedCacheLookups.WithLabelValues("miss").Set(float64(misses))
	PublishedCacheHitRatio.Set(hitRatio)
}

// RecordAssetOperation records an image storage call
func RecordAssetOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	AssetOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(queryType, table string, duration time.Duration, err error) {
	DatabaseQueryDuration.WithLabelValues(queryType, table).Observe(duration.Seconds())
	if err != nil {
		DatabaseErrorsTotal.WithLabelValues("query_error", table).Inc()
	}
}

// RecordRedisCommand records Redis command metrics
func RecordRedisCommand(command string, duration time.Duration, err error) {
	RedisCommandDuration.WithLabelValues(command).Observe(duration.Seconds())
	if err != nil {
		RedisErrorsTotal.WithLabelValues(command).Inc()
	}
}
