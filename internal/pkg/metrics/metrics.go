package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tbeacon",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tbeacon",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Geofence metrics
	ActiveRegions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tbeacon",
		Subsystem: "geofence",
		Name:      "active_regions",
		Help:      "Regions currently registered for monitoring",
	})

	RegionEntries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "geofence",
		Name:      "region_entries_total",
		Help:      "Total region entry events resolved",
	})

	RegionExits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "geofence",
		Name:      "region_exits_total",
		Help:      "Total region exit events observed",
	})

	UnrecognizedRegionEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "geofence",
		Name:      "unrecognized_region_events_total",
		Help:      "Entry/exit callbacks for ids absent from the index (stale after rebuild)",
	})

	RegionCapacityRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "geofence",
		Name:      "capacity_rejections_total",
		Help:      "Region registrations rejected at the slot ceiling",
	})

	GeofenceRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "geofence",
		Name:      "rebuilds_total",
		Help:      "Full monitoring rebuilds executed",
	})

	GeofenceRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tbeacon",
		Subsystem: "geofence",
		Name:      "rebuild_duration_seconds",
		Help:      "Duration of a full monitoring rebuild",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	NotificationsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "notify",
		Name:      "dispatched_total",
		Help:      "Reminder notifications dispatched",
	})

	PositionsObserved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "geofence",
		Name:      "positions_observed_total",
		Help:      "Device position samples fed to the region registry",
	})

	// Cache metrics
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tbeacon",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tbeacon",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tbeacon",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tbeacon",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving the Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool gauges from pgx pool stats.
// Accepts an interface so this package stays free of a pgxpool import.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
