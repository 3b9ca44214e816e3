package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricAPILatencyP50 = "api.latency.p50"
	MetricAPILatencyP95 = "api.latency.p95"
	MetricAPILatencyP99 = "api.latency.p99"

	// Throughput
	MetricRequestsPerSec = "api.requests_per_second"

	// Geofence freshness
	MetricRegionRebuildAge  = "geofence.rebuild_age_seconds"
	MetricPositionLatency   = "geofence.position_latency"
	MetricNotificationDelay = "notify.dispatch_delay_seconds"

	// Availability
	MetricUptime = "service.uptime_percentage"

	// Business
	MetricRemindersFired   = "business.reminders_fired"
	MetricItemsCompleted   = "business.items_completed"
	MetricFollowupsStarted = "business.followups_started"
)
