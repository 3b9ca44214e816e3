package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/dhwagstaff/tbeacon/internal/pkg/metrics"
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // Balance speed vs compression ratio
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 240 requests per minute per IP. Position fixes
	// arrive frequently, so the budget is wider than a pure CRUD API.
	app.Use(limiter.New(limiter.Config{
		Max:        240,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests, please try again later",
			})
		},
		SkipFailedRequests: false,
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1 with a 15s per-request timeout
	v1 := app.Group("/v1")

	// Items
	v1.Get("/items", timeout.NewWithContext(ListItemsHandler(deps), 15*time.Second))
	v1.Post("/items", timeout.NewWithContext(CreateItemHandler(deps), 15*time.Second))
	v1.Get("/items/grouped/store", timeout.NewWithContext(GroupedByStoreHandler(deps), 15*time.Second))
	v1.Get("/items/grouped/category", timeout.NewWithContext(GroupedByCategoryHandler(deps), 15*time.Second))
	v1.Get("/items/:uid", timeout.NewWithContext(GetItemHandler(deps), 15*time.Second))
	v1.Put("/items/:uid", timeout.NewWithContext(UpdateItemHandler(deps), 15*time.Second))
	v1.Patch("/items/:uid/completed", timeout.NewWithContext(CompleteItemHandler(deps), 15*time.Second))
	v1.Delete("/items/:uid", timeout.NewWithContext(DeleteItemHandler(deps), 15*time.Second))

	// Place search and product lookup
	v1.Get("/places/search", timeout.NewWithContext(SearchPlacesHandler(deps), 15*time.Second))
	v1.Get("/products/:barcode", timeout.NewWithContext(GetProductHandler(deps), 15*time.Second))

	// Geofence diagnostics and control
	v1.Get("/regions", timeout.NewWithContext(ListRegionsHandler(deps), 15*time.Second))
	v1.Get("/regions/:id", timeout.NewWithContext(CheckRegionHandler(deps), 15*time.Second))
	v1.Put("/regions/radius", timeout.NewWithContext(UpdateRadiusHandler(deps), 15*time.Second))
	v1.Post("/regions/rebuild", timeout.NewWithContext(RebuildRegionsHandler(deps), 15*time.Second))

	// Device position ingest
	v1.Post("/positions", timeout.NewWithContext(ReportPositionHandler(deps), 15*time.Second))

	// Notification audit log
	v1.Get("/notifications", timeout.NewWithContext(ListNotificationsHandler(deps), 15*time.Second))

	// Stats
	v1.Get("/stats", timeout.NewWithContext(StatsHandler(deps), 15*time.Second))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// WebSocket: live region events and reminder pushes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
