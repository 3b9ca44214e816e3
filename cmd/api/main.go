package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/dhwagstaff/tbeacon/internal/adapters/http"
	natsadapter "github.com/dhwagstaff/tbeacon/internal/adapters/nats"
	"github.com/dhwagstaff/tbeacon/internal/adapters/places"
	"github.com/dhwagstaff/tbeacon/internal/adapters/postgres"
	"github.com/dhwagstaff/tbeacon/internal/adapters/products"
	"github.com/dhwagstaff/tbeacon/internal/adapters/push"
	"github.com/dhwagstaff/tbeacon/internal/adapters/registry"
	temporaladapter "github.com/dhwagstaff/tbeacon/internal/adapters/temporal"
	"github.com/dhwagstaff/tbeacon/internal/adapters/valkey"
	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
	"github.com/dhwagstaff/tbeacon/internal/core/usecases"
	"github.com/dhwagstaff/tbeacon/internal/pkg/config"
	"github.com/dhwagstaff/tbeacon/internal/pkg/logging"
	"github.com/dhwagstaff/tbeacon/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("tbeacon-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("tbeacon-api", logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Cache. Optional: services fall through to the repos without it.
	cache, err := valkey.New(cfg.Valkey.Addr)
	var cacheSvc ports.CacheService
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	// NATS JetStream publisher. Reminder dispatch rides on it, so a
	// broker outage at boot is fatal.
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	// Raw NATS connection for the WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	}

	// Repos
	itemRepo := postgres.NewItemRepo(db)
	notifRepo := postgres.NewNotificationLogRepo(db)

	// Reminder dispatch goes over NATS, audited in Postgres.
	dispatcher := push.NewDispatcher(pub, notifRepo)

	// Temporal follow-up scheduler. Optional: reminders still fire
	// without it, they just don't repeat.
	var coordOpts []usecases.CoordinatorOption
	coordOpts = append(coordOpts,
		usecases.WithRadius(cfg.Geofence.RadiusMeters),
		usecases.WithRebuildDebounce(time.Duration(cfg.Geofence.DebounceMs)*time.Millisecond),
		usecases.WithEventPublisher(pub),
	)
	followups, err := temporaladapter.New(
		cfg.Temporal.HostPort, cfg.Temporal.Namespace, cfg.Temporal.TaskQueue,
		time.Duration(cfg.Temporal.FollowupDelayMinutes)*time.Minute,
	)
	if err != nil {
		slog.Warn("temporal unavailable, follow-up reminders disabled", "error", err)
	} else {
		defer followups.Close()
		coordOpts = append(coordOpts, usecases.WithFollowupScheduler(followups))
	}

	// Region registry + coordinator
	reg := registry.New(cfg.Geofence.MaxRegions)
	coord := usecases.NewGeofenceCoordinator(reg, itemRepo, dispatcher, coordOpts...)
	defer coord.Close()

	// Derive the initial monitoring set from the incomplete items.
	if items, err := itemRepo.ListIncomplete(ctx); err != nil {
		slog.Error("initial item load failed, starting with no regions", "error", err)
	} else if err := coord.RebuildAll(ctx, items); err != nil {
		slog.Error("initial region rebuild failed", "error", err)
	}

	// Use cases
	itemSvc := usecases.NewItemService(itemRepo, coord, cacheSvc, pub)
	placeSvc := usecases.NewPlaceService(places.New(cfg.Places.BaseURL), cacheSvc)
	productSvc := usecases.NewProductService(products.New(cfg.Products.BaseURL), cacheSvc)

	// Feed device positions from the work queue into the registry.
	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		slog.Warn("position subscriber unavailable", "error", err)
	} else {
		defer sub.Close()
		err = sub.SubscribePositions(ctx, func(ctx context.Context, pos *domain.DevicePosition) error {
			reg.Observe(*pos)
			return nil
		})
		if err != nil {
			slog.Warn("position subscription failed", "error", err)
		}
	}

	deps := &http.Dependencies{
		Items:         itemSvc,
		Places:        placeSvc,
		Products:      productSvc,
		Coordinator:   coord,
		Registry:      reg,
		Notifications: notifRepo,
		Publisher:     pub,
		NATS:          natsConn,
		DB:            db,
		Cache:         cache,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "TBeacon API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
