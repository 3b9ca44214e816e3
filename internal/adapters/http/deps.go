package http

import (
	"github.com/nats-io/nats.go"

	natsadapter "github.com/dhwagstaff/tbeacon/internal/adapters/nats"
	"github.com/dhwagstaff/tbeacon/internal/adapters/postgres"
	"github.com/dhwagstaff/tbeacon/internal/adapters/valkey"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
	"github.com/dhwagstaff/tbeacon/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Items         *usecases.ItemService
	Places        *usecases.PlaceService
	Products      *usecases.ProductService
	Coordinator   *usecases.GeofenceCoordinator
	Registry      ports.RegionRegistry
	Notifications ports.NotificationLogRepository
	Publisher     *natsadapter.Publisher
	NATS          *nats.Conn
	DB            *postgres.DB
	Cache         *valkey.Cache
}
