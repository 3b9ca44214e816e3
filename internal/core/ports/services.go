package ports

import (
	"context"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
)

// RegionDelegate receives region-monitoring callbacks. Callbacks may
// arrive on arbitrary goroutines; implementations must serialize their
// own state access.
type RegionDelegate interface {
	RegionEntered(regionID string, pos domain.GeoPoint)
	RegionExited(regionID string, pos domain.GeoPoint)
	// MonitoringFailed reports that a previously accepted region could
	// not actually be monitored (permissions revoked, hardware gone).
	MonitoringFailed(regionID string, err error)
}

// RegionRegistry is the scarce region-monitoring slot table: at most
// Capacity regions can be active at once. The GeofenceCoordinator is
// the sole writer; other components may only read for diagnostics.
type RegionRegistry interface {
	StartMonitoring(region domain.MonitoredRegion) error
	StopMonitoring(regionID string) error
	IsMonitored(regionID string) bool
	ActiveRegionIDs() []string
	Capacity() int
	SetDelegate(d RegionDelegate)
}

// PlaceSearchProvider returns candidate places for a free-text query
// anchored at a coordinate. No ordering or uniqueness guarantee.
type PlaceSearchProvider interface {
	Search(ctx context.Context, query string, near domain.GeoPoint, radiusMeters float64) ([]domain.Place, error)
}

// ProductLookupProvider resolves a product from a scanned barcode.
type ProductLookupProvider interface {
	Lookup(ctx context.Context, barcode string) (*domain.Product, error)
}

// NotificationDispatcher delivers a reminder to the user's device.
// Permission checks and actual scheduling live behind this interface.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n domain.Notification) error
}

// FollowupScheduler starts a deferred re-reminder for an item that was
// just notified, typically backed by a durable workflow engine.
type FollowupScheduler interface {
	ScheduleFollowup(ctx context.Context, item domain.Item, n domain.Notification) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishItemChange(ctx context.Context, item *domain.Item, change string) error
	PublishRegionEvent(ctx context.Context, ev *domain.RegionEvent) error
	PublishNotification(ctx context.Context, n *domain.Notification) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribePositions(ctx context.Context, handler func(ctx context.Context, pos *domain.DevicePosition) error) error
}
