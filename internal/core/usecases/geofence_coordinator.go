package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
	"github.com/dhwagstaff/tbeacon/internal/pkg/metrics"
)

// Coordinator-level error conditions. All are recoverable; none may
// take the monitoring subsystem down.
var (
	// ErrNotEligible means the item or store fails the monitoring
	// eligibility predicate (unset coordinates or missing place name).
	ErrNotEligible = errors.New("item is not eligible for region monitoring")

	// ErrRegistryFull means the region slot table is at capacity and the
	// registration was rejected rather than silently dropped.
	ErrRegistryFull = errors.New("region registry at capacity")
)

// isRecoverable reports conditions that are handled locally (logged at
// the rejection site) and must never surface to the user.
func isRecoverable(err error) bool {
	return errors.Is(err, ErrNotEligible) || errors.Is(err, ErrRegistryFull)
}

// DefaultRegionRadiusMeters is the geofence radius used unless
// configured otherwise.
const DefaultRegionRadiusMeters = 500

// DefaultRebuildDebounce is the trailing-edge window applied to bursts
// of rebuild requests (e.g. a batch save touching many items).
const DefaultRebuildDebounce = 500 * time.Millisecond

// GeofenceCoordinator owns the mapping between items and monitored
// regions. It is the sole writer of the RegionRegistry: it decides
// which items warrant a region, registers and removes regions, and on
// entry events resolves which items produce the reminder.
//
// All mutable state (the two index maps, the notified set, the
// registry) is guarded by a single mutex, so every mutation observes a
// consistent "region registered ⇔ index updated" pair. Registry
// callbacks arrive on arbitrary goroutines and re-enter through the
// same lock. The index maps are derived state, rebuildable from the
// item repository at any time; they are never persisted.
type GeofenceCoordinator struct {
	registry   ports.RegionRegistry
	items      ports.ItemRepository
	dispatcher ports.NotificationDispatcher
	publisher  ports.EventPublisher    // optional
	followups  ports.FollowupScheduler // optional
	newID      func() string

	mu sync.Mutex
	// regionToItem maps per-item region ids (task UIDs) to their item.
	regionToItem map[string]domain.Item
	// storeRegions maps per-store region ids to the shopping items
	// currently sharing that region.
	storeRegions map[string][]domain.Item
	// notified tracks region ids that have fired at least once. Kept
	// separate from the monitored set on purpose: registration
	// idempotence never consults it.
	notified map[string]struct{}
	// retried tracks regions that already consumed their one-shot
	// monitoring retry.
	retried map[string]struct{}

	radius float64

	lastRebuild  time.Time
	rebuildTimer *time.Timer
	debounce     time.Duration
}

// CoordinatorOption customises a GeofenceCoordinator.
type CoordinatorOption func(*GeofenceCoordinator)

// WithRadius sets the region radius in meters.
func WithRadius(meters float64) CoordinatorOption {
	return func(c *GeofenceCoordinator) {
		if meters > 0 {
			c.radius = meters
		}
	}
}

// WithRebuildDebounce sets the rebuild coalescing window.
func WithRebuildDebounce(d time.Duration) CoordinatorOption {
	return func(c *GeofenceCoordinator) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithEventPublisher attaches a broker publisher for region events.
func WithEventPublisher(p ports.EventPublisher) CoordinatorOption {
	return func(c *GeofenceCoordinator) { c.publisher = p }
}

// WithFollowupScheduler attaches a deferred re-reminder scheduler.
func WithFollowupScheduler(f ports.FollowupScheduler) CoordinatorOption {
	return func(c *GeofenceCoordinator) { c.followups = f }
}

// WithIDGenerator overrides notification id generation (tests).
func WithIDGenerator(fn func() string) CoordinatorOption {
	return func(c *GeofenceCoordinator) { c.newID = fn }
}

// NewGeofenceCoordinator creates a coordinator and registers itself as
// the registry's delegate. One coordinator exists per running service;
// it is constructed in the composition root and injected everywhere.
func NewGeofenceCoordinator(
	registry ports.RegionRegistry,
	items ports.ItemRepository,
	dispatcher ports.NotificationDispatcher,
	opts ...CoordinatorOption,
) *GeofenceCoordinator {
	c := &GeofenceCoordinator{
		registry:     registry,
		items:        items,
		dispatcher:   dispatcher,
		newID:        newNotificationID,
		regionToItem: make(map[string]domain.Item),
		storeRegions: make(map[string][]domain.Item),
		notified:     make(map[string]struct{}),
		retried:      make(map[string]struct{}),
		radius:       DefaultRegionRadiusMeters,
		debounce:     DefaultRebuildDebounce,
	}
	for _, opt := range opts {
		opt(c)
	}
	registry.SetDelegate(c)
	return c
}

// RebuildAll removes every active region and re-derives the full
// monitoring set from the given items: one region per eligible,
// incomplete task item; one shared region per store whose items are not
// all completed. Store regions are registered first so they win the
// scarce slots when the set would exceed capacity. Idempotent for a
// fixed input set.
func (c *GeofenceCoordinator) RebuildAll(ctx context.Context, items []domain.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	started := time.Now()

	for _, id := range c.registry.ActiveRegionIDs() {
		if err := c.registry.StopMonitoring(id); err != nil {
			// Removal failure is logged and the index cleaned anyway;
			// a stale OS-side region resolves to a no-op on entry.
			slog.Warn("stop monitoring during rebuild failed", "region_id", id, "error", err)
		}
	}
	c.regionToItem = make(map[string]domain.Item)
	c.storeRegions = make(map[string][]domain.Item)
	c.notified = make(map[string]struct{})
	c.retried = make(map[string]struct{})

	// Groups whose pins differ by more than the rounding but share a
	// name and address map to one region id; collapse them so the
	// later group cannot overwrite the earlier one's membership. The
	// first group's center wins.
	groupIdx := make(map[string]int)
	var groups []domain.StoreGroup
	for _, g := range domain.GroupShoppingByStore(items) {
		id := g.RegionID()
		if gi, ok := groupIdx[id]; ok {
			groups[gi].Items = append(groups[gi].Items, g.Items...)
			continue
		}
		groupIdx[id] = len(groups)
		groups = append(groups, g)
	}

	for _, g := range groups {
		if g.AllCompleted() {
			continue
		}
		if err := c.monitorStoreLocked(g.Location, g.StoreName, g.StoreAddress, g.Items); err != nil {
			if errors.Is(err, ErrRegistryFull) {
				slog.Warn("store region dropped at capacity", "region_id", g.RegionID())
				continue
			}
			slog.Warn("store region registration failed", "region_id", g.RegionID(), "error", err)
		}
	}

	tasks := make([]domain.Item, 0, len(items))
	for _, it := range items {
		if it.Kind == domain.KindTask && !it.Completed {
			tasks = append(tasks, it)
		}
	}
	// Most recently touched tasks get slots first when contended.
	sort.SliceStable(tasks, func(a, b int) bool {
		return tasks[a].LastUpdated.After(tasks[b].LastUpdated)
	})
	for _, it := range tasks {
		if err := c.monitorItemLocked(it); err != nil {
			if errors.Is(err, ErrRegistryFull) {
				slog.Warn("task region dropped at capacity", "region_id", it.RegionID())
				continue
			}
			if errors.Is(err, ErrNotEligible) {
				continue
			}
			slog.Warn("task region registration failed", "region_id", it.RegionID(), "error", err)
		}
	}

	c.lastRebuild = time.Now()
	metrics.GeofenceRebuilds.Inc()
	metrics.GeofenceRebuildDuration.Observe(time.Since(started).Seconds())
	metrics.ActiveRegions.Set(float64(len(c.regionToItem) + len(c.storeRegions)))

	return nil
}

// MonitorItem registers a per-item region for an eligible task item.
// Already-monitored ids are skipped; that check is independent of any
// notification bookkeeping.
func (c *GeofenceCoordinator) MonitorItem(item domain.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitorItemLocked(item)
}

func (c *GeofenceCoordinator) monitorItemLocked(item domain.Item) error {
	if !item.MonitoringEligible() {
		slog.Debug("monitor rejected: not eligible", "uid", item.UID)
		return ErrNotEligible
	}

	id := item.RegionID()
	if c.registry.IsMonitored(id) {
		slog.Debug("region already monitored, skipping", "region_id", id)
		c.regionToItem[id] = item // refresh the indexed copy
		return nil
	}
	if err := c.checkCapacityLocked(); err != nil {
		return err
	}

	region := domain.MonitoredRegion{
		ID:            id,
		Center:        item.Location,
		RadiusMeters:  c.radius,
		NotifyOnEntry: true,
		NotifyOnExit:  true,
	}
	if err := c.registry.StartMonitoring(region); err != nil {
		return fmt.Errorf("start monitoring %s: %w", id, err)
	}
	c.regionToItem[id] = item
	metrics.ActiveRegions.Set(float64(len(c.regionToItem) + len(c.storeRegions)))
	return nil
}

// MonitorStore registers (or refreshes membership of) the shared region
// for a store. Exit events carry no meaning for shared store regions,
// so the region triggers on entry only.
func (c *GeofenceCoordinator) MonitorStore(center domain.GeoPoint, storeName, storeAddress string, items []domain.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitorStoreLocked(center, storeName, storeAddress, items)
}

func (c *GeofenceCoordinator) monitorStoreLocked(center domain.GeoPoint, storeName, storeAddress string, items []domain.Item) error {
	if center.IsUnset() || storeName == "" {
		slog.Debug("monitor rejected: store not eligible", "store", storeName)
		return ErrNotEligible
	}

	id := domain.StoreRegionID(storeName, storeAddress)
	if c.registry.IsMonitored(id) {
		slog.Debug("store region already monitored, refreshing members", "region_id", id)
		c.storeRegions[id] = items
		return nil
	}
	if err := c.checkCapacityLocked(); err != nil {
		return err
	}

	region := domain.MonitoredRegion{
		ID:            id,
		Center:        center,
		RadiusMeters:  c.radius,
		NotifyOnEntry: true,
		NotifyOnExit:  false,
	}
	if err := c.registry.StartMonitoring(region); err != nil {
		return fmt.Errorf("start monitoring %s: %w", id, err)
	}
	c.storeRegions[id] = items
	metrics.ActiveRegions.Set(float64(len(c.regionToItem) + len(c.storeRegions)))
	return nil
}

// checkCapacityLocked enforces the slot ceiling explicitly instead of
// relying on the registry's own rejection.
func (c *GeofenceCoordinator) checkCapacityLocked() error {
	if len(c.registry.ActiveRegionIDs()) >= c.registry.Capacity() {
		metrics.RegionCapacityRejections.Inc()
		slog.Warn("region registry at capacity, registration rejected",
			"capacity", c.registry.Capacity())
		return ErrRegistryFull
	}
	return nil
}

// StopMonitoring withdraws monitoring for an item. A task item's region
// is removed outright. A shopping item's store region is removed only
// when no incomplete item remains at that store; otherwise the region
// stays active and its indexed membership is refreshed. The repository
// is consulted so the decision reflects durable state, not the index.
func (c *GeofenceCoordinator) StopMonitoring(ctx context.Context, item domain.Item) error {
	if item.Kind == domain.KindTask {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.removeRegionLocked(item.UID)
		return nil
	}

	// Repository read happens before taking the lock; no index access
	// may block on I/O.
	remaining, err := c.items.ListByStore(ctx, item.StoreName, item.StoreAddress)
	if err != nil {
		return fmt.Errorf("list items for store %q: %w", item.StoreName, err)
	}
	incomplete := remaining[:0:0]
	for _, it := range remaining {
		if !it.Completed && it.UID != item.UID {
			incomplete = append(incomplete, it)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := domain.StoreRegionID(item.StoreName, item.StoreAddress)
	if len(incomplete) == 0 {
		c.removeRegionLocked(id)
		return nil
	}
	if _, ok := c.storeRegions[id]; ok {
		c.storeRegions[id] = incomplete
	}
	return nil
}

// releaseRegion drops a region and its bookkeeping outright so the
// next registration under the same id starts clean.
func (c *GeofenceCoordinator) releaseRegion(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeRegionLocked(id)
}

func (c *GeofenceCoordinator) removeRegionLocked(id string) {
	if c.registry.IsMonitored(id) {
		if err := c.registry.StopMonitoring(id); err != nil {
			slog.Warn("stop monitoring failed, cleaning index anyway", "region_id", id, "error", err)
		}
	}
	delete(c.regionToItem, id)
	delete(c.storeRegions, id)
	delete(c.notified, id)
	delete(c.retried, id)
	metrics.ActiveRegions.Set(float64(len(c.regionToItem) + len(c.storeRegions)))
}

// IsMonitored reports whether a region id is active. Diagnostics only.
func (c *GeofenceCoordinator) IsMonitored(regionID string) bool {
	return c.registry.IsMonitored(regionID)
}

// ActiveRegions returns a snapshot of the active region ids, sorted.
func (c *GeofenceCoordinator) ActiveRegions() []string {
	ids := c.registry.ActiveRegionIDs()
	sort.Strings(ids)
	return ids
}

// Radius returns the current region radius in meters.
func (c *GeofenceCoordinator) Radius() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.radius
}

// UpdateAllRadii replaces every active region with a same-id,
// same-center region of the new radius. Regions are immutable once
// created, so each one is stopped and re-started, re-derived from the
// indexed items rather than from old region values.
func (c *GeofenceCoordinator) UpdateAllRadii(meters float64) error {
	if meters <= 0 {
		return fmt.Errorf("radius must be positive, got %v", meters)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.radius = meters

	for id, item := range c.regionToItem {
		if err := c.registry.StopMonitoring(id); err != nil {
			slog.Warn("radius update: stop failed", "region_id", id, "error", err)
		}
		region := domain.MonitoredRegion{
			ID:            id,
			Center:        item.Location,
			RadiusMeters:  meters,
			NotifyOnEntry: true,
			NotifyOnExit:  true,
		}
		if err := c.registry.StartMonitoring(region); err != nil {
			slog.Warn("radius update: restart failed", "region_id", id, "error", err)
			delete(c.regionToItem, id)
		}
	}

	for id, members := range c.storeRegions {
		if len(members) == 0 {
			continue
		}
		if err := c.registry.StopMonitoring(id); err != nil {
			slog.Warn("radius update: stop failed", "region_id", id, "error", err)
		}
		region := domain.MonitoredRegion{
			ID:            id,
			Center:        members[0].Location,
			RadiusMeters:  meters,
			NotifyOnEntry: true,
			NotifyOnExit:  false,
		}
		if err := c.registry.StartMonitoring(region); err != nil {
			slog.Warn("radius update: restart failed", "region_id", id, "error", err)
			delete(c.storeRegions, id)
		}
	}

	metrics.ActiveRegions.Set(float64(len(c.regionToItem) + len(c.storeRegions)))
	return nil
}

// RequestRebuild coalesces rebuild requests: a request arriving within
// the debounce window of the last completed rebuild is deferred, not
// dropped, so a burst of item-store changes ends with exactly one
// trailing rebuild over fresh repository state.
func (c *GeofenceCoordinator) RequestRebuild(ctx context.Context) {
	c.mu.Lock()

	if c.rebuildTimer != nil {
		// A trailing rebuild is already scheduled; it will refetch and
		// observe this change too.
		c.mu.Unlock()
		return
	}

	elapsed := time.Since(c.lastRebuild)
	if elapsed >= c.debounce {
		c.mu.Unlock()
		c.rebuildFromStore(ctx)
		return
	}

	delay := c.debounce - elapsed
	c.rebuildTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.rebuildTimer = nil
		c.mu.Unlock()
		c.rebuildFromStore(context.Background())
	})
	c.mu.Unlock()
}

func (c *GeofenceCoordinator) rebuildFromStore(ctx context.Context) {
	items, err := c.items.ListAll(ctx)
	if err != nil {
		// Leave the index in its last consistent state.
		slog.Error("rebuild fetch failed", "error", err)
		return
	}
	if err := c.RebuildAll(ctx, items); err != nil {
		slog.Error("rebuild failed", "error", err)
	}
}

// Close stops any pending debounced rebuild.
func (c *GeofenceCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rebuildTimer != nil {
		c.rebuildTimer.Stop()
		c.rebuildTimer = nil
	}
}
