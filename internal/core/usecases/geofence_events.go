package usecases

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
	"github.com/dhwagstaff/tbeacon/internal/pkg/metrics"
)

// Notification titles and the fallback body for a store entry whose
// item names cannot be resolved.
const (
	taskReminderTitle     = "Task Reminder"
	shoppingReminderTitle = "Shopping Reminder"
	genericReminderBody   = "You have reminders here"
)

var _ ports.RegionDelegate = (*GeofenceCoordinator)(nil)

func newNotificationID() string {
	return uuid.NewString()
}

// RegionEntered resolves which item(s) own the region and dispatches
// exactly one reminder. An id absent from both index maps is a stale
// callback left over from a rebuild, which is expected. Entering
// an already-notified region notifies again; suppression is a dispatch
// policy, never a registration concern.
func (c *GeofenceCoordinator) RegionEntered(regionID string, pos domain.GeoPoint) {
	c.mu.Lock()

	var (
		notif    domain.Notification
		resolved bool
		item     *domain.Item
	)

	if it, ok := c.regionToItem[regionID]; ok {
		notif = c.taskNotificationLocked(it)
		item = &it
		resolved = true
	} else if members, ok := c.storeRegions[regionID]; ok {
		notif = c.storeNotificationLocked(regionID, members)
		if len(members) == 1 {
			item = &members[0]
		}
		resolved = true
	}

	if resolved {
		c.notified[regionID] = struct{}{}
	}
	c.mu.Unlock()

	if !resolved {
		slog.Info("entry for unrecognized region, ignoring", "region_id", regionID)
		metrics.UnrecognizedRegionEvents.Inc()
		return
	}

	metrics.RegionEntries.Inc()

	// Dispatch and publish outside the lock; both are I/O.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.dispatcher.Dispatch(ctx, notif); err != nil {
		slog.Error("notification dispatch failed", "region_id", regionID, "error", err)
		return
	}
	metrics.NotificationsDispatched.Inc()

	if c.publisher != nil {
		ev := &domain.RegionEvent{
			RegionID: regionID,
			Kind:     domain.RegionEntered,
			Position: pos,
			At:       time.Now(),
		}
		if err := c.publisher.PublishRegionEvent(ctx, ev); err != nil {
			slog.Warn("region event publish failed", "region_id", regionID, "error", err)
		}
	}

	if c.followups != nil && item != nil && !item.Completed {
		if err := c.followups.ScheduleFollowup(ctx, *item, notif); err != nil {
			slog.Warn("followup schedule failed", "uid", item.UID, "error", err)
		}
	}
}

// RegionExited mutates no notification bookkeeping: clearing the
// notified set here would re-arm reminders on every boundary flap.
// Unrecognized ids are ignored.
func (c *GeofenceCoordinator) RegionExited(regionID string, pos domain.GeoPoint) {
	c.mu.Lock()
	_, perItem := c.regionToItem[regionID]
	_, perStore := c.storeRegions[regionID]
	c.mu.Unlock()

	if !perItem && !perStore {
		slog.Debug("exit for unrecognized region, ignoring", "region_id", regionID)
		return
	}

	metrics.RegionExits.Inc()
	slog.Debug("region exited", "region_id", regionID)

	if c.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ev := &domain.RegionEvent{
			RegionID: regionID,
			Kind:     domain.RegionExited,
			Position: pos,
			At:       time.Now(),
		}
		if err := c.publisher.PublishRegionEvent(ctx, ev); err != nil {
			slog.Warn("region event publish failed", "region_id", regionID, "error", err)
		}
	}
}

// MonitoringFailed re-issues StartMonitoring once for a region that was
// accepted but failed to start. A second failure is logged and the
// region abandoned; there is no backoff loop.
func (c *GeofenceCoordinator) MonitoringFailed(regionID string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.retried[regionID]; done {
		slog.Error("monitoring failed after retry, abandoning region",
			"region_id", regionID, "error", cause)
		c.removeRegionLocked(regionID)
		return
	}
	c.retried[regionID] = struct{}{}

	region, ok := c.regionForIDLocked(regionID)
	if !ok {
		slog.Warn("monitoring failure for unindexed region", "region_id", regionID)
		return
	}

	slog.Warn("monitoring failed, retrying once", "region_id", regionID, "error", cause)
	if err := c.registry.StartMonitoring(region); err != nil {
		slog.Error("monitoring retry failed", "region_id", regionID, "error", err)
		c.removeRegionLocked(regionID)
	}
}

// regionForIDLocked reconstructs the region value from indexed items.
func (c *GeofenceCoordinator) regionForIDLocked(regionID string) (domain.MonitoredRegion, bool) {
	if it, ok := c.regionToItem[regionID]; ok {
		return domain.MonitoredRegion{
			ID:            regionID,
			Center:        it.Location,
			RadiusMeters:  c.radius,
			NotifyOnEntry: true,
			NotifyOnExit:  true,
		}, true
	}
	if members, ok := c.storeRegions[regionID]; ok && len(members) > 0 {
		return domain.MonitoredRegion{
			ID:            regionID,
			Center:        members[0].Location,
			RadiusMeters:  c.radius,
			NotifyOnEntry: true,
			NotifyOnExit:  false,
		}, true
	}
	return domain.MonitoredRegion{}, false
}

func (c *GeofenceCoordinator) taskNotificationLocked(item domain.Item) domain.Notification {
	return domain.Notification{
		UniqueID: c.newID(),
		RegionID: item.RegionID(),
		Title:    taskReminderTitle,
		Subtitle: "You're near " + item.LocationName,
		Body:     "Don't forget: " + item.Name,
	}
}

func (c *GeofenceCoordinator) storeNotificationLocked(regionID string, members []domain.Item) domain.Notification {
	var names []string
	var storeName string
	for _, it := range members {
		if storeName == "" {
			storeName = it.StoreName
		}
		if it.Completed {
			continue
		}
		if n := strings.TrimSpace(it.Name); n != "" {
			names = append(names, n)
		}
	}

	var body string
	switch len(names) {
	case 0:
		body = genericReminderBody
	case 1:
		body = "Don't forget: " + names[0]
	default:
		body = "Don't forget:\n• " + strings.Join(names, "\n• ")
	}

	subtitle := "You're near " + storeName
	if storeName == "" {
		// Fall back to the region key's store half.
		subtitle = "You're near " + strings.SplitN(regionID, "_", 2)[0]
	}

	return domain.Notification{
		UniqueID: c.newID(),
		RegionID: regionID,
		Title:    shoppingReminderTitle,
		Subtitle: subtitle,
		Body:     body,
	}
}

// ItemSaved is invoked after an item is created or edited. If the item
// moved to a different region, the old region is released under the
// usual last-consumer rule; then monitoring is (re)established for the
// new placement. An edit that keeps the region id but moves the pin
// (a task edit, or a corrected store coordinate) also re-registers:
// regions are immutable once created, so the stale-centered region is
// dropped here and recreated below with the new center.
func (c *GeofenceCoordinator) ItemSaved(ctx context.Context, previous *domain.Item, item domain.Item) error {
	if previous != nil {
		switch {
		case previous.RegionID() != item.RegionID():
			if err := c.StopMonitoring(ctx, *previous); err != nil {
				slog.Warn("release of previous region failed", "region_id", previous.RegionID(), "error", err)
			}
		case previous.Location != item.Location:
			c.releaseRegion(item.RegionID())
		}
	}

	if item.Completed || !item.MonitoringEligible() {
		return c.StopMonitoring(ctx, item)
	}

	if item.Kind == domain.KindTask {
		err := c.MonitorItem(item)
		if isRecoverable(err) {
			return nil
		}
		return err
	}

	// Shopping: recompute the store's membership from durable state so
	// the shared region reflects every sibling item.
	siblings, err := c.items.ListByStore(ctx, item.StoreName, item.StoreAddress)
	if err != nil {
		return err
	}
	incomplete := make([]domain.Item, 0, len(siblings))
	for _, it := range siblings {
		if !it.Completed {
			incomplete = append(incomplete, it)
		}
	}
	if len(incomplete) == 0 {
		return c.StopMonitoring(ctx, item)
	}
	err = c.MonitorStore(item.Location, item.StoreName, item.StoreAddress, incomplete)
	if isRecoverable(err) {
		return nil
	}
	return err
}

// ItemCompleted releases the item's region under the last-consumer
// rule: a task region goes immediately, a store region only when its
// last incomplete item completes.
func (c *GeofenceCoordinator) ItemCompleted(ctx context.Context, item domain.Item) error {
	return c.StopMonitoring(ctx, item)
}

// ItemDeleted follows the same removal rule as completion.
func (c *GeofenceCoordinator) ItemDeleted(ctx context.Context, item domain.Item) error {
	return c.StopMonitoring(ctx, item)
}
