// Package push delivers reminder notifications. Delivery is a NATS
// publish picked up by the device relay; every dispatch is also
// recorded in the notification audit log.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
)

// Dispatcher implements ports.NotificationDispatcher.
type Dispatcher struct {
	publisher ports.EventPublisher
	log       ports.NotificationLogRepository // optional
}

// NewDispatcher creates a Dispatcher. The log repository may be nil;
// auditing is best-effort either way.
func NewDispatcher(publisher ports.EventPublisher, log ports.NotificationLogRepository) *Dispatcher {
	return &Dispatcher{publisher: publisher, log: log}
}

// Dispatch publishes the notification and records it. A failed audit
// write never fails the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	if n.UniqueID == "" {
		return fmt.Errorf("notification unique id must not be empty")
	}

	if err := d.publisher.PublishNotification(ctx, &n); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	if d.log != nil {
		rec := &domain.NotificationRecord{
			ID:           n.UniqueID,
			RegionID:     n.RegionID,
			Title:        n.Title,
			Subtitle:     n.Subtitle,
			Body:         n.Body,
			DispatchedAt: time.Now(),
		}
		if err := d.log.Insert(ctx, rec); err != nil {
			slog.Warn("notification audit write failed", "id", n.UniqueID, "error", err)
		}
	}

	return nil
}
