package workflows

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
)

// FollowupActivities holds the activity implementations for the
// follow-up workflow.
type FollowupActivities struct {
	Items      ports.ItemRepository
	Dispatcher ports.NotificationDispatcher
}

// GetIncompleteItemName returns the item's name if it still exists and
// is incomplete, or "" when no follow-up is warranted.
func (a *FollowupActivities) GetIncompleteItemName(ctx context.Context, uid string) (string, error) {
	item, err := a.Items.GetByUID(ctx, uid)
	if err != nil {
		// A deleted item is a clean exit, not a retryable failure.
		log.Printf("follow-up: item %s not found, skipping: %v", uid, err)
		return "", nil
	}
	if item.Completed {
		return "", nil
	}
	return item.Name, nil
}

// SendFollowupNotification dispatches a fresh reminder with a new
// unique id.
func (a *FollowupActivities) SendFollowupNotification(ctx context.Context, regionID, title, subtitle, itemName string) error {
	n := domain.Notification{
		UniqueID: uuid.NewString(),
		RegionID: regionID,
		Title:    title,
		Subtitle: subtitle,
		Body:     fmt.Sprintf("Still on your list: %s", itemName),
	}
	if err := a.Dispatcher.Dispatch(ctx, n); err != nil {
		return fmt.Errorf("dispatch follow-up: %w", err)
	}
	return nil
}
