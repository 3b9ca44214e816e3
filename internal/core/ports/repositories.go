package ports

import (
	"context"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
)

// ItemRepository persists task and shopping items.
type ItemRepository interface {
	Insert(ctx context.Context, item *domain.Item) error
	Update(ctx context.Context, item *domain.Item) error
	Delete(ctx context.Context, uid string) error
	GetByUID(ctx context.Context, uid string) (*domain.Item, error)
	ListByKind(ctx context.Context, kind domain.ItemKind) ([]domain.Item, error)
	ListAll(ctx context.Context) ([]domain.Item, error)
	ListIncomplete(ctx context.Context) ([]domain.Item, error)
	// ListByStore returns shopping items bound to a store, matched by
	// name and address exactly as stored.
	ListByStore(ctx context.Context, storeName, storeAddress string) ([]domain.Item, error)
}

// NotificationLogRepository keeps an audit trail of dispatched reminders.
type NotificationLogRepository interface {
	Insert(ctx context.Context, rec *domain.NotificationRecord) error
	ListRecent(ctx context.Context, limit int) ([]domain.NotificationRecord, error)
}
