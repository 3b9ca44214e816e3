package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
)

// ItemService handles item CRUD and keeps region monitoring in step
// with every mutation. The coordinator is invoked explicitly from each
// write path; there is no broadcast side-channel to trace.
type ItemService struct {
	items     ports.ItemRepository
	coord     *GeofenceCoordinator
	cache     ports.CacheService
	publisher ports.EventPublisher
}

// NewItemService creates a new ItemService.
func NewItemService(
	items ports.ItemRepository,
	coord *GeofenceCoordinator,
	cache ports.CacheService,
	publisher ports.EventPublisher,
) *ItemService {
	return &ItemService{items: items, coord: coord, cache: cache, publisher: publisher}
}

// Create validates and persists a new item, then establishes monitoring
// if the item is eligible.
func (s *ItemService) Create(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if !item.Kind.IsValid() {
		return nil, fmt.Errorf("unknown item kind %q", item.Kind)
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil, fmt.Errorf("item name must not be empty")
	}

	now := time.Now()
	item.UID = uuid.NewString()
	item.DateAdded = now
	item.LastUpdated = now
	item.Completed = false

	if err := s.items.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	s.invalidateListings(ctx)

	if err := s.coord.ItemSaved(ctx, nil, *item); err != nil {
		slog.Warn("monitoring update after create failed", "uid", item.UID, "error", err)
	}
	s.publishChange(ctx, item, "created")

	return item, nil
}

// Update persists edits to an existing item and reconciles monitoring:
// a store or location change releases the old region under the
// last-consumer rule before the new one is joined.
func (s *ItemService) Update(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	previous, err := s.items.GetByUID(ctx, item.UID)
	if err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", item.UID, err)
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil, fmt.Errorf("item name must not be empty")
	}

	item.Kind = previous.Kind // kind is fixed at creation
	item.DateAdded = previous.DateAdded
	item.LastUpdated = time.Now()

	if err := s.items.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	s.invalidateListings(ctx)

	if err := s.coord.ItemSaved(ctx, previous, *item); err != nil {
		slog.Warn("monitoring update after edit failed", "uid", item.UID, "error", err)
	}
	s.publishChange(ctx, item, "updated")

	return item, nil
}

// SetCompleted toggles the completion flag. Completing a task item
// releases its region immediately; completing a shopping item releases
// the store region only when it was the last incomplete item there.
// Un-completing re-establishes monitoring.
func (s *ItemService) SetCompleted(ctx context.Context, uid string, completed bool) (*domain.Item, error) {
	item, err := s.items.GetByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", uid, err)
	}
	if item.Completed == completed {
		return item, nil
	}

	item.Completed = completed
	item.LastUpdated = time.Now()
	if err := s.items.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	s.invalidateListings(ctx)

	if completed {
		if err := s.coord.ItemCompleted(ctx, *item); err != nil {
			slog.Warn("monitoring release after completion failed", "uid", uid, "error", err)
		}
		s.publishChange(ctx, item, "completed")
	} else {
		if err := s.coord.ItemSaved(ctx, nil, *item); err != nil {
			slog.Warn("monitoring update after reopen failed", "uid", uid, "error", err)
		}
		s.publishChange(ctx, item, "reopened")
	}

	return item, nil
}

// Delete removes an item and releases its region under the same rule
// as completion.
func (s *ItemService) Delete(ctx context.Context, uid string) error {
	item, err := s.items.GetByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("fetch item %s: %w", uid, err)
	}

	if err := s.items.Delete(ctx, uid); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	s.invalidateListings(ctx)

	if err := s.coord.ItemDeleted(ctx, *item); err != nil {
		slog.Warn("monitoring release after delete failed", "uid", uid, "error", err)
	}
	s.publishChange(ctx, item, "deleted")

	return nil
}

// Get returns a single item.
func (s *ItemService) Get(ctx context.Context, uid string) (*domain.Item, error) {
	return s.items.GetByUID(ctx, uid)
}

// List returns items, optionally filtered by kind.
func (s *ItemService) List(ctx context.Context, kind domain.ItemKind) ([]domain.Item, error) {
	if kind == "" {
		return s.items.ListAll(ctx)
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown item kind %q", kind)
	}
	return s.items.ListByKind(ctx, kind)
}

// ListGroupedByStore returns shopping items grouped per store location,
// the same deterministic grouping the coordinator uses for region
// setup. Cached briefly since the UI polls it.
func (s *ItemService) ListGroupedByStore(ctx context.Context) ([]domain.StoreGroup, error) {
	const cacheKey = "items:grouped:store"
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var groups []domain.StoreGroup
			if err := json.Unmarshal(data, &groups); err == nil {
				return groups, nil
			}
		}
	}

	items, err := s.items.ListByKind(ctx, domain.KindShopping)
	if err != nil {
		return nil, err
	}
	groups := domain.GroupShoppingByStore(items)

	if s.cache != nil {
		if data, err := json.Marshal(groups); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 60)
		}
	}
	return groups, nil
}

// ListGroupedByCategory returns all items grouped by category.
func (s *ItemService) ListGroupedByCategory(ctx context.Context) (map[string][]domain.Item, error) {
	items, err := s.items.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return domain.GroupByCategory(items), nil
}

// RebuildMonitoring requests a full monitoring rebuild. Bursts coalesce
// behind the coordinator's debounce.
func (s *ItemService) RebuildMonitoring(ctx context.Context) {
	s.coord.RequestRebuild(ctx)
}

func (s *ItemService) invalidateListings(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "items:grouped:store")
	}
}

func (s *ItemService) publishChange(ctx context.Context, item *domain.Item, change string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishItemChange(ctx, item, change); err != nil {
		slog.Warn("item change publish failed", "uid", item.UID, "error", err)
	}
}
