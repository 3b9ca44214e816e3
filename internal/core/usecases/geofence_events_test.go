package usecases_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/usecases"
)

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.RegionEvent
}

func (m *mockPublisher) PublishItemChange(ctx context.Context, item *domain.Item, change string) error {
	return nil
}

func (m *mockPublisher) PublishRegionEvent(ctx context.Context, ev *domain.RegionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockPublisher) PublishNotification(ctx context.Context, n *domain.Notification) error {
	return nil
}

func (m *mockPublisher) all() []domain.RegionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RegionEvent, len(m.events))
	copy(out, m.events)
	return out
}

// --- Mock FollowupScheduler ---

type mockFollowups struct {
	mu        sync.Mutex
	scheduled []string // item UIDs
}

func (m *mockFollowups) ScheduleFollowup(ctx context.Context, item domain.Item, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, item.UID)
	return nil
}

func (m *mockFollowups) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.scheduled))
	copy(out, m.scheduled)
	return out
}

// --- Entry resolution ---

func TestRegionEntered_TaskNotification(t *testing.T) {
	reg := newFakeRegistry(20)
	disp := &mockDispatcher{}
	coord := newCoordinator(t, reg, nil, disp,
		usecases.WithIDGenerator(func() string { return "fixed-id" }))

	item := taskItem("t1", "Buy milk", "Corner Store", 43.263, -2.935)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}

	coord.RegionEntered("t1", item.Location)

	got := disp.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	n := got[0]
	if n.UniqueID != "fixed-id" {
		t.Errorf("unique id = %q", n.UniqueID)
	}
	if n.Title != "Task Reminder" {
		t.Errorf("title = %q", n.Title)
	}
	if n.Subtitle != "You're near Corner Store" {
		t.Errorf("subtitle = %q", n.Subtitle)
	}
	if n.Body != "Don't forget: Buy milk" {
		t.Errorf("body = %q", n.Body)
	}
}

func TestRegionEntered_StoreMultiItem(t *testing.T) {
	reg := newFakeRegistry(20)
	disp := &mockDispatcher{}
	coord := newCoordinator(t, reg, nil, disp)

	items := []domain.Item{
		shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9),
		shoppingItem("s2", "Eggs", "SuperMart", "1 Main St", 43.1, -2.9),
	}
	if err := coord.MonitorStore(items[0].Location, "SuperMart", "1 Main St", items); err != nil {
		t.Fatalf("monitor store: %v", err)
	}

	coord.RegionEntered("SuperMart_1 Main St", items[0].Location)

	got := disp.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification for the whole store, got %d", len(got))
	}
	n := got[0]
	if n.Title != "Shopping Reminder" {
		t.Errorf("title = %q", n.Title)
	}
	if n.Subtitle != "You're near SuperMart" {
		t.Errorf("subtitle = %q", n.Subtitle)
	}
	want := "Don't forget:\n• Milk\n• Eggs"
	if n.Body != want {
		t.Errorf("body = %q, want %q", n.Body, want)
	}
}

func TestRegionEntered_StoreSingleItem(t *testing.T) {
	reg := newFakeRegistry(20)
	disp := &mockDispatcher{}
	coord := newCoordinator(t, reg, nil, disp)

	item := shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9)
	if err := coord.MonitorStore(item.Location, "SuperMart", "1 Main St", []domain.Item{item}); err != nil {
		t.Fatalf("monitor store: %v", err)
	}

	coord.RegionEntered("SuperMart_1 Main St", item.Location)

	got := disp.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].Body != "Don't forget: Milk" {
		t.Errorf("single-item body = %q", got[0].Body)
	}
}

func TestRegionEntered_AllNamesBlank_FallbackBody(t *testing.T) {
	reg := newFakeRegistry(20)
	disp := &mockDispatcher{}
	coord := newCoordinator(t, reg, nil, disp)

	item := shoppingItem("s1", "   ", "SuperMart", "1 Main St", 43.1, -2.9)
	if err := coord.MonitorStore(item.Location, "SuperMart", "1 Main St", []domain.Item{item}); err != nil {
		t.Fatalf("monitor store: %v", err)
	}

	coord.RegionEntered("SuperMart_1 Main St", item.Location)

	got := disp.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].Body != "You have reminders here" {
		t.Errorf("fallback body = %q", got[0].Body)
	}
}

func TestRegionEntered_Unrecognized_NoOp(t *testing.T) {
	disp := &mockDispatcher{}
	coord := newCoordinator(t, nil, nil, disp)

	coord.RegionEntered("ghost-region", domain.GeoPoint{Lat: 43.1, Lon: -2.9})

	if len(disp.all()) != 0 {
		t.Error("unrecognized region entry must not dispatch")
	}
}

func TestRegionEntered_ReentryNotifiesAgain(t *testing.T) {
	reg := newFakeRegistry(20)
	disp := &mockDispatcher{}
	coord := newCoordinator(t, reg, nil, disp)

	item := taskItem("t1", "Buy milk", "Corner Store", 43.263, -2.935)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}

	coord.RegionEntered("t1", item.Location)
	coord.RegionExited("t1", item.Location)
	coord.RegionEntered("t1", item.Location)

	if got := len(disp.all()); got != 2 {
		t.Errorf("expected 2 notifications across re-entry, got %d", got)
	}
}

func TestRegionEntered_PublishesEvent(t *testing.T) {
	reg := newFakeRegistry(20)
	pub := &mockPublisher{}
	coord := newCoordinator(t, reg, nil, nil, usecases.WithEventPublisher(pub))

	item := taskItem("t1", "Buy milk", "Corner Store", 43.263, -2.935)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}

	coord.RegionEntered("t1", item.Location)
	coord.RegionExited("t1", item.Location)

	events := pub.all()
	if len(events) != 2 {
		t.Fatalf("expected entry + exit events, got %d", len(events))
	}
	if events[0].Kind != domain.RegionEntered || events[1].Kind != domain.RegionExited {
		t.Errorf("event kinds = %v, %v", events[0].Kind, events[1].Kind)
	}
}

func TestRegionEntered_SchedulesFollowup(t *testing.T) {
	reg := newFakeRegistry(20)
	followups := &mockFollowups{}
	coord := newCoordinator(t, reg, nil, nil, usecases.WithFollowupScheduler(followups))

	item := taskItem("t1", "Buy milk", "Corner Store", 43.263, -2.935)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}

	coord.RegionEntered("t1", item.Location)

	got := followups.all()
	if len(got) != 1 || got[0] != "t1" {
		t.Errorf("expected follow-up for t1, got %v", got)
	}
}

func TestRegionEntered_NoFollowupForMultiItemStore(t *testing.T) {
	reg := newFakeRegistry(20)
	followups := &mockFollowups{}
	coord := newCoordinator(t, reg, nil, nil, usecases.WithFollowupScheduler(followups))

	items := []domain.Item{
		shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9),
		shoppingItem("s2", "Eggs", "SuperMart", "1 Main St", 43.1, -2.9),
	}
	if err := coord.MonitorStore(items[0].Location, "SuperMart", "1 Main St", items); err != nil {
		t.Fatalf("monitor store: %v", err)
	}

	coord.RegionEntered("SuperMart_1 Main St", items[0].Location)

	if got := followups.all(); len(got) != 0 {
		t.Errorf("multi-item store entry must not schedule a follow-up, got %v", got)
	}
}

func TestRegionExited_Unrecognized_NoEvent(t *testing.T) {
	pub := &mockPublisher{}
	coord := newCoordinator(t, nil, nil, nil, usecases.WithEventPublisher(pub))

	coord.RegionExited("ghost-region", domain.GeoPoint{Lat: 43.1, Lon: -2.9})

	if len(pub.all()) != 0 {
		t.Error("unrecognized exit must not publish")
	}
}
