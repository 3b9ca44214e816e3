package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
	"github.com/dhwagstaff/tbeacon/internal/core/usecases"
)

// --- Fake RegionRegistry ---

type fakeRegistry struct {
	mu       sync.Mutex
	capacity int
	regions  map[string]domain.MonitoredRegion
	delegate ports.RegionDelegate

	startErr   func(domain.MonitoredRegion) error
	startCalls []string
}

func newFakeRegistry(capacity int) *fakeRegistry {
	return &fakeRegistry{
		capacity: capacity,
		regions:  make(map[string]domain.MonitoredRegion),
	}
}

func (r *fakeRegistry) SetDelegate(d ports.RegionDelegate) { r.delegate = d }

func (r *fakeRegistry) StartMonitoring(region domain.MonitoredRegion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startCalls = append(r.startCalls, region.ID)
	if r.startErr != nil {
		if err := r.startErr(region); err != nil {
			return err
		}
	}
	if len(r.regions) >= r.capacity {
		return errors.New("registry full")
	}
	r.regions[region.ID] = region
	return nil
}

func (r *fakeRegistry) StopMonitoring(regionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regions, regionID)
	return nil
}

func (r *fakeRegistry) IsMonitored(regionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.regions[regionID]
	return ok
}

func (r *fakeRegistry) ActiveRegionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.regions))
	for id := range r.regions {
		ids = append(ids, id)
	}
	return ids
}

func (r *fakeRegistry) Capacity() int { return r.capacity }

func (r *fakeRegistry) region(id string) (domain.MonitoredRegion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regions[id]
	return reg, ok
}

// --- Mock ItemRepository ---

type mockItemRepo struct {
	insertFn      func(ctx context.Context, item *domain.Item) error
	updateFn      func(ctx context.Context, item *domain.Item) error
	deleteFn      func(ctx context.Context, uid string) error
	getByUIDFn    func(ctx context.Context, uid string) (*domain.Item, error)
	listByKindFn  func(ctx context.Context, kind domain.ItemKind) ([]domain.Item, error)
	listAllFn     func(ctx context.Context) ([]domain.Item, error)
	listByStoreFn func(ctx context.Context, storeName, storeAddress string) ([]domain.Item, error)
}

func (m *mockItemRepo) Insert(ctx context.Context, item *domain.Item) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, item)
	}
	return nil
}

func (m *mockItemRepo) Update(ctx context.Context, item *domain.Item) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, item)
	}
	return nil
}

func (m *mockItemRepo) Delete(ctx context.Context, uid string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, uid)
	}
	return nil
}

func (m *mockItemRepo) GetByUID(ctx context.Context, uid string) (*domain.Item, error) {
	if m.getByUIDFn != nil {
		return m.getByUIDFn(ctx, uid)
	}
	return nil, errors.New("not found")
}

func (m *mockItemRepo) ListByKind(ctx context.Context, kind domain.ItemKind) ([]domain.Item, error) {
	if m.listByKindFn != nil {
		return m.listByKindFn(ctx, kind)
	}
	return nil, nil
}

func (m *mockItemRepo) ListIncomplete(ctx context.Context) ([]domain.Item, error) { return nil, nil }

func (m *mockItemRepo) ListAll(ctx context.Context) ([]domain.Item, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockItemRepo) ListByStore(ctx context.Context, storeName, storeAddress string) ([]domain.Item, error) {
	if m.listByStoreFn != nil {
		return m.listByStoreFn(ctx, storeName, storeAddress)
	}
	return nil, nil
}

// --- Mock NotificationDispatcher ---

type mockDispatcher struct {
	mu         sync.Mutex
	dispatched []domain.Notification
	dispatchFn func(ctx context.Context, n domain.Notification) error
}

func (m *mockDispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dispatchFn != nil {
		return m.dispatchFn(ctx, n)
	}
	m.dispatched = append(m.dispatched, n)
	return nil
}

func (m *mockDispatcher) all() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Notification, len(m.dispatched))
	copy(out, m.dispatched)
	return out
}

// --- Helpers ---

func taskItem(uid, name, place string, lat, lon float64) domain.Item {
	return domain.Item{
		UID:          uid,
		Kind:         domain.KindTask,
		Name:         name,
		Location:     domain.GeoPoint{Lat: lat, Lon: lon},
		LocationName: place,
	}
}

func shoppingItem(uid, name, store, addr string, lat, lon float64) domain.Item {
	return domain.Item{
		UID:          uid,
		Kind:         domain.KindShopping,
		Name:         name,
		Location:     domain.GeoPoint{Lat: lat, Lon: lon},
		StoreName:    store,
		StoreAddress: addr,
	}
}

func newCoordinator(t *testing.T, reg *fakeRegistry, repo *mockItemRepo, disp *mockDispatcher, opts ...usecases.CoordinatorOption) *usecases.GeofenceCoordinator {
	t.Helper()
	if reg == nil {
		reg = newFakeRegistry(20)
	}
	if repo == nil {
		repo = &mockItemRepo{}
	}
	if disp == nil {
		disp = &mockDispatcher{}
	}
	c := usecases.NewGeofenceCoordinator(reg, repo, disp, opts...)
	t.Cleanup(c.Close)
	return c
}

// --- Eligibility ---

func TestMonitorItem_Ineligible(t *testing.T) {
	cases := []struct {
		name string
		item domain.Item
	}{
		{"unset coordinates", taskItem("t1", "Buy milk", "Corner Store", 0, 0)},
		{"missing place name", taskItem("t1", "Buy milk", "", 43.1, -2.9)},
		{"whitespace place name", taskItem("t1", "Buy milk", "   ", 43.1, -2.9)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := newFakeRegistry(20)
			coord := newCoordinator(t, reg, nil, nil)

			err := coord.MonitorItem(tc.item)
			if !errors.Is(err, usecases.ErrNotEligible) {
				t.Fatalf("expected ErrNotEligible, got %v", err)
			}
			if len(reg.ActiveRegionIDs()) != 0 {
				t.Errorf("expected no regions, got %v", reg.ActiveRegionIDs())
			}
		})
	}
}

func TestMonitorItem_Eligible(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	item := taskItem("t1", "Buy milk", "Corner Store", 43.263, -2.935)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	region, ok := reg.region("t1")
	if !ok {
		t.Fatal("region t1 not registered")
	}
	if !region.NotifyOnEntry || !region.NotifyOnExit {
		t.Errorf("task region should notify on entry and exit, got entry=%v exit=%v",
			region.NotifyOnEntry, region.NotifyOnExit)
	}
	if region.RadiusMeters != usecases.DefaultRegionRadiusMeters {
		t.Errorf("expected default radius, got %v", region.RadiusMeters)
	}
}

func TestMonitorItem_AlreadyMonitored(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	item := taskItem("t1", "Buy milk", "Corner Store", 43.263, -2.935)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("first monitor: %v", err)
	}
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("second monitor should be a no-op, got %v", err)
	}
	if got := len(reg.startCalls); got != 1 {
		t.Errorf("expected 1 StartMonitoring call, got %d", got)
	}
}

// --- Store regions ---

func TestMonitorStore_SharedRegion(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	items := []domain.Item{
		shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9),
		shoppingItem("s2", "Eggs", "SuperMart", "1 Main St", 43.1, -2.9),
		shoppingItem("s3", "Bread", "SuperMart", "1 Main St", 43.1, -2.9),
	}

	err := coord.MonitorStore(items[0].Location, "SuperMart", "1 Main St", items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(reg.ActiveRegionIDs()); got != 1 {
		t.Fatalf("expected 1 shared region for 3 items, got %d", got)
	}
	region, _ := reg.region("SuperMart_1 Main St")
	if region.NotifyOnExit {
		t.Error("store region must not notify on exit")
	}
}

func TestStopMonitoring_StoreSurvivesWhileItemsRemain(t *testing.T) {
	reg := newFakeRegistry(20)
	items := []domain.Item{
		shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9),
		shoppingItem("s2", "Eggs", "SuperMart", "1 Main St", 43.1, -2.9),
	}
	repo := &mockItemRepo{
		listByStoreFn: func(ctx context.Context, name, addr string) ([]domain.Item, error) {
			return items, nil
		},
	}
	coord := newCoordinator(t, reg, repo, nil)

	if err := coord.MonitorStore(items[0].Location, "SuperMart", "1 Main St", items); err != nil {
		t.Fatalf("monitor store: %v", err)
	}

	// Completing s1 leaves s2 incomplete: region must survive.
	items[0].Completed = true
	if err := coord.ItemCompleted(context.Background(), items[0]); err != nil {
		t.Fatalf("item completed: %v", err)
	}
	if !coord.IsMonitored("SuperMart_1 Main St") {
		t.Fatal("store region removed while an incomplete item remains")
	}

	// Completing s2 releases the region.
	items[1].Completed = true
	if err := coord.ItemCompleted(context.Background(), items[1]); err != nil {
		t.Fatalf("item completed: %v", err)
	}
	if coord.IsMonitored("SuperMart_1 Main St") {
		t.Fatal("store region should be removed after its last item completes")
	}
}

func TestStopMonitoring_StoreRemoval_OrderIndependent(t *testing.T) {
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}}

	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			reg := newFakeRegistry(20)
			items := []domain.Item{
				shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9),
				shoppingItem("s2", "Eggs", "SuperMart", "1 Main St", 43.1, -2.9),
				shoppingItem("s3", "Bread", "SuperMart", "1 Main St", 43.1, -2.9),
			}
			repo := &mockItemRepo{
				listByStoreFn: func(ctx context.Context, name, addr string) ([]domain.Item, error) {
					return items, nil
				},
			}
			coord := newCoordinator(t, reg, repo, nil)
			if err := coord.MonitorStore(items[0].Location, "SuperMart", "1 Main St", items); err != nil {
				t.Fatalf("monitor store: %v", err)
			}

			for n, i := range order {
				items[i].Completed = true
				if err := coord.ItemCompleted(context.Background(), items[i]); err != nil {
					t.Fatalf("complete %d: %v", i, err)
				}
				last := n == len(order)-1
				if got := coord.IsMonitored("SuperMart_1 Main St"); got == last {
					t.Fatalf("after %d completions monitored=%v", n+1, got)
				}
			}
		})
	}
}

// --- Rebuild ---

func TestRebuildAll_Idempotent(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	items := []domain.Item{
		taskItem("t1", "Collect parcel", "Post Office", 43.2, -2.9),
		taskItem("t2", "Return book", "Library", 43.3, -2.8),
		shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9),
		shoppingItem("s2", "Eggs", "SuperMart", "1 Main St", 43.1, -2.9),
	}

	if err := coord.RebuildAll(context.Background(), items); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	first := coord.ActiveRegions()

	if err := coord.RebuildAll(context.Background(), items); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	second := coord.ActiveRegions()

	if len(first) != 3 {
		t.Fatalf("expected 3 regions (2 tasks + 1 store), got %v", first)
	}
	if strings.Join(first, ",") != strings.Join(second, ",") {
		t.Errorf("rebuild not idempotent: %v vs %v", first, second)
	}
}

func TestRebuildAll_SkipsCompletedAndIneligible(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	done := taskItem("t1", "Done task", "Somewhere", 43.2, -2.9)
	done.Completed = true
	noCoords := taskItem("t2", "Floating task", "Nowhere", 0, 0)
	sDone1 := shoppingItem("s1", "Milk", "ClosedMart", "9 Side St", 43.4, -2.7)
	sDone1.Completed = true
	sDone2 := shoppingItem("s2", "Eggs", "ClosedMart", "9 Side St", 43.4, -2.7)
	sDone2.Completed = true

	items := []domain.Item{
		done, noCoords, sDone1, sDone2,
		taskItem("t3", "Live task", "Cafe", 43.5, -2.6),
	}

	if err := coord.RebuildAll(context.Background(), items); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	active := coord.ActiveRegions()
	if len(active) != 1 || active[0] != "t3" {
		t.Errorf("expected only t3 monitored, got %v", active)
	}
}

func TestRebuildAll_SameStoreDistantPinsShareOneRegion(t *testing.T) {
	reg := newFakeRegistry(20)
	disp := &mockDispatcher{}
	coord := newCoordinator(t, reg, nil, disp)

	// Same store name and address but pins in different coordinate
	// buckets; both items still resolve to one region id, and the
	// shared region must carry the whole membership.
	items := []domain.Item{
		shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9),
		shoppingItem("s2", "Eggs", "SuperMart", "1 Main St", 43.5, -2.5),
	}

	if err := coord.RebuildAll(context.Background(), items); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	active := coord.ActiveRegions()
	if len(active) != 1 || active[0] != "SuperMart_1 Main St" {
		t.Fatalf("expected one shared region, got %v", active)
	}

	coord.RegionEntered("SuperMart_1 Main St", domain.GeoPoint{Lat: 43.1, Lon: -2.9})
	got := disp.all()
	if len(got) != 1 {
		t.Fatalf("expected one notification, got %d", len(got))
	}
	for _, name := range []string{"Milk", "Eggs"} {
		if !strings.Contains(got[0].Body, name) {
			t.Errorf("notification body %q missing %q", got[0].Body, name)
		}
	}
}

func TestRebuildAll_CapacityStoresFirst(t *testing.T) {
	reg := newFakeRegistry(3)
	coord := newCoordinator(t, reg, nil, nil)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var items []domain.Item
	// Two stores, both must win slots.
	items = append(items,
		shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9),
		shoppingItem("s2", "Nails", "HardwareCo", "2 Oak Ave", 43.2, -2.8),
	)
	// Five tasks compete for the single remaining slot; the most
	// recently updated one wins.
	for i := 0; i < 5; i++ {
		it := taskItem(fmt.Sprintf("t%d", i), "Task", "Place", 43.3+float64(i)/100, -2.7)
		it.LastUpdated = base.Add(time.Duration(i) * time.Minute)
		items = append(items, it)
	}

	if err := coord.RebuildAll(context.Background(), items); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	active := coord.ActiveRegions()
	if len(active) != 3 {
		t.Fatalf("expected exactly 3 regions at capacity, got %v", active)
	}
	if !coord.IsMonitored("SuperMart_1 Main St") || !coord.IsMonitored("HardwareCo_2 Oak Ave") {
		t.Errorf("store regions must win slots first, got %v", active)
	}
	if !coord.IsMonitored("t4") {
		t.Errorf("most recently updated task should get the last slot, got %v", active)
	}
}

func TestMonitorItem_RegistryFull(t *testing.T) {
	reg := newFakeRegistry(1)
	coord := newCoordinator(t, reg, nil, nil)

	if err := coord.MonitorItem(taskItem("t1", "First", "A", 43.1, -2.9)); err != nil {
		t.Fatalf("first monitor: %v", err)
	}
	err := coord.MonitorItem(taskItem("t2", "Second", "B", 43.2, -2.8))
	if !errors.Is(err, usecases.ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
	if coord.IsMonitored("t2") {
		t.Error("rejected region must not be registered")
	}
}

// --- Capacity invariant under churn ---

func TestCapacityNeverExceeded(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	for i := 0; i < 100; i++ {
		it := taskItem(fmt.Sprintf("t%d", i), "Task", "Place", 43.0+float64(i)/1000, -2.9)
		_ = coord.MonitorItem(it)
		if got := len(coord.ActiveRegions()); got > 20 {
			t.Fatalf("capacity exceeded after %d registrations: %d regions", i+1, got)
		}
	}
	if got := len(coord.ActiveRegions()); got != 20 {
		t.Errorf("expected registry filled to capacity, got %d", got)
	}
}

// --- Radius ---

func TestUpdateAllRadii(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	items := []domain.Item{
		taskItem("t1", "Task", "Place", 43.2, -2.9),
		shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9),
	}
	if err := coord.RebuildAll(context.Background(), items); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if err := coord.UpdateAllRadii(250); err != nil {
		t.Fatalf("update radii: %v", err)
	}
	if coord.Radius() != 250 {
		t.Errorf("expected radius 250, got %v", coord.Radius())
	}

	for _, id := range []string{"t1", "SuperMart_1 Main St"} {
		region, ok := reg.region(id)
		if !ok {
			t.Fatalf("region %s lost during radius update", id)
		}
		if region.RadiusMeters != 250 {
			t.Errorf("region %s radius = %v, want 250", id, region.RadiusMeters)
		}
	}
}

func TestUpdateAllRadii_RejectsNonPositive(t *testing.T) {
	coord := newCoordinator(t, nil, nil, nil)
	if err := coord.UpdateAllRadii(0); err == nil {
		t.Error("expected error for zero radius")
	}
	if err := coord.UpdateAllRadii(-10); err == nil {
		t.Error("expected error for negative radius")
	}
}

// --- Lifecycle hooks ---

func TestItemSaved_MovedItemReleasesOldRegion(t *testing.T) {
	reg := newFakeRegistry(20)

	old := shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9)
	moved := old
	moved.StoreName = "HardwareCo"
	moved.StoreAddress = "2 Oak Ave"
	moved.Location = domain.GeoPoint{Lat: 43.2, Lon: -2.8}

	// Durable state already reflects the move: only the new store has
	// the item.
	repo := &mockItemRepo{
		listByStoreFn: func(ctx context.Context, name, addr string) ([]domain.Item, error) {
			if name == moved.StoreName && addr == moved.StoreAddress {
				return []domain.Item{moved}, nil
			}
			return nil, nil
		},
	}
	coord := newCoordinator(t, reg, repo, nil)

	if err := coord.MonitorStore(old.Location, old.StoreName, old.StoreAddress, []domain.Item{old}); err != nil {
		t.Fatalf("monitor store: %v", err)
	}

	if err := coord.ItemSaved(context.Background(), &old, moved); err != nil {
		t.Fatalf("item saved: %v", err)
	}

	if coord.IsMonitored("SuperMart_1 Main St") {
		t.Error("old store region should be released")
	}
	if !coord.IsMonitored("HardwareCo_2 Oak Ave") {
		t.Error("new store region should be registered")
	}
}

func TestItemSaved_RelocatedTaskRecentersRegion(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	old := taskItem("t1", "Buy milk", "Corner Store", 43.1, -2.9)
	if err := coord.MonitorItem(old); err != nil {
		t.Fatalf("monitor: %v", err)
	}

	// Same item, same region id, corrected pin.
	moved := old
	moved.Location = domain.GeoPoint{Lat: 43.2, Lon: -2.8}
	if err := coord.ItemSaved(context.Background(), &old, moved); err != nil {
		t.Fatalf("item saved: %v", err)
	}

	region, ok := reg.region("t1")
	if !ok {
		t.Fatal("region t1 lost after relocation")
	}
	if region.Center != moved.Location {
		t.Errorf("region center = %v, want %v", region.Center, moved.Location)
	}
}

func TestItemSaved_CorrectedStorePinRecentersRegion(t *testing.T) {
	reg := newFakeRegistry(20)

	old := shoppingItem("s1", "Milk", "SuperMart", "1 Main St", 43.1, -2.9)
	moved := old
	moved.Location = domain.GeoPoint{Lat: 43.15, Lon: -2.85}

	repo := &mockItemRepo{
		listByStoreFn: func(ctx context.Context, name, addr string) ([]domain.Item, error) {
			return []domain.Item{moved}, nil
		},
	}
	coord := newCoordinator(t, reg, repo, nil)

	if err := coord.MonitorStore(old.Location, old.StoreName, old.StoreAddress, []domain.Item{old}); err != nil {
		t.Fatalf("monitor store: %v", err)
	}

	// The region id ("SuperMart_1 Main St") is unchanged; only the
	// coordinates were fixed.
	if err := coord.ItemSaved(context.Background(), &old, moved); err != nil {
		t.Fatalf("item saved: %v", err)
	}

	region, ok := reg.region("SuperMart_1 Main St")
	if !ok {
		t.Fatal("store region lost after pin correction")
	}
	if region.Center != moved.Location {
		t.Errorf("region center = %v, want %v", region.Center, moved.Location)
	}
}

func TestItemSaved_UnchangedLocationKeepsRegion(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	item := taskItem("t1", "Buy milk", "Corner Store", 43.1, -2.9)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}
	startsBefore := len(reg.startCalls)

	renamed := item
	renamed.Name = "Buy oat milk"
	if err := coord.ItemSaved(context.Background(), &item, renamed); err != nil {
		t.Fatalf("item saved: %v", err)
	}

	if !coord.IsMonitored("t1") {
		t.Error("region must survive a rename")
	}
	if len(reg.startCalls) != startsBefore {
		t.Errorf("rename must not re-register, start calls went %d -> %d", startsBefore, len(reg.startCalls))
	}
}

func TestItemSaved_CompletedStopsMonitoring(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	item := taskItem("t1", "Task", "Place", 43.2, -2.9)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}

	item.Completed = true
	if err := coord.ItemSaved(context.Background(), &item, item); err != nil {
		t.Fatalf("item saved: %v", err)
	}
	if coord.IsMonitored("t1") {
		t.Error("completed item must not stay monitored")
	}
}

func TestItemSaved_RecoverableErrorsSwallowed(t *testing.T) {
	reg := newFakeRegistry(0) // always full
	coord := newCoordinator(t, reg, nil, nil)

	item := taskItem("t1", "Task", "Place", 43.2, -2.9)
	if err := coord.ItemSaved(context.Background(), nil, item); err != nil {
		t.Fatalf("capacity rejection must not surface from ItemSaved: %v", err)
	}
}

func TestItemDeleted_NoOrphanState(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	item := taskItem("t1", "Task", "Place", 43.2, -2.9)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if err := coord.ItemDeleted(context.Background(), item); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if coord.IsMonitored("t1") {
		t.Error("deleted item's region still active")
	}
	// A stale entry callback after removal must be a no-op.
	disp := &mockDispatcher{}
	coord2 := newCoordinator(t, reg, nil, disp)
	coord2.RegionEntered("t1", domain.GeoPoint{Lat: 43.2, Lon: -2.9})
	if len(disp.all()) != 0 {
		t.Error("stale region entry produced a notification")
	}
}

// --- Debounced rebuild ---

func TestRequestRebuild_CoalescesBursts(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	repo := &mockItemRepo{
		listAllFn: func(ctx context.Context) ([]domain.Item, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil, nil
		},
	}
	coord := newCoordinator(t, nil, repo, nil, usecases.WithRebuildDebounce(50*time.Millisecond))

	// First request runs immediately (nothing rebuilt recently), the
	// burst behind it collapses into one trailing rebuild.
	for i := 0; i < 10; i++ {
		coord.RequestRebuild(context.Background())
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 2 {
		t.Errorf("expected burst to collapse to 2 rebuilds (leading + trailing), got %d", got)
	}
}

func TestRequestRebuild_FetchFailureKeepsIndex(t *testing.T) {
	reg := newFakeRegistry(20)
	repo := &mockItemRepo{
		listAllFn: func(ctx context.Context) ([]domain.Item, error) {
			return nil, errors.New("db down")
		},
	}
	coord := newCoordinator(t, reg, repo, nil)

	item := taskItem("t1", "Task", "Place", 43.2, -2.9)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}

	coord.RequestRebuild(context.Background())
	time.Sleep(20 * time.Millisecond)

	if !coord.IsMonitored("t1") {
		t.Error("failed rebuild fetch must leave the previous monitoring set intact")
	}
}

// --- Monitoring failure retry ---

func TestMonitoringFailed_OneShotRetry(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	item := taskItem("t1", "Task", "Place", 43.2, -2.9)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}

	before := len(reg.startCalls)
	coord.MonitoringFailed("t1", errors.New("transient"))
	if got := len(reg.startCalls) - before; got != 1 {
		t.Fatalf("expected exactly one retry StartMonitoring, got %d", got)
	}
	if !coord.IsMonitored("t1") {
		t.Fatal("region should survive a retried failure")
	}

	// Second failure abandons the region without another retry.
	before = len(reg.startCalls)
	coord.MonitoringFailed("t1", errors.New("persistent"))
	if got := len(reg.startCalls) - before; got != 0 {
		t.Errorf("no further retries expected, got %d", got)
	}
	if coord.IsMonitored("t1") {
		t.Error("region should be abandoned after the retry budget is spent")
	}
}

func TestMonitoringFailed_RetryFailureRemovesRegion(t *testing.T) {
	reg := newFakeRegistry(20)
	coord := newCoordinator(t, reg, nil, nil)

	item := taskItem("t1", "Task", "Place", 43.2, -2.9)
	if err := coord.MonitorItem(item); err != nil {
		t.Fatalf("monitor: %v", err)
	}

	reg.startErr = func(r domain.MonitoredRegion) error {
		return errors.New("still failing")
	}
	coord.MonitoringFailed("t1", errors.New("transient"))

	if coord.IsMonitored("t1") {
		t.Error("region should be removed when the retry itself fails")
	}
}
