// Package registry provides the in-process region-monitoring slot
// table. It plays the role the mobile OS region monitor plays on
// device: a small fixed number of circular regions, entry/exit
// callbacks, and nothing else. Region containment is evaluated from
// the device position samples fed to Observe.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
	"github.com/dhwagstaff/tbeacon/internal/pkg/geospatial"
	"github.com/dhwagstaff/tbeacon/internal/pkg/metrics"
)

// DefaultCapacity mirrors the historical mobile-platform ceiling of 20
// simultaneously monitored regions.
const DefaultCapacity = 20

var (
	// ErrCapacity is returned when every monitoring slot is taken.
	ErrCapacity = errors.New("no free monitoring slot")

	// ErrAlreadyMonitored is returned for a duplicate region id.
	ErrAlreadyMonitored = errors.New("region already monitored")
)

// InMemory implements ports.RegionRegistry. The coordinator is its
// sole writer; reads are allowed from anywhere for diagnostics.
type InMemory struct {
	mu       sync.Mutex
	capacity int
	regions  map[string]domain.MonitoredRegion
	// inside tracks containment per (device, region) pair so
	// transition edges (and only edges) fire callbacks.
	inside   map[containment]bool
	delegate ports.RegionDelegate
}

// containment keys the inside map. A struct key keeps device ids with
// arbitrary characters from colliding with region ids.
type containment struct {
	deviceID string
	regionID string
}

// New creates a registry with the given slot capacity; capacity <= 0
// falls back to DefaultCapacity.
func New(capacity int) *InMemory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemory{
		capacity: capacity,
		regions:  make(map[string]domain.MonitoredRegion),
		inside:   make(map[containment]bool),
	}
}

// SetDelegate sets the callback receiver. Callbacks are delivered
// outside the registry lock.
func (r *InMemory) SetDelegate(d ports.RegionDelegate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegate = d
}

// StartMonitoring claims a slot for the region.
func (r *InMemory) StartMonitoring(region domain.MonitoredRegion) error {
	if region.ID == "" {
		return fmt.Errorf("region id must not be empty")
	}
	if region.RadiusMeters <= 0 {
		return fmt.Errorf("region radius must be positive, got %v", region.RadiusMeters)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.regions[region.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMonitored, region.ID)
	}
	if len(r.regions) >= r.capacity {
		return fmt.Errorf("%w: capacity %d", ErrCapacity, r.capacity)
	}
	r.regions[region.ID] = region
	return nil
}

// StopMonitoring releases the region's slot and forgets containment
// state for it. Stopping an unknown id is a no-op.
func (r *InMemory) StopMonitoring(regionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.regions, regionID)
	for key := range r.inside {
		if key.regionID == regionID {
			delete(r.inside, key)
		}
	}
	return nil
}

// IsMonitored reports whether the id holds a slot.
func (r *InMemory) IsMonitored(regionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.regions[regionID]
	return ok
}

// ActiveRegionIDs returns the ids of all monitored regions.
func (r *InMemory) ActiveRegionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.regions))
	for id := range r.regions {
		ids = append(ids, id)
	}
	return ids
}

// Capacity returns the slot ceiling.
func (r *InMemory) Capacity() int {
	return r.capacity
}

// Observe evaluates a device position against every monitored region
// and fires entry/exit callbacks for containment edges. A device first
// seen inside a region counts as entering it. Callbacks run after the
// lock is released, in deterministic region order per sample.
func (r *InMemory) Observe(pos domain.DevicePosition) {
	metrics.PositionsObserved.Inc()

	type firing struct {
		regionID string
		entered  bool
	}

	r.mu.Lock()
	delegate := r.delegate
	var firings []firing
	for id, region := range r.regions {
		key := containment{deviceID: pos.DeviceID, regionID: id}
		was := r.inside[key]
		now := geospatial.WithinRadius(
			region.Center.Lat, region.Center.Lon,
			pos.Location.Lat, pos.Location.Lon,
			region.RadiusMeters,
		)
		if was == now {
			continue
		}
		r.inside[key] = now
		if now && region.NotifyOnEntry {
			firings = append(firings, firing{regionID: id, entered: true})
		}
		if !now && region.NotifyOnExit {
			firings = append(firings, firing{regionID: id, entered: false})
		}
	}
	r.mu.Unlock()

	if delegate == nil {
		return
	}
	sort.Slice(firings, func(a, b int) bool {
		return firings[a].regionID < firings[b].regionID
	})
	for _, f := range firings {
		if f.entered {
			delegate.RegionEntered(f.regionID, pos.Location)
		} else {
			delegate.RegionExited(f.regionID, pos.Location)
		}
	}
}

// ReportFailure surfaces an asynchronous monitoring failure for an
// accepted region (the on-device analog is a failure callback from the
// platform). The region keeps its slot; the delegate decides whether
// to retry or abandon.
func (r *InMemory) ReportFailure(regionID string, err error) {
	r.mu.Lock()
	delegate := r.delegate
	_, known := r.regions[regionID]
	r.mu.Unlock()

	if delegate == nil || !known {
		return
	}
	delegate.MonitoringFailed(regionID, err)
}
