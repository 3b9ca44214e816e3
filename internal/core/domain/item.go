package domain

import (
	"sort"
	"strings"
	"time"
)

// ItemKind discriminates the two item variants. The set is closed:
// every switch over ItemKind must handle both values.
type ItemKind string

const (
	KindTask     ItemKind = "task"
	KindShopping ItemKind = "shopping"
)

// IsValid reports whether k is a recognized item kind.
func (k ItemKind) IsValid() bool {
	return k == KindTask || k == KindShopping
}

// Item is a to-do task or a shopping-list entry. The shared fields are
// always present; LocationName applies to task items only, StoreName /
// StoreAddress / Barcode / Quantity to shopping items only.
type Item struct {
	UID         string    `json:"uid"`
	Kind        ItemKind  `json:"kind"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	Location    GeoPoint  `json:"location"`
	Completed   bool      `json:"completed"`
	DateAdded   time.Time `json:"date_added"`
	LastUpdated time.Time `json:"last_updated"`

	// Task items only.
	LocationName string `json:"location_name,omitempty"`

	// Shopping items only.
	StoreName    string `json:"store_name,omitempty"`
	StoreAddress string `json:"store_address,omitempty"`
	Barcode      string `json:"barcode,omitempty"`
	Quantity     int    `json:"quantity,omitempty"`
}

// MonitoringEligible reports whether the item warrants a monitored
// region: both coordinates must be set, and the item must name the
// place it is bound to (location name for tasks, store name for
// shopping items). Depends only on the item's own fields.
func (i Item) MonitoringEligible() bool {
	if i.Location.IsUnset() {
		return false
	}
	switch i.Kind {
	case KindTask:
		return strings.TrimSpace(i.LocationName) != ""
	case KindShopping:
		return strings.TrimSpace(i.StoreName) != ""
	}
	return false
}

// RegionID returns the identifier of the region this item belongs to.
// Task items get one region each, keyed by UID. Shopping items share a
// region per store, keyed by "storeName_storeAddress", so many items at
// one store consume a single monitoring slot.
func (i Item) RegionID() string {
	if i.Kind == KindShopping {
		return StoreRegionID(i.StoreName, i.StoreAddress)
	}
	return i.UID
}

// StoreRegionID builds the composite region identifier for a store.
func StoreRegionID(storeName, storeAddress string) string {
	return storeName + "_" + storeAddress
}

// StoreGroup is a set of shopping items sharing one store location.
type StoreGroup struct {
	StoreName    string
	StoreAddress string
	Location     GeoPoint
	Items        []Item
}

// RegionID returns the shared region identifier for the group.
func (g StoreGroup) RegionID() string {
	return StoreRegionID(g.StoreName, g.StoreAddress)
}

// AllCompleted reports whether every item in the group is completed.
func (g StoreGroup) AllCompleted() bool {
	for _, it := range g.Items {
		if !it.Completed {
			return false
		}
	}
	return true
}

// GroupShoppingByStore groups shopping items by (store name, coordinate
// rounded to 5 decimal places). Non-shopping items are ignored. The
// returned slice is sorted by store name then coordinate key, and each
// group's items keep their input order, so repeated calls with the same
// input produce identical output.
func GroupShoppingByStore(items []Item) []StoreGroup {
	type key struct {
		store string
		coord string
	}

	idx := make(map[key]int)
	var groups []StoreGroup

	for _, it := range items {
		if it.Kind != KindShopping {
			continue
		}
		k := key{store: it.StoreName, coord: it.Location.RoundedKey()}
		gi, ok := idx[k]
		if !ok {
			gi = len(groups)
			idx[k] = gi
			groups = append(groups, StoreGroup{
				StoreName:    it.StoreName,
				StoreAddress: it.StoreAddress,
				Location:     it.Location,
			})
		}
		groups[gi].Items = append(groups[gi].Items, it)
	}

	sort.Slice(groups, func(a, b int) bool {
		if groups[a].StoreName != groups[b].StoreName {
			return groups[a].StoreName < groups[b].StoreName
		}
		return groups[a].Location.RoundedKey() < groups[b].Location.RoundedKey()
	})

	return groups
}

// GroupByCategory groups items by their free-form category string,
// with deterministic group ordering. Items without a category land in
// the "" group.
func GroupByCategory(items []Item) map[string][]Item {
	out := make(map[string][]Item)
	for _, it := range items {
		out[it.Category] = append(out[it.Category], it)
	}
	return out
}
