package domain

import "time"

// MonitoredRegion is a circular geofence registered with a region
// registry. Regions are immutable once created; a radius change means
// stop + start with a fresh region value.
type MonitoredRegion struct {
	ID            string   `json:"id"`
	Center        GeoPoint `json:"center"`
	RadiusMeters  float64  `json:"radius_meters"`
	NotifyOnEntry bool     `json:"notify_on_entry"`
	NotifyOnExit  bool     `json:"notify_on_exit"`
}

// RegionEventKind says whether a device crossed into or out of a region.
type RegionEventKind string

const (
	RegionEntered RegionEventKind = "entered"
	RegionExited  RegionEventKind = "exited"
)

// RegionEvent is an entry/exit crossing detected for a monitored region.
type RegionEvent struct {
	RegionID string          `json:"region_id"`
	Kind     RegionEventKind `json:"kind"`
	Position GeoPoint        `json:"position"`
	At       time.Time       `json:"at"`
}

// DevicePosition is a raw location sample reported by a mobile client.
type DevicePosition struct {
	DeviceID string    `json:"device_id"`
	Location GeoPoint  `json:"location"`
	Accuracy float64   `json:"accuracy,omitempty"` // meters, 0 = unknown
	Time     time.Time `json:"time"`
}
