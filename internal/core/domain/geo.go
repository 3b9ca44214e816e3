package domain

import "fmt"

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsUnset reports whether the point is the (0,0) sentinel used for
// "no location assigned yet".
func (p GeoPoint) IsUnset() bool {
	return p.Lat == 0 && p.Lon == 0
}

// RoundedKey renders the point rounded to 5 decimal places (~1 m),
// used for grouping and deduplication keys.
func (p GeoPoint) RoundedKey() string {
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lon)
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}
