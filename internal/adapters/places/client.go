// Package places adapts a Nominatim-style geocoding API to the place
// search port. The provider's ordering and duplicates are passed
// through untouched; ranking and dedup happen in the core.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/pkg/geospatial"
)

// Client implements ports.PlaceSearchProvider over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the given API base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// nominatimResult is the subset of the search response we consume.
type nominatimResult struct {
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Search queries the API for candidate places near the anchor. The
// anchor bounds the search via a viewbox derived from the radius.
func (c *Client) Search(ctx context.Context, query string, near domain.GeoPoint, radiusMeters float64) ([]domain.Place, error) {
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(near.Lat, near.Lon, radiusMeters)

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "25")
	q.Set("viewbox", fmt.Sprintf("%f,%f,%f,%f", minLon, maxLat, maxLon, minLat))
	q.Set("bounded", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "tbeacon/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("place search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("place search: status %d: %s", resp.StatusCode, body)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode place search response: %w", err)
	}

	places := make([]domain.Place, 0, len(results))
	for _, r := range results {
		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lon, errLon := strconv.ParseFloat(r.Lon, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		name := r.Name
		if name == "" {
			name = r.DisplayName
		}
		places = append(places, domain.Place{
			Name:     name,
			Address:  r.DisplayName,
			Location: domain.GeoPoint{Lat: lat, Lon: lon},
		})
	}
	return places, nil
}
