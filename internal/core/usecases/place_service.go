package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
	"github.com/dhwagstaff/tbeacon/internal/pkg/geospatial"
)

// ErrSearchSuperseded means a newer search started while this one was
// in flight; its result must be discarded, not shown.
var ErrSearchSuperseded = errors.New("search superseded by a newer query")

// Relevance tiers for candidate places. Within the partial tier the
// word-overlap fraction stretches the score, so more matched words
// rank higher.
const (
	scoreExact    = 1000.0
	scorePrefix   = 750.0
	scoreContains = 500.0
	scoreOverlap  = 250.0
)

// PlaceService turns a free-text query plus anchor coordinate into a
// deduplicated, relevance-sorted list of candidate places. The provider
// gives no ordering or uniqueness guarantee; everything user-visible is
// imposed here, deterministically.
type PlaceService struct {
	provider ports.PlaceSearchProvider
	cache    ports.CacheService

	// seq orders searches; a result is applied only if its sequence
	// number is still the latest ("last result wins", no cancellation).
	seq atomic.Uint64
}

// NewPlaceService creates a new PlaceService.
func NewPlaceService(provider ports.PlaceSearchProvider, cache ports.CacheService) *PlaceService {
	return &PlaceService{provider: provider, cache: cache}
}

// Search queries the provider and returns candidates deduplicated by
// (name, address, coordinate rounded to 5 dp) and sorted by relevance:
// exact name match, then substring match, then scored partial match
// (prefix > contains > word overlap), ties broken by distance from the
// anchor ascending. Output is stable for a fixed input set. If a newer
// search starts while the provider call is in flight, the stale result
// is discarded with ErrSearchSuperseded.
func (s *PlaceService) Search(ctx context.Context, query string, near domain.GeoPoint, radiusMeters float64) ([]domain.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}
	if radiusMeters <= 0 {
		radiusMeters = 5000
	}

	mySeq := s.seq.Add(1)

	cacheKey := fmt.Sprintf("places:search:%s:%s:%.0f", strings.ToLower(query), near.RoundedKey(), radiusMeters)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var places []domain.Place
			if err := json.Unmarshal(data, &places); err == nil {
				return places, nil
			}
		}
	}

	raw, err := s.provider.Search(ctx, query, near, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("place search: %w", err)
	}

	if s.seq.Load() != mySeq {
		return nil, ErrSearchSuperseded
	}

	places := rankPlaces(query, near, dedupPlaces(raw))

	if s.cache != nil {
		if data, err := json.Marshal(places); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 300)
		}
	}

	return places, nil
}

// dedupPlaces keeps the first candidate for each (name, address,
// rounded coordinate) key, preserving provider order for the survivors.
func dedupPlaces(in []domain.Place) []domain.Place {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Place, 0, len(in))
	for _, p := range in {
		key := strings.ToLower(strings.TrimSpace(p.Name)) + "|" +
			strings.ToLower(strings.TrimSpace(p.Address)) + "|" +
			p.Location.RoundedKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// rankPlaces computes distances from the anchor and sorts by relevance
// score descending, distance ascending, then name/address for a total
// deterministic order.
func rankPlaces(query string, near domain.GeoPoint, places []domain.Place) []domain.Place {
	for i := range places {
		places[i].Distance = geospatial.Haversine(
			near.Lat, near.Lon, places[i].Location.Lat, places[i].Location.Lon)
	}

	scores := make([]float64, len(places))
	for i, p := range places {
		scores[i] = relevanceScore(p.Name, query)
	}

	idx := make([]int, len(places))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if scores[ia] != scores[ib] {
			return scores[ia] > scores[ib]
		}
		if places[ia].Distance != places[ib].Distance {
			return places[ia].Distance < places[ib].Distance
		}
		if places[ia].Name != places[ib].Name {
			return places[ia].Name < places[ib].Name
		}
		return places[ia].Address < places[ib].Address
	})

	out := make([]domain.Place, len(places))
	for i, j := range idx {
		out[i] = places[j]
	}
	return out
}

// relevanceScore rates how well a place name matches the query.
func relevanceScore(name, query string) float64 {
	n := strings.ToLower(strings.TrimSpace(name))
	q := strings.ToLower(strings.TrimSpace(query))
	if n == "" || q == "" {
		return 0
	}
	if n == q {
		return scoreExact
	}
	if strings.HasPrefix(n, q) {
		return scorePrefix
	}
	if strings.Contains(n, q) {
		return scoreContains
	}

	qWords := strings.Fields(q)
	if len(qWords) == 0 {
		return 0
	}
	nWords := make(map[string]struct{})
	for _, w := range strings.Fields(n) {
		nWords[w] = struct{}{}
	}
	matched := 0
	for _, w := range qWords {
		if _, ok := nWords[w]; ok {
			matched++
		}
	}
	return scoreOverlap * float64(matched) / float64(len(qWords))
}
