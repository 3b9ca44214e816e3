package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/usecases"
)

// ListItemsHandler returns items, optionally filtered by kind.
func ListItemsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind := domain.ItemKind(c.Query("kind"))
		if kind != "" && !kind.IsValid() {
			return errBadRequest(c, "kind must be task or shopping")
		}

		items, err := deps.Items.List(c.Context(), kind)
		if err != nil {
			return errInternal(c, err.Error())
		}

		// Optional completed filter
		if raw := c.Query("completed"); raw != "" {
			want := raw == "true" || raw == "1"
			filtered := items[:0]
			for _, it := range items {
				if it.Completed == want {
					filtered = append(filtered, it)
				}
			}
			items = filtered
		}

		pg := queryPagination(c)
		page := pg.window(items)
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// GetItemHandler returns a single item by UID.
func GetItemHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := c.Params("uid")
		if uid == "" {
			return errBadRequest(c, "item uid is required")
		}
		item, err := deps.Items.Get(c.Context(), uid)
		if err != nil {
			return errNotFound(c, "item not found")
		}
		return c.JSON(item)
	}
}

// CreateItemHandler creates a task or shopping item. Monitoring starts
// automatically when the item carries usable coordinates and a place
// or store name.
func CreateItemHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var item domain.Item
		if err := c.BodyParser(&item); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if item.Name == "" {
			return errBadRequest(c, "name is required")
		}
		if !item.Kind.IsValid() {
			return errBadRequest(c, "kind must be task or shopping")
		}

		created, err := deps.Items.Create(c.Context(), &item)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.Status(201).JSON(created)
	}
}

// UpdateItemHandler updates an existing item. The kind is fixed at
// creation and cannot be changed here.
func UpdateItemHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := c.Params("uid")
		if uid == "" {
			return errBadRequest(c, "item uid is required")
		}

		var item domain.Item
		if err := c.BodyParser(&item); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		item.UID = uid
		if item.Name == "" {
			return errBadRequest(c, "name is required")
		}

		updated, err := deps.Items.Update(c.Context(), &item)
		if err != nil {
			return errNotFound(c, err.Error())
		}
		return c.JSON(updated)
	}
}

// CompleteItemHandler toggles an item's completed flag. Completing the
// last open item at a store releases that store's shared region.
func CompleteItemHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := c.Params("uid")
		if uid == "" {
			return errBadRequest(c, "item uid is required")
		}

		var body struct {
			Completed bool `json:"completed"`
		}
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		item, err := deps.Items.SetCompleted(c.Context(), uid, body.Completed)
		if err != nil {
			return errNotFound(c, err.Error())
		}
		return c.JSON(item)
	}
}

// DeleteItemHandler removes an item and releases any region it held.
func DeleteItemHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := c.Params("uid")
		if uid == "" {
			return errBadRequest(c, "item uid is required")
		}
		if err := deps.Items.Delete(c.Context(), uid); err != nil {
			return errNotFound(c, "item not found")
		}
		return c.SendStatus(204)
	}
}

// GroupedByStoreHandler returns shopping items grouped per store.
func GroupedByStoreHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		groups, err := deps.Items.ListGroupedByStore(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}
		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(groups)
	}
}

// GroupedByCategoryHandler returns all items keyed by category.
func GroupedByCategoryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		groups, err := deps.Items.ListGroupedByCategory(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(groups)
	}
}

// SearchPlacesHandler performs a ranked, deduplicated place search
// around a coordinate.
func SearchPlacesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		query := c.Query("q")
		if query == "" {
			return errBadRequest(c, "q query parameter is required")
		}
		if len(query) > 200 {
			return errBadRequest(c, "query too long (max 200 characters)")
		}

		lat := c.QueryFloat("lat", 0)
		lon := c.QueryFloat("lon", 0)
		if lat == 0 && lon == 0 {
			return errBadRequest(c, "lat and lon are required")
		}
		radius := c.QueryFloat("radius", 0)
		if radius < 0 || radius > 50000 {
			return errBadRequest(c, "radius must be between 0 and 50000 meters")
		}

		places, err := deps.Places.Search(c.Context(), query, domain.GeoPoint{Lat: lat, Lon: lon}, radius)
		if err != nil {
			if errors.Is(err, usecases.ErrSearchSuperseded) {
				return errConflict(c, "search superseded by a newer query")
			}
			return errInternal(c, err.Error())
		}

		c.Set("Cache-Control", "public, max-age=300")
		return c.JSON(fiber.Map{
			"places": places,
			"count":  len(places),
		})
	}
}

// GetProductHandler looks up a product by barcode.
func GetProductHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		barcode := c.Params("barcode")
		if barcode == "" {
			return errBadRequest(c, "barcode is required")
		}
		product, err := deps.Products.Lookup(c.Context(), barcode)
		if err != nil {
			return errNotFound(c, "product not found")
		}
		return c.JSON(product)
	}
}

// ListRegionsHandler reports the currently monitored regions. This is
// a diagnostics view; the coordinator owns the registry.
func ListRegionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		active := deps.Coordinator.ActiveRegions()
		return c.JSON(fiber.Map{
			"regions":       active,
			"count":         len(active),
			"capacity":      deps.Registry.Capacity(),
			"radius_meters": deps.Coordinator.Radius(),
		})
	}
}

// CheckRegionHandler reports whether a single region id is actively
// monitored.
func CheckRegionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "region id is required")
		}
		return c.JSON(fiber.Map{
			"region_id": id,
			"monitored": deps.Coordinator.IsMonitored(id),
		})
	}
}

// UpdateRadiusHandler changes the monitoring radius and re-registers
// every active region with the new value.
func UpdateRadiusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			RadiusMeters float64 `json:"radius_meters"`
		}
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if body.RadiusMeters < 50 || body.RadiusMeters > 10000 {
			return errBadRequest(c, "radius_meters must be between 50 and 10000")
		}

		if err := deps.Coordinator.UpdateAllRadii(body.RadiusMeters); err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{
			"radius_meters": deps.Coordinator.Radius(),
			"regions":       deps.Coordinator.ActiveRegions(),
		})
	}
}

// RebuildRegionsHandler requests a full monitoring rebuild from the
// item store. Bursts coalesce behind the coordinator's debounce, so
// this always returns 202.
func RebuildRegionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		deps.Items.RebuildMonitoring(c.Context())
		return c.Status(202).JSON(fiber.Map{
			"status": "rebuild requested",
		})
	}
}

// ReportPositionHandler accepts a device position fix and forwards it
// onto the position work queue for region evaluation.
func ReportPositionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var pos domain.DevicePosition
		if err := c.BodyParser(&pos); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if pos.DeviceID == "" {
			return errBadRequest(c, "device_id is required")
		}
		if pos.Location.IsUnset() {
			return errBadRequest(c, "location is required")
		}
		if pos.Time.IsZero() {
			pos.Time = time.Now().UTC()
		}

		if deps.Publisher == nil {
			return errInternal(c, "position pipeline not available")
		}
		if err := deps.Publisher.PublishPosition(c.Context(), &pos); err != nil {
			return errInternal(c, err.Error())
		}
		return c.SendStatus(202)
	}
}

// ListNotificationsHandler returns the most recent dispatched
// reminders from the audit log.
func ListNotificationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		if deps.Notifications == nil {
			return errInternal(c, "notification log not available")
		}
		recs, err := deps.Notifications.ListRecent(c.Context(), limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{
			"notifications": recs,
			"count":         len(recs),
		})
	}
}

// StatsHandler returns row counts and geofence occupancy.
func StatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.DB == nil {
			return errInternal(c, "database not available")
		}

		var stats struct {
			Items         int     `json:"items"`
			Incomplete    int     `json:"incomplete"`
			Notifications int     `json:"notifications"`
			ActiveRegions int     `json:"active_regions"`
			Capacity      int     `json:"region_capacity"`
			RadiusMeters  float64 `json:"radius_meters"`
		}

		row := deps.DB.Pool.QueryRow(c.Context(), `
			SELECT
				(SELECT count(*) FROM items),
				(SELECT count(*) FROM items WHERE NOT completed),
				(SELECT count(*) FROM notification_log)
		`)
		if err := row.Scan(&stats.Items, &stats.Incomplete, &stats.Notifications); err != nil {
			return errInternal(c, err.Error())
		}
		stats.ActiveRegions = len(deps.Coordinator.ActiveRegions())
		stats.Capacity = deps.Registry.Capacity()
		stats.RadiusMeters = deps.Coordinator.Radius()

		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(stats)
	}
}
