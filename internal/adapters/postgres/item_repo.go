package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
)

// ItemRepo implements ports.ItemRepository with pgx. Item coordinates
// live in a PostGIS geography column; the (0,0) sentinel is stored
// as-is.
type ItemRepo struct {
	db *DB
}

// NewItemRepo creates a new ItemRepo.
func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{db: db}
}

const itemColumns = `
	uid, kind, name, category,
	ST_Y(location::geometry) as lat,
	ST_X(location::geometry) as lon,
	completed, location_name, store_name, store_address,
	barcode, quantity, date_added, last_updated`

// Insert stores a new item.
func (r *ItemRepo) Insert(ctx context.Context, it *domain.Item) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO items (uid, kind, name, category, location, completed,
		                   location_name, store_name, store_address,
		                   barcode, quantity, date_added, last_updated)
		VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography,
		        $7, $8, $9, $10, $11, $12, $13, $14)
	`, it.UID, it.Kind, it.Name, it.Category, it.Location.Lon, it.Location.Lat,
		it.Completed, it.LocationName, it.StoreName, it.StoreAddress,
		it.Barcode, it.Quantity, it.DateAdded, it.LastUpdated)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// Update rewrites every mutable field of an existing item.
func (r *ItemRepo) Update(ctx context.Context, it *domain.Item) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE items
		SET name = $2, category = $3,
		    location = ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography,
		    completed = $6, location_name = $7, store_name = $8,
		    store_address = $9, barcode = $10, quantity = $11,
		    last_updated = $12
		WHERE uid = $1
	`, it.UID, it.Name, it.Category, it.Location.Lon, it.Location.Lat,
		it.Completed, it.LocationName, it.StoreName, it.StoreAddress,
		it.Barcode, it.Quantity, it.LastUpdated)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s not found", it.UID)
	}
	return nil
}

// Delete removes an item by uid.
func (r *ItemRepo) Delete(ctx context.Context, uid string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM items WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s not found", uid)
	}
	return nil
}

// GetByUID returns a single item.
func (r *ItemRepo) GetByUID(ctx context.Context, uid string) (*domain.Item, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE uid = $1`, uid)
	it, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", uid, err)
	}
	return it, nil
}

// ListByKind returns all items of one kind, newest first.
func (r *ItemRepo) ListByKind(ctx context.Context, kind domain.ItemKind) ([]domain.Item, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE kind = $1 ORDER BY date_added DESC`, kind)
	if err != nil {
		return nil, fmt.Errorf("list items by kind: %w", err)
	}
	return scanItems(rows)
}

// ListAll returns every item, newest first.
func (r *ItemRepo) ListAll(ctx context.Context) ([]domain.Item, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY date_added DESC`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return scanItems(rows)
}

// ListIncomplete returns every item not yet completed.
func (r *ItemRepo) ListIncomplete(ctx context.Context) ([]domain.Item, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE NOT completed ORDER BY date_added DESC`)
	if err != nil {
		return nil, fmt.Errorf("list incomplete items: %w", err)
	}
	return scanItems(rows)
}

// ListByStore returns shopping items bound to a store, matched by name
// and address exactly as stored.
func (r *ItemRepo) ListByStore(ctx context.Context, storeName, storeAddress string) ([]domain.Item, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE kind = 'shopping' AND store_name = $1 AND store_address = $2
		ORDER BY date_added DESC
	`, storeName, storeAddress)
	if err != nil {
		return nil, fmt.Errorf("list items by store: %w", err)
	}
	return scanItems(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
	var it domain.Item
	err := row.Scan(
		&it.UID, &it.Kind, &it.Name, &it.Category,
		&it.Location.Lat, &it.Location.Lon,
		&it.Completed, &it.LocationName, &it.StoreName, &it.StoreAddress,
		&it.Barcode, &it.Quantity, &it.DateAdded, &it.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func scanItems(rows pgx.Rows) ([]domain.Item, error) {
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}
