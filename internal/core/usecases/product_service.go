package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
	"github.com/dhwagstaff/tbeacon/internal/core/ports"
)

// ProductService resolves scanned barcodes to products, with a long
// cache since catalog data barely changes.
type ProductService struct {
	provider ports.ProductLookupProvider
	cache    ports.CacheService
}

// NewProductService creates a new ProductService.
func NewProductService(provider ports.ProductLookupProvider, cache ports.CacheService) *ProductService {
	return &ProductService{provider: provider, cache: cache}
}

// Lookup returns the product for a barcode.
func (s *ProductService) Lookup(ctx context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, fmt.Errorf("barcode must not be empty")
	}

	cacheKey := "products:barcode:" + barcode
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var p domain.Product
			if err := json.Unmarshal(data, &p); err == nil {
				return &p, nil
			}
		}
	}

	product, err := s.provider.Lookup(ctx, barcode)
	if err != nil {
		return nil, fmt.Errorf("product lookup: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(product); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 86400) // 24h
		}
	}

	return product, nil
}
