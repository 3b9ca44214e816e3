// Package products adapts an Open Food Facts-style catalog API to the
// barcode lookup port.
package products

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
)

// Client implements ports.ProductLookupProvider over HTTP.
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

type lookupResponse struct {
	Status  int `json:"status"` // 1 = found
	Product struct {
		ProductName string `json:"product_name"`
		Brands      string `json:"brands"`
		Categories  string `json:"categories"`
	} `json:"product"`
}

// Lookup resolves a barcode to a product. An unknown barcode is an
// error; callers surface it as not-found.
func (c *Client) Lookup(ctx context.Context, barcode string) (*domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v2/product/%s.json", c.baseURL, barcode), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "tbeacon/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("product lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("product %s not found", barcode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("product lookup: status %d", resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode product response: %w", err)
	}
	if lr.Status != 1 || lr.Product.ProductName == "" {
		return nil, fmt.Errorf("product %s not found", barcode)
	}

	return &domain.Product{
		Barcode:  barcode,
		Name:     lr.Product.ProductName,
		Brand:    lr.Product.Brands,
		Category: lr.Product.Categories,
	}, nil
}
