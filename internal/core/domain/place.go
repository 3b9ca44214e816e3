package domain

// Place is a candidate returned from a place search, used to pick a
// store or task location.
type Place struct {
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	Location GeoPoint `json:"location"`
	Distance float64  `json:"distance,omitempty"` // meters from the search anchor
}

// Product is the result of a barcode lookup.
type Product struct {
	Barcode  string `json:"barcode"`
	Name     string `json:"name"`
	Brand    string `json:"brand,omitempty"`
	Category string `json:"category,omitempty"`
}
