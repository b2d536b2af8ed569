package model

import "time"

// Product is a canonical catalog entry. Identity resolution during ingestion
// tries model_number/sku, then upc, then canonical_name, and finally creates
// a new product seeded with one alias.
type Product struct {
	ID              string         `json:"id"`
	CanonicalName   string         `json:"canonical_name"`
	Brand           string         `json:"brand,omitempty"`
	ModelNumber     string         `json:"model_number,omitempty"`
	UPC             string         `json:"upc,omitempty"`
	Category        string         `json:"category,omitempty"`
	Spec            map[string]any `json:"spec,omitempty"`
	DefaultVendorID string         `json:"default_vendor_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
