package model

import "time"

// Vendor is a supplier whose offers are tracked in the catalog.
// Vendors are created lazily the first time an unseen name appears in an
// ingested offer; matching is exact and case-sensitive.
type Vendor struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ContactInfo map[string]any `json:"contact_info,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ProductAlias records a vendor-specific name for a product, seeded when a
// product is first created from a raw offer.
type ProductAlias struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	AliasText      string    `json:"alias_text"`
	SourceVendorID string    `json:"source_vendor_id,omitempty"`
	Embedding      []float64 `json:"embedding,omitempty"`
}
