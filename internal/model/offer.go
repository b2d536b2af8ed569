package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer is an immutable snapshot of one vendor's price for one product at a
// point in time. Corrections arrive as new offers; rows are never updated.
type Offer struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	VendorID         string          `json:"vendor_id"`
	SourceDocumentID string          `json:"source_document_id,omitempty"`
	SourceMessageID  string          `json:"source_message_id,omitempty"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	Quantity         *int64          `json:"quantity,omitempty"`
	MinOrderQuantity *int64          `json:"min_order_quantity,omitempty"`
	Condition        string          `json:"condition,omitempty"`
	Location         string          `json:"location,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CapturedAt       time.Time       `json:"captured_at"`
	RawPayload       map[string]any  `json:"raw_payload,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// PriceHistory is a maximal span [valid_from, valid_to) of constant observed
// price for a (product, vendor) pair; a nil ValidTo marks the open span.
// At most one open row may exist per pair, and valid_from is unique per pair.
type PriceHistory struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	VendorID      string          `json:"vendor_id"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	ValidFrom     time.Time       `json:"valid_from"`
	ValidTo       *time.Time      `json:"valid_to,omitempty"`
	SourceOfferID string          `json:"source_offer_id"`
}

// Open reports whether the span has not been closed by a newer observation.
func (p PriceHistory) Open() bool { return p.ValidTo == nil }
