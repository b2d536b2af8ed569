package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawOffer is an unvalidated, pre-persistence offer candidate produced by a
// processor. Fields mirror what heterogeneous sources can plausibly yield;
// everything beyond vendor/product/price is optional.
type RawOffer struct {
	VendorName  string          `json:"vendor_name"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency,omitempty"`
	Quantity    *int64          `json:"quantity,omitempty"`
	Condition   string          `json:"condition,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	UPC         string          `json:"upc,omitempty"`
	ModelNumber string          `json:"model_number,omitempty"`
	Warehouse   string          `json:"warehouse,omitempty"`
	CapturedAt  time.Time       `json:"captured_at"`
	Notes       string          `json:"notes,omitempty"`
	RawPayload  map[string]any  `json:"raw_payload,omitempty"`
}

// SourceMessageRef returns the chat-message back-reference attached by chat
// ingestion, if any. Offers carrying a reference are deduplicated on it.
func (r RawOffer) SourceMessageRef() string {
	if r.RawPayload == nil {
		return ""
	}
	if v, ok := r.RawPayload["source_message_id"].(string); ok {
		return v
	}
	return ""
}
