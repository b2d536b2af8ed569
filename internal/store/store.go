// Package store persists the offer catalog: vendors, products, source
// documents, ingestion jobs, offers and price-history spans. Two backends
// implement the same interface: Postgres (pgxpool) for the service deployment
// and SQLite for local CLI use and tests.
package store

import (
	"context"
	"time"

	"github.com/sells-group/pricedesk/internal/model"
)

// DocumentFilter specifies criteria for listing source documents.
type DocumentFilter struct {
	Status model.DocumentStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// JobFilter specifies criteria for listing ingestion jobs.
type JobFilter struct {
	Status     model.JobStatus `json:"status,omitempty"`
	DocumentID string          `json:"document_id,omitempty"`
	Limit      int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline.
// Lookup methods return (nil, nil) when no row matches; update methods fail
// when the target row is missing.
type Store interface {
	// Vendors
	GetVendorByName(ctx context.Context, name string) (*model.Vendor, error)
	CreateVendor(ctx context.Context, v *model.Vendor) error

	// Products
	GetProductByModelNumber(ctx context.Context, modelNumber string) (*model.Product, error)
	GetProductByUPC(ctx context.Context, upc string) (*model.Product, error)
	GetProductByName(ctx context.Context, canonicalName string) (*model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	CreateProductAlias(ctx context.Context, a *model.ProductAlias) error

	// Source documents
	CreateDocument(ctx context.Context, d *model.SourceDocument) error
	GetDocument(ctx context.Context, id string) (*model.SourceDocument, error)
	UpdateDocument(ctx context.Context, d *model.SourceDocument) error
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.SourceDocument, error)

	// Ingestion jobs
	CreateJob(ctx context.Context, j *model.IngestionJob) error
	GetJob(ctx context.Context, id string) (*model.IngestionJob, error)
	UpdateJob(ctx context.Context, j *model.IngestionJob) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.IngestionJob, error)

	// Offers
	CreateOffer(ctx context.Context, o *model.Offer) error
	GetOfferByMessageRef(ctx context.Context, ref string) (*model.Offer, error)
	ListDocumentOffers(ctx context.Context, documentID string) ([]model.Offer, error)
	DeleteDocumentOffers(ctx context.Context, documentID string) (int, error)

	// Price history
	GetOpenPriceSpan(ctx context.Context, productID, vendorID string) (*model.PriceHistory, error)
	GetPriceSpanAt(ctx context.Context, productID, vendorID string, validFrom time.Time) (*model.PriceHistory, error)
	CreatePriceSpan(ctx context.Context, span *model.PriceHistory) error
	UpdatePriceSpan(ctx context.Context, span *model.PriceHistory) error
	ListPriceHistory(ctx context.Context, productID, vendorID string) ([]model.PriceHistory, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
