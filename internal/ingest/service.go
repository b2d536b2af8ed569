package ingest

import (
	"context"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/pricedesk/internal/model"
	"github.com/sells-group/pricedesk/internal/store"
)

// Service persists raw offers into the relational model: vendor and product
// identity resolution, offer snapshots, and price-history spans.
type Service struct {
	store           store.Store
	defaultCurrency string
	folder          cases.Caser
}

// New creates an offer ingestion service.
func New(st store.Store, defaultCurrency string) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Service{
		store:           st,
		defaultCurrency: defaultCurrency,
		folder:          cases.Fold(),
	}
}

// Options carries call-level context for Ingest.
type Options struct {
	// VendorName is the fallback vendor for offers without their own.
	VendorName string
	// Document, when set, links persisted offers back to their source.
	Document *model.SourceDocument
}

// Ingest persists the given raw offers and maintains price history.
// Offers carrying a message back-reference that already has a persisted
// Offer are returned as-is without duplicating.
//
// The Offer insert and the price-history update are applied sequentially,
// not in one transaction: a crash between the two loses only the span
// update, which the next observation for the same key repairs.
func (s *Service) Ingest(ctx context.Context, offers []model.RawOffer, opts Options) ([]model.Offer, error) {
	persisted := make([]model.Offer, 0, len(offers))
	vendorCache := make(map[string]*model.Vendor)

	for _, payload := range offers {
		vendorName := payload.VendorName
		if vendorName == "" {
			vendorName = opts.VendorName
		}
		vendor, err := s.resolveVendor(ctx, vendorName, vendorCache)
		if err != nil {
			return persisted, err
		}

		product, err := s.resolveProduct(ctx, payload, vendor)
		if err != nil {
			return persisted, err
		}

		if ref := payload.SourceMessageRef(); ref != "" {
			existing, err := s.store.GetOfferByMessageRef(ctx, ref)
			if err != nil {
				return persisted, err
			}
			if existing != nil {
				zap.L().Debug("offer already ingested for message",
					zap.String("message_ref", ref),
					zap.String("offer_id", existing.ID))
				persisted = append(persisted, *existing)
				continue
			}
		}

		offer := s.buildOffer(payload, vendor, product, opts.Document)
		if err := s.store.CreateOffer(ctx, offer); err != nil {
			return persisted, err
		}
		if err := s.recordPriceHistory(ctx, offer); err != nil {
			return persisted, err
		}
		persisted = append(persisted, *offer)
	}
	return persisted, nil
}

func (s *Service) resolveVendor(ctx context.Context, name string, cache map[string]*model.Vendor) (*model.Vendor, error) {
	if strings.TrimSpace(name) == "" {
		return nil, eris.New("ingest: vendor name is required for offer ingestion")
	}

	key := s.folder.String(strings.TrimSpace(name))
	if vendor, ok := cache[key]; ok {
		return vendor, nil
	}

	vendor, err := s.store.GetVendorByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		vendor = &model.Vendor{Name: name}
		if err := s.store.CreateVendor(ctx, vendor); err != nil {
			return nil, err
		}
	}
	cache[key] = vendor
	return vendor, nil
}

func (s *Service) resolveProduct(ctx context.Context, payload model.RawOffer, vendor *model.Vendor) (*model.Product, error) {
	modelNumber := payload.ModelNumber
	if modelNumber == "" {
		modelNumber = payload.SKU
	}

	if modelNumber != "" {
		product, err := s.store.GetProductByModelNumber(ctx, modelNumber)
		if err != nil {
			return nil, err
		}
		if product != nil {
			return product, nil
		}
	}
	if payload.UPC != "" {
		product, err := s.store.GetProductByUPC(ctx, payload.UPC)
		if err != nil {
			return nil, err
		}
		if product != nil {
			return product, nil
		}
	}
	product, err := s.store.GetProductByName(ctx, payload.ProductName)
	if err != nil {
		return nil, err
	}
	if product != nil {
		return product, nil
	}

	product = &model.Product{
		CanonicalName:   payload.ProductName,
		ModelNumber:     modelNumber,
		UPC:             payload.UPC,
		Spec:            map[string]any{},
		DefaultVendorID: vendor.ID,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, err
	}

	if payload.ProductName != "" {
		alias := &model.ProductAlias{
			ProductID:      product.ID,
			AliasText:      payload.ProductName,
			SourceVendorID: vendor.ID,
		}
		if err := s.store.CreateProductAlias(ctx, alias); err != nil {
			return nil, err
		}
	}
	return product, nil
}

func (s *Service) buildOffer(payload model.RawOffer, vendor *model.Vendor, product *model.Product, doc *model.SourceDocument) *model.Offer {
	currency := payload.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	rawPayload := payload.RawPayload
	quantity := payload.Quantity
	if quantity != nil && (*quantity > math.MaxInt32 || *quantity < math.MinInt32) {
		// out-of-range counts are almost always parser artifacts; keep
		// the evidence but not the value
		copied := make(map[string]any, len(rawPayload)+1)
		for k, v := range rawPayload {
			copied[k] = v
		}
		copied["dropped_quantity"] = *quantity
		rawPayload = copied
		quantity = nil
	}

	offer := &model.Offer{
		ProductID:       product.ID,
		VendorID:        vendor.ID,
		SourceMessageID: payload.SourceMessageRef(),
		Price:           payload.Price,
		Currency:        currency,
		Quantity:        quantity,
		Condition:       payload.Condition,
		Location:        payload.Warehouse,
		Notes:           payload.Notes,
		CapturedAt:      model.NormalizeUTC(payload.CapturedAt),
		RawPayload:      rawPayload,
	}
	if doc != nil {
		offer.SourceDocumentID = doc.ID
	}
	return offer
}

// recordPriceHistory maintains the constant-price spans for the offer's
// (product, vendor) key. Correct under arbitrary insertion order: spans
// never overlap and at most one stays open.
func (s *Service) recordPriceHistory(ctx context.Context, offer *model.Offer) error {
	open, err := s.store.GetOpenPriceSpan(ctx, offer.ProductID, offer.VendorID)
	if err != nil {
		return err
	}

	captured := model.NormalizeUTC(offer.CapturedAt)

	if open != nil {
		if open.Price.Equal(offer.Price) && open.Currency == offer.Currency && !captured.Before(open.ValidFrom) {
			return nil
		}
		// close the open span unless this observation lands exactly on
		// its start, in which case the row is updated in place below
		if captured.After(open.ValidFrom) {
			open.ValidTo = &captured
			if err := s.store.UpdatePriceSpan(ctx, open); err != nil {
				return err
			}
		}
	}

	existing, err := s.store.GetPriceSpanAt(ctx, offer.ProductID, offer.VendorID, captured)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.Price = offer.Price
		existing.Currency = offer.Currency
		existing.SourceOfferID = offer.ID
		return s.store.UpdatePriceSpan(ctx, existing)
	}

	span := &model.PriceHistory{
		ProductID:     offer.ProductID,
		VendorID:      offer.VendorID,
		Price:         offer.Price,
		Currency:      offer.Currency,
		ValidFrom:     captured,
		SourceOfferID: offer.ID,
	}
	if open != nil && captured.Before(open.ValidFrom) {
		// backfilled observation: close it against the later span
		validTo := model.NormalizeUTC(open.ValidFrom)
		span.ValidTo = &validTo
	}
	return s.store.CreatePriceSpan(ctx, span)
}
