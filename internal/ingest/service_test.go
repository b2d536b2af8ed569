package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricedesk/internal/model"
	"github.com/sells-group/pricedesk/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, "USD"), st
}

func rawOffer(vendor, product string, price int64, capturedAt time.Time) model.RawOffer {
	return model.RawOffer{
		VendorName:  vendor,
		ProductName: product,
		Price:       decimal.NewFromInt(price),
		Currency:    "USD",
		CapturedAt:  capturedAt,
	}
}

var (
	t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
	t2 = t0.Add(48 * time.Hour)
)

func TestIngest_CreatesVendorAndProduct(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	offers, err := svc.Ingest(ctx, []model.RawOffer{rawOffer("Apex", "Widget Pro", 100, t0)}, Options{})
	require.NoError(t, err)
	require.Len(t, offers, 1)

	vendor, err := st.GetVendorByName(ctx, "Apex")
	require.NoError(t, err)
	require.NotNil(t, vendor)

	product, err := st.GetProductByName(ctx, "Widget Pro")
	require.NoError(t, err)
	require.NotNil(t, product)
	assert.Equal(t, vendor.ID, product.DefaultVendorID)

	assert.Equal(t, product.ID, offers[0].ProductID)
	assert.Equal(t, vendor.ID, offers[0].VendorID)
	assert.True(t, offers[0].CapturedAt.Equal(t0))
}

func TestIngest_VendorNameRequired(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Ingest(context.Background(), []model.RawOffer{rawOffer("", "Widget", 100, t0)}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vendor name is required")
}

func TestIngest_FallbackVendorName(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []model.RawOffer{rawOffer("", "Widget", 100, t0)}, Options{VendorName: "Fallback Vendor"})
	require.NoError(t, err)

	vendor, err := st.GetVendorByName(ctx, "Fallback Vendor")
	require.NoError(t, err)
	assert.NotNil(t, vendor)
}

func TestIngest_ProductResolutionOrder(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seeded := &model.Product{
		CanonicalName: "Widget Pro 9000",
		ModelNumber:   "WP-9000",
		UPC:           "012345678905",
		Spec:          map[string]any{},
	}
	require.NoError(t, st.CreateProduct(ctx, seeded))

	// model number wins even with a different name
	byModel := rawOffer("Apex", "listed as something else", 100, t0)
	byModel.SKU = "WP-9000"
	offers, err := svc.Ingest(ctx, []model.RawOffer{byModel}, Options{})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, offers[0].ProductID)

	// then upc
	byUPC := rawOffer("Apex", "another listing", 100, t1)
	byUPC.UPC = "012345678905"
	offers, err = svc.Ingest(ctx, []model.RawOffer{byUPC}, Options{})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, offers[0].ProductID)

	// then canonical name
	offers, err = svc.Ingest(ctx, []model.RawOffer{rawOffer("Apex", "Widget Pro 9000", 100, t2)}, Options{})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, offers[0].ProductID)

	// unknown everything creates a new product
	offers, err = svc.Ingest(ctx, []model.RawOffer{rawOffer("Apex", "Brand New Thing", 100, t2)}, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, seeded.ID, offers[0].ProductID)
}

func TestIngest_NoOpStability(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []model.RawOffer{
		rawOffer("Apex", "Widget", 100, t0),
		rawOffer("Apex", "Widget", 100, t1),
	}, Options{})
	require.NoError(t, err)

	offers, err := svc.Ingest(ctx, []model.RawOffer{rawOffer("Apex", "Widget", 100, t2)}, Options{})
	require.NoError(t, err)

	spans, err := st.ListPriceHistory(ctx, offers[0].ProductID, offers[0].VendorID)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.True(t, spans[0].Open())
	assert.True(t, spans[0].ValidFrom.Equal(t0))
}

func TestIngest_SpanClosing(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	offers, err := svc.Ingest(ctx, []model.RawOffer{
		rawOffer("Apex", "Widget", 100, t0),
		rawOffer("Apex", "Widget", 110, t1),
		rawOffer("Apex", "Widget", 120, t2),
	}, Options{})
	require.NoError(t, err)
	require.Len(t, offers, 3)

	spans, err := st.ListPriceHistory(ctx, offers[0].ProductID, offers[0].VendorID)
	require.NoError(t, err)
	require.Len(t, spans, 3)

	assert.True(t, spans[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, spans[0].ValidFrom.Equal(t0))
	require.NotNil(t, spans[0].ValidTo)
	assert.True(t, spans[0].ValidTo.Equal(t1))

	assert.True(t, spans[1].Price.Equal(decimal.NewFromInt(110)))
	assert.True(t, spans[1].ValidFrom.Equal(t1))
	require.NotNil(t, spans[1].ValidTo)
	assert.True(t, spans[1].ValidTo.Equal(t2))

	assert.True(t, spans[2].Price.Equal(decimal.NewFromInt(120)))
	assert.True(t, spans[2].ValidFrom.Equal(t2))
	assert.Nil(t, spans[2].ValidTo)
}

func TestIngest_OutOfOrderInsertion(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	offers, err := svc.Ingest(ctx, []model.RawOffer{
		rawOffer("Apex", "Widget", 110, t1),
		rawOffer("Apex", "Widget", 100, t0),
	}, Options{})
	require.NoError(t, err)

	spans, err := st.ListPriceHistory(ctx, offers[0].ProductID, offers[0].VendorID)
	require.NoError(t, err)
	require.Len(t, spans, 2)

	// backfilled span is closed against the later one
	assert.True(t, spans[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, spans[0].ValidFrom.Equal(t0))
	require.NotNil(t, spans[0].ValidTo)
	assert.True(t, spans[0].ValidTo.Equal(t1))

	assert.True(t, spans[1].Price.Equal(decimal.NewFromInt(110)))
	assert.Nil(t, spans[1].ValidTo)
}

func TestIngest_UpdateInPlaceAtExistingValidFrom(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []model.RawOffer{rawOffer("Apex", "Widget", 100, t0)}, Options{})
	require.NoError(t, err)

	offers, err := svc.Ingest(ctx, []model.RawOffer{rawOffer("Apex", "Widget", 150, t0)}, Options{})
	require.NoError(t, err)

	spans, err := st.ListPriceHistory(ctx, offers[0].ProductID, offers[0].VendorID)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.True(t, spans[0].Price.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, offers[0].ID, spans[0].SourceOfferID)
	assert.Nil(t, spans[0].ValidTo)
}

func TestIngest_OversizedQuantityDropped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	huge := int64(1_000_000_000_000)
	offer := rawOffer("Apex", "Widget", 100, t0)
	offer.Quantity = &huge

	offers, err := svc.Ingest(ctx, []model.RawOffer{offer}, Options{})
	require.NoError(t, err)
	require.Len(t, offers, 1)

	assert.Nil(t, offers[0].Quantity)
	assert.Equal(t, float64(huge), asFloat(t, offers[0].RawPayload["dropped_quantity"]))
}

func asFloat(t *testing.T, v any) float64 {
	t.Helper()
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}

func TestIngest_ReasonableQuantityKept(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	qty := int64(25)
	offer := rawOffer("Apex", "Widget", 100, t0)
	offer.Quantity = &qty

	offers, err := svc.Ingest(ctx, []model.RawOffer{offer}, Options{})
	require.NoError(t, err)
	require.NotNil(t, offers[0].Quantity)
	assert.Equal(t, int64(25), *offers[0].Quantity)
}

func TestIngest_MessageRefDedup(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	offer := rawOffer("Apex", "Widget", 100, t0)
	offer.RawPayload = map[string]any{"source_message_id": "msg-42"}

	first, err := svc.Ingest(ctx, []model.RawOffer{offer}, Options{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.Ingest(ctx, []model.RawOffer{offer}, Options{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	spans, err := st.ListPriceHistory(ctx, first[0].ProductID, first[0].VendorID)
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

func TestIngest_IdempotentReprocessing(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	doc := &model.SourceDocument{FileName: "list.csv", FileType: "spreadsheet", StoragePath: "/list.csv"}
	require.NoError(t, st.CreateDocument(ctx, doc))

	batch := []model.RawOffer{
		rawOffer("Apex", "Widget", 100, t0),
		rawOffer("Apex", "Widget", 110, t1),
	}

	first, err := svc.Ingest(ctx, batch, Options{Document: doc})
	require.NoError(t, err)
	require.Len(t, first, 2)

	// clear and re-ingest identical output
	_, err = st.DeleteDocumentOffers(ctx, doc.ID)
	require.NoError(t, err)

	second, err := svc.Ingest(ctx, batch, Options{Document: doc})
	require.NoError(t, err)
	require.Len(t, second, 2)

	spans, err := st.ListPriceHistory(ctx, second[0].ProductID, second[0].VendorID)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.True(t, spans[0].ValidFrom.Equal(t0))
	require.NotNil(t, spans[0].ValidTo)
	assert.True(t, spans[0].ValidTo.Equal(t1))
	assert.True(t, spans[1].ValidFrom.Equal(t1))
	assert.Nil(t, spans[1].ValidTo)

	docOffers, err := st.ListDocumentOffers(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, docOffers, 2)
}

func TestIngest_VendorCacheCaseInsensitive(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []model.RawOffer{
		rawOffer("Apex", "Widget A", 100, t0),
		rawOffer("apex", "Widget B", 100, t0),
	}, Options{})
	require.NoError(t, err)

	// cache folds case within a call, so only one vendor row exists
	vendor, err := st.GetVendorByName(ctx, "Apex")
	require.NoError(t, err)
	require.NotNil(t, vendor)

	lower, err := st.GetVendorByName(ctx, "apex")
	require.NoError(t, err)
	assert.Nil(t, lower)
}
