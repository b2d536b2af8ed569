package processor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOfferLine_PriceSuffix(t *testing.T) {
	offer, reason := parseOfferLine("wts 10 Samsung S24 Ultra 512gb 1100usd", "Apex", "USD", time.Time{}, nil)
	require.Empty(t, reason)
	require.NotNil(t, offer)

	assert.Equal(t, "Samsung S24 Ultra 512gb", offer.ProductName)
	assert.True(t, offer.Price.Equal(decimal.NewFromInt(1100)))
	assert.Equal(t, "USD", offer.Currency)
	require.NotNil(t, offer.Quantity)
	assert.Equal(t, int64(10), *offer.Quantity)
	assert.Equal(t, "Apex", offer.VendorName)
}

func TestParseOfferLine_DollarPrefix(t *testing.T) {
	offer, reason := parseOfferLine("iPhone 15 Pro 256GB - $899.50", "Apex", "AED", time.Time{}, nil)
	require.Empty(t, reason)
	require.NotNil(t, offer)

	assert.Equal(t, "iPhone 15 Pro 256GB", offer.ProductName)
	assert.True(t, offer.Price.Equal(decimal.RequireFromString("899.5")))
	assert.Equal(t, "USD", offer.Currency)
	assert.Nil(t, offer.Quantity)
}

func TestParseOfferLine_CurrencyPrefixToken(t *testing.T) {
	offer, reason := parseOfferLine("AED 1500 iPhone 14", "Apex", "USD", time.Time{}, nil)
	require.Empty(t, reason)
	require.NotNil(t, offer)

	assert.Equal(t, "iPhone 14", offer.ProductName)
	assert.Equal(t, "AED", offer.Currency)
}

func TestParseOfferLine_DefaultCurrency(t *testing.T) {
	offer, reason := parseOfferLine("Pixel 9 Pro 700$", "Apex", "", time.Time{}, nil)
	require.Empty(t, reason)
	require.NotNil(t, offer)
	assert.Equal(t, "USD", offer.Currency)
}

func TestParseOfferLine_QuantityUnit(t *testing.T) {
	offer, reason := parseOfferLine("MacBook Air M3 $950 5 pcs", "Apex", "USD", time.Time{}, nil)
	require.Empty(t, reason)
	require.NotNil(t, offer)
	require.NotNil(t, offer.Quantity)
	assert.Equal(t, int64(5), *offer.Quantity)
}

func TestParseOfferLine_Identifiers(t *testing.T) {
	offer, reason := parseOfferLine("123456789012 Pixel 9 Pro $700", "Apex", "USD", time.Time{}, nil)
	require.Empty(t, reason)
	require.NotNil(t, offer)

	assert.Equal(t, "Pixel 9 Pro", offer.ProductName)
	assert.Equal(t, []string{"123456789012"}, offer.RawPayload["identifiers"])
}

func TestParseOfferLine_TrailingTokensStripped(t *testing.T) {
	offer, reason := parseOfferLine("selling AirPods Pro 2 obo $99", "Apex", "USD", time.Time{}, nil)
	require.Empty(t, reason)
	require.NotNil(t, offer)
	assert.Equal(t, "AirPods Pro 2", offer.ProductName)
}

func TestParseOfferLine_NoPriceSignal(t *testing.T) {
	offer, reason := parseOfferLine("good morning, any stock today?", "Apex", "USD", time.Time{}, nil)
	assert.Nil(t, offer)
	assert.Empty(t, reason)
}

func TestParseOfferLine_NoProduct(t *testing.T) {
	offer, reason := parseOfferLine("$500", "Apex", "USD", time.Time{}, nil)
	assert.Nil(t, offer)
	assert.Contains(t, reason, "could not determine product name")
}

func TestParseOfferLine_BlankLine(t *testing.T) {
	offer, reason := parseOfferLine("   ", "Apex", "USD", time.Time{}, nil)
	assert.Nil(t, offer)
	assert.Empty(t, reason)
}

func TestParseOfferLine_CapturedAtAndPayload(t *testing.T) {
	captured := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	offer, reason := parseOfferLine("iPad Air $450", "Apex", "USD", captured,
		map[string]any{"speaker": "Apex"})
	require.Empty(t, reason)
	require.NotNil(t, offer)

	assert.True(t, offer.CapturedAt.Equal(captured))
	assert.Equal(t, "iPad Air $450", offer.RawPayload["line"])
	assert.Equal(t, "Apex", offer.RawPayload["speaker"])
}

func TestExtractOffersFromLines(t *testing.T) {
	lines := []string{
		"Vendor price list",
		"iPhone 15 Pro $899",
		"$1000",
		"Galaxy S24 750usd",
	}
	offers, errs := extractOffersFromLines(lines, "Apex", "USD")

	require.Len(t, offers, 2)
	assert.Equal(t, "iPhone 15 Pro", offers[0].ProductName)
	assert.Equal(t, "Galaxy S24", offers[1].ProductName)
	assert.Equal(t, 2, offers[0].RawPayload["line_number"])

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "line 3:")
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "USD", normalizeCurrency("$"))
	assert.Equal(t, "EUR", normalizeCurrency("eur"))
	assert.Equal(t, "", normalizeCurrency(""))
}
