package llm

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricedesk/internal/config"
	"github.com/sells-group/pricedesk/pkg/anthropic"
)

type fakeClient struct {
	response string
	err      error
	lastReq  anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.response}},
	}, nil
}

func newTestExtractor(response string) (*Extractor, *fakeClient) {
	client := &fakeClient{response: response}
	e := NewWithClient(client, config.AnthropicConfig{
		Model:             "claude-sonnet-4-5-20250929",
		RequestsPerMinute: 600,
	})
	return e, client
}

func TestExtractOffers(t *testing.T) {
	e, client := newTestExtractor(`{
		"offers": [
			{"product_name": "iPhone 15 Pro 256GB", "price": 899.50, "currency": "usd",
			 "quantity": 10, "vendor_name": "Apex", "location": "Dubai", "raw_lines": [3]}
		],
		"rejected": [{"raw_lines": [1], "reason": "greeting"}],
		"warnings": ["one ambiguous row"]
	}`)

	offers, warnings, err := e.ExtractOffers(context.Background(),
		[]string{"hi there", "", "iPhone 15 Pro 256GB 10pcs $899.50 Dubai"},
		ExtractionContext{VendorHint: "Apex", CurrencyHint: "USD", DocumentKind: "whatsapp_transcript"})
	require.NoError(t, err)

	require.Len(t, offers, 1)
	o := offers[0]
	assert.Equal(t, "iPhone 15 Pro 256GB", o.ProductName)
	assert.True(t, o.Price.Equal(decimal.RequireFromString("899.5")))
	assert.Equal(t, "USD", o.Currency)
	require.NotNil(t, o.Quantity)
	assert.Equal(t, int64(10), *o.Quantity)
	assert.Equal(t, "Apex", o.VendorName)
	assert.Equal(t, "Dubai", o.Warehouse)
	assert.Equal(t, "llm_extractor", o.RawPayload["source"])

	assert.Contains(t, warnings, "one ambiguous row")
	assert.Contains(t, warnings, "rejected [1]: greeting")

	// numbered lines reach the prompt, blank lines do not
	assert.Contains(t, client.lastReq.Messages[0].Content, "0001 | hi there")
	assert.Contains(t, client.lastReq.Messages[0].Content, "0003 | iPhone 15 Pro 256GB 10pcs $899.50 Dubai")
}

func TestExtractOffers_HintFallbacks(t *testing.T) {
	e, _ := newTestExtractor(`{"offers": [{"product_name": "Widget", "price": "1,299.00"}]}`)

	offers, _, err := e.ExtractOffers(context.Background(), []string{"Widget 1299"},
		ExtractionContext{VendorHint: "Apex", CurrencyHint: "aed"})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "Apex", offers[0].VendorName)
	assert.Equal(t, "AED", offers[0].Currency)
	assert.True(t, offers[0].Price.Equal(decimal.RequireFromString("1299")))
}

func TestExtractOffers_CodeFence(t *testing.T) {
	e, _ := newTestExtractor("```json\n{\"offers\": [{\"product_name\": \"Widget\", \"price\": 50}]}\n```")

	offers, _, err := e.ExtractOffers(context.Background(), []string{"Widget $50"}, ExtractionContext{})
	require.NoError(t, err)
	assert.Len(t, offers, 1)
}

func TestExtractOffers_MalformedEntrySkipped(t *testing.T) {
	e, _ := newTestExtractor(`{"offers": [
		{"product_name": "", "price": 10},
		{"product_name": "No Price"},
		{"product_name": "Good", "price": 10}
	]}`)

	offers, warnings, err := e.ExtractOffers(context.Background(), []string{"data"}, ExtractionContext{})
	require.NoError(t, err)
	assert.Len(t, offers, 1)
	assert.Len(t, warnings, 2)
}

func TestExtractOffers_InvalidJSON(t *testing.T) {
	e, _ := newTestExtractor("this is not json")

	_, _, err := e.ExtractOffers(context.Background(), []string{"data"}, ExtractionContext{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnavailable))
}

func TestExtractOffers_RequestError(t *testing.T) {
	client := &fakeClient{err: eris.New("api down")}
	e := NewWithClient(client, config.AnthropicConfig{Model: "m", RequestsPerMinute: 600})

	_, _, err := e.ExtractOffers(context.Background(), []string{"data"}, ExtractionContext{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnavailable))
}

func TestExtractOffers_EmptyInput(t *testing.T) {
	e, _ := newTestExtractor(`{}`)

	offers, warnings, err := e.ExtractOffers(context.Background(), []string{"", "  "}, ExtractionContext{})
	require.NoError(t, err)
	assert.Empty(t, offers)
	assert.Contains(t, warnings, "no recognizable content provided to LLM extractor")
}

func TestExtractOffers_Truncation(t *testing.T) {
	e, _ := newTestExtractor(`{"offers": []}`)

	lines := []string{"first line", "second line", "third line"}
	_, warnings, err := e.ExtractOffers(context.Background(), lines,
		ExtractionContext{MaxLines: 2, MaxChars: defaultMaxChars})
	require.NoError(t, err)
	assert.Contains(t, warnings, "input truncated before reaching line/character limit for LLM prompt")
}

func TestNew_NoKey(t *testing.T) {
	_, err := New(config.AnthropicConfig{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnavailable))
}
