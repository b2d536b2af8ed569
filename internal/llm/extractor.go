package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pricedesk/internal/config"
	"github.com/sells-group/pricedesk/internal/model"
	"github.com/sells-group/pricedesk/pkg/anthropic"
)

// ErrUnavailable signals that LLM extraction could not be attempted or
// completed. Callers treat it as "no LLM result", not a hard failure.
var ErrUnavailable = eris.New("llm: extractor unavailable")

const (
	defaultMaxLines = 240
	defaultMaxChars = 12000
)

// ExtractionContext carries hints that improve extraction quality.
type ExtractionContext struct {
	VendorHint        string
	CurrencyHint      string
	DocumentName      string
	DocumentKind      string
	ExtraInstructions string
	MaxLines          int
	MaxChars          int
}

// Extractor prompts an LLM to normalize messy vendor data into raw offers.
type Extractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// New creates an Extractor from configuration. Returns ErrUnavailable when
// no API key is configured.
func New(cfg config.AnthropicConfig) (*Extractor, error) {
	if cfg.Key == "" {
		return nil, eris.Wrap(ErrUnavailable, "anthropic key not configured")
	}
	return NewWithClient(anthropic.NewClient(cfg.Key), cfg), nil
}

// NewWithClient creates an Extractor with an injected client.
func NewWithClient(client anthropic.Client, cfg config.AnthropicConfig) *Extractor {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Extractor{
		client:    client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
	}
}

// ExtractOffers converts free-form lines into raw offers. The returned
// warnings describe rejected or malformed entries. Errors wrap
// ErrUnavailable when the LLM could not produce a usable response.
func (e *Extractor) ExtractOffers(ctx context.Context, lines []string, ec ExtractionContext) ([]model.RawOffer, []string, error) {
	formatted, truncated := prepareLines(lines, ec.MaxLines, ec.MaxChars)
	if len(formatted) == 0 {
		return nil, []string{"no recognizable content provided to LLM extractor"}, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, nil, eris.Wrap(err, "llm: rate limit wait")
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      []anthropic.SystemBlock{{Text: systemPrompt}},
		Messages:    []anthropic.Message{{Role: "user", Content: buildUserPrompt(formatted, ec, truncated)}},
		Temperature: floatPtr(0),
	})
	if err != nil {
		zap.L().Warn("llm extraction request failed", zap.Error(err))
		return nil, nil, eris.Wrapf(ErrUnavailable, "llm extraction failed: %v", err)
	}
	resp.Usage.LogCost(e.model, "extraction")

	offers, warnings, err := e.parseResponse(responseText(resp), ec)
	if err != nil {
		return nil, nil, err
	}
	if truncated {
		warnings = append(warnings, "input truncated before reaching line/character limit for LLM prompt")
	}
	return offers, warnings, nil
}

const systemPrompt = "You are a pricing normalization agent. Extract product offers from messy " +
	"vendor data and respond with strict JSON that matches the requested schema."

func buildUserPrompt(formatted []string, ec ExtractionContext, truncated bool) string {
	vendorHint := ec.VendorHint
	if vendorHint == "" {
		vendorHint = "UNKNOWN"
	}
	currencyHint := strings.ToUpper(ec.CurrencyHint)
	if currencyHint == "" {
		currencyHint = "USD"
	}
	documentLabel := ec.DocumentName
	if documentLabel == "" {
		documentLabel = "input"
	}
	documentKind := ec.DocumentKind
	if documentKind == "" {
		documentKind = "unstructured"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are processing data from a %s named %q.\n", documentKind, documentLabel)
	fmt.Fprintf(&b, "Vendor hint: %s\n", vendorHint)
	fmt.Fprintf(&b, "Currency hint: %s\n", currencyHint)
	if truncated {
		b.WriteString("Input truncated.\n")
	}
	b.WriteString("\n")
	b.WriteString("Return JSON with keys 'offers', 'rejected', and 'warnings'. " +
		"Each entry in 'offers' must contain: 'product_name' (string), 'price' (number), " +
		"'currency' (3-letter uppercase), 'quantity' (integer or null), 'vendor_name' (string), " +
		"'vendor_info' (string or null), 'location' (string or null), 'notes' (string or null), " +
		"and 'raw_lines' (array of integers referencing the numbered source lines). " +
		"Populate 'rejected' with non-offer rows you intentionally skipped, each including " +
		"'raw_lines' and 'reason'. Always output valid JSON with no commentary.\n")
	b.WriteString("Treat the vendor hint as the default vendor when none is specified per-item. " +
		"Do not make up prices. Ignore conversational chatter that does not include an explicit price. " +
		"If currency symbols are missing, fall back to the provided currency hint. " +
		"Count only real sellable items as offers.\n")
	if ec.ExtraInstructions != "" {
		b.WriteString(ec.ExtraInstructions)
		b.WriteString("\n")
	}
	b.WriteString("\nRaw data (each line is prefixed with its line number):\n```\n")
	b.WriteString(strings.Join(formatted, "\n"))
	b.WriteString("\n```\n")
	return b.String()
}

func prepareLines(lines []string, maxLines, maxChars int) ([]string, bool) {
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	var (
		prepared   []string
		truncated  bool
		totalChars int
	)
	for idx, raw := range lines {
		stripped := strings.TrimSpace(raw)
		if stripped == "" {
			continue
		}
		formatted := fmt.Sprintf("%04d | %s", idx+1, stripped)
		if len(prepared) >= maxLines || totalChars+len(formatted) > maxChars {
			truncated = true
			break
		}
		prepared = append(prepared, formatted)
		totalChars += len(formatted)
	}
	return prepared, truncated
}

func responseText(resp *anthropic.MessageResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

type offerPayload struct {
	ProductName string `json:"product_name"`
	Price       any    `json:"price"`
	Currency    string `json:"currency"`
	Quantity    any    `json:"quantity"`
	VendorName  string `json:"vendor_name"`
	VendorInfo  string `json:"vendor_info"`
	Location    string `json:"location"`
	Notes       string `json:"notes"`
	RawLines    []int  `json:"raw_lines"`
	RawText     string `json:"raw_text"`
}

type rejectedPayload struct {
	RawLines []int  `json:"raw_lines"`
	Reason   string `json:"reason"`
}

type extractionPayload struct {
	Offers   []offerPayload    `json:"offers"`
	Rejected []rejectedPayload `json:"rejected"`
	Warnings []any             `json:"warnings"`
}

func (e *Extractor) parseResponse(text string, ec ExtractionContext) ([]model.RawOffer, []string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, eris.Wrap(ErrUnavailable, "llm returned an empty response")
	}
	text = stripCodeFence(text)

	var payload extractionPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		zap.L().Warn("invalid JSON from llm", zap.String("response", text))
		return nil, nil, eris.Wrapf(ErrUnavailable, "llm returned invalid JSON: %v", err)
	}

	var warnings []string
	for _, w := range payload.Warnings {
		if s := stringify(w); s != "" {
			warnings = append(warnings, s)
		}
	}
	for _, rej := range payload.Rejected {
		if rej.Reason != "" {
			warnings = append(warnings, fmt.Sprintf("rejected %v: %s", rej.RawLines, rej.Reason))
		}
	}

	var offers []model.RawOffer
	for _, raw := range payload.Offers {
		offer, ok := e.toRawOffer(raw, ec)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("skipped malformed offer entry: %+v", raw))
			continue
		}
		offers = append(offers, offer)
	}
	return offers, warnings, nil
}

func (e *Extractor) toRawOffer(raw offerPayload, ec ExtractionContext) (model.RawOffer, bool) {
	productName := strings.TrimSpace(raw.ProductName)
	if productName == "" {
		return model.RawOffer{}, false
	}
	price, ok := toDecimal(raw.Price)
	if !ok {
		return model.RawOffer{}, false
	}

	currency := strings.TrimSpace(raw.Currency)
	if currency == "" {
		currency = ec.CurrencyHint
	}
	if currency == "" {
		currency = "USD"
	}
	currency = strings.ToUpper(currency)

	vendorName := strings.TrimSpace(raw.VendorName)
	if vendorName == "" {
		vendorName = ec.VendorHint
	}
	if vendorName == "" {
		vendorName = "Unknown Vendor"
	}

	payload := map[string]any{
		"source":        "llm_extractor",
		"model":         e.model,
		"document_kind": ec.DocumentKind,
		"document_name": ec.DocumentName,
	}
	if info := strings.TrimSpace(raw.VendorInfo); info != "" {
		payload["vendor_info"] = info
	}
	if len(raw.RawLines) > 0 {
		payload["raw_lines"] = raw.RawLines
	}
	if text := strings.TrimSpace(raw.RawText); text != "" {
		payload["raw_text"] = text
	}
	for key, value := range payload {
		if s, isStr := value.(string); isStr && s == "" {
			delete(payload, key)
		}
	}

	return model.RawOffer{
		VendorName:  vendorName,
		ProductName: productName,
		Price:       price,
		Currency:    currency,
		Quantity:    toInt64Ptr(raw.Quantity),
		Warehouse:   strings.TrimSpace(raw.Location),
		Notes:       strings.TrimSpace(raw.Notes),
		CapturedAt:  time.Now().UTC(),
		RawPayload:  payload,
	}, true
}

func stripCodeFence(text string) string {
	if strings.HasPrefix(text, "```") && strings.HasSuffix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSuffix(text, "\n")
	}
	return text
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case nil:
		return decimal.Decimal{}, false
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(v, ",", ""), "$", ""))
		if cleaned == "" || cleaned == "-" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

func toInt64Ptr(value any) *int64 {
	switch v := value.(type) {
	case float64:
		n := int64(v)
		return &n
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		if cleaned == "" {
			return nil
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return nil
		}
		n := d.IntPart()
		return &n
	default:
		return nil
	}
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	b, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(b)
}

func floatPtr(f float64) *float64 { return &f }
