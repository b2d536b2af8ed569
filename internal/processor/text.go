package processor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/pricedesk/internal/model"
)

const (
	maxInlineQuantityDigits = 4
	minIdentifierDigits     = 8
)

var (
	// group 1: currency prefix, group 2: amount after prefix,
	// group 3: bare amount, group 4: currency suffix
	priceRegex = regexp.MustCompile(
		`(?i)(\$|usd|cad|eur|aed|gbp|sgd|aud|inr)\s*(\d{2,7}(?:[.,]\d+)?)` +
			`|(\d{2,7}(?:[.,]\d+)?)\s*(\$|usd|cad|eur|aed|gbp|sgd|aud|inr)`)

	quantityRegex = regexp.MustCompile(
		`(?i)(\d{1,4})\s(?:pcs|pc|units|unit|qty|x|ct|pieces|piece|packs|pack)`)
)

var leadingTokens = map[string]bool{
	"wtb": true, "wts": true, "wtt": true,
	"selling": true, "sell": true, "buy": true, "buying": true,
	"available": true, "need": true, "do": true, "you": true, "have": true,
	"there": true, "is": true, "looking": true, "for": true, "price": true,
	"any": true, "take": true, "taking": true, "offers": true,
}

var trailingTokens = map[string]bool{
	"usd": true, "usd.": true, "each": true, "ea": true,
	"unit": true, "units": true, "firm": true, "obo": true, "net": true,
}

// parseOfferLine attempts to parse a single text line into a raw offer.
// A nil offer with an empty reason means the line carried no price signal;
// a non-empty reason explains why an apparent offer could not be parsed.
func parseOfferLine(line, vendorName, defaultCurrency string, capturedAt time.Time, rawPayload map[string]any) (*model.RawOffer, string) {
	if strings.TrimSpace(line) == "" {
		return nil, ""
	}

	loc := priceRegex.FindStringSubmatchIndex(line)
	if loc == nil {
		return nil, ""
	}
	groups := priceRegex.FindStringSubmatch(line)

	amount := groups[2]
	currencyToken := groups[1]
	if amount == "" {
		amount = groups[3]
		currencyToken = groups[4]
	}
	if amount == "" {
		return nil, ""
	}

	price, err := decimal.NewFromString(strings.NewReplacer(",", "", " ", "").Replace(amount))
	if err != nil {
		return nil, fmt.Sprintf("could not parse numeric price from '%s'", amount)
	}

	currency := normalizeCurrency(currencyToken)
	if currency == "" {
		currency = defaultCurrency
	}
	if currency == "" {
		currency = "USD"
	}

	// product text comes from around the price match
	before := strings.Trim(line[:loc[0]], " -:|\t")
	after := strings.Trim(line[loc[1]:], " -:|\t")
	productSource := before
	if productSource == "" {
		productSource = after
	}

	productName, inferredQuantity, identifiers := cleanProductName(productSource)
	if productName == "" {
		return nil, fmt.Sprintf("could not determine product name from '%s'", line)
	}

	quantity := inferredQuantity
	if quantity == nil {
		quantity = parseQuantity(line)
	}

	payload := map[string]any{"line": line}
	for k, v := range rawPayload {
		payload[k] = v
	}
	if len(identifiers) > 0 {
		if _, exists := payload["identifiers"]; !exists {
			payload["identifiers"] = identifiers
		}
	}

	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	return &model.RawOffer{
		VendorName:  vendorName,
		ProductName: productName,
		Price:       price,
		Currency:    currency,
		Quantity:    quantity,
		CapturedAt:  capturedAt,
		RawPayload:  payload,
	}, ""
}

func normalizeCurrency(token string) string {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return ""
	}
	if token == "$" {
		return "USD"
	}
	token = strings.ReplaceAll(token, "$", "")
	if token == "" {
		return "USD"
	}
	return token
}

// cleanProductName strips chatter tokens from around a product description
// and pulls out an inline quantity or long-digit-run identifiers.
func cleanProductName(raw string) (string, *int64, []string) {
	if raw == "" {
		return "", nil, nil
	}

	var (
		filtered    []string
		quantity    *int64
		identifiers []string
	)
	for _, token := range strings.Fields(raw) {
		stripped := strings.Trim(token, " ,-/")
		if stripped == "" {
			continue
		}
		lower := strings.ToLower(stripped)
		if leadingTokens[lower] && len(filtered) == 0 {
			continue
		}
		if quantity == nil && isDigits(stripped) && len(filtered) == 0 {
			if len(stripped) <= maxInlineQuantityDigits {
				q, _ := strconv.ParseInt(stripped, 10, 64)
				quantity = &q
				continue
			}
			if len(stripped) >= minIdentifierDigits {
				identifiers = append(identifiers, stripped)
				continue
			}
		}
		filtered = append(filtered, stripped)
	}

	for len(filtered) > 0 && leadingTokens[strings.ToLower(filtered[0])] {
		filtered = filtered[1:]
	}
	for len(filtered) > 0 && trailingTokens[strings.ToLower(filtered[len(filtered)-1])] {
		filtered = filtered[:len(filtered)-1]
	}

	product := strings.Trim(strings.Join(filtered, " "), " ,-/")
	if product == "" {
		return "", quantity, identifiers
	}
	return product, quantity, identifiers
}

func parseQuantity(line string) *int64 {
	groups := quantityRegex.FindStringSubmatch(line)
	if groups == nil {
		return nil
	}
	q, err := strconv.ParseInt(groups[1], 10, 64)
	if err != nil {
		return nil
	}
	return &q
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// extractOffersFromLines runs the line parser over a whole document.
func extractOffersFromLines(lines []string, vendorName, defaultCurrency string) ([]model.RawOffer, []string) {
	var (
		offers []model.RawOffer
		errs   []string
	)
	for i, line := range lines {
		idx := i + 1
		offer, reason := parseOfferLine(line, vendorName, defaultCurrency, time.Time{},
			map[string]any{"line_number": idx, "raw_lines": []int{idx}})
		if offer != nil {
			offers = append(offers, *offer)
		} else if reason != "" {
			errs = append(errs, fmt.Sprintf("line %d: %s", idx, reason))
		}
	}
	return offers, errs
}
