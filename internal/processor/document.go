package processor

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/pricedesk/internal/llm"
	"github.com/sells-group/pricedesk/internal/model"
)

// DocumentTextProcessor parses text dumps of unstructured documents (plain
// text, extracted PDF text). Heuristics run first; the LLM extractor is a
// fallback when they find nothing, or the primary path when preferred.
type DocumentTextProcessor struct {
	extractor OfferExtractor
}

func NewDocumentTextProcessor(extractor OfferExtractor) *DocumentTextProcessor {
	return &DocumentTextProcessor{extractor: extractor}
}

func (p *DocumentTextProcessor) Name() string { return "document_text" }

func (p *DocumentTextProcessor) Suffixes() []string { return []string{".txt", ".text"} }

func (p *DocumentTextProcessor) Process(ctx context.Context, path string, pctx Context) (*Result, error) {
	text, err := readTextFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(text, "\n")

	vendorName := pctx.VendorName
	if vendorName == "" {
		vendorName = vendorFromPath(path)
	}
	currency := pctx.Currency
	if currency == "" {
		currency = "USD"
	}

	offers, errs := extractOffersFromLines(lines, vendorName, currency)
	attachMessageRef(offers, pctx.SourceMessageID)

	useLLM := pctx.PreferLLM || len(offers) == 0
	if useLLM && !pctx.DisableLLM && p.extractor != nil {
		llmOffers, warnings, llmErr := p.extractor.ExtractOffers(ctx, lines, llm.ExtractionContext{
			VendorHint:        vendorName,
			CurrencyHint:      currency,
			DocumentName:      filepath.Base(path),
			DocumentKind:      "document",
			ExtraInstructions: pctx.LLMInstructions,
		})
		switch {
		case llmErr != nil:
			zap.L().Debug("llm extraction unavailable", zap.Error(llmErr))
			errs = append(errs, llmErr.Error())
		case len(llmOffers) > 0:
			attachMessageRef(llmOffers, pctx.SourceMessageID)
			return &Result{Offers: llmOffers, Errors: append(errsWithoutOffers(offers, errs), warnings...)}, nil
		default:
			errs = append(errs, warnings...)
		}
	}

	if len(offers) == 0 && len(errs) == 0 {
		errs = append(errs, "no pricing information recognized from document")
	}
	return &Result{Offers: offers, Errors: errs}, nil
}

// errsWithoutOffers keeps heuristic parse errors only when the heuristics
// produced nothing; once the LLM result replaces them they are noise.
func errsWithoutOffers(offers []model.RawOffer, errs []string) []string {
	if len(offers) == 0 {
		return errs
	}
	return nil
}
