package docingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricedesk/internal/ingest"
	"github.com/sells-group/pricedesk/internal/model"
	"github.com/sells-group/pricedesk/internal/processor"
	"github.com/sells-group/pricedesk/internal/store"
)

// Orchestrator runs one end-to-end ingestion attempt for a stored document:
// processor selection, context hints, offer persistence, and final document
// status.
type Orchestrator struct {
	store           store.Store
	registry        *processor.Registry
	offers          *ingest.Service
	defaultCurrency string
}

func New(st store.Store, registry *processor.Registry, offers *ingest.Service, defaultCurrency string) *Orchestrator {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Orchestrator{
		store:           st,
		registry:        registry,
		offers:          offers,
		defaultCurrency: defaultCurrency,
	}
}

// Params describes a single ingestion attempt.
type Params struct {
	Document      *model.SourceDocument
	ProcessorName string
	VendorName    string
	FilePath      string
	// PreferLLM forces LLM-first extraction when true; nil leaves the
	// processor-specific default in place.
	PreferLLM *bool
	// ClearExisting deletes the document's prior offers (and their price
	// spans) first so reprocessing is idempotent.
	ClearExisting bool
	// Overrides are caller-supplied context hints; non-zero fields win
	// over the built-in processor hints.
	Overrides processor.Context
}

// Result reports the outcome of a completed (non-failed) attempt.
type Result struct {
	Status      model.DocumentStatus
	Message     string
	DocumentID  string
	OffersCount int
	Warnings    []string
}

// Ingest processes a stored document and persists extracted offers.
// Configuration errors (unknown processor, missing file) and fatal
// processing errors are returned to the caller; the document is marked
// failed for the latter. Extraction warnings do not fail the attempt.
func (o *Orchestrator) Ingest(ctx context.Context, p Params) (*Result, error) {
	proc, err := o.registry.Get(p.ProcessorName)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(p.FilePath); statErr != nil {
		return nil, eris.Wrapf(statErr, "docingest: stored document file is missing")
	}

	doc := p.Document
	if p.ClearExisting {
		deleted, err := o.store.DeleteDocumentOffers(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if deleted > 0 {
			zap.L().Info("cleared existing offers before reprocessing",
				zap.String("document_id", doc.ID),
				zap.Int("deleted", deleted))
		}
	}

	started := time.Now().UTC()
	doc.Status = model.DocumentStatusProcessing
	doc.IngestStartedAt = &started
	doc.IngestCompletedAt = nil
	if err := o.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}

	pctx := o.buildContext(p.ProcessorName, p.VendorName, p.PreferLLM, doc, p.Overrides)

	procResult, err := proc.Process(ctx, p.FilePath, pctx)
	if err != nil {
		return nil, o.markFailed(ctx, doc, err)
	}

	persisted, err := o.offers.Ingest(ctx, procResult.Offers, ingest.Options{
		VendorName: p.VendorName,
		Document:   doc,
	})
	if err != nil {
		return nil, o.markFailed(ctx, doc, err)
	}

	if len(persisted) > 0 && doc.VendorID == "" {
		doc.VendorID = persisted[0].VendorID
	}

	if len(procResult.Errors) > 0 {
		zap.L().Warn("ingestion warnings",
			zap.String("document_id", doc.ID),
			zap.Strings("warnings", procResult.Errors))
		doc.Extra.IngestionErrors = procResult.Errors
		doc.Status = model.DocumentStatusWithWarnings
	} else {
		doc.Extra.IngestionErrors = nil
		doc.Status = model.DocumentStatusProcessed
	}

	completed := time.Now().UTC()
	doc.IngestCompletedAt = &completed
	if err := o.store.UpdateDocument(ctx, doc); err != nil {
		return nil, o.markFailed(ctx, doc, err)
	}

	return &Result{
		Status:      doc.Status,
		Message:     fmt.Sprintf("Processed %d offers", len(persisted)),
		DocumentID:  doc.ID,
		OffersCount: len(persisted),
		Warnings:    procResult.Errors,
	}, nil
}

// markFailed stamps the document failed with the error recorded in its
// metadata. A failed status write is logged, not escalated.
func (o *Orchestrator) markFailed(ctx context.Context, doc *model.SourceDocument, cause error) error {
	zap.L().Error("document ingestion failed",
		zap.String("document_id", doc.ID),
		zap.Error(cause))

	completed := time.Now().UTC()
	doc.Status = model.DocumentStatusFailed
	doc.IngestCompletedAt = &completed
	doc.Extra.Errors = []string{cause.Error()}
	if err := o.store.UpdateDocument(ctx, doc); err != nil {
		zap.L().Error("failed to persist failure status",
			zap.String("document_id", doc.ID),
			zap.Error(err))
	}
	return eris.Wrapf(cause, "docingest: processing failed for document %s", doc.ID)
}

// buildContext prepares processor-specific hints. Documents sourced from
// chat media get stricter extraction instructions and keep their message
// back-reference.
func (o *Orchestrator) buildContext(processorName, vendorName string, preferLLM *bool, doc *model.SourceDocument, overrides processor.Context) processor.Context {
	pctx := processor.Context{
		VendorName: vendorName,
		Currency:   o.defaultCurrency,
	}

	switch processorName {
	case "chat_text":
		pctx.PreferLLM = true
		pctx.LLMInstructions = "Treat this as a vendor business chat. Extract only concrete product offers with " +
			"explicit prices, quantities, or deal terms. Ignore greetings, transfers, or discussion."
	case "document_text":
		pctx.PreferLLM = true
		pctx.LLMInstructions = "Treat the content as a vendor price sheet. Capture product names, variants, quantities, " +
			"and unit prices from each listed item, ignoring marketing copy or logistics notes."
	}

	if doc != nil && (doc.FileType == "chat_media" || doc.Extra.Source == "chat_media") {
		pctx.PreferLLM = true
		pctx.LLMInstructions = "The content originates from a chat media attachment (photo, screenshot, or PDF). " +
			"Extract structured product offers with explicit prices, quantities, or deal terms. " +
			"Ignore stickers, signatures, or decorations. Associate extracted offers back to the " +
			"originating message if provided."
	}

	if preferLLM != nil && *preferLLM {
		pctx.PreferLLM = true
	}

	if overrides.VendorName != "" {
		pctx.VendorName = overrides.VendorName
	}
	if overrides.Currency != "" {
		pctx.Currency = overrides.Currency
	}
	if overrides.LLMInstructions != "" {
		pctx.LLMInstructions = overrides.LLMInstructions
	}
	if overrides.SourceMessageID != "" {
		pctx.SourceMessageID = overrides.SourceMessageID
	}
	if overrides.MediaCaption != "" {
		pctx.MediaCaption = overrides.MediaCaption
	}
	if overrides.MediaType != "" {
		pctx.MediaType = overrides.MediaType
	}
	if overrides.PreferLLM {
		pctx.PreferLLM = true
	}
	if overrides.DisableLLM {
		pctx.DisableLLM = true
	}
	return pctx
}
