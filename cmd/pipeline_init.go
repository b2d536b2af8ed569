package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricedesk/internal/docingest"
	"github.com/sells-group/pricedesk/internal/ingest"
	"github.com/sells-group/pricedesk/internal/llm"
	"github.com/sells-group/pricedesk/internal/processor"
	"github.com/sells-group/pricedesk/internal/store"
)

// pipelineEnv bundles the wired ingestion pipeline for command handlers.
type pipelineEnv struct {
	Store        store.Store
	Registry     *processor.Registry
	Offers       *ingest.Service
	Orchestrator *docingest.Orchestrator
}

func (e *pipelineEnv) Close() {
	if e.Store != nil {
		e.Store.Close() //nolint:errcheck
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "pricedesk.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRegistry wires the processors. Registration order matters: for files
// that several processors could claim, the first registered wins suffix
// matching.
func initRegistry() *processor.Registry {
	var extractor processor.OfferExtractor
	ex, err := llm.New(cfg.Anthropic)
	switch {
	case err == nil:
		extractor = ex
	case eris.Is(err, llm.ErrUnavailable):
		zap.L().Info("LLM extraction disabled, heuristics only")
	default:
		zap.L().Warn("LLM extractor init failed", zap.Error(err))
	}

	reg := processor.NewRegistry()
	reg.Register(processor.NewSpreadsheetProcessor())
	reg.Register(processor.NewChatTextProcessor(extractor))
	reg.Register(processor.NewDocumentTextProcessor(extractor))
	return reg
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	reg := initRegistry()
	offers := ingest.New(st, cfg.Ingest.DefaultCurrency)
	return &pipelineEnv{
		Store:        st,
		Registry:     reg,
		Offers:       offers,
		Orchestrator: docingest.New(st, reg, offers, cfg.Ingest.DefaultCurrency),
	}, nil
}
