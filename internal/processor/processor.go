package processor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pricedesk/internal/model"
)

// Context carries per-ingestion hints passed down to a processor.
type Context struct {
	VendorName      string
	Currency        string
	PreferLLM       bool
	DisableLLM      bool
	LLMInstructions string
	SourceMessageID string
	MediaCaption    string
	MediaType       string
}

// Result holds the offers parsed from a document plus row-level errors.
// A result with errors and no offers means the document yielded nothing
// usable; errors alongside offers are partial-failure warnings.
type Result struct {
	Offers []model.RawOffer
	Errors []string
}

// Success reports whether the run produced no errors.
func (r *Result) Success() bool {
	return len(r.Errors) == 0
}

// Processor parses a single file into raw offers.
type Processor interface {
	Name() string
	Suffixes() []string
	Process(ctx context.Context, path string, pctx Context) (*Result, error)
}

// Registry holds the available processors in registration order.
type Registry struct {
	names      []string
	processors map[string]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

// Register adds a processor, replacing any prior one with the same name.
func (r *Registry) Register(p Processor) {
	if _, exists := r.processors[p.Name()]; !exists {
		r.names = append(r.names, p.Name())
	}
	r.processors[p.Name()] = p
}

// Get returns the named processor.
func (r *Registry) Get(name string) (Processor, error) {
	p, ok := r.processors[name]
	if !ok {
		return nil, eris.Errorf("processor: unknown processor %q", name)
	}
	return p, nil
}

// Match returns the first registered processor that handles the file's
// suffix, or nil when none does.
func (r *Registry) Match(path string) Processor {
	suffix := strings.ToLower(filepath.Ext(path))
	for _, name := range r.names {
		p := r.processors[name]
		for _, s := range p.Suffixes() {
			if s == suffix {
				return p
			}
		}
	}
	return nil
}

// Names returns the registered processor names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
