package model

import (
	"encoding/json"
	"time"
)

// DocumentStatus tracks a source document through its ingestion lifecycle.
type DocumentStatus string

const (
	DocumentStatusQueued       DocumentStatus = "queued"
	DocumentStatusProcessing   DocumentStatus = "processing"
	DocumentStatusProcessed    DocumentStatus = "processed"
	DocumentStatusWithWarnings DocumentStatus = "processed_with_warnings"
	DocumentStatusFailed       DocumentStatus = "failed"
)

// SourceDocument is the artifact (file or synthetic extraction run) that
// offers were derived from. One row per artifact; mutated through its status
// lifecycle, never deleted. Re-ingestion creates a new IngestionJob against
// the same document.
type SourceDocument struct {
	ID                string         `json:"id"`
	VendorID          string         `json:"vendor_id,omitempty"`
	FileName          string         `json:"file_name"`
	FileType          string         `json:"file_type"`
	StoragePath       string         `json:"storage_path"`
	Status            DocumentStatus `json:"status"`
	IngestStartedAt   *time.Time     `json:"ingest_started_at,omitempty"`
	IngestCompletedAt *time.Time     `json:"ingest_completed_at,omitempty"`
	Extra             DocumentExtra  `json:"extra,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// DocumentExtra is the document metadata bag. The fields the pipeline reads
// are typed; anything else a channel integration attaches survives round-trips
// through Extra.
type DocumentExtra struct {
	DeclaredVendor  string   `json:"declared_vendor,omitempty"`
	Source          string   `json:"source,omitempty"`
	IngestionErrors []string `json:"ingestion_errors,omitempty"`
	Errors          []string `json:"errors,omitempty"`

	Extra map[string]any `json:"-"`
}

var documentExtraKeys = []string{"declared_vendor", "source", "ingestion_errors", "errors"}

// IsZero reports whether the bag carries no data at all.
func (d DocumentExtra) IsZero() bool {
	return d.DeclaredVendor == "" && d.Source == "" &&
		len(d.IngestionErrors) == 0 && len(d.Errors) == 0 && len(d.Extra) == 0
}

func (d DocumentExtra) MarshalJSON() ([]byte, error) {
	type alias DocumentExtra
	return marshalWithExtra(alias(d), d.Extra)
}

func (d *DocumentExtra) UnmarshalJSON(data []byte) error {
	type alias DocumentExtra
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*d = DocumentExtra(a)
	extra, err := unmarshalExtra(data, documentExtraKeys)
	if err != nil {
		return err
	}
	d.Extra = extra
	return nil
}

// marshalWithExtra renders the typed fields and overlays open-extension keys
// that do not collide with a typed field.
func marshalWithExtra(typed any, extra map[string]any) ([]byte, error) {
	base, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// unmarshalExtra collects keys outside the typed field set.
func unmarshalExtra(data []byte, knownKeys []string) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, k := range knownKeys {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}
