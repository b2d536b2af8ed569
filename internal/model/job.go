package model

import (
	"encoding/json"
	"time"
)

// JobStatus tracks an ingestion job's state machine:
// queued → running → {processed, processed_with_warnings, failed}.
// Only the job runner drives transitions.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusRunning      JobStatus = "running"
	JobStatusProcessed    JobStatus = "processed"
	JobStatusWithWarnings JobStatus = "processed_with_warnings"
	JobStatusFailed       JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusProcessed, JobStatusWithWarnings, JobStatusFailed:
		return true
	}
	return false
}

// IngestionJob is one attempt to turn a SourceDocument into offers.
type IngestionJob struct {
	ID               string    `json:"id"`
	SourceDocumentID string    `json:"source_document_id"`
	Processor        string    `json:"processor"`
	Status           JobStatus `json:"status"`
	Logs             JobLogs   `json:"logs,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// JobLogs is the job's loosely-typed "logs" bag. The fields the runner and
// orchestration read are typed; unrecognized keys round-trip through Extra.
type JobLogs struct {
	ConversationID  string   `json:"conversation_id,omitempty"`
	VendorName      string   `json:"vendor_name,omitempty"`
	PreferLLM       *bool    `json:"prefer_llm,omitempty"`
	ClearExisting   bool     `json:"clear_existing,omitempty"`
	Filename        string   `json:"filename,omitempty"`
	SourceMessageID string   `json:"source_message_id,omitempty"`
	MediaCaption    string   `json:"media_caption,omitempty"`
	MediaType       string   `json:"media_type,omitempty"`
	Message         string   `json:"message,omitempty"`
	OffersCount     *int     `json:"offers_count,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Error           string   `json:"error,omitempty"`

	Extra map[string]any `json:"-"`
}

var jobLogsKeys = []string{
	"conversation_id", "vendor_name", "prefer_llm", "clear_existing",
	"filename", "source_message_id", "media_caption", "media_type",
	"message", "offers_count", "warnings", "error",
}

// IsZero reports whether the bag carries no data at all.
func (l JobLogs) IsZero() bool {
	return l.ConversationID == "" && l.VendorName == "" && l.PreferLLM == nil &&
		!l.ClearExisting &&
		l.Filename == "" && l.SourceMessageID == "" && l.MediaCaption == "" &&
		l.MediaType == "" && l.Message == "" && l.OffersCount == nil &&
		len(l.Warnings) == 0 && l.Error == "" && len(l.Extra) == 0
}

func (l JobLogs) MarshalJSON() ([]byte, error) {
	type alias JobLogs
	return marshalWithExtra(alias(l), l.Extra)
}

func (l *JobLogs) UnmarshalJSON(data []byte) error {
	type alias JobLogs
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*l = JobLogs(a)
	extra, err := unmarshalExtra(data, jobLogsKeys)
	if err != nil {
		return err
	}
	l.Extra = extra
	return nil
}
