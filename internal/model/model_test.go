package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentExtraRoundTripKeepsUnknownKeys(t *testing.T) {
	raw := []byte(`{
		"declared_vendor": "Apex",
		"source": "chat_media",
		"ingestion_errors": ["line 3: no price found"],
		"whatsapp_chat_id": "chat-42",
		"page_count": 3
	}`)

	var extra DocumentExtra
	require.NoError(t, json.Unmarshal(raw, &extra))
	assert.Equal(t, "Apex", extra.DeclaredVendor)
	assert.Equal(t, "chat_media", extra.Source)
	assert.Equal(t, []string{"line 3: no price found"}, extra.IngestionErrors)
	assert.Equal(t, "chat-42", extra.Extra["whatsapp_chat_id"])
	assert.Equal(t, float64(3), extra.Extra["page_count"])

	out, err := json.Marshal(extra)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "Apex", decoded["declared_vendor"])
	assert.Equal(t, "chat-42", decoded["whatsapp_chat_id"])
	assert.Equal(t, float64(3), decoded["page_count"])
}

func TestJobLogsRoundTripKeepsUnknownKeys(t *testing.T) {
	prefer := true
	count := 7
	logs := JobLogs{
		ConversationID: "conv-1",
		VendorName:     "Apex",
		PreferLLM:      &prefer,
		ClearExisting:  true,
		Message:        "Processed 7 offers",
		OffersCount:    &count,
		Warnings:       []string{"row 2: missing critical fields (price or description)"},
		Extra:          map[string]any{"trigger": "webhook"},
	}

	out, err := json.Marshal(logs)
	require.NoError(t, err)

	var back JobLogs
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "conv-1", back.ConversationID)
	require.NotNil(t, back.PreferLLM)
	assert.True(t, *back.PreferLLM)
	assert.True(t, back.ClearExisting)
	require.NotNil(t, back.OffersCount)
	assert.Equal(t, 7, *back.OffersCount)
	assert.Equal(t, logs.Warnings, back.Warnings)
	assert.Equal(t, "webhook", back.Extra["trigger"])
}

func TestJobLogsIsZero(t *testing.T) {
	assert.True(t, JobLogs{}.IsZero())
	assert.False(t, JobLogs{VendorName: "Apex"}.IsZero())
	assert.False(t, JobLogs{Extra: map[string]any{"k": "v"}}.IsZero())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusProcessed.Terminal())
	assert.True(t, JobStatusWithWarnings.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestNormalizeUTC(t *testing.T) {
	zone := time.FixedZone("GST", 4*60*60)
	aware := time.Date(2026, 3, 1, 16, 0, 0, 0, zone)
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, NormalizeUTC(aware).Equal(utc))
	assert.Equal(t, utc, NormalizeUTC(aware))
}

func TestFormatEventTime(t *testing.T) {
	zone := time.FixedZone("GST", 4*60*60)
	ts := time.Date(2026, 3, 1, 16, 30, 0, 0, zone)
	assert.Equal(t, "2026-03-01T12:30:00Z", FormatEventTime(ts))
}

func TestSourceMessageRef(t *testing.T) {
	r := RawOffer{RawPayload: map[string]any{"source_message_id": "msg-9"}}
	assert.Equal(t, "msg-9", r.SourceMessageRef())
	assert.Empty(t, RawOffer{}.SourceMessageRef())
	assert.Empty(t, RawOffer{RawPayload: map[string]any{"source_message_id": 7}}.SourceMessageRef())
}
