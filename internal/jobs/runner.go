package jobs

import (
	"context"
	"path/filepath"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricedesk/internal/docingest"
	"github.com/sells-group/pricedesk/internal/model"
	"github.com/sells-group/pricedesk/internal/processor"
	"github.com/sells-group/pricedesk/internal/store"
)

// defaultWorkers bounds the pool when no size is configured.
const defaultWorkers = 2

// Runner executes ingestion jobs on a bounded worker pool. Only the runner
// drives the job state machine; callers create and enqueue, then observe
// progress through the broker.
type Runner struct {
	store         store.Store
	orchestrator  *docingest.Orchestrator
	broker        *Broker
	pool          *ants.Pool
	uploadDir     string
	defaultVendor string
}

func NewRunner(st store.Store, orch *docingest.Orchestrator, broker *Broker, workers int, uploadDir, defaultVendor string) (*Runner, error) {
	if workers <= 0 {
		workers = defaultWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: create worker pool")
	}
	return &Runner{
		store:         st,
		orchestrator:  orch,
		broker:        broker,
		pool:          pool,
		uploadDir:     uploadDir,
		defaultVendor: defaultVendor,
	}, nil
}

// Close releases the worker pool. In-flight jobs run to completion.
func (r *Runner) Close() {
	r.pool.Release()
}

// CreateJob persists a queued job for the document. The vendor hint, when
// set, lands in the job logs where runJob will pick it up.
func (r *Runner) CreateJob(ctx context.Context, doc *model.SourceDocument, processorName, vendorHint string, logs model.JobLogs) (*model.IngestionJob, error) {
	if vendorHint != "" {
		logs.VendorName = vendorHint
	}
	if logs.Filename == "" {
		logs.Filename = doc.FileName
	}
	job := &model.IngestionJob{
		SourceDocumentID: doc.ID,
		Processor:        processorName,
		Status:           model.JobStatusQueued,
		Logs:             logs,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Enqueue schedules the job without blocking the caller. Repeated calls for
// the same id are not deduplicated. If the pool rejects the submission the
// job still runs, on its own goroutine.
func (r *Runner) Enqueue(jobID string) {
	if err := r.pool.Submit(func() { r.runJob(jobID) }); err != nil {
		zap.L().Warn("worker pool submit failed, running job inline",
			zap.String("job_id", jobID),
			zap.Error(err))
		go r.runJob(jobID)
	}
}

// runJob is one complete job execution. Every failure path ends in a
// terminal status and a published event; nothing escapes to the pool.
func (r *Runner) runJob(jobID string) {
	ctx := context.Background()

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		zap.L().Error("failed to load job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job == nil {
		zap.L().Error("job not found", zap.String("job_id", jobID))
		return
	}

	doc, err := r.store.GetDocument(ctx, job.SourceDocumentID)
	if err == nil && doc == nil {
		err = eris.Errorf("jobs: source document %s not found", job.SourceDocumentID)
	}
	if err != nil {
		r.finishFailed(ctx, job, nil, err)
		return
	}

	job.Status = model.JobStatusRunning
	if err := r.store.UpdateJob(ctx, job); err != nil {
		r.finishFailed(ctx, job, doc, err)
		return
	}
	now := time.Now().UTC()
	doc.Status = model.DocumentStatusProcessing
	doc.IngestStartedAt = &now
	doc.IngestCompletedAt = nil
	if err := r.store.UpdateDocument(ctx, doc); err != nil {
		r.finishFailed(ctx, job, doc, err)
		return
	}
	started := r.eventPayload(job, doc)
	started["message"] = "Ingestion started"
	r.broker.Publish(job.Logs.ConversationID, started)

	result, err := r.orchestrator.Ingest(ctx, docingest.Params{
		Document:      doc,
		ProcessorName: job.Processor,
		VendorName:    r.vendorFor(job, doc),
		FilePath:      r.filePath(doc),
		PreferLLM:     job.Logs.PreferLLM,
		ClearExisting: job.Logs.ClearExisting,
		Overrides: processor.Context{
			SourceMessageID: job.Logs.SourceMessageID,
			MediaCaption:    job.Logs.MediaCaption,
			MediaType:       job.Logs.MediaType,
		},
	})
	if err != nil {
		r.finishFailed(ctx, job, doc, err)
		return
	}

	count := result.OffersCount
	job.Logs.Message = result.Message
	job.Logs.OffersCount = &count
	job.Logs.Warnings = result.Warnings
	job.Status = model.JobStatus(result.Status)
	if err := r.store.UpdateJob(ctx, job); err != nil {
		r.finishFailed(ctx, job, doc, err)
		return
	}
	r.broker.Publish(job.Logs.ConversationID, r.eventPayload(job, doc))
}

// finishFailed records the error on the job and publishes the terminal
// event. A failed status write is logged, not escalated, so the event still
// goes out and subscribers are not left hanging.
func (r *Runner) finishFailed(ctx context.Context, job *model.IngestionJob, doc *model.SourceDocument, cause error) {
	zap.L().Error("ingestion job failed",
		zap.String("job_id", job.ID),
		zap.String("document_id", job.SourceDocumentID),
		zap.Error(cause))

	job.Status = model.JobStatusFailed
	job.Logs.Error = cause.Error()
	if err := r.store.UpdateJob(ctx, job); err != nil {
		zap.L().Error("failed to persist job failure",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
	r.broker.Publish(job.Logs.ConversationID, r.eventPayload(job, doc))
}

// vendorFor resolves the vendor name: job logs, then document metadata,
// then the configured default.
func (r *Runner) vendorFor(job *model.IngestionJob, doc *model.SourceDocument) string {
	if job.Logs.VendorName != "" {
		return job.Logs.VendorName
	}
	if doc.Extra.DeclaredVendor != "" {
		return doc.Extra.DeclaredVendor
	}
	return r.defaultVendor
}

func (r *Runner) filePath(doc *model.SourceDocument) string {
	if filepath.IsAbs(doc.StoragePath) {
		return doc.StoragePath
	}
	return filepath.Join(r.uploadDir, doc.StoragePath)
}

func (r *Runner) eventPayload(job *model.IngestionJob, doc *model.SourceDocument) Event {
	payload := Event{
		"job_id":       job.ID,
		"document_id":  job.SourceDocumentID,
		"job_status":   string(job.Status),
		"processor":    job.Processor,
		"message":      job.Logs.Message,
		"offers_count": 0,
		"warnings":     job.Logs.Warnings,
		"error":        job.Logs.Error,
		"filename":     job.Logs.Filename,
		"vendor_name":  job.Logs.VendorName,
		"updated_at":   model.FormatEventTime(time.Now()),
	}
	if job.Logs.OffersCount != nil {
		payload["offers_count"] = *job.Logs.OffersCount
	}
	if doc != nil {
		payload["document_status"] = string(doc.Status)
		if payload["filename"] == "" {
			payload["filename"] = doc.FileName
		}
	} else {
		payload["document_status"] = ""
	}
	return payload
}
