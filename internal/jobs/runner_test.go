package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pricedesk/internal/docingest"
	"github.com/sells-group/pricedesk/internal/ingest"
	"github.com/sells-group/pricedesk/internal/model"
	"github.com/sells-group/pricedesk/internal/processor"
	"github.com/sells-group/pricedesk/internal/store"
)

type stubProcessor struct {
	err     error
	errors  []string
	lastCtx processor.Context
}

func (s *stubProcessor) Name() string       { return "stub" }
func (s *stubProcessor) Suffixes() []string { return []string{".txt"} }
func (s *stubProcessor) Process(_ context.Context, _ string, pctx processor.Context) (*processor.Result, error) {
	s.lastCtx = pctx
	if s.err != nil {
		return nil, s.err
	}
	return &processor.Result{
		Offers: []model.RawOffer{{
			ProductName: "Widget A",
			Price:       decimal.NewFromInt(100),
			Currency:    "USD",
			CapturedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}},
		Errors: s.errors,
	}, nil
}

type runnerFixture struct {
	store  store.Store
	runner *Runner
	broker *Broker
	proc   *stubProcessor
	dir    string
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	stub := &stubProcessor{}
	reg := processor.NewRegistry()
	reg.Register(stub)

	dir := t.TempDir()
	orch := docingest.New(st, reg, ingest.New(st, "USD"), "USD")
	broker := NewBroker()
	runner, err := NewRunner(st, orch, broker, 2, dir, "Unknown Vendor")
	require.NoError(t, err)
	t.Cleanup(runner.Close)

	return &runnerFixture{store: st, runner: runner, broker: broker, proc: stub, dir: dir}
}

func (f *runnerFixture) seedDocument(t *testing.T) *model.SourceDocument {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "doc.txt"), []byte("Widget $100\n"), 0o644))
	d := &model.SourceDocument{
		FileName:    "doc.txt",
		FileType:    "txt",
		StoragePath: "doc.txt",
		Status:      model.DocumentStatusQueued,
	}
	require.NoError(t, f.store.CreateDocument(context.Background(), d))
	return d
}

func waitForTerminal(t *testing.T, f *runnerFixture, jobID string) *model.IngestionJob {
	t.Helper()
	var got *model.IngestionJob
	require.Eventually(t, func() bool {
		j, err := f.store.GetJob(context.Background(), jobID)
		if err != nil || j == nil {
			return false
		}
		got = j
		return j.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)
	return got
}

func TestRunnerLifecycle(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	doc := f.seedDocument(t)

	job, err := f.runner.CreateJob(ctx, doc, "stub", "Apex", model.JobLogs{ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, "Apex", job.Logs.VendorName)
	assert.Equal(t, "doc.txt", job.Logs.Filename)

	events := f.broker.Subscribe("conv-1")
	f.runner.Enqueue(job.ID)

	final := waitForTerminal(t, f, job.ID)
	assert.Equal(t, model.JobStatusProcessed, final.Status)
	assert.Equal(t, "Processed 1 offers", final.Logs.Message)
	require.NotNil(t, final.Logs.OffersCount)
	assert.Equal(t, 1, *final.Logs.OffersCount)

	persisted, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusProcessed, persisted.Status)

	// started event, then terminal
	started := <-events
	assert.Equal(t, "Ingestion started", started["message"])
	assert.Equal(t, "running", started["job_status"])
	assert.Equal(t, "processing", started["document_status"])

	terminal := <-events
	assert.Equal(t, job.ID, terminal["job_id"])
	assert.Equal(t, doc.ID, terminal["document_id"])
	assert.Equal(t, "processed", terminal["job_status"])
	assert.Equal(t, "processed", terminal["document_status"])
	assert.Equal(t, "stub", terminal["processor"])
	assert.Equal(t, "Processed 1 offers", terminal["message"])
	assert.Equal(t, 1, terminal["offers_count"])
	assert.Equal(t, "doc.txt", terminal["filename"])
	assert.Equal(t, "Apex", terminal["vendor_name"])
	assert.Equal(t, "", terminal["error"])
	updatedAt, ok := terminal["updated_at"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, updatedAt)
	assert.NoError(t, err)
}

func TestRunnerWarningsStatus(t *testing.T) {
	f := newRunnerFixture(t)
	f.proc.errors = []string{"line 5: no price found"}
	doc := f.seedDocument(t)

	job, err := f.runner.CreateJob(context.Background(), doc, "stub", "Apex", model.JobLogs{})
	require.NoError(t, err)
	f.runner.Enqueue(job.ID)

	final := waitForTerminal(t, f, job.ID)
	assert.Equal(t, model.JobStatusWithWarnings, final.Status)
	assert.Equal(t, []string{"line 5: no price found"}, final.Logs.Warnings)
}

func TestRunnerProcessorFailure(t *testing.T) {
	f := newRunnerFixture(t)
	f.proc.err = eris.New("corrupt file")
	doc := f.seedDocument(t)

	job, err := f.runner.CreateJob(context.Background(), doc, "stub", "Apex", model.JobLogs{ConversationID: "conv-1"})
	require.NoError(t, err)

	events := f.broker.Subscribe("conv-1")
	f.runner.Enqueue(job.ID)

	final := waitForTerminal(t, f, job.ID)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Contains(t, final.Logs.Error, "corrupt file")

	<-events // started
	terminal := <-events
	assert.Equal(t, "failed", terminal["job_status"])
	assert.Contains(t, terminal["error"], "corrupt file")
}

func TestRunnerMissingDocument(t *testing.T) {
	f := newRunnerFixture(t)
	job := &model.IngestionJob{
		SourceDocumentID: "nonexistent-doc",
		Processor:        "stub",
		Status:           model.JobStatusQueued,
		Logs:             model.JobLogs{ConversationID: "conv-1"},
	}
	require.NoError(t, f.store.CreateJob(context.Background(), job))

	events := f.broker.Subscribe("conv-1")
	f.runner.Enqueue(job.ID)

	final := waitForTerminal(t, f, job.ID)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Contains(t, final.Logs.Error, "not found")

	terminal := <-events
	assert.Equal(t, "failed", terminal["job_status"])
}

func TestRunnerVendorFallsBackToDocumentMetadata(t *testing.T) {
	f := newRunnerFixture(t)
	doc := f.seedDocument(t)
	doc.Extra.DeclaredVendor = "Declared Corp"
	require.NoError(t, f.store.UpdateDocument(context.Background(), doc))

	job, err := f.runner.CreateJob(context.Background(), doc, "stub", "", model.JobLogs{})
	require.NoError(t, err)
	f.runner.Enqueue(job.ID)

	waitForTerminal(t, f, job.ID)
	assert.Equal(t, "Declared Corp", f.proc.lastCtx.VendorName)
}

func TestRunnerVendorDefault(t *testing.T) {
	f := newRunnerFixture(t)
	doc := f.seedDocument(t)

	job, err := f.runner.CreateJob(context.Background(), doc, "stub", "", model.JobLogs{})
	require.NoError(t, err)
	f.runner.Enqueue(job.ID)

	waitForTerminal(t, f, job.ID)
	assert.Equal(t, "Unknown Vendor", f.proc.lastCtx.VendorName)
}

func TestRunnerLateSubscriberSeesNothing(t *testing.T) {
	f := newRunnerFixture(t)
	doc := f.seedDocument(t)

	job, err := f.runner.CreateJob(context.Background(), doc, "stub", "Apex", model.JobLogs{ConversationID: "conv-1"})
	require.NoError(t, err)
	f.runner.Enqueue(job.ID)
	waitForTerminal(t, f, job.ID)

	late := f.broker.Subscribe("conv-1")
	assert.Len(t, late, 0)
}

func seedPriorOffer(t *testing.T, f *runnerFixture, documentID string) {
	t.Helper()
	ctx := context.Background()
	v := &model.Vendor{Name: "Prior Vendor"}
	require.NoError(t, f.store.CreateVendor(ctx, v))
	p := &model.Product{CanonicalName: "Prior Widget", Spec: map[string]any{}}
	require.NoError(t, f.store.CreateProduct(ctx, p))
	require.NoError(t, f.store.CreateOffer(ctx, &model.Offer{
		ProductID:        p.ID,
		VendorID:         v.ID,
		SourceDocumentID: documentID,
		Price:            decimal.NewFromInt(50),
		Currency:         "USD",
		CapturedAt:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func TestRunnerKeepsPriorOffersByDefault(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	doc := f.seedDocument(t)
	seedPriorOffer(t, f, doc.ID)

	job, err := f.runner.CreateJob(ctx, doc, "stub", "Apex", model.JobLogs{})
	require.NoError(t, err)
	f.runner.Enqueue(job.ID)
	waitForTerminal(t, f, job.ID)

	offers, err := f.store.ListDocumentOffers(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, offers, 2)
}

func TestRunnerClearExistingOptIn(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	doc := f.seedDocument(t)
	seedPriorOffer(t, f, doc.ID)

	job, err := f.runner.CreateJob(ctx, doc, "stub", "Apex", model.JobLogs{ClearExisting: true})
	require.NoError(t, err)
	f.runner.Enqueue(job.ID)
	waitForTerminal(t, f, job.ID)

	offers, err := f.store.ListDocumentOffers(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, offers, 1)
	assert.True(t, offers[0].Price.Equal(decimal.NewFromInt(100)), "only the freshly extracted offer remains")
}
