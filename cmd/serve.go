package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricedesk/internal/jobs"
	"github.com/sells-group/pricedesk/internal/model"
	"github.com/sells-group/pricedesk/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document upload and job API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := os.MkdirAll(cfg.Ingest.UploadDir, 0o755); err != nil {
			return eris.Wrap(err, "create upload dir")
		}

		broker := jobs.NewBroker()
		runner, err := jobs.NewRunner(env.Store, env.Orchestrator, broker,
			cfg.Ingest.Workers, cfg.Ingest.UploadDir, cfg.Ingest.DefaultVendor)
		if err != nil {
			return err
		}
		defer runner.Close()

		api := &apiServer{
			env:       env,
			runner:    runner,
			broker:    broker,
			uploadDir: cfg.Ingest.UploadDir,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Int("workers", cfg.Ingest.Workers))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// apiServer holds the request-facing surface: document upload, job
// inspection, and the live-progress event stream.
type apiServer struct {
	env       *pipelineEnv
	runner    *jobs.Runner
	broker    *jobs.Broker
	uploadDir string
}

func (a *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", a.handleHealth)
	r.Post("/documents", a.handleUpload)
	r.Get("/documents", a.handleListDocuments)
	r.Post("/documents/{id}/reingest", a.handleReingest)
	r.Get("/jobs/{id}", a.handleGetJob)
	r.Get("/events", a.handleEvents)
	return r
}

func (a *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload stores the file, registers a source document, and queues an
// ingestion job. The response returns before any processing happens.
func (a *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	stored := uuid.NewString() + "_" + filepath.Base(header.Filename)
	dst, err := os.Create(filepath.Join(a.uploadDir, stored))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	dst.Close()

	vendor := r.FormValue("vendor")
	doc := &model.SourceDocument{
		FileName:    header.Filename,
		FileType:    strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), "."),
		StoragePath: stored,
		Status:      model.DocumentStatusQueued,
		Extra:       model.DocumentExtra{DeclaredVendor: vendor},
	}
	if err := a.env.Store.CreateDocument(r.Context(), doc); err != nil {
		zap.L().Error("create document failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register document")
		return
	}

	processorName, err := a.resolveProcessor(r.FormValue("processor"), header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs := model.JobLogs{ConversationID: r.FormValue("conversation_id")}
	if v := r.FormValue("prefer_llm"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			logs.PreferLLM = &b
		}
	}
	if v := r.FormValue("clear_existing"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			logs.ClearExisting = b
		}
	}

	job, err := a.runner.CreateJob(r.Context(), doc, processorName, vendor, logs)
	if err != nil {
		zap.L().Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	a.runner.Enqueue(job.ID)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": doc.ID,
		"job_id":      job.ID,
		"status":      string(job.Status),
	})
}

func (a *apiServer) handleReingest(w http.ResponseWriter, r *http.Request) {
	doc, err := a.env.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		zap.L().Error("load document failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	processorName, err := a.resolveProcessor(r.FormValue("processor"), doc.FileName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs := model.JobLogs{ConversationID: r.FormValue("conversation_id")}
	if v := r.FormValue("clear_existing"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			logs.ClearExisting = b
		}
	}
	job, err := a.runner.CreateJob(r.Context(), doc, processorName, r.FormValue("vendor"), logs)
	if err != nil {
		zap.L().Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	a.runner.Enqueue(job.ID)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": doc.ID,
		"job_id":      job.ID,
		"status":      string(job.Status),
	})
}

func (a *apiServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	docs, err := a.env.Store.ListDocuments(r.Context(), store.DocumentFilter{
		Status: model.DocumentStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		zap.L().Error("list documents failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []model.SourceDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.env.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		zap.L().Error("load job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleEvents streams job events for one conversation as server-sent
// events until the client disconnects.
func (a *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := a.broker.Subscribe(conversationID)
	defer a.broker.Unsubscribe(conversationID, ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (a *apiServer) resolveProcessor(requested, filename string) (string, error) {
	if requested != "" {
		if _, err := a.env.Registry.Get(requested); err != nil {
			return "", err
		}
		return requested, nil
	}
	p := a.env.Registry.Match(filename)
	if p == nil {
		return "", eris.Errorf("no processor recognizes %s", filename)
	}
	return p.Name(), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
