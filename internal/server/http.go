package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/realizacred/mais-energia-solar-sub003/internal/audit"
	"github.com/realizacred/mais-energia-solar-sub003/internal/cache"
	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/ingest"
	"github.com/realizacred/mais-energia-solar-sub003/internal/irradiance"
	"github.com/realizacred/mais-energia-solar-sub003/internal/jobs"
	"github.com/realizacred/mais-energia-solar-sub003/internal/protocol"
	"github.com/realizacred/mais-energia-solar-sub003/internal/purge"
	"github.com/realizacred/mais-energia-solar-sub003/internal/version"
	"github.com/realizacred/mais-energia-solar-sub003/pkg/config"
)

// Store is the read surface the handlers need beyond the managers
type Store interface {
	GetVersion(ctx context.Context, versionID string) (*database.DatasetVersion, error)
	GetDatasetByID(ctx context.Context, id string) (*database.Dataset, error)
}

// Publisher hands import requests to the queue
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// SeriesResolver answers point lookups against an active version
type SeriesResolver interface {
	Resolve(ctx context.Context, versionID string, lat, lon float64) (*cache.MonthlySeries, error)
}

// HTTPServer exposes the ingestion and query API
type HTTPServer struct {
	cfg      *config.HTTPConfig
	store    Store
	versions *version.Manager
	coord    *ingest.Coordinator
	tracker  *jobs.Tracker
	auditor  *audit.Auditor
	resolver SeriesResolver
	purger   *purge.Coordinator
	producer Publisher
	srv      *http.Server
}

// NewHTTPServer wires the API over the given components
func NewHTTPServer(
	cfg *config.HTTPConfig,
	store Store,
	versions *version.Manager,
	coord *ingest.Coordinator,
	tracker *jobs.Tracker,
	auditor *audit.Auditor,
	resolver SeriesResolver,
	purger *purge.Coordinator,
	producer Publisher,
) *HTTPServer {
	s := &HTTPServer{
		cfg:      cfg,
		store:    store,
		versions: versions,
		coord:    coord,
		tracker:  tracker,
		auditor:  auditor,
		resolver: resolver,
		purger:   purger,
		producer: producer,
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *HTTPServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ingest/init", s.handleInit)
	mux.HandleFunc("POST /api/ingest/batch", s.handleBatch)
	mux.HandleFunc("POST /api/ingest/finalize", s.handleFinalize)
	mux.HandleFunc("POST /api/ingest/abort", s.handleAbort)
	mux.HandleFunc("POST /api/imports", s.handleEnqueueImport)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("GET /api/jobs/{id}/logs", s.handleJobLogs)
	mux.HandleFunc("GET /api/versions/{id}/integrity", s.handleIntegrity)
	mux.HandleFunc("GET /api/versions/{id}/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/admin/purge/{datasetID}", s.handlePurge)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return mux
}

// Start begins serving; it returns once the listener stops
func (s *HTTPServer) Start() error {
	fmt.Printf("HTTP server listening on %s\n", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *HTTPServer) Stop(ctx context.Context) error {
	fmt.Println("Shutting down HTTP server...")
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) handleInit(w http.ResponseWriter, r *http.Request) {
	var req protocol.InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "invalid request body")
		return
	}

	res, err := s.versions.InitVersion(r.Context(), req.DatasetCode, req.VersionTag, req.SourceNote)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.InitResponse{VersionID: res.VersionID, DatasetID: res.DatasetID})
}

func (s *HTTPServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req protocol.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "invalid request body")
		return
	}
	if req.VersionID == "" || len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "version_id and rows are required")
		return
	}

	v, err := s.store.GetVersion(r.Context(), req.VersionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, protocol.ErrCodeNotFound, "version not found")
		return
	}
	if v.Status != database.StatusProcessing {
		writeError(w, http.StatusConflict, protocol.ErrCodeInvalidState,
			fmt.Sprintf("version is %s, batches need a processing version", v.Status))
		return
	}

	unit := s.unitFor(r.Context(), v.DatasetID)

	rows := make([]*irradiance.Row, len(req.Rows))
	for i, pr := range req.Rows {
		rows[i] = &irradiance.Row{Lat: pr.Lat, Lon: pr.Lon, M: pr.M, DHI: pr.DHI, DNI: pr.DNI}
	}

	accepted, err := s.coord.Ingest(r.Context(), req.VersionID, unit, rows, nil)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.BatchResponse{AcceptedCount: accepted})
}

func (s *HTTPServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req protocol.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "invalid request body")
		return
	}
	if req.VersionID == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "version_id is required")
		return
	}

	meta := map[string]interface{}{
		"has_dhi": req.HasDHI,
		"has_dni": req.HasDNI,
	}
	if err := s.versions.Finalize(r.Context(), req.VersionID, req.RowCount, req.Checksum, meta); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OKResponse{OK: true})
}

func (s *HTTPServer) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req protocol.AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "invalid request body")
		return
	}
	if req.VersionID == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "version_id is required")
		return
	}

	if err := s.versions.Abort(r.Context(), req.VersionID, req.Error); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OKResponse{OK: true})
}

// enqueueImportRequest asks the importer worker to run a full ingestion
type enqueueImportRequest struct {
	DatasetCode string   `json:"dataset_code"`
	VersionTag  string   `json:"version_tag"`
	SourceNote  string   `json:"source_note,omitempty"`
	SourceURLs  []string `json:"source_urls,omitempty"`
	IndexURL    string   `json:"index_url,omitempty"`
}

type enqueueImportResponse struct {
	JobID string `json:"job_id"`
}

func (s *HTTPServer) handleEnqueueImport(w http.ResponseWriter, r *http.Request) {
	var req enqueueImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "invalid request body")
		return
	}
	if req.DatasetCode == "" || req.VersionTag == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "dataset_code and version_tag are required")
		return
	}
	if len(req.SourceURLs) == 0 && req.IndexURL == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "source_urls or index_url is required")
		return
	}

	job, err := s.tracker.Create(r.Context(), req.DatasetCode)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	msg := &protocol.ImportRequest{
		JobID:       job.JobID,
		DatasetCode: req.DatasetCode,
		VersionTag:  req.VersionTag,
		SourceNote:  req.SourceNote,
		SourceURLs:  req.SourceURLs,
		IndexURL:    req.IndexURL,
	}
	payload, err := msg.Encode()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.producer.Publish(r.Context(), req.DatasetCode, payload); err != nil {
		// The job row exists but nothing will pick it up; fail it so the
		// client is not left watching a queued job forever
		failMsg := fmt.Sprintf("failed to enqueue import: %v", err)
		_ = s.tracker.SetStatus(r.Context(), job.JobID, database.JobRunning, jobs.StatusExtra{})
		_ = s.tracker.SetStatus(r.Context(), job.JobID, database.JobFailed, jobs.StatusExtra{ErrorMessage: failMsg})
		writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternal, failMsg)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueImportResponse{JobID: job.JobID})
}

// jobStatusResponse is the client view of an import job
type jobStatusResponse struct {
	JobID        string     `json:"job_id"`
	DatasetCode  string     `json:"dataset_code"`
	Status       string     `json:"status"`
	VersionID    *string    `json:"version_id,omitempty"`
	RowCount     *int       `json:"row_count,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func (s *HTTPServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.tracker.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:        job.JobID,
		DatasetCode:  job.DatasetCode,
		Status:       job.Status,
		VersionID:    job.VersionID,
		RowCount:     job.RowCount,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		FinishedAt:   job.FinishedAt,
	})
}

type jobLogEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *HTTPServer) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.tracker.GetLogs(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	entries := make([]jobLogEntry, len(logs))
	for i, l := range logs {
		entries[i] = jobLogEntry{Level: l.Level, Message: l.Message, CreatedAt: l.Ts}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.auditor.Audit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "lat and lon query parameters are required")
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, "lat or lon out of range")
		return
	}

	series, err := s.resolver.Resolve(r.Context(), r.PathValue("id"), lat, lon)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *HTTPServer) handlePurge(w http.ResponseWriter, r *http.Request) {
	summary, err := s.purger.Purge(r.Context(), r.PathValue("datasetID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) unitFor(ctx context.Context, datasetID string) string {
	dataset, err := s.store.GetDatasetByID(ctx, datasetID)
	if err != nil || dataset == nil || dataset.DefaultUnit == "" {
		return "kWh/m2/day"
	}
	return dataset.DefaultUnit
}

// writeDomainError maps domain errors onto status codes. Handlers
// branch on error types, never on message text.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	if conflict, ok := version.AsConflict(err); ok {
		writeError(w, http.StatusConflict, string(conflict.Kind), conflict.Error())
		return
	}
	var validation *version.ValidationError
	if errors.As(err, &validation) {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeValidation, validation.Error())
		return
	}
	var state *version.StateError
	if errors.As(err, &state) {
		writeError(w, http.StatusConflict, protocol.ErrCodeInvalidState, state.Error())
		return
	}
	switch {
	case errors.Is(err, version.ErrDatasetNotFound),
		errors.Is(err, version.ErrVersionNotFound),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, cache.ErrNoPoints):
		writeError(w, http.StatusNotFound, protocol.ErrCodeNotFound, err.Error())
		return
	}
	fmt.Printf("Internal error: %v\n", err)
	writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternal, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Printf("Failed to encode response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: code, Message: message})
}
