package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"

	"github.com/realizacred/mais-energia-solar-sub003/internal/catalog"
	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/discover"
	"github.com/realizacred/mais-energia-solar-sub003/internal/ingest"
	"github.com/realizacred/mais-energia-solar-sub003/internal/irradiance"
	"github.com/realizacred/mais-energia-solar-sub003/internal/jobs"
	"github.com/realizacred/mais-energia-solar-sub003/internal/protocol"
	"github.com/realizacred/mais-energia-solar-sub003/internal/version"
)

// ImportWorker consumes import requests from Kafka and runs each one
// end to end: download, parse, open a version, ingest, finalize. One
// request at a time; the offset is committed only after the job has
// reached a terminal status, so a crash mid-import replays the request
// and the version manager's idempotency answers the retry.
type ImportWorker struct {
	consumer *Consumer
	tracker  *jobs.Tracker
	versions *version.Manager
	coord    *ingest.Coordinator
	registry *catalog.Registry
	client   *http.Client
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewImportWorker creates a new import worker
func NewImportWorker(consumer *Consumer, tracker *jobs.Tracker, versions *version.Manager, coord *ingest.Coordinator, registry *catalog.Registry, client *http.Client) *ImportWorker {
	if client == nil {
		client = http.DefaultClient
	}
	return &ImportWorker{
		consumer: consumer,
		tracker:  tracker,
		versions: versions,
		coord:    coord,
		registry: registry,
		client:   client,
		stopCh:   make(chan struct{}),
	}
}

// Start begins consuming import requests
func (w *ImportWorker) Start(ctx context.Context) error {
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop stops the worker gracefully, letting a running import finish
func (w *ImportWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *ImportWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		msg, err := w.consumer.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fmt.Printf("Consumer error: %v\n", err)
			continue
		}

		fmt.Printf("Consumed import request (partition=%d, offset=%d)\n",
			msg.Partition, msg.Offset)

		req, err := protocol.DecodeImportRequest(msg.Value)
		if err != nil {
			// A malformed request will never become valid; drop it
			fmt.Printf("Skipping undecodable import request: %v\n", err)
			if commitErr := w.consumer.Commit(ctx, msg); commitErr != nil {
				fmt.Printf("Failed to commit offset: %v\n", commitErr)
			}
			continue
		}

		w.runImport(ctx, req)

		if err := w.consumer.Commit(ctx, msg); err != nil {
			fmt.Printf("Failed to commit offset: %v\n", err)
		}
	}
}

// runImport drives one request through the whole pipeline. Every exit
// path leaves the job in a terminal status.
func (w *ImportWorker) runImport(ctx context.Context, req *protocol.ImportRequest) {
	if err := w.tracker.SetStatus(ctx, req.JobID, database.JobRunning, jobs.StatusExtra{}); err != nil {
		if errors.Is(err, jobs.ErrTerminalStatus) {
			// Replayed request for a job that already finished
			fmt.Printf("Job %s already terminal, skipping\n", req.JobID)
			return
		}
		fmt.Printf("Failed to mark job %s running: %v\n", req.JobID, err)
		return
	}
	w.logInfo(ctx, req.JobID, fmt.Sprintf("import started for %s %s", req.DatasetCode, req.VersionTag))

	sources, err := w.fetchSources(ctx, req)
	if err != nil {
		w.failJob(ctx, req.JobID, fmt.Sprintf("failed to fetch source files: %v", err))
		return
	}
	w.logInfo(ctx, req.JobID, fmt.Sprintf("downloaded %d source file(s)", len(sources)))

	set, err := irradiance.Parse(sources)
	if err != nil {
		w.failJob(ctx, req.JobID, fmt.Sprintf("parse failed: %v", err))
		return
	}
	if len(set.Errors) > 0 {
		w.logWarn(ctx, req.JobID, fmt.Sprintf("dropped %d unparseable row(s)", len(set.Errors)))
	}
	for _, warning := range set.Warnings {
		w.logWarn(ctx, req.JobID, warning)
	}
	if len(set.Rows) == 0 {
		w.failJob(ctx, req.JobID, "no usable rows in source files")
		return
	}
	w.logInfo(ctx, req.JobID, fmt.Sprintf("parsed %d row(s), dhi=%t dni=%t", len(set.Rows), set.HasDHI, set.HasDNI))

	res, err := w.versions.InitVersion(ctx, req.DatasetCode, req.VersionTag, req.SourceNote)
	if err != nil {
		var conflict *version.ConflictError
		if errors.As(err, &conflict) {
			w.failJob(ctx, req.JobID, conflict.Error())
			return
		}
		w.failJob(ctx, req.JobID, fmt.Sprintf("failed to open version: %v", err))
		return
	}
	if err := w.tracker.SetStatus(ctx, req.JobID, database.JobRunning, jobs.StatusExtra{VersionID: res.VersionID}); err == nil {
		w.logInfo(ctx, req.JobID, fmt.Sprintf("opened version %s", res.VersionID))
	}

	unit := w.datasetUnit(ctx, req.DatasetCode)

	accepted, err := w.coord.Ingest(ctx, res.VersionID, unit, set.Rows, func(p ingest.Progress) {
		w.logInfo(ctx, req.JobID, fmt.Sprintf("submitted %d/%d rows (%d%%)", p.Submitted, p.Total, p.Percent))
	})
	if err != nil {
		if abortErr := w.versions.Abort(ctx, res.VersionID, err.Error()); abortErr != nil {
			fmt.Printf("Failed to abort version %s: %v\n", res.VersionID, abortErr)
		}
		w.failJob(ctx, req.JobID, fmt.Sprintf("ingestion failed after %d rows: %v", accepted, err))
		return
	}

	checksum := irradiance.Checksum(set.Rows)
	meta := map[string]interface{}{
		"has_dhi":      set.HasDHI,
		"has_dni":      set.HasDNI,
		"source_files": sourceNames(sources),
		"dropped_rows": len(set.Errors),
	}
	if err := w.versions.Finalize(ctx, res.VersionID, accepted, checksum, meta); err != nil {
		w.failJob(ctx, req.JobID, fmt.Sprintf("failed to finalize version: %v", err))
		return
	}

	rowCount := accepted
	if err := w.tracker.SetStatus(ctx, req.JobID, database.JobSuccess, jobs.StatusExtra{
		VersionID: res.VersionID,
		RowCount:  &rowCount,
	}); err != nil {
		fmt.Printf("Failed to mark job %s succeeded: %v\n", req.JobID, err)
		return
	}
	w.logInfo(ctx, req.JobID, fmt.Sprintf("import finished: %d rows, checksum %s", accepted, checksum))
	fmt.Printf("Import job %s finished: version=%s rows=%d\n", req.JobID, res.VersionID, accepted)
}

// fetchSources resolves the request into in-memory parser sources,
// scraping the index page first when the request carries one.
func (w *ImportWorker) fetchSources(ctx context.Context, req *protocol.ImportRequest) ([]irradiance.Source, error) {
	urls := req.SourceURLs
	if req.IndexURL != "" {
		files, err := discover.DiscoverSources(ctx, w.client, req.IndexURL)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			urls = append(urls, f.URL)
		}
		w.logInfo(ctx, req.JobID, fmt.Sprintf("discovered %d file(s) on index page", len(files)))
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no source files to download")
	}

	var sources []irradiance.Source
	for _, rawURL := range urls {
		data, err := w.download(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", rawURL, err)
		}
		sources = append(sources, irradiance.Source{
			Name:   fileNameOf(rawURL),
			Reader: bytes.NewReader(data),
		})
	}
	return sources, nil
}

func (w *ImportWorker) download(ctx context.Context, rawURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// datasetUnit looks up the catalog unit for a dataset, falling back to
// the common one when the lookup fails. The version is already open at
// this point, so a catalog hiccup should not sink the run.
func (w *ImportWorker) datasetUnit(ctx context.Context, datasetCode string) string {
	if w.registry == nil {
		return "kWh/m2/day"
	}
	dataset, err := w.registry.Get(ctx, datasetCode)
	if err != nil || dataset.DefaultUnit == "" {
		return "kWh/m2/day"
	}
	return dataset.DefaultUnit
}

func (w *ImportWorker) failJob(ctx context.Context, jobID, message string) {
	if err := w.tracker.AppendLog(ctx, jobID, jobs.LevelError, message); err != nil {
		fmt.Printf("Failed to append log for job %s: %v\n", jobID, err)
	}
	if err := w.tracker.SetStatus(ctx, jobID, database.JobFailed, jobs.StatusExtra{ErrorMessage: message}); err != nil {
		fmt.Printf("Failed to mark job %s failed: %v\n", jobID, err)
	}
	fmt.Printf("Import job %s failed: %s\n", jobID, message)
}

func (w *ImportWorker) logInfo(ctx context.Context, jobID, message string) {
	if err := w.tracker.AppendLog(ctx, jobID, jobs.LevelInfo, message); err != nil {
		fmt.Printf("Failed to append log for job %s: %v\n", jobID, err)
	}
}

func (w *ImportWorker) logWarn(ctx context.Context, jobID, message string) {
	if err := w.tracker.AppendLog(ctx, jobID, jobs.LevelWarn, message); err != nil {
		fmt.Printf("Failed to append log for job %s: %v\n", jobID, err)
	}
}

func sourceNames(sources []irradiance.Source) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	return names
}

func fileNameOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}
