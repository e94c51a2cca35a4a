package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
)

// ErrJobNotFound is returned for unknown job ids
var ErrJobNotFound = errors.New("import job not found")

// ErrTerminalStatus is returned when a status change targets a job that
// already reached success or failed.
var ErrTerminalStatus = errors.New("import job already in a terminal status")

// Log levels for job log lines
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Store is the persistence surface for jobs and their logs
type Store interface {
	InsertJob(ctx context.Context, j *database.ImportJob) error
	GetJob(ctx context.Context, jobID string) (*database.ImportJob, error)
	UpdateJob(ctx context.Context, j *database.ImportJob) error
	InsertJobLog(ctx context.Context, jobID, level, message string) error
	GetJobLogs(ctx context.Context, jobID string) ([]*database.ImportJobLog, error)
}

// Tracker records asynchronous import jobs. A job is the outward-facing
// handle a caller polls; whether it produced a version is visible on the
// job record itself.
type Tracker struct {
	store Store
}

// NewTracker creates a job tracker
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Create registers a new queued job for a dataset
func (t *Tracker) Create(ctx context.Context, datasetCode string) (*database.ImportJob, error) {
	job := &database.ImportJob{
		JobID:       uuid.New().String(),
		DatasetCode: datasetCode,
		Status:      database.JobQueued,
	}
	if err := t.store.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// GetStatus retrieves a job by id
func (t *Tracker) GetStatus(ctx context.Context, jobID string) (*database.ImportJob, error) {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// GetLogs returns a job's log lines in timestamp order
func (t *Tracker) GetLogs(ctx context.Context, jobID string) ([]*database.ImportJobLog, error) {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return t.store.GetJobLogs(ctx, jobID)
}

// AppendLog adds one line to a job's log stream
func (t *Tracker) AppendLog(ctx context.Context, jobID, level, message string) error {
	switch level {
	case LevelInfo, LevelWarn, LevelError:
	default:
		level = LevelInfo
	}
	return t.store.InsertJobLog(ctx, jobID, level, message)
}

// StatusExtra carries the optional fields stamped along a status change
type StatusExtra struct {
	VersionID    string
	RowCount     *int
	ErrorMessage string
}

// SetStatus moves a job to a new status. queued -> running and
// running -> success|failed are the only transitions; terminal jobs are
// immutable. started_at and finished_at are stamped as the job passes
// through.
func (t *Tracker) SetStatus(ctx context.Context, jobID, status string, extra StatusExtra) error {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status == database.JobSuccess || job.Status == database.JobFailed {
		return ErrTerminalStatus
	}

	now := time.Now()
	switch status {
	case database.JobRunning:
		job.StartedAt = &now
	case database.JobSuccess, database.JobFailed:
		job.FinishedAt = &now
	default:
		return fmt.Errorf("unknown job status %q", status)
	}
	job.Status = status

	if extra.VersionID != "" {
		job.VersionID = &extra.VersionID
	}
	if extra.RowCount != nil {
		job.RowCount = extra.RowCount
	}
	if extra.ErrorMessage != "" {
		job.ErrorMessage = &extra.ErrorMessage
	}

	return t.store.UpdateJob(ctx, job)
}
