package database

import (
	"time"
)

// Dataset is a catalog entry for a named irradiance dataset
type Dataset struct {
	ID           string
	Code         string
	Name         string
	Provider     string
	ResolutionKm *float64
	DefaultUnit  string
	CreatedAt    time.Time
}

// Version status values
const (
	StatusProcessing = "processing"
	StatusActive     = "active"
	StatusFailed     = "failed"
	StatusDeprecated = "deprecated"
)

// DatasetVersion is one ingestion run of a dataset
type DatasetVersion struct {
	ID             string
	DatasetID      string
	VersionTag     string
	Status         string
	RowCount       int
	ChecksumSHA256 *string
	SourceNote     *string
	Metadata       string // JSON
	IngestedAt     *time.Time
	CreatedAt      time.Time
}

// DataPoint is one grid point of a version. Monthly slots are nil when
// the source had no value for that month or component.
type DataPoint struct {
	VersionID string
	Lat       float64
	Lon       float64
	Unit      string
	M         [12]*float64
	DHI       [12]*float64
	DNI       [12]*float64
}

// Import job status values
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobSuccess = "success"
	JobFailed  = "failed"
)

// ImportJob is the async handle a caller polls while an ingestion runs
type ImportJob struct {
	JobID        string
	DatasetCode  string
	VersionID    *string
	Status       string
	RowCount     *int
	ErrorMessage *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// ImportJobLog is one append-only log line owned by a job
type ImportJobLog struct {
	ID      int64
	JobID   string
	Ts      time.Time
	Level   string
	Message string
}

// VersionExtent is the stored-point summary the integrity audit reads
type VersionExtent struct {
	PointCount int
	MinLat     *float64
	MaxLat     *float64
	MinLon     *float64
	MaxLon     *float64
	HasDHI     bool
	HasDNI     bool
}
