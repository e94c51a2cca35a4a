package protocol

import (
	"encoding/json"
	"fmt"
)

// Error codes surfaced to ingestion clients
const (
	ErrCodeVersionExists     = "VERSION_EXISTS"
	ErrCodeVersionProcessing = "VERSION_PROCESSING"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeValidation        = "VALIDATION"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternal          = "INTERNAL"
)

// ErrorResponse is the error shape of every endpoint
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// InitRequest opens a new version under the idempotency key
// (dataset_code, version_tag).
type InitRequest struct {
	DatasetCode string `json:"dataset_code"`
	VersionTag  string `json:"version_tag"`
	SourceNote  string `json:"source_note,omitempty"`
}

// InitResponse acknowledges a freshly opened version
type InitResponse struct {
	VersionID string `json:"version_id"`
	DatasetID string `json:"dataset_id"`
}

// PointRow is one canonical row crossing the wire in a batch
type PointRow struct {
	Lat float64      `json:"lat"`
	Lon float64      `json:"lon"`
	M   [12]*float64 `json:"m"`
	DHI [12]*float64 `json:"dhi,omitempty"`
	DNI [12]*float64 `json:"dni,omitempty"`
}

// BatchRequest submits one chunk of rows for a processing version
type BatchRequest struct {
	VersionID string     `json:"version_id"`
	Rows      []PointRow `json:"rows"`
}

// BatchResponse reports how many rows a chunk stored
type BatchResponse struct {
	AcceptedCount int `json:"accepted_count"`
}

// FinalizeRequest closes a version as active
type FinalizeRequest struct {
	VersionID string `json:"version_id"`
	DatasetID string `json:"dataset_id"`
	RowCount  int    `json:"row_count"`
	Checksum  string `json:"checksum"`
	HasDHI    bool   `json:"has_dhi"`
	HasDNI    bool   `json:"has_dni"`
}

// AbortRequest closes a version as failed
type AbortRequest struct {
	VersionID string `json:"version_id"`
	Error     string `json:"error"`
}

// OKResponse is the plain acknowledgement of finalize and abort
type OKResponse struct {
	OK bool `json:"ok"`
}

// ImportRequest is the Kafka message the server publishes to hand an
// ingestion to the importer worker. Either SourceURLs lists the
// component files directly, or IndexURL points at a provider page the
// worker scrapes for them.
type ImportRequest struct {
	JobID       string   `json:"job_id"`
	DatasetCode string   `json:"dataset_code"`
	VersionTag  string   `json:"version_tag"`
	SourceNote  string   `json:"source_note,omitempty"`
	SourceURLs  []string `json:"source_urls,omitempty"`
	IndexURL    string   `json:"index_url,omitempty"`
}

// Encode serializes an import request for the queue
func (r *ImportRequest) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeImportRequest parses an import request from the queue
func DecodeImportRequest(data []byte) (*ImportRequest, error) {
	var req ImportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid import request: %w", err)
	}
	if req.JobID == "" || req.DatasetCode == "" || req.VersionTag == "" {
		return nil, fmt.Errorf("import request missing job_id, dataset_code or version_tag")
	}
	if len(req.SourceURLs) == 0 && req.IndexURL == "" {
		return nil, fmt.Errorf("import request has no source urls or index url")
	}
	return &req, nil
}
