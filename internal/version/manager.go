package version

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
)

// Store is the persistence surface the lifecycle manager needs. The
// Postgres store implements it; tests use an in-memory fake.
type Store interface {
	GetDatasetByCode(ctx context.Context, code string) (*database.Dataset, error)
	GetVersionByKey(ctx context.Context, datasetID, versionTag string) (*database.DatasetVersion, error)
	InsertVersion(ctx context.Context, v *database.DatasetVersion) error
	GetVersion(ctx context.Context, versionID string) (*database.DatasetVersion, error)
	FinalizeVersion(ctx context.Context, versionID string, rowCount int, checksum string, metadata string) error
	AbortVersion(ctx context.Context, versionID string, metadata string) error
}

// transitions is the lifecycle table. processing is the only initial
// state; active and failed are terminal except for active -> deprecated.
var transitions = map[string][]string{
	database.StatusProcessing: {database.StatusActive, database.StatusFailed},
	database.StatusActive:     {database.StatusDeprecated},
	database.StatusFailed:     {},
	database.StatusDeprecated: {},
}

func canTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Manager owns the version lifecycle: creation with the idempotency
// check, finalization and abort.
type Manager struct {
	store Store
}

// NewManager creates a new lifecycle manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// InitResult is the successful outcome of InitVersion
type InitResult struct {
	VersionID string
	DatasetID string
}

// InitVersion opens a new processing version for (datasetCode,
// versionTag). The check-then-create is the idempotency boundary: an
// existing terminal version yields VERSION_EXISTS, an existing
// processing one VERSION_PROCESSING. A racer that loses the
// unique-index race on insert gets the same conflict answer as if it
// had seen the row up front.
func (m *Manager) InitVersion(ctx context.Context, datasetCode, versionTag, sourceNote string) (*InitResult, error) {
	if datasetCode == "" || versionTag == "" {
		return nil, &ValidationError{Detail: "dataset code and version tag are required"}
	}

	dataset, err := m.store.GetDatasetByCode(ctx, datasetCode)
	if err != nil {
		return nil, fmt.Errorf("failed to look up dataset %s: %w", datasetCode, err)
	}
	if dataset == nil {
		return nil, ErrDatasetNotFound
	}

	existing, err := m.store.GetVersionByKey(ctx, dataset.ID, versionTag)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing version: %w", err)
	}
	if existing != nil {
		return nil, conflictFor(existing, versionTag)
	}

	v := &database.DatasetVersion{
		ID:         uuid.New().String(),
		DatasetID:  dataset.ID,
		VersionTag: versionTag,
		Status:     database.StatusProcessing,
		RowCount:   0,
		Metadata:   "{}",
	}
	if sourceNote != "" {
		v.SourceNote = &sourceNote
	}

	if err := m.store.InsertVersion(ctx, v); err != nil {
		if err == database.ErrDuplicateVersion {
			// Lost the race: report the conflict the winner created
			winner, lookupErr := m.store.GetVersionByKey(ctx, dataset.ID, versionTag)
			if lookupErr == nil && winner != nil {
				return nil, conflictFor(winner, versionTag)
			}
			return nil, &ConflictError{Kind: VersionProcessing, DatasetID: dataset.ID, VersionTag: versionTag}
		}
		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	return &InitResult{VersionID: v.ID, DatasetID: dataset.ID}, nil
}

func conflictFor(v *database.DatasetVersion, tag string) *ConflictError {
	kind := VersionExists
	if v.Status == database.StatusProcessing {
		kind = VersionProcessing
	}
	return &ConflictError{Kind: kind, DatasetID: v.DatasetID, VersionTag: tag}
}

// Finalize moves a processing version to active, stamping row count,
// checksum and ingestion time. The previously active version of the
// dataset is demoted to deprecated by the store in the same transaction.
// Row count is recorded as reported; verifying it against stored points
// is the integrity audit's job.
func (m *Manager) Finalize(ctx context.Context, versionID string, rowCount int, checksum string, meta map[string]interface{}) error {
	v, err := m.store.GetVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("failed to load version: %w", err)
	}
	if v == nil {
		return ErrVersionNotFound
	}
	if !canTransition(v.Status, database.StatusActive) {
		return &StateError{VersionID: versionID, From: v.Status, To: database.StatusActive}
	}

	if meta == nil {
		meta = map[string]interface{}{}
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := m.store.FinalizeVersion(ctx, versionID, rowCount, checksum, string(metadata)); err != nil {
		if err == database.ErrNotProcessing {
			return &StateError{VersionID: versionID, From: v.Status, To: database.StatusActive}
		}
		return fmt.Errorf("failed to finalize version: %w", err)
	}
	return nil
}

// Abort moves a processing version to failed, recording the error
// message in its metadata. Aborting an already-terminal version is a
// no-op, so retries after a failure report are harmless.
func (m *Manager) Abort(ctx context.Context, versionID, errorMessage string) error {
	v, err := m.store.GetVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("failed to load version: %w", err)
	}
	if v == nil {
		return ErrVersionNotFound
	}
	if v.Status != database.StatusProcessing {
		return nil
	}

	metadata, err := json.Marshal(map[string]string{"error": errorMessage})
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := m.store.AbortVersion(ctx, versionID, string(metadata)); err != nil {
		if err == database.ErrNotProcessing {
			// Someone else finished or aborted it first
			return nil
		}
		return fmt.Errorf("failed to abort version: %w", err)
	}
	return nil
}
