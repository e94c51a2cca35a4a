package purge

import (
	"context"
	"fmt"
	"log"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/version"
)

// Store is the persistence surface the purge coordinator needs. The
// relational cascade runs inside the store in one transaction.
type Store interface {
	GetDatasetByID(ctx context.Context, id string) (*database.Dataset, error)
	ListVersionIDs(ctx context.Context, datasetID string) ([]string, error)
	PurgeDatasetRows(ctx context.Context, datasetID, datasetCode string) (int, error)
}

// CacheInvalidator removes a version's lookup cache entries
type CacheInvalidator interface {
	InvalidateVersion(ctx context.Context, versionID string) (int, error)
}

// Summary reports what a purge removed
type Summary struct {
	VersionsRemoved  int `json:"versions_removed"`
	CacheKeysRemoved int `json:"cache_keys_removed"`
}

// Coordinator tears down a dataset's versions, points, jobs and cache
// entries. The dataset catalog row stays. Re-invoking on an already
// purged dataset is a no-op.
type Coordinator struct {
	store Store
	cache CacheInvalidator
}

// NewCoordinator creates a purge coordinator. cache may be nil when no
// lookup cache is wired (tests, offline tools).
func NewCoordinator(store Store, cache CacheInvalidator) *Coordinator {
	return &Coordinator{store: store, cache: cache}
}

// Purge removes everything hanging off a dataset. The cache sweep is
// best-effort per version and only logged on failure; the relational
// cascade is transactional, so a failure there leaves no half-deleted
// rows behind.
func (c *Coordinator) Purge(ctx context.Context, datasetID string) (*Summary, error) {
	dataset, err := c.store.GetDatasetByID(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	if dataset == nil {
		return nil, version.ErrDatasetNotFound
	}

	versionIDs, err := c.store.ListVersionIDs(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	summary := &Summary{}

	if c.cache != nil {
		for _, versionID := range versionIDs {
			removed, err := c.cache.InvalidateVersion(ctx, versionID)
			summary.CacheKeysRemoved += removed
			if err != nil {
				log.Printf("purge: cache sweep failed for version %s: %v", versionID, err)
			}
		}
	}

	removed, err := c.store.PurgeDatasetRows(ctx, datasetID, dataset.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to purge dataset rows: %w", err)
	}
	summary.VersionsRemoved = removed

	return summary, nil
}
