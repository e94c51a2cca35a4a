package purge

import (
	"context"
	"errors"
	"testing"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/version"
)

type fakeStore struct {
	dataset    *database.Dataset
	versionIDs []string
	purged     bool
}

func (s *fakeStore) GetDatasetByID(context.Context, string) (*database.Dataset, error) {
	return s.dataset, nil
}

func (s *fakeStore) ListVersionIDs(context.Context, string) ([]string, error) {
	return s.versionIDs, nil
}

func (s *fakeStore) PurgeDatasetRows(context.Context, string, string) (int, error) {
	n := len(s.versionIDs)
	s.versionIDs = nil
	s.purged = true
	return n, nil
}

type fakeCache struct {
	invalidated []string
	failFor     string
}

func (c *fakeCache) InvalidateVersion(_ context.Context, versionID string) (int, error) {
	if versionID == c.failFor {
		return 0, errors.New("redis unavailable")
	}
	c.invalidated = append(c.invalidated, versionID)
	return 2, nil
}

func TestPurge_Cascades(t *testing.T) {
	store := &fakeStore{
		dataset:    &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		versionIDs: []string{"v-1", "v-2"},
	}
	cache := &fakeCache{}
	c := NewCoordinator(store, cache)

	summary, err := c.Purge(context.Background(), "ds-1")
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	if summary.VersionsRemoved != 2 {
		t.Errorf("Expected 2 versions removed, got %d", summary.VersionsRemoved)
	}
	if summary.CacheKeysRemoved != 4 {
		t.Errorf("Expected 4 cache keys removed, got %d", summary.CacheKeysRemoved)
	}
	if len(cache.invalidated) != 2 {
		t.Errorf("Expected both versions invalidated, got %v", cache.invalidated)
	}
	if !store.purged {
		t.Error("Expected relational purge to run")
	}
}

func TestPurge_Idempotent(t *testing.T) {
	store := &fakeStore{
		dataset:    &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		versionIDs: []string{"v-1"},
	}
	c := NewCoordinator(store, &fakeCache{})

	if _, err := c.Purge(context.Background(), "ds-1"); err != nil {
		t.Fatalf("first Purge failed: %v", err)
	}

	// Dataset row survives, so a repeat purge finds nothing and succeeds
	summary, err := c.Purge(context.Background(), "ds-1")
	if err != nil {
		t.Fatalf("repeat Purge failed: %v", err)
	}
	if summary.VersionsRemoved != 0 {
		t.Errorf("Expected 0 versions on repeat purge, got %d", summary.VersionsRemoved)
	}
}

func TestPurge_CacheFailureDoesNotAbort(t *testing.T) {
	store := &fakeStore{
		dataset:    &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		versionIDs: []string{"v-1", "v-2"},
	}
	cache := &fakeCache{failFor: "v-1"}
	c := NewCoordinator(store, cache)

	summary, err := c.Purge(context.Background(), "ds-1")
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if summary.VersionsRemoved != 2 {
		t.Errorf("Expected relational purge to proceed, got %d versions", summary.VersionsRemoved)
	}
}

func TestPurge_UnknownDataset(t *testing.T) {
	c := NewCoordinator(&fakeStore{}, nil)

	_, err := c.Purge(context.Background(), "nope")
	if err != version.ErrDatasetNotFound {
		t.Errorf("Expected ErrDatasetNotFound, got %v", err)
	}
}
