package version

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
)

// fakeStore is an in-memory Store with the same idempotency semantics as
// the Postgres unique index.
type fakeStore struct {
	mu       sync.Mutex
	datasets map[string]*database.Dataset
	versions map[string]*database.DatasetVersion
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		datasets: map[string]*database.Dataset{
			"NASA_POWER": {ID: "ds-1", Code: "NASA_POWER", Name: "NASA POWER", Provider: "NASA"},
		},
		versions: map[string]*database.DatasetVersion{},
	}
}

func (s *fakeStore) GetDatasetByCode(_ context.Context, code string) (*database.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datasets[code], nil
}

func (s *fakeStore) GetVersionByKey(_ context.Context, datasetID, tag string) (*database.DatasetVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.DatasetID == datasetID && v.VersionTag == tag {
			return v, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) InsertVersion(_ context.Context, v *database.DatasetVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.versions {
		if existing.DatasetID == v.DatasetID && existing.VersionTag == v.VersionTag {
			return database.ErrDuplicateVersion
		}
	}
	copied := *v
	s.versions[v.ID] = &copied
	return nil
}

func (s *fakeStore) GetVersion(_ context.Context, id string) (*database.DatasetVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[id], nil
}

func (s *fakeStore) FinalizeVersion(_ context.Context, id string, rowCount int, checksum string, metadata string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok || v.Status != database.StatusProcessing {
		return database.ErrNotProcessing
	}
	for _, other := range s.versions {
		if other.DatasetID == v.DatasetID && other.ID != id && other.Status == database.StatusActive {
			other.Status = database.StatusDeprecated
		}
	}
	v.Status = database.StatusActive
	v.RowCount = rowCount
	v.ChecksumSHA256 = &checksum
	v.Metadata = metadata
	return nil
}

func (s *fakeStore) AbortVersion(_ context.Context, id string, metadata string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok || v.Status != database.StatusProcessing {
		return database.ErrNotProcessing
	}
	v.Status = database.StatusFailed
	v.Metadata = metadata
	return nil
}

func (s *fakeStore) countForKey(datasetID, tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.versions {
		if v.DatasetID == datasetID && v.VersionTag == tag {
			n++
		}
	}
	return n
}

func TestManager_InitVersion(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	res, err := m.InitVersion(context.Background(), "NASA_POWER", "v2024.05", "monthly refresh")
	if err != nil {
		t.Fatalf("InitVersion failed: %v", err)
	}
	if res.DatasetID != "ds-1" {
		t.Errorf("Expected dataset ds-1, got %s", res.DatasetID)
	}

	v, _ := store.GetVersion(context.Background(), res.VersionID)
	if v.Status != database.StatusProcessing {
		t.Errorf("Expected processing status, got %s", v.Status)
	}
	if v.RowCount != 0 {
		t.Errorf("Expected row_count 0, got %d", v.RowCount)
	}
}

func TestManager_InitVersion_UnknownDataset(t *testing.T) {
	m := NewManager(newFakeStore())

	_, err := m.InitVersion(context.Background(), "NO_SUCH", "v1", "")
	if err != ErrDatasetNotFound {
		t.Errorf("Expected ErrDatasetNotFound, got %v", err)
	}
}

func TestManager_InitVersion_ProcessingConflict(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	_, err := m.InitVersion(context.Background(), "NASA_POWER", "v2024.05", "")
	if err != nil {
		t.Fatalf("first InitVersion failed: %v", err)
	}

	_, err = m.InitVersion(context.Background(), "NASA_POWER", "v2024.05", "")
	ce, ok := AsConflict(err)
	if !ok {
		t.Fatalf("Expected ConflictError, got %v", err)
	}
	if ce.Kind != VersionProcessing {
		t.Errorf("Expected VERSION_PROCESSING, got %s", ce.Kind)
	}
	if n := store.countForKey("ds-1", "v2024.05"); n != 1 {
		t.Errorf("Expected exactly 1 version row, got %d", n)
	}
}

func TestManager_InitVersion_TerminalConflict(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	res, _ := m.InitVersion(context.Background(), "NASA_POWER", "v2024.05", "")
	if err := m.Finalize(context.Background(), res.VersionID, 10, "abc", nil); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	_, err := m.InitVersion(context.Background(), "NASA_POWER", "v2024.05", "")
	ce, ok := AsConflict(err)
	if !ok {
		t.Fatalf("Expected ConflictError, got %v", err)
	}
	if ce.Kind != VersionExists {
		t.Errorf("Expected VERSION_EXISTS, got %s", ce.Kind)
	}
}

func TestManager_InitVersion_RacingCallers(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.InitVersion(context.Background(), "NASA_POWER", "v2024.06", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		if _, ok := AsConflict(err); ok {
			conflicts++
			continue
		}
		t.Errorf("Unexpected error: %v", err)
	}

	if wins != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", wins)
	}
	if conflicts != racers-1 {
		t.Errorf("Expected %d conflicts, got %d", racers-1, conflicts)
	}
	if n := store.countForKey("ds-1", "v2024.06"); n != 1 {
		t.Errorf("Expected exactly 1 version row, got %d", n)
	}
}

func TestManager_Finalize_DemotesPreviousActive(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	first, _ := m.InitVersion(context.Background(), "NASA_POWER", "v2024.05", "")
	if err := m.Finalize(context.Background(), first.VersionID, 100, "aaa", nil); err != nil {
		t.Fatalf("first Finalize failed: %v", err)
	}

	second, _ := m.InitVersion(context.Background(), "NASA_POWER", "v2024.06", "")
	if err := m.Finalize(context.Background(), second.VersionID, 120, "bbb", map[string]interface{}{"has_dhi": true}); err != nil {
		t.Fatalf("second Finalize failed: %v", err)
	}

	v1, _ := store.GetVersion(context.Background(), first.VersionID)
	if v1.Status != database.StatusDeprecated {
		t.Errorf("Expected first version deprecated, got %s", v1.Status)
	}
	v2, _ := store.GetVersion(context.Background(), second.VersionID)
	if v2.Status != database.StatusActive {
		t.Errorf("Expected second version active, got %s", v2.Status)
	}
	if v2.RowCount != 120 {
		t.Errorf("Expected row_count 120, got %d", v2.RowCount)
	}
	if v2.ChecksumSHA256 == nil || *v2.ChecksumSHA256 != "bbb" {
		t.Errorf("Checksum not stamped: %v", v2.ChecksumSHA256)
	}
}

func TestManager_Finalize_RejectsTerminal(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	res, _ := m.InitVersion(context.Background(), "NASA_POWER", "v2024.05", "")
	if err := m.Abort(context.Background(), res.VersionID, "network timeout"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	err := m.Finalize(context.Background(), res.VersionID, 10, "abc", nil)
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("Expected StateError, got %v", err)
	}
	if se.From != database.StatusFailed {
		t.Errorf("Expected transition from failed, got %s", se.From)
	}
}

func TestManager_Abort_Idempotent(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	res, _ := m.InitVersion(context.Background(), "NASA_POWER", "v2024.05", "")
	if err := m.Abort(context.Background(), res.VersionID, "network timeout"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	// Second abort on a terminal version is a no-op
	if err := m.Abort(context.Background(), res.VersionID, "again"); err != nil {
		t.Errorf("Repeated Abort should be nil, got %v", err)
	}

	v, _ := store.GetVersion(context.Background(), res.VersionID)
	if v.Status != database.StatusFailed {
		t.Errorf("Expected failed status, got %s", v.Status)
	}
	if !strings.Contains(v.Metadata, "network timeout") {
		t.Errorf("Expected first error message retained, got %s", v.Metadata)
	}
}
