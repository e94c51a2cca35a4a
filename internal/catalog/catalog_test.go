package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
)

type fakeStore struct {
	datasets map[string]*database.Dataset
}

func newFakeStore() *fakeStore {
	return &fakeStore{datasets: map[string]*database.Dataset{}}
}

func (s *fakeStore) GetDatasetByCode(_ context.Context, code string) (*database.Dataset, error) {
	return s.datasets[code], nil
}

func (s *fakeStore) ListDatasets(context.Context) ([]*database.Dataset, error) {
	var out []*database.Dataset
	for _, d := range s.datasets {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) UpsertDataset(_ context.Context, d *database.Dataset) error {
	copied := *d
	s.datasets[d.Code] = &copied
	return nil
}

const seedCSV = `code,name,provider,resolution_km,default_unit
NASA_POWER,NASA POWER,NASA,50,kWh/m2/day
INPE_LABREN,Atlas Brasileiro,INPE,10,
`

func TestRegistry_SeedFromCSV(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store)

	n, err := r.SeedFromCSV(context.Background(), strings.NewReader(seedCSV))
	if err != nil {
		t.Fatalf("SeedFromCSV failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 rows applied, got %d", n)
	}

	d, err := r.Get(context.Background(), "NASA_POWER")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.Provider != "NASA" {
		t.Errorf("Expected provider NASA, got %s", d.Provider)
	}
	if d.ResolutionKm == nil || *d.ResolutionKm != 50 {
		t.Errorf("Expected resolution 50, got %v", d.ResolutionKm)
	}

	inpe, _ := r.Get(context.Background(), "INPE_LABREN")
	if inpe.DefaultUnit != "kWh/m2/day" {
		t.Errorf("Expected default unit fallback, got %q", inpe.DefaultUnit)
	}
}

func TestRegistry_SeedKeepsExistingIDs(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store)

	r.SeedFromCSV(context.Background(), strings.NewReader(seedCSV))
	first, _ := r.Get(context.Background(), "NASA_POWER")

	if _, err := r.SeedFromCSV(context.Background(), strings.NewReader(seedCSV)); err != nil {
		t.Fatalf("reseed failed: %v", err)
	}
	second, _ := r.Get(context.Background(), "NASA_POWER")

	if first.ID != second.ID {
		t.Errorf("Reseed changed the dataset id: %s -> %s", first.ID, second.ID)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry(newFakeStore())

	if _, err := r.Get(context.Background(), "NOPE"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
