package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jszwec/csvutil"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
)

// ErrNotFound is returned when a dataset code has no catalog entry
var ErrNotFound = errors.New("dataset not in catalog")

// Store is the persistence surface for the catalog
type Store interface {
	GetDatasetByCode(ctx context.Context, code string) (*database.Dataset, error)
	ListDatasets(ctx context.Context) ([]*database.Dataset, error)
	UpsertDataset(ctx context.Context, d *database.Dataset) error
}

// Registry is the static dataset catalog: pure lookup plus a seed
// loader for the reference data shipped with the service.
type Registry struct {
	store Store
}

// NewRegistry creates a registry
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Get looks a dataset up by code
func (r *Registry) Get(ctx context.Context, code string) (*database.Dataset, error) {
	d, err := r.store.GetDatasetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	return d, nil
}

// List returns the whole catalog
func (r *Registry) List(ctx context.Context) ([]*database.Dataset, error) {
	return r.store.ListDatasets(ctx)
}

// seedRecord maps one row of the datasets seed CSV
type seedRecord struct {
	Code         string   `csv:"code"`
	Name         string   `csv:"name"`
	Provider     string   `csv:"provider"`
	ResolutionKm *float64 `csv:"resolution_km"`
	DefaultUnit  string   `csv:"default_unit"`
}

// SeedFromCSV upserts catalog entries from a seed file. Existing codes
// keep their ids; new codes get fresh ones. Returns the number of rows
// applied.
func (r *Registry) SeedFromCSV(ctx context.Context, reader io.Reader) (int, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var records []seedRecord
	if err := csvutil.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("failed to decode seed file: %w", err)
	}

	applied := 0
	for i, rec := range records {
		if rec.Code == "" {
			return applied, fmt.Errorf("seed row %d has no dataset code", i+1)
		}

		existing, err := r.store.GetDatasetByCode(ctx, rec.Code)
		if err != nil {
			return applied, err
		}

		d := &database.Dataset{
			Code:         rec.Code,
			Name:         rec.Name,
			Provider:     rec.Provider,
			ResolutionKm: rec.ResolutionKm,
			DefaultUnit:  rec.DefaultUnit,
		}
		if existing != nil {
			d.ID = existing.ID
		} else {
			d.ID = uuid.New().String()
		}
		if d.DefaultUnit == "" {
			d.DefaultUnit = "kWh/m2/day"
		}

		if err := r.store.UpsertDataset(ctx, d); err != nil {
			return applied, fmt.Errorf("failed to upsert dataset %s: %w", rec.Code, err)
		}
		applied++
	}

	return applied, nil
}
