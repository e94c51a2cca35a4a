package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/version"
	"github.com/realizacred/mais-energia-solar-sub003/pkg/config"
)

type fakeStore struct {
	version *database.DatasetVersion
	dataset *database.Dataset
	extent  *database.VersionExtent
}

func (s *fakeStore) GetVersion(context.Context, string) (*database.DatasetVersion, error) {
	return s.version, nil
}

func (s *fakeStore) GetDatasetByID(context.Context, string) (*database.Dataset, error) {
	return s.dataset, nil
}

func (s *fakeStore) GetVersionExtent(context.Context, string) (*database.VersionExtent, error) {
	return s.extent, nil
}

func f(v float64) *float64 { return &v }

func coverage() config.CoverageConfig {
	return config.CoverageConfig{Boxes: map[string]config.CoverageBox{
		"NASA_POWER": {MinLat: -33.75, MaxLat: 5.27, MinLon: -73.99, MaxLon: -34.79, Tolerance: 0.5},
	}}
}

func checkByLabel(t *testing.T, r *Report, label string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Label == label {
			return c
		}
	}
	t.Fatalf("check %q not found in %+v", label, r.Checks)
	return Check{}
}

func activeVersion(rowCount int, checksum string) *database.DatasetVersion {
	v := &database.DatasetVersion{
		ID:        "v-1",
		DatasetID: "ds-1",
		Status:    database.StatusActive,
		RowCount:  rowCount,
	}
	if checksum != "" {
		v.ChecksumSHA256 = &checksum
	}
	return v
}

func fullExtent(points int) *database.VersionExtent {
	return &database.VersionExtent{
		PointCount: points,
		MinLat:     f(-33.7), MaxLat: f(5.2),
		MinLon: f(-73.9), MaxLon: f(-34.8),
		HasDHI: true,
	}
}

func TestAudit_AllClear(t *testing.T) {
	store := &fakeStore{
		version: activeVersion(500, "abc123"),
		dataset: &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		extent:  fullExtent(500),
	}
	a := NewAuditor(store, coverage())

	report, err := a.Audit(context.Background(), "v-1")
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}

	if report.Summary != "all clear" {
		t.Errorf("Expected all clear, got %q", report.Summary)
	}
	if report.Worst() != SeverityOK {
		t.Errorf("Expected worst ok, got %s", report.Worst())
	}
	if len(report.Checks) != 5 {
		t.Errorf("Expected 5 checks on a terminal version, got %d", len(report.Checks))
	}
	if c := checkByLabel(t, report, "Cobertura"); c.Severity != SeverityOK {
		t.Errorf("Expected Cobertura ok, got %s: %s", c.Severity, c.Detail)
	}
}

func TestAudit_ZeroPointsIsError(t *testing.T) {
	store := &fakeStore{
		version: activeVersion(0, "abc123"),
		dataset: &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		extent:  &database.VersionExtent{PointCount: 0},
	}
	a := NewAuditor(store, coverage())

	report, err := a.Audit(context.Background(), "v-1")
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}

	if c := checkByLabel(t, report, "Pontos"); c.Severity != SeverityError {
		t.Errorf("Expected Pontos error, got %s", c.Severity)
	}
	if report.Worst() != SeverityError {
		t.Errorf("Expected worst error, got %s", report.Worst())
	}
}

func TestAudit_RowCountMismatch(t *testing.T) {
	store := &fakeStore{
		version: activeVersion(500, "abc123"),
		dataset: &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		extent:  fullExtent(480),
	}
	a := NewAuditor(store, coverage())

	report, _ := a.Audit(context.Background(), "v-1")

	c := checkByLabel(t, report, "Pontos")
	if c.Severity != SeverityWarning {
		t.Errorf("Expected Pontos warning on terminal mismatch, got %s", c.Severity)
	}
	if c.SuggestedAction != "re-run ingestion" {
		t.Errorf("Expected suggested action, got %q", c.SuggestedAction)
	}
}

func TestAudit_ProcessingGradesGapsAsInfo(t *testing.T) {
	v := activeVersion(500, "")
	v.Status = database.StatusProcessing
	store := &fakeStore{
		version: v,
		dataset: &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		extent: &database.VersionExtent{
			PointCount: 200,
			MinLat:     f(-20.0), MaxLat: f(5.2),
			MinLon: f(-73.9), MaxLon: f(-34.8),
		},
	}
	a := NewAuditor(store, coverage())

	report, _ := a.Audit(context.Background(), "v-1")

	if c := checkByLabel(t, report, "Status"); c.Severity != SeverityInfo {
		t.Errorf("Expected Status info while processing, got %s", c.Severity)
	}
	if c := checkByLabel(t, report, "Pontos"); c.Severity != SeverityInfo {
		t.Errorf("Expected Pontos info while processing, got %s", c.Severity)
	}
	if c := checkByLabel(t, report, "Cobertura"); c.Severity != SeverityInfo {
		t.Errorf("Expected Cobertura info while processing, got %s", c.Severity)
	}

	// Diffuse and checksum checks are skipped entirely mid-ingestion
	for _, c := range report.Checks {
		if c.Label == "Componente difusa" || c.Label == "Checksum" {
			t.Errorf("Check %q should be skipped while processing", c.Label)
		}
	}
}

func TestAudit_PartialCoverageNamesMissingEdges(t *testing.T) {
	store := &fakeStore{
		version: activeVersion(300, "abc123"),
		dataset: &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		extent: &database.VersionExtent{
			PointCount: 300,
			MinLat:     f(-20.0), MaxLat: f(5.2), // south edge short
			MinLon: f(-73.9), MaxLon: f(-40.0), // east edge short
			HasDHI: true,
		},
	}
	a := NewAuditor(store, coverage())

	report, _ := a.Audit(context.Background(), "v-1")

	c := checkByLabel(t, report, "Cobertura")
	if c.Severity != SeverityError {
		t.Errorf("Expected Cobertura error on terminal partial coverage, got %s", c.Severity)
	}
	for _, edge := range []string{"south", "east"} {
		if !strings.Contains(c.Detail, edge) {
			t.Errorf("Expected missing edge %q named in detail %q", edge, c.Detail)
		}
	}
	for _, edge := range []string{"north", "west"} {
		if strings.Contains(c.Detail, edge) {
			t.Errorf("Edge %q should not be reported missing in %q", edge, c.Detail)
		}
	}
}

func TestAudit_MissingDiffuseAndChecksum(t *testing.T) {
	ext := fullExtent(400)
	ext.HasDHI = false
	store := &fakeStore{
		version: activeVersion(400, ""),
		dataset: &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		extent:  ext,
	}
	a := NewAuditor(store, coverage())

	report, _ := a.Audit(context.Background(), "v-1")

	if c := checkByLabel(t, report, "Componente difusa"); c.Severity != SeverityWarning {
		t.Errorf("Expected diffuse warning, got %s", c.Severity)
	}
	if c := checkByLabel(t, report, "Checksum"); c.Severity != SeverityWarning {
		t.Errorf("Expected checksum warning, got %s", c.Severity)
	}
	if report.Summary != "2 warnings" {
		t.Errorf("Expected summary '2 warnings', got %q", report.Summary)
	}
}

func TestAudit_FailedVersion(t *testing.T) {
	v := activeVersion(0, "")
	v.Status = database.StatusFailed
	store := &fakeStore{
		version: v,
		dataset: &database.Dataset{ID: "ds-1", Code: "NASA_POWER"},
		extent:  &database.VersionExtent{PointCount: 0},
	}
	a := NewAuditor(store, coverage())

	report, _ := a.Audit(context.Background(), "v-1")

	if c := checkByLabel(t, report, "Status"); c.Severity != SeverityError {
		t.Errorf("Expected Status error for failed version, got %s", c.Severity)
	}
}

func TestAudit_UnknownVersion(t *testing.T) {
	a := NewAuditor(&fakeStore{}, coverage())

	_, err := a.Audit(context.Background(), "nope")
	if err != version.ErrVersionNotFound {
		t.Errorf("Expected ErrVersionNotFound, got %v", err)
	}
}
