package audit

import (
	"context"
	"fmt"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/version"
	"github.com/realizacred/mais-energia-solar-sub003/pkg/config"
)

// Severity grades one check. Roll-up priority is
// error > warning > info > ok.
type Severity string

const (
	SeverityOK      Severity = "ok"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

var severityRank = map[Severity]int{
	SeverityOK:      0,
	SeverityInfo:    1,
	SeverityWarning: 2,
	SeverityError:   3,
}

// Check is one independently graded audit item
type Check struct {
	Label           string   `json:"label"`
	Severity        Severity `json:"severity"`
	Detail          string   `json:"detail"`
	SuggestedAction string   `json:"suggested_action,omitempty"`
}

// Report is the full audit output for a version, including the raw
// extent figures the checks were graded from.
type Report struct {
	VersionID string                  `json:"version_id"`
	Status    string                  `json:"status"`
	Checks    []Check                 `json:"checks"`
	Summary   string                  `json:"summary"`
	Extent    *database.VersionExtent `json:"extent"`
}

// Store is the read surface the auditor needs
type Store interface {
	GetVersion(ctx context.Context, versionID string) (*database.DatasetVersion, error)
	GetDatasetByID(ctx context.Context, id string) (*database.Dataset, error)
	GetVersionExtent(ctx context.Context, versionID string) (*database.VersionExtent, error)
}

// Auditor evaluates a version against structural and geographic
// expectations. Safe to run mid-ingestion: a processing version grades
// expected gaps as info instead of failures.
type Auditor struct {
	store    Store
	coverage config.CoverageConfig
}

// NewAuditor creates an auditor
func NewAuditor(store Store, coverage config.CoverageConfig) *Auditor {
	return &Auditor{store: store, coverage: coverage}
}

// Audit runs every check and never short-circuits on a failure
func (a *Auditor) Audit(ctx context.Context, versionID string) (*Report, error) {
	v, err := a.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load version: %w", err)
	}
	if v == nil {
		return nil, version.ErrVersionNotFound
	}

	dataset, err := a.store.GetDatasetByID(ctx, v.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	extent, err := a.store.GetVersionExtent(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute extent: %w", err)
	}

	processing := v.Status == database.StatusProcessing

	report := &Report{VersionID: versionID, Status: v.Status, Extent: extent}
	report.Checks = append(report.Checks, checkStatus(v))
	report.Checks = append(report.Checks, checkRowCount(v, extent, processing))
	if dataset != nil {
		if box, ok := a.coverage.BoxFor(dataset.Code); ok {
			report.Checks = append(report.Checks, checkCoverage(box, extent, processing))
		}
	}
	if !processing {
		report.Checks = append(report.Checks, checkDiffuse(extent))
		report.Checks = append(report.Checks, checkChecksum(v))
	}

	report.Summary = summarize(report.Checks)
	return report, nil
}

func checkStatus(v *database.DatasetVersion) Check {
	c := Check{Label: "Status", Detail: v.Status}
	switch v.Status {
	case database.StatusActive:
		c.Severity = SeverityOK
	case database.StatusProcessing:
		c.Severity = SeverityInfo
		c.Detail = "processing: partial data until completion"
	case database.StatusFailed:
		c.Severity = SeverityError
		c.Detail = "version failed during ingestion"
		c.SuggestedAction = "re-run ingestion"
	default:
		c.Severity = SeverityWarning
	}
	return c
}

func checkRowCount(v *database.DatasetVersion, extent *database.VersionExtent, processing bool) Check {
	c := Check{Label: "Pontos"}
	actual := extent.PointCount

	switch {
	case v.RowCount == 0 && actual == 0:
		c.Severity = SeverityError
		c.Detail = "no points recorded or stored"
	case v.RowCount == actual:
		c.Severity = SeverityOK
		c.Detail = fmt.Sprintf("%d points", actual)
	case processing:
		c.Severity = SeverityInfo
		c.Detail = fmt.Sprintf("%d of %d points stored, still filling", actual, v.RowCount)
	default:
		c.Severity = SeverityWarning
		c.Detail = fmt.Sprintf("recorded %d points but stored %d", v.RowCount, actual)
		c.SuggestedAction = "re-run ingestion"
	}
	return c
}

func checkCoverage(box config.CoverageBox, extent *database.VersionExtent, processing bool) Check {
	c := Check{Label: "Cobertura"}

	var missing []string
	if extent.MinLat == nil {
		missing = []string{"south", "north", "west", "east"}
	} else {
		if *extent.MinLat > box.MinLat+box.Tolerance {
			missing = append(missing, "south")
		}
		if *extent.MaxLat < box.MaxLat-box.Tolerance {
			missing = append(missing, "north")
		}
		if *extent.MinLon > box.MinLon+box.Tolerance {
			missing = append(missing, "west")
		}
		if *extent.MaxLon < box.MaxLon-box.Tolerance {
			missing = append(missing, "east")
		}
	}

	if len(missing) == 0 {
		c.Severity = SeverityOK
		c.Detail = "stored points cover the expected service area"
		return c
	}

	c.Detail = fmt.Sprintf("coverage falls short of expected area at: %v", missing)
	if processing {
		c.Severity = SeverityInfo
	} else {
		c.Severity = SeverityError
	}
	return c
}

func checkDiffuse(extent *database.VersionExtent) Check {
	c := Check{Label: "Componente difusa"}
	if extent.HasDHI {
		c.Severity = SeverityOK
		c.Detail = "diffuse component present"
	} else {
		c.Severity = SeverityWarning
		c.Detail = "no diffuse component: downstream computations lose precision"
	}
	return c
}

func checkChecksum(v *database.DatasetVersion) Check {
	c := Check{Label: "Checksum"}
	if v.ChecksumSHA256 != nil && *v.ChecksumSHA256 != "" {
		c.Severity = SeverityOK
		c.Detail = *v.ChecksumSHA256
	} else {
		c.Severity = SeverityWarning
		c.Detail = "no checksum: version may not have finished finalizing correctly"
	}
	return c
}

func summarize(checks []Check) string {
	errors, warnings := 0, 0
	for _, c := range checks {
		switch c.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		}
	}

	switch {
	case errors > 0:
		return fmt.Sprintf("%d errors", errors)
	case warnings > 0:
		return fmt.Sprintf("%d warnings", warnings)
	default:
		return "all clear"
	}
}

// Worst returns the highest severity present in the report
func (r *Report) Worst() Severity {
	worst := SeverityOK
	for _, c := range r.Checks {
		if severityRank[c.Severity] > severityRank[worst] {
			worst = c.Severity
		}
	}
	return worst
}
