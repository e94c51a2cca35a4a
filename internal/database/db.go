package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// ErrDuplicateVersion is returned when an insert races another caller on
// the same (dataset_id, version_tag) key and loses.
var ErrDuplicateVersion = errors.New("version already exists for dataset and tag")

// ErrNotProcessing is returned when a status transition expects a
// processing version and finds something else.
var ErrNotProcessing = errors.New("version is not in processing state")

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// UpsertDataset inserts or updates a dataset catalog entry
func (db *DB) UpsertDataset(ctx context.Context, d *Dataset) error {
	query := `
		INSERT INTO datasets (id, code, name, provider, resolution_km, default_unit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name,
		    provider = EXCLUDED.provider,
		    resolution_km = EXCLUDED.resolution_km,
		    default_unit = EXCLUDED.default_unit
	`
	_, err := db.ExecContext(ctx, query, d.ID, d.Code, d.Name, d.Provider, d.ResolutionKm, d.DefaultUnit)
	return err
}

// GetDatasetByCode retrieves a dataset catalog entry by its code
func (db *DB) GetDatasetByCode(ctx context.Context, code string) (*Dataset, error) {
	query := `
		SELECT id, code, name, provider, resolution_km, default_unit, created_at
		FROM datasets
		WHERE code = $1
	`

	var d Dataset
	err := db.QueryRowContext(ctx, query, code).Scan(
		&d.ID,
		&d.Code,
		&d.Name,
		&d.Provider,
		&d.ResolutionKm,
		&d.DefaultUnit,
		&d.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &d, nil
}

// GetDatasetByID retrieves a dataset catalog entry by id
func (db *DB) GetDatasetByID(ctx context.Context, id string) (*Dataset, error) {
	query := `
		SELECT id, code, name, provider, resolution_km, default_unit, created_at
		FROM datasets
		WHERE id = $1
	`

	var d Dataset
	err := db.QueryRowContext(ctx, query, id).Scan(
		&d.ID,
		&d.Code,
		&d.Name,
		&d.Provider,
		&d.ResolutionKm,
		&d.DefaultUnit,
		&d.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &d, nil
}

// ListDatasets returns the whole catalog ordered by code
func (db *DB) ListDatasets(ctx context.Context) ([]*Dataset, error) {
	query := `
		SELECT id, code, name, provider, resolution_km, default_unit, created_at
		FROM datasets
		ORDER BY code
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []*Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.Provider, &d.ResolutionKm, &d.DefaultUnit, &d.CreatedAt); err != nil {
			return nil, err
		}
		datasets = append(datasets, &d)
	}

	return datasets, rows.Err()
}

// InsertVersion creates a new version row. A unique-constraint violation
// on (dataset_id, version_tag) is reported as ErrDuplicateVersion so the
// lifecycle manager can turn a lost race into a conflict response.
func (db *DB) InsertVersion(ctx context.Context, v *DatasetVersion) error {
	query := `
		INSERT INTO dataset_versions (id, dataset_id, version_tag, status, row_count, source_note, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.ExecContext(ctx, query, v.ID, v.DatasetID, v.VersionTag, v.Status, v.RowCount, v.SourceNote, v.Metadata)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateVersion
		}
		return err
	}
	return nil
}

// GetVersion retrieves a version by id
func (db *DB) GetVersion(ctx context.Context, versionID string) (*DatasetVersion, error) {
	return db.scanVersion(db.QueryRowContext(ctx, versionQuery+` WHERE id = $1`, versionID))
}

// GetVersionByKey retrieves a version by its (dataset_id, version_tag) key
func (db *DB) GetVersionByKey(ctx context.Context, datasetID, versionTag string) (*DatasetVersion, error) {
	return db.scanVersion(db.QueryRowContext(ctx, versionQuery+` WHERE dataset_id = $1 AND version_tag = $2`, datasetID, versionTag))
}

const versionQuery = `
	SELECT id, dataset_id, version_tag, status, row_count, checksum_sha256,
	       source_note, metadata, ingested_at, created_at
	FROM dataset_versions`

func (db *DB) scanVersion(row *sql.Row) (*DatasetVersion, error) {
	var v DatasetVersion
	err := row.Scan(
		&v.ID,
		&v.DatasetID,
		&v.VersionTag,
		&v.Status,
		&v.RowCount,
		&v.ChecksumSHA256,
		&v.SourceNote,
		&v.Metadata,
		&v.IngestedAt,
		&v.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &v, nil
}

// ListVersionIDs returns all version ids belonging to a dataset
func (db *DB) ListVersionIDs(ctx context.Context, datasetID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM dataset_versions WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// FinalizeVersion moves a processing version to active, stamps its row
// count, checksum and ingestion time, and demotes any previously active
// version of the same dataset to deprecated in the same transaction.
func (db *DB) FinalizeVersion(ctx context.Context, versionID string, rowCount int, checksum string, metadata string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var datasetID string
	err = tx.QueryRowContext(ctx, `
		UPDATE dataset_versions
		SET status = $2,
		    row_count = $3,
		    checksum_sha256 = $4,
		    metadata = metadata || $5::jsonb,
		    ingested_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = $6
		RETURNING dataset_id
	`, versionID, StatusActive, rowCount, checksum, metadata, StatusProcessing).Scan(&datasetID)

	if err == sql.ErrNoRows {
		return ErrNotProcessing
	}
	if err != nil {
		return fmt.Errorf("failed to finalize version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE dataset_versions
		SET status = $2
		WHERE dataset_id = $1 AND status = $3 AND id <> $4
	`, datasetID, StatusDeprecated, StatusActive, versionID)
	if err != nil {
		return fmt.Errorf("failed to deprecate previous version: %w", err)
	}

	return tx.Commit()
}

// AbortVersion moves a processing version to failed and records the error
// message in its metadata. Returns ErrNotProcessing if no processing row
// matched; the lifecycle manager decides whether that matters.
func (db *DB) AbortVersion(ctx context.Context, versionID string, metadata string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE dataset_versions
		SET status = $2, metadata = metadata || $3::jsonb
		WHERE id = $1 AND status = $4
	`, versionID, StatusFailed, metadata, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to abort version: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotProcessing
	}
	return nil
}

// pointColumns is the insert column order for data_points
var pointColumns = func() []string {
	cols := []string{"version_id", "lat", "lon", "unit"}
	for _, prefix := range []string{"m", "dhi_m", "dni_m"} {
		for i := 1; i <= 12; i++ {
			cols = append(cols, fmt.Sprintf("%s%02d", prefix, i))
		}
	}
	return cols
}()

// InsertPoints bulk-inserts one chunk of points using COPY. Returns the
// number of rows written.
func (db *DB) InsertPoints(ctx context.Context, points []*DataPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("data_points", pointColumns...))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, p := range points {
		args := make([]interface{}, 0, len(pointColumns))
		args = append(args, p.VersionID, p.Lat, p.Lon, p.Unit)
		for _, months := range [][12]*float64{p.M, p.DHI, p.DNI} {
			for _, v := range months {
				if v == nil {
					args = append(args, nil)
				} else {
					args = append(args, *v)
				}
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			return 0, fmt.Errorf("failed to copy point: %w", err)
		}
	}

	// Flush the copy buffer
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(points), nil
}

// CountPoints returns the number of stored points for a version
func (db *DB) CountPoints(ctx context.Context, versionID string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_points WHERE version_id = $1`, versionID).Scan(&count)
	return count, err
}

// GetVersionExtent computes the bounding box and component availability
// of a version's stored points in a single aggregate query.
func (db *DB) GetVersionExtent(ctx context.Context, versionID string) (*VersionExtent, error) {
	query := `
		SELECT
			COUNT(*) AS point_count,
			MIN(lat) AS min_lat,
			MAX(lat) AS max_lat,
			MIN(lon) AS min_lon,
			MAX(lon) AS max_lon,
			COUNT(dhi_m01) > 0 AS has_dhi,
			COUNT(dni_m01) > 0 AS has_dni
		FROM data_points
		WHERE version_id = $1
	`

	var e VersionExtent
	err := db.QueryRowContext(ctx, query, versionID).Scan(
		&e.PointCount,
		&e.MinLat,
		&e.MaxLat,
		&e.MinLon,
		&e.MaxLon,
		&e.HasDHI,
		&e.HasDNI,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// GetNearestPoint finds the stored point of a version closest to the
// given coordinate by squared planar distance. Good enough at the grid
// resolutions these datasets ship with.
func (db *DB) GetNearestPoint(ctx context.Context, versionID string, lat, lon float64) (*DataPoint, error) {
	query := `
		SELECT version_id, lat, lon, unit, ` + strings.Join(pointColumns[4:], ", ") + `
		FROM data_points
		WHERE version_id = $1
		ORDER BY (lat - $2) * (lat - $2) + (lon - $3) * (lon - $3)
		LIMIT 1
	`

	var p DataPoint
	dest := make([]interface{}, 0, len(pointColumns))
	dest = append(dest, &p.VersionID, &p.Lat, &p.Lon, &p.Unit)
	for _, months := range []*[12]*float64{&p.M, &p.DHI, &p.DNI} {
		for i := range months {
			dest = append(dest, &months[i])
		}
	}

	err := db.QueryRowContext(ctx, query, versionID, lat, lon).Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// InsertJob creates an import job record
func (db *DB) InsertJob(ctx context.Context, j *ImportJob) error {
	query := `
		INSERT INTO import_jobs (job_id, dataset_code, status)
		VALUES ($1, $2, $3)
	`
	_, err := db.ExecContext(ctx, query, j.JobID, j.DatasetCode, j.Status)
	return err
}

// GetJob retrieves an import job by id
func (db *DB) GetJob(ctx context.Context, jobID string) (*ImportJob, error) {
	query := `
		SELECT job_id, dataset_code, version_id, status, row_count, error_message,
		       created_at, started_at, finished_at
		FROM import_jobs
		WHERE job_id = $1
	`

	var j ImportJob
	err := db.QueryRowContext(ctx, query, jobID).Scan(
		&j.JobID,
		&j.DatasetCode,
		&j.VersionID,
		&j.Status,
		&j.RowCount,
		&j.ErrorMessage,
		&j.CreatedAt,
		&j.StartedAt,
		&j.FinishedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &j, nil
}

// UpdateJob overwrites the mutable fields of an import job
func (db *DB) UpdateJob(ctx context.Context, j *ImportJob) error {
	query := `
		UPDATE import_jobs
		SET version_id = $2, status = $3, row_count = $4, error_message = $5,
		    started_at = $6, finished_at = $7
		WHERE job_id = $1
	`
	_, err := db.ExecContext(ctx, query, j.JobID, j.VersionID, j.Status, j.RowCount, j.ErrorMessage, j.StartedAt, j.FinishedAt)
	return err
}

// InsertJobLog appends one log line to a job
func (db *DB) InsertJobLog(ctx context.Context, jobID, level, message string) error {
	query := `
		INSERT INTO import_job_logs (job_id, level, message)
		VALUES ($1, $2, $3)
	`
	_, err := db.ExecContext(ctx, query, jobID, level, message)
	return err
}

// GetJobLogs returns a job's log lines ordered by timestamp
func (db *DB) GetJobLogs(ctx context.Context, jobID string) ([]*ImportJobLog, error) {
	query := `
		SELECT id, job_id, ts, level, message
		FROM import_job_logs
		WHERE job_id = $1
		ORDER BY ts, id
	`

	rows, err := db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ImportJobLog
	for rows.Next() {
		var l ImportJobLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.Ts, &l.Level, &l.Message); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}

	return logs, rows.Err()
}

// PurgeDatasetRows deletes every relational row hanging off a dataset —
// points, job logs, jobs and version rows — in one transaction. The
// dataset catalog row stays. Returns the number of versions removed.
func (db *DB) PurgeDatasetRows(ctx context.Context, datasetID, datasetCode string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM data_points
		WHERE version_id IN (SELECT id FROM dataset_versions WHERE dataset_id = $1)
	`, datasetID); err != nil {
		return 0, fmt.Errorf("failed to delete points: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM import_job_logs
		WHERE job_id IN (SELECT job_id FROM import_jobs WHERE dataset_code = $1)
	`, datasetCode); err != nil {
		return 0, fmt.Errorf("failed to delete job logs: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM import_jobs WHERE dataset_code = $1`, datasetCode); err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM dataset_versions WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete versions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}
