package ingest

import (
	"context"
	"fmt"
	"runtime"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/irradiance"
)

// DefaultBatchSize is the reference chunk size
const DefaultBatchSize = 500

// PointStore is the write surface for point chunks
type PointStore interface {
	InsertPoints(ctx context.Context, points []*database.DataPoint) (int, error)
}

// Progress reports how far a run has come after each chunk
type Progress struct {
	Submitted int
	Total     int
	Percent   int
}

// TransientError wraps a mid-batch storage failure. The caller is
// expected to abort the version with the message; the run cannot resume
// from the failed chunk.
type TransientError struct {
	Batch int
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("batch %d failed: %v", e.Batch, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Coordinator drives parsed rows into the store in bounded chunks
type Coordinator struct {
	store     PointStore
	batchSize int
}

// NewCoordinator creates a coordinator. batchSize <= 0 falls back to the
// default.
func NewCoordinator(store PointStore, batchSize int) *Coordinator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Coordinator{store: store, batchSize: batchSize}
}

// Ingest writes rows for a version chunk by chunk, reporting progress
// after each one. Chunks go in sequentially; the first failure stops the
// run. Control yields briefly between chunks so a long run does not
// starve whatever shares the scheduler.
func (c *Coordinator) Ingest(ctx context.Context, versionID, unit string, rows []*irradiance.Row, progressFn func(Progress)) (int, error) {
	total := len(rows)
	submitted := 0

	for batch := 0; submitted < total; batch++ {
		end := submitted + c.batchSize
		if end > total {
			end = total
		}

		points := make([]*database.DataPoint, 0, end-submitted)
		for _, row := range rows[submitted:end] {
			points = append(points, &database.DataPoint{
				VersionID: versionID,
				Lat:       row.Lat,
				Lon:       row.Lon,
				Unit:      unit,
				M:         row.M,
				DHI:       row.DHI,
				DNI:       row.DNI,
			})
		}

		n, err := c.store.InsertPoints(ctx, points)
		if err != nil {
			return submitted, &TransientError{Batch: batch, Err: err}
		}
		submitted += n

		if progressFn != nil {
			progressFn(Progress{
				Submitted: submitted,
				Total:     total,
				Percent:   submitted * 100 / total,
			})
		}

		select {
		case <-ctx.Done():
			return submitted, &TransientError{Batch: batch, Err: ctx.Err()}
		default:
		}
		runtime.Gosched()
	}

	return submitted, nil
}
