package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
	"github.com/realizacred/mais-energia-solar-sub003/internal/irradiance"
)

type recordingStore struct {
	chunks  []int
	failAt  int // fail on this chunk index, -1 for never
	inserts int
}

func (s *recordingStore) InsertPoints(_ context.Context, points []*database.DataPoint) (int, error) {
	if s.failAt >= 0 && len(s.chunks) == s.failAt {
		return 0, errors.New("connection reset")
	}
	s.chunks = append(s.chunks, len(points))
	s.inserts += len(points)
	return len(points), nil
}

func testRows(n int) []*irradiance.Row {
	rows := make([]*irradiance.Row, n)
	for i := range rows {
		v := 5.0
		rows[i] = &irradiance.Row{Lat: float64(i), Lon: float64(-i)}
		rows[i].M[0] = &v
	}
	return rows
}

func TestCoordinator_ChunksAndProgress(t *testing.T) {
	store := &recordingStore{failAt: -1}
	c := NewCoordinator(store, 100)

	var progress []Progress
	accepted, err := c.Ingest(context.Background(), "v-1", "kWh/m2/day", testRows(250), func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if accepted != 250 {
		t.Errorf("Expected 250 accepted, got %d", accepted)
	}
	if len(store.chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(store.chunks))
	}
	if store.chunks[0] != 100 || store.chunks[1] != 100 || store.chunks[2] != 50 {
		t.Errorf("Unexpected chunk sizes: %v", store.chunks)
	}

	if len(progress) != 3 {
		t.Fatalf("Expected 3 progress reports, got %d", len(progress))
	}
	if progress[0].Submitted != 100 || progress[0].Percent != 40 {
		t.Errorf("Unexpected first progress: %+v", progress[0])
	}
	if progress[2].Submitted != 250 || progress[2].Percent != 100 {
		t.Errorf("Unexpected final progress: %+v", progress[2])
	}
}

func TestCoordinator_StopsOnChunkFailure(t *testing.T) {
	store := &recordingStore{failAt: 1}
	c := NewCoordinator(store, 100)

	accepted, err := c.Ingest(context.Background(), "v-1", "kWh/m2/day", testRows(250), nil)

	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransientError, got %v", err)
	}
	if te.Batch != 1 {
		t.Errorf("Expected failure on batch 1, got %d", te.Batch)
	}
	if accepted != 100 {
		t.Errorf("Expected 100 accepted before failure, got %d", accepted)
	}
	// No chunks written after the failure
	if len(store.chunks) != 1 {
		t.Errorf("Expected exactly 1 successful chunk, got %d", len(store.chunks))
	}
}

func TestCoordinator_EmptyRows(t *testing.T) {
	store := &recordingStore{failAt: -1}
	c := NewCoordinator(store, 100)

	accepted, err := c.Ingest(context.Background(), "v-1", "kWh/m2/day", nil, nil)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if accepted != 0 {
		t.Errorf("Expected 0 accepted, got %d", accepted)
	}
	if len(store.chunks) != 0 {
		t.Errorf("Expected no chunks, got %d", len(store.chunks))
	}
}

func TestCoordinator_ContextCancel(t *testing.T) {
	store := &recordingStore{failAt: -1}
	c := NewCoordinator(store, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Ingest(ctx, "v-1", "kWh/m2/day", testRows(250), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
