package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/realizacred/mais-energia-solar-sub003/internal/database"
)

// ErrNoPoints is returned when a version has no stored points to
// resolve against.
var ErrNoPoints = errors.New("version has no stored points")

// MonthlySeries is a resolved irradiance series for one coordinate.
// Entries reference an immutable version's data, so a cached series
// never goes stale; it only dies with its version.
type MonthlySeries struct {
	VersionID string       `json:"version_id"`
	Lat       float64      `json:"lat"`
	Lon       float64      `json:"lon"`
	Unit      string       `json:"unit"`
	M         [12]*float64 `json:"m"`
	DHI       [12]*float64 `json:"dhi,omitempty"`
	DNI       [12]*float64 `json:"dni,omitempty"`
}

// PointSource is the fallback the resolver queries on a cache miss
type PointSource interface {
	GetNearestPoint(ctx context.Context, versionID string, lat, lon float64) (*database.DataPoint, error)
}

// Resolver serves monthly series lookups through Redis
type Resolver struct {
	redis  *redis.Client
	source PointSource
	ttl    time.Duration
}

// NewResolver creates a resolver
func NewResolver(redisClient *redis.Client, source PointSource, ttl time.Duration) *Resolver {
	return &Resolver{redis: redisClient, source: source, ttl: ttl}
}

// lookupKey rounds the coordinate to two decimals so nearby queries
// share an entry.
func lookupKey(versionID string, lat, lon float64) string {
	return fmt.Sprintf("lookup:%s:%.2f:%.2f", versionID, lat, lon)
}

// Resolve returns the monthly series for a coordinate within a version,
// from cache when possible, falling back to the nearest stored point.
func (r *Resolver) Resolve(ctx context.Context, versionID string, lat, lon float64) (*MonthlySeries, error) {
	key := lookupKey(versionID, lat, lon)

	data, err := r.redis.Get(ctx, key).Result()
	if err == nil {
		var series MonthlySeries
		if jsonErr := json.Unmarshal([]byte(data), &series); jsonErr == nil {
			return &series, nil
		}
		// Unreadable entry: fall through and rebuild it
	} else if err != redis.Nil {
		return nil, fmt.Errorf("failed to read lookup cache: %w", err)
	}

	point, err := r.source.GetNearestPoint(ctx, versionID, lat, lon)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest point: %w", err)
	}
	if point == nil {
		return nil, ErrNoPoints
	}

	series := &MonthlySeries{
		VersionID: versionID,
		Lat:       point.Lat,
		Lon:       point.Lon,
		Unit:      point.Unit,
		M:         point.M,
		DHI:       point.DHI,
		DNI:       point.DNI,
	}

	encoded, err := json.Marshal(series)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal series: %w", err)
	}
	if err := r.redis.Set(ctx, key, encoded, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to write lookup cache: %w", err)
	}

	return series, nil
}

// InvalidateVersion deletes every cached entry of a version. Called by
// the purge coordinator; returns the number of keys removed.
func (r *Resolver) InvalidateVersion(ctx context.Context, versionID string) (int, error) {
	pattern := fmt.Sprintf("lookup:%s:*", versionID)

	removed := 0
	iter := r.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete cache key %s: %w", iter.Val(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan lookup cache: %w", err)
	}

	return removed, nil
}
