// internal/repository/cache_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/unclebandit/voicereach-engine/internal/model"
)

// AnalyticsCache stores computed analytics by composite key. Get returns nil, nil
// for a missing key; freshness is judged by the caller via entry.Fresh.
type AnalyticsCache interface {
	Get(ctx context.Context, key string) (*model.AnalyticsCacheEntry, error)
	Set(ctx context.Context, e model.AnalyticsCacheEntry) error
	Clear(ctx context.Context) error
}

// CacheRepository keeps analytics results in Postgres so every worker process
// reads the same entries.
type CacheRepository struct {
	DB *sql.DB
}

func (r *CacheRepository) Get(ctx context.Context, key string) (*model.AnalyticsCacheEntry, error) {
	var (
		e     model.AnalyticsCacheEntry
		ttlMS int64
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT cache_key, type, payload, computed_at, ttl_ms FROM analytics_cache WHERE cache_key=$1`, key,
	).Scan(&e.Key, &e.Type, &e.Data, &e.Timestamp, &ttlMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.TTL = time.Duration(ttlMS) * time.Millisecond
	return &e, nil
}

// Set replaces the entry for e.Key wholesale.
func (r *CacheRepository) Set(ctx context.Context, e model.AnalyticsCacheEntry) error {
	query := `
        INSERT INTO analytics_cache (cache_key, type, payload, computed_at, ttl_ms)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (cache_key) DO UPDATE
        SET type = EXCLUDED.type, payload = EXCLUDED.payload,
            computed_at = EXCLUDED.computed_at, ttl_ms = EXCLUDED.ttl_ms
    `
	_, err := r.DB.ExecContext(ctx, query, e.Key, e.Type, []byte(e.Data), e.Timestamp, e.TTL.Milliseconds())
	return err
}

func (r *CacheRepository) Clear(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM analytics_cache`)
	return err
}

var _ AnalyticsCache = (*CacheRepository)(nil)
