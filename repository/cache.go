package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stock-sentinel/observability"
)

// GetCachedResponse retrieves a cached upstream API payload for a ticker
// and endpoint. Returns nil when absent or expired.
func (r *Repository) GetCachedResponse(ctx context.Context, ticker, endpoint string) ([]byte, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "api_response_cache")

	var data []byte

	// Let the database handle expiry check to avoid timezone issues
	err := r.db.QueryRow(ctx, `
		SELECT data FROM api_response_cache
		WHERE ticker = $1 AND endpoint = $2 AND expires_at > NOW()
	`, ticker, endpoint).Scan(&data)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "api_response_cache")
		return nil, fmt.Errorf("failed to query response cache: %w", err)
	}

	return data, nil
}

// SetCachedResponse stores an upstream API payload with a TTL.
func (r *Repository) SetCachedResponse(ctx context.Context, ticker, endpoint string, data []byte, ttl time.Duration) error {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "api_response_cache")

	_, err := r.db.Exec(ctx, `
		INSERT INTO api_response_cache (ticker, endpoint, data, expires_at)
		VALUES ($1, $2, $3, NOW() + $4::interval)
		ON CONFLICT (ticker, endpoint)
		DO UPDATE SET data = EXCLUDED.data, expires_at = NOW() + $4::interval, created_at = NOW()
	`, ticker, endpoint, data, ttl.String())

	if err != nil {
		metrics.RecordDBError("insert", "api_response_cache")
		return fmt.Errorf("failed to set response cache: %w", err)
	}

	return nil
}

// InvalidateCachedResponses removes all cached payloads for a ticker.
func (r *Repository) InvalidateCachedResponses(ctx context.Context, ticker string) error {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("delete", "api_response_cache")

	_, err := r.db.Exec(ctx, `DELETE FROM api_response_cache WHERE ticker = $1`, ticker)
	if err != nil {
		metrics.RecordDBError("delete", "api_response_cache")
		return fmt.Errorf("failed to invalidate response cache: %w", err)
	}
	return nil
}

// CleanExpiredCache removes all expired cache entries
func (r *Repository) CleanExpiredCache(ctx context.Context) (int64, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("delete", "api_response_cache")

	result, err := r.db.Exec(ctx, `DELETE FROM api_response_cache WHERE expires_at < NOW()`)
	if err != nil {
		metrics.RecordDBError("delete", "api_response_cache")
		return 0, fmt.Errorf("failed to clean expired cache: %w", err)
	}
	return result.RowsAffected(), nil
}
