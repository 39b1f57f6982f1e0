package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stock-sentinel/models"
	"stock-sentinel/observability"
)

// GetValuationStats returns the latest stats row per ticker for a metric,
// keyed by ticker.
func (r *Repository) GetValuationStats(ctx context.Context, metric models.MetricType) (map[string]models.ValuationStats, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "valuation_stats")

	rows, err := r.db.Query(ctx, `
		SELECT ticker, metric, window_days, count, mean, std, min, max, p10, p20, p50, p80, p90, asof_date
		FROM valuation_stats
		WHERE metric = $1
	`, string(metric))
	if err != nil {
		metrics.RecordDBError("select", "valuation_stats")
		return nil, fmt.Errorf("failed to query valuation stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.ValuationStats)
	for rows.Next() {
		var s models.ValuationStats
		err := rows.Scan(&s.Ticker, &s.Metric, &s.WindowDays, &s.Count, &s.Mean, &s.Std, &s.Min, &s.Max, &s.P10, &s.P20, &s.P50, &s.P80, &s.P90, &s.AsOfDate)
		if err != nil {
			metrics.RecordDBError("select", "valuation_stats")
			return nil, fmt.Errorf("failed to scan valuation stats: %w", err)
		}
		out[s.Ticker] = s
	}

	return out, rows.Err()
}

// GetValuationStatsForTicker returns one ticker's stats row for a metric,
// or nil when none exists.
func (r *Repository) GetValuationStatsForTicker(ctx context.Context, ticker string, metric models.MetricType) (*models.ValuationStats, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "valuation_stats")

	var s models.ValuationStats
	err := r.db.QueryRow(ctx, `
		SELECT ticker, metric, window_days, count, mean, std, min, max, p10, p20, p50, p80, p90, asof_date
		FROM valuation_stats
		WHERE ticker = $1 AND metric = $2
	`, ticker, string(metric)).Scan(&s.Ticker, &s.Metric, &s.WindowDays, &s.Count, &s.Mean, &s.Std, &s.Min, &s.Max, &s.P10, &s.P20, &s.P50, &s.P80, &s.P90, &s.AsOfDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		metrics.RecordDBError("select", "valuation_stats")
		return nil, fmt.Errorf("failed to query valuation stats for %s: %w", ticker, err)
	}
	return &s, nil
}

// UpsertValuationStats replaces the stats row per (ticker, metric, window).
// Each write fully supersedes the prior distribution for that key.
func (r *Repository) UpsertValuationStats(ctx context.Context, stats []models.ValuationStats) (int, error) {
	if len(stats) == 0 {
		return 0, nil
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "valuation_stats")

	tx, repo, err := r.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	written := 0
	for _, s := range stats {
		_, err := repo.db.Exec(ctx, `
			INSERT INTO valuation_stats (ticker, metric, window_days, count, mean, std, min, max, p10, p20, p50, p80, p90, asof_date, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
			ON CONFLICT (ticker, metric, window_days)
			DO UPDATE SET
				count = EXCLUDED.count,
				mean = EXCLUDED.mean,
				std = EXCLUDED.std,
				min = EXCLUDED.min,
				max = EXCLUDED.max,
				p10 = EXCLUDED.p10,
				p20 = EXCLUDED.p20,
				p50 = EXCLUDED.p50,
				p80 = EXCLUDED.p80,
				p90 = EXCLUDED.p90,
				asof_date = EXCLUDED.asof_date,
				updated_at = NOW()
		`, s.Ticker, string(s.Metric), s.WindowDays, s.Count, s.Mean, s.Std, s.Min, s.Max, s.P10, s.P20, s.P50, s.P80, s.P90, s.AsOfDate)
		if err != nil {
			metrics.RecordDBError("insert", "valuation_stats")
			return 0, fmt.Errorf("failed to upsert valuation stats for %s: %w", s.Ticker, err)
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.RecordDBError("insert", "valuation_stats")
		return 0, fmt.Errorf("failed to commit valuation stats: %w", err)
	}
	return written, nil
}
