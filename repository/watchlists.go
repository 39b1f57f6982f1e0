package repository

import (
	"context"
	"fmt"

	"stock-sentinel/models"
	"stock-sentinel/observability"
)

// GetActiveTickers returns the tickers of all active entities, ordered.
func (r *Repository) GetActiveTickers(ctx context.Context) ([]string, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "entities")

	rows, err := r.db.Query(ctx, `
		SELECT ticker FROM entities WHERE active ORDER BY ticker
	`)
	if err != nil {
		metrics.RecordDBError("select", "entities")
		return nil, fmt.Errorf("failed to query active tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}

	return tickers, rows.Err()
}

// GetSectors returns the sector classification for the given tickers,
// keyed by ticker. Tickers without a sector are absent.
func (r *Repository) GetSectors(ctx context.Context, tickers []string) (map[string]string, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "entities")

	rows, err := r.db.Query(ctx, `
		SELECT ticker, sector FROM entities
		WHERE ticker = ANY($1) AND sector IS NOT NULL
	`, tickers)
	if err != nil {
		metrics.RecordDBError("select", "entities")
		return nil, fmt.Errorf("failed to query sectors: %w", err)
	}
	defer rows.Close()

	sectors := make(map[string]string, len(tickers))
	for rows.Next() {
		var ticker, sector string
		if err := rows.Scan(&ticker, &sector); err != nil {
			return nil, fmt.Errorf("failed to scan sector: %w", err)
		}
		sectors[ticker] = sector
	}

	return sectors, rows.Err()
}

// WatchlistByTicker returns every enabled watchlist subscription grouped by
// ticker. Users with alerts disabled are included so callers can count them;
// filtering on AlertsEnabled is the notifier's job.
func (r *Repository) WatchlistByTicker(ctx context.Context) (map[string][]models.WatchEntry, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "watchlist_items")

	rows, err := r.db.Query(ctx, `
		SELECT w.user_id, w.entity_id, e.ticker, u.email, w.alerts_enabled
		FROM watchlist_items w
		JOIN entities e ON e.id = w.entity_id
		JOIN users u ON u.id = w.user_id
		WHERE e.active
		ORDER BY e.ticker, u.email
	`)
	if err != nil {
		metrics.RecordDBError("select", "watchlist_items")
		return nil, fmt.Errorf("failed to query watchlists: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.WatchEntry)
	for rows.Next() {
		var w models.WatchEntry
		if err := rows.Scan(&w.UserID, &w.EntityID, &w.Ticker, &w.Email, &w.AlertsEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		out[w.Ticker] = append(out[w.Ticker], w)
	}

	return out, rows.Err()
}

// WatchersForTicker returns the subscriptions for one ticker.
func (r *Repository) WatchersForTicker(ctx context.Context, ticker string) ([]models.WatchEntry, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "watchlist_items")

	rows, err := r.db.Query(ctx, `
		SELECT w.user_id, w.entity_id, e.ticker, u.email, w.alerts_enabled
		FROM watchlist_items w
		JOIN entities e ON e.id = w.entity_id
		JOIN users u ON u.id = w.user_id
		WHERE e.ticker = $1 AND e.active
		ORDER BY u.email
	`, ticker)
	if err != nil {
		metrics.RecordDBError("select", "watchlist_items")
		return nil, fmt.Errorf("failed to query watchers for %s: %w", ticker, err)
	}
	defer rows.Close()

	var entries []models.WatchEntry
	for rows.Next() {
		var w models.WatchEntry
		if err := rows.Scan(&w.UserID, &w.EntityID, &w.Ticker, &w.Email, &w.AlertsEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		entries = append(entries, w)
	}

	return entries, rows.Err()
}
