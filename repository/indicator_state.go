package repository

import (
	"context"
	"fmt"
	"time"

	"stock-sentinel/models"
	"stock-sentinel/observability"
)

// FetchIndicatorState returns persisted EMA state for the given tickers,
// keyed by ticker. Tickers with no state yet are simply absent.
func (r *Repository) FetchIndicatorState(ctx context.Context, tickers []string) (map[string]models.IndicatorState, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "indicator_state")

	rows, err := r.db.Query(ctx, `
		SELECT ticker, last_price_date, last_close, prev_close, prev_ema_200, prev_ema_50, ema_200, ema_50, updated_at
		FROM indicator_state
		WHERE ticker = ANY($1)
	`, tickers)
	if err != nil {
		metrics.RecordDBError("select", "indicator_state")
		return nil, fmt.Errorf("failed to query indicator state: %w", err)
	}
	defer rows.Close()

	states := make(map[string]models.IndicatorState, len(tickers))
	for rows.Next() {
		var s models.IndicatorState
		err := rows.Scan(&s.Ticker, &s.LastPriceDate, &s.LastClose, &s.PrevClose, &s.PrevLong, &s.PrevShort, &s.EMALong, &s.EMAShort, &s.UpdatedAt)
		if err != nil {
			metrics.RecordDBError("select", "indicator_state")
			return nil, fmt.Errorf("failed to scan indicator state: %w", err)
		}
		states[s.Ticker] = s
	}

	return states, rows.Err()
}

// UpsertIndicatorState writes a batch of per-ticker EMA states, replacing
// any existing row per ticker. Returns the number of rows written.
func (r *Repository) UpsertIndicatorState(ctx context.Context, states []models.IndicatorState) (int, error) {
	if len(states) == 0 {
		return 0, nil
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "indicator_state")

	tx, repo, err := r.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	written := 0
	for _, s := range states {
		_, err := repo.db.Exec(ctx, `
			INSERT INTO indicator_state (ticker, last_price_date, last_close, prev_close, prev_ema_200, prev_ema_50, ema_200, ema_50, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (ticker)
			DO UPDATE SET
				last_price_date = EXCLUDED.last_price_date,
				last_close = EXCLUDED.last_close,
				prev_close = EXCLUDED.prev_close,
				prev_ema_200 = EXCLUDED.prev_ema_200,
				prev_ema_50 = EXCLUDED.prev_ema_50,
				ema_200 = EXCLUDED.ema_200,
				ema_50 = EXCLUDED.ema_50,
				updated_at = NOW()
		`, s.Ticker, s.LastPriceDate, s.LastClose, s.PrevClose, s.PrevLong, s.PrevShort, s.EMALong, s.EMAShort)
		if err != nil {
			metrics.RecordDBError("insert", "indicator_state")
			return 0, fmt.Errorf("failed to upsert indicator state for %s: %w", s.Ticker, err)
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.RecordDBError("insert", "indicator_state")
		return 0, fmt.Errorf("failed to commit indicator state: %w", err)
	}
	return written, nil
}

// GetIndicatorStateAge returns the oldest last_price_date across the given
// tickers, for staleness monitoring.
func (r *Repository) GetIndicatorStateAge(ctx context.Context, tickers []string) (time.Time, bool, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "indicator_state")

	var oldest *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT MIN(last_price_date) FROM indicator_state WHERE ticker = ANY($1)
	`, tickers).Scan(&oldest)
	if err != nil {
		metrics.RecordDBError("select", "indicator_state")
		return time.Time{}, false, fmt.Errorf("failed to query indicator state age: %w", err)
	}
	if oldest == nil {
		return time.Time{}, false, nil
	}
	return *oldest, true, nil
}
