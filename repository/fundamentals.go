package repository

import (
	"context"
	"fmt"
	"time"

	"stock-sentinel/models"
	"stock-sentinel/observability"
)

// FetchFundamentalsLatest returns the most recent TTM fundamentals for the
// given tickers, keyed by ticker.
func (r *Repository) FetchFundamentalsLatest(ctx context.Context, tickers []string) (map[string]models.FundamentalsLatest, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "fundamentals_latest")

	rows, err := r.db.Query(ctx, `
		SELECT ticker, ebitda_ttm, revenue_ttm, net_debt, shares_outstanding, total_debt, cash_and_equivalents, asof_date
		FROM fundamentals_latest
		WHERE ticker = ANY($1)
	`, tickers)
	if err != nil {
		metrics.RecordDBError("select", "fundamentals_latest")
		return nil, fmt.Errorf("failed to query latest fundamentals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.FundamentalsLatest, len(tickers))
	for rows.Next() {
		var f models.FundamentalsLatest
		err := rows.Scan(&f.Ticker, &f.EBITDATTM, &f.RevenueTTM, &f.NetDebt, &f.SharesOutstanding, &f.TotalDebt, &f.Cash, &f.AsOfDate)
		if err != nil {
			metrics.RecordDBError("select", "fundamentals_latest")
			return nil, fmt.Errorf("failed to scan latest fundamentals: %w", err)
		}
		out[f.Ticker] = f
	}

	return out, rows.Err()
}

// UpsertFundamentalsLatest replaces the TTM fundamentals row for each ticker.
func (r *Repository) UpsertFundamentalsLatest(ctx context.Context, rows []models.FundamentalsLatest) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "fundamentals_latest")

	tx, repo, err := r.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	written := 0
	for _, f := range rows {
		_, err := repo.db.Exec(ctx, `
			INSERT INTO fundamentals_latest (ticker, ebitda_ttm, revenue_ttm, net_debt, shares_outstanding, total_debt, cash_and_equivalents, asof_date, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (ticker)
			DO UPDATE SET
				ebitda_ttm = EXCLUDED.ebitda_ttm,
				revenue_ttm = EXCLUDED.revenue_ttm,
				net_debt = EXCLUDED.net_debt,
				shares_outstanding = EXCLUDED.shares_outstanding,
				total_debt = EXCLUDED.total_debt,
				cash_and_equivalents = EXCLUDED.cash_and_equivalents,
				asof_date = EXCLUDED.asof_date,
				updated_at = NOW()
		`, f.Ticker, f.EBITDATTM, f.RevenueTTM, f.NetDebt, f.SharesOutstanding, f.TotalDebt, f.Cash, f.AsOfDate)
		if err != nil {
			metrics.RecordDBError("insert", "fundamentals_latest")
			return 0, fmt.Errorf("failed to upsert fundamentals for %s: %w", f.Ticker, err)
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.RecordDBError("insert", "fundamentals_latest")
		return 0, fmt.Errorf("failed to commit fundamentals: %w", err)
	}
	return written, nil
}

// GetFundamentalsLatestDate returns the most recent asof_date across the
// given tickers. The second return is false when no ticker has fundamentals.
func (r *Repository) GetFundamentalsLatestDate(ctx context.Context, tickers []string) (time.Time, bool, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "fundamentals_latest")

	var latest *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT MAX(asof_date) FROM fundamentals_latest WHERE ticker = ANY($1)
	`, tickers).Scan(&latest)
	if err != nil {
		metrics.RecordDBError("select", "fundamentals_latest")
		return time.Time{}, false, fmt.Errorf("failed to query fundamentals freshness: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return *latest, true, nil
}
