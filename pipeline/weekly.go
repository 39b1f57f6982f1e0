package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"stock-sentinel/features"
	"stock-sentinel/models"
	"stock-sentinel/observability"
	"stock-sentinel/valuation"
)

// Weekly stats window, in trading days.
const (
	DefaultWindowDays = 1260
	MinDataPoints     = 100
)

// Weekly validation errors.
const (
	ErrNoHistoricalFeatures = "no_historical_features"
)

// RawReader is the fallback data surface used when stored features do not
// cover enough history for a ticker.
type RawReader interface {
	GetPriceSeries(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error)
	GetFundamentalsSeries(ctx context.Context, ticker string, start, end time.Time) ([]models.FundamentalsQuarter, error)
}

// WeeklyStats recomputes each ticker's valuation multiple distribution from
// historical features, falling back to raw price and fundamentals data when
// the feature history is too short.
type WeeklyStats struct {
	store      ObjectStore
	db         Database
	raw        RawReader
	logger     *slog.Logger
	metrics    *observability.Metrics
	windowDays int
	now        Clock
}

// NewWeeklyStats wires the weekly job. Logger, metrics, and clock may be
// nil; windowDays of 0 means DefaultWindowDays.
func NewWeeklyStats(store ObjectStore, db Database, raw RawReader, logger *slog.Logger, metrics *observability.Metrics, windowDays int, now Clock) *WeeklyStats {
	if logger == nil {
		logger = slog.Default()
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	if now == nil {
		now = time.Now
	}
	return &WeeklyStats{store: store, db: db, raw: raw, logger: logger, metrics: metrics, windowDays: windowDays, now: now}
}

// WeeklyResult summarizes a weekly stats run.
type WeeklyResult struct {
	Status          string
	ValidationError string
	TickersTotal    int
	TickersUpdated  int
	TickersSkipped  int
	FallbacksUsed   int
	RowsUpserted    int
}

// Run recomputes and upserts valuation stats for every active ticker.
// Per-ticker failures are isolated: a ticker with too little history is
// skipped, not fatal.
func (w *WeeklyStats) Run(ctx context.Context) (WeeklyResult, error) {
	started := w.now()
	result := WeeklyResult{}

	tickers, err := w.db.GetActiveTickers(ctx)
	if err != nil {
		w.recordStepError("tickers")
		return result, fmt.Errorf("loading active tickers: %w", err)
	}
	if len(tickers) == 0 {
		result.Status = StatusFailedValidation
		result.ValidationError = ErrNoActiveTickers
		return result, nil
	}
	result.TickersTotal = len(tickers)

	dates, err := w.store.ListFeatureDates(ctx)
	if err != nil {
		w.recordStepError("list_dates")
		return result, fmt.Errorf("listing feature dates: %w", err)
	}
	if len(dates) == 0 {
		result.Status = StatusFailedValidation
		result.ValidationError = ErrNoHistoricalFeatures
		return result, nil
	}

	asOf := w.now().Truncate(24 * time.Hour)
	start := asOf.AddDate(0, 0, -w.calendarDays())

	history, err := w.collectFeatureHistory(ctx, dates, start)
	if err != nil {
		w.recordStepError("history")
		return result, err
	}

	w.logger.Info("weekly stats starting",
		"tickers", len(tickers),
		"feature_dates", len(dates),
		"window_days", w.windowDays)

	var rows []models.ValuationStats
	for _, ticker := range tickers {
		values := history[ticker]
		fellBack := false
		if len(values) < MinDataPoints && w.raw != nil {
			rawValues, err := w.multiplesFromRaw(ctx, ticker, start, asOf)
			if err != nil {
				w.logger.Warn("raw data fallback failed", "ticker", ticker, "error", err)
			} else if len(rawValues) > len(values) {
				values = rawValues
				fellBack = true
			}
		}
		if len(values) < MinDataPoints {
			w.logger.Warn("insufficient history for stats",
				"ticker", ticker, "points", len(values), "min", MinDataPoints)
			result.TickersSkipped++
			continue
		}
		if fellBack {
			result.FallbacksUsed++
		}

		cleaned, meta := valuation.CleanHistoricalMultiples(values, valuation.MinValidPoints)
		if cleaned == nil {
			w.logger.Warn("history rejected after cleaning",
				"ticker", ticker, "points", len(values), "outliers_removed", meta.OutliersRemoved)
			result.TickersSkipped++
			continue
		}

		stats, ok := valuation.ComputeStats(ticker, models.MetricEVEBITDA, w.windowDays, asOf, cleaned)
		if !ok {
			result.TickersSkipped++
			continue
		}
		rows = append(rows, stats)
	}

	if len(rows) > 0 {
		n, err := w.db.UpsertValuationStats(ctx, rows)
		if err != nil {
			w.recordStepError("upsert_stats")
			return result, fmt.Errorf("upserting valuation stats: %w", err)
		}
		result.RowsUpserted = n
	}
	result.TickersUpdated = len(rows)
	result.Status = StatusSuccess

	if w.metrics != nil {
		w.metrics.RecordPipelineRun("weekly_stats", result.Status, w.now().Sub(started))
	}
	w.logger.Info("weekly stats complete",
		"updated", result.TickersUpdated,
		"skipped", result.TickersSkipped,
		"fallbacks", result.FallbacksUsed)
	return result, nil
}

func (w *WeeklyStats) recordStepError(step string) {
	if w.metrics != nil {
		w.metrics.RecordStepError("weekly_stats", step)
	}
}

// calendarDays converts the trading day window to calendar days, with slack
// for holidays.
func (w *WeeklyStats) calendarDays() int {
	return w.windowDays*365/252 + 30
}

// collectFeatureHistory reads stored feature partitions inside the window
// and buckets positive multiples by ticker in date order.
func (w *WeeklyStats) collectFeatureHistory(ctx context.Context, dates []time.Time, start time.Time) (map[string][]float64, error) {
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	history := make(map[string][]float64)
	for _, day := range sorted {
		if day.Before(start) {
			continue
		}
		rows, err := w.store.GetFeatures(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("loading features for %s: %w", day.Format(models.DateOnly), err)
		}
		for i := range rows {
			if rows[i].EVEBITDA != nil && *rows[i].EVEBITDA > 0 {
				history[rows[i].Ticker] = append(history[rows[i].Ticker], *rows[i].EVEBITDA)
			}
		}
	}
	return history, nil
}

// multiplesFromRaw rebuilds the historical multiple series from raw prices
// and point-in-time fundamentals. Uses the same enterprise value formula as
// the feature computer so the two paths agree.
func (w *WeeklyStats) multiplesFromRaw(ctx context.Context, ticker string, start, end time.Time) ([]float64, error) {
	bars, err := w.raw.GetPriceSeries(ctx, ticker, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading price series: %w", err)
	}
	if len(bars) == 0 {
		return nil, nil
	}

	fundStart := start.AddDate(0, 0, -features.FundamentalsWarmupDays)
	quarters, err := w.raw.GetFundamentalsSeries(ctx, ticker, fundStart, end)
	if err != nil {
		return nil, fmt.Errorf("loading fundamentals series: %w", err)
	}
	points := features.BuildPITFundamentals(quarters)
	if len(points) == 0 {
		return nil, nil
	}

	var values []float64
	for _, bar := range bars {
		f, ok := features.AsOfFundamentals(points, bar.Date)
		if !ok || f.SharesOutstanding == nil || f.EBITDATTM == nil {
			continue
		}
		_, ev, ok := valuation.EnterpriseValue(bar.Close, *f.SharesOutstanding, f.TotalDebt, f.Cash)
		if !ok {
			continue
		}
		if m := valuation.Multiple(ev, *f.EBITDATTM); m != nil && *m > 0 {
			values = append(values, *m)
		}
	}
	return values, nil
}
