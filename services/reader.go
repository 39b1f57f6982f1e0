package services

import (
	"context"
	"time"

	"stock-sentinel/models"
	"stock-sentinel/storage"
)

// TimeSeriesReader serves per-ticker price and fundamentals history from the
// object store, behind the object storage circuit breaker. It is the read
// path the feature computer and backfill use.
type TimeSeriesReader struct {
	store *storage.Client
}

// NewTimeSeriesReader wraps a storage client.
func NewTimeSeriesReader(store *storage.Client) *TimeSeriesReader {
	return &TimeSeriesReader{store: store}
}

// GetPrices returns daily bars for a ticker over [start, end].
func (r *TimeSeriesReader) GetPrices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	return WithCircuitBreaker(ctx, BreakerS3, func() ([]models.PriceBar, error) {
		return r.store.GetPriceSeries(ctx, ticker, start, end)
	})
}

// GetFundamentals returns quarterly fundamentals for a ticker over [start, end].
func (r *TimeSeriesReader) GetFundamentals(ctx context.Context, ticker string, start, end time.Time) ([]models.FundamentalsQuarter, error) {
	return WithCircuitBreaker(ctx, BreakerS3, func() ([]models.FundamentalsQuarter, error) {
		return r.store.GetFundamentalsSeries(ctx, ticker, start, end)
	})
}

// GetPriceSeries is an alias for GetPrices so the reader also satisfies the
// weekly stats fallback interface.
func (r *TimeSeriesReader) GetPriceSeries(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	return r.GetPrices(ctx, ticker, start, end)
}

// GetFundamentalsSeries is an alias for GetFundamentals.
func (r *TimeSeriesReader) GetFundamentalsSeries(ctx context.Context, ticker string, start, end time.Time) ([]models.FundamentalsQuarter, error) {
	return r.GetFundamentals(ctx, ticker, start, end)
}
