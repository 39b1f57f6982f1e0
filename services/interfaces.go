package services

import (
	"context"
	"time"

	"stock-sentinel/models"
)

// MarketDataService defines the interface for upstream market data operations
type MarketDataService interface {
	GetEOD(ctx context.Context, ticker string, from, to time.Time) ([]models.PriceBar, error)
	GetFundamentals(ctx context.Context, ticker string) ([]models.FundamentalsQuarter, error)
}

// SeriesReader defines the interface for reading stored per-ticker history
type SeriesReader interface {
	GetPrices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error)
	GetFundamentals(ctx context.Context, ticker string, start, end time.Time) ([]models.FundamentalsQuarter, error)
}

// Compile-time interface verification
var _ SeriesReader = (*TimeSeriesReader)(nil)
