package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"stock-sentinel/models"
)

// RepositoryInterface defines all repository operations
type RepositoryInterface interface {
	// Health and lifecycle
	Close()
	Health(ctx context.Context) error

	// Indicator state
	FetchIndicatorState(ctx context.Context, tickers []string) (map[string]models.IndicatorState, error)
	UpsertIndicatorState(ctx context.Context, states []models.IndicatorState) (int, error)
	GetIndicatorStateAge(ctx context.Context, tickers []string) (time.Time, bool, error)

	// Fundamentals
	FetchFundamentalsLatest(ctx context.Context, tickers []string) (map[string]models.FundamentalsLatest, error)
	UpsertFundamentalsLatest(ctx context.Context, rows []models.FundamentalsLatest) (int, error)
	GetFundamentalsLatestDate(ctx context.Context, tickers []string) (time.Time, bool, error)

	// Valuation stats
	GetValuationStats(ctx context.Context, metric models.MetricType) (map[string]models.ValuationStats, error)
	GetValuationStatsForTicker(ctx context.Context, ticker string, metric models.MetricType) (*models.ValuationStats, error)
	UpsertValuationStats(ctx context.Context, stats []models.ValuationStats) (int, error)

	// Entities and watchlists
	GetActiveTickers(ctx context.Context) ([]string, error)
	GetSectors(ctx context.Context, tickers []string) (map[string]string, error)
	WatchlistByTicker(ctx context.Context) (map[string][]models.WatchEntry, error)
	WatchersForTicker(ctx context.Context, ticker string) ([]models.WatchEntry, error)

	// Alert deduplication state
	GetAlertState(ctx context.Context, userID, entityID uuid.UUID) (models.AlertState, error)
	UpsertAlertState(ctx context.Context, state models.AlertState) error
	MarkTemplateAlerted(ctx context.Context, userID, entityID uuid.UUID, templateID string, runDate time.Time) error

	// Upstream response cache
	GetCachedResponse(ctx context.Context, ticker, endpoint string) ([]byte, error)
	SetCachedResponse(ctx context.Context, ticker, endpoint string, data []byte, ttl time.Duration) error
	InvalidateCachedResponses(ctx context.Context, ticker string) error
	CleanExpiredCache(ctx context.Context) (int64, error)
}

// Compile-time interface verification
var _ RepositoryInterface = (*Repository)(nil)
