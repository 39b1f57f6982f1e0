package app

import (
	"context"
	"fmt"
	"time"

	"stock-sentinel/config"
	"stock-sentinel/models"
	"stock-sentinel/pipeline"
)

// RepositoryInterface defines the repository operations needed by App
type RepositoryInterface interface {
	Close()
	Health(ctx context.Context) error
	GetActiveTickers(ctx context.Context) ([]string, error)
	GetValuationStats(ctx context.Context, metric models.MetricType) (map[string]models.ValuationStats, error)
	GetValuationStatsForTicker(ctx context.Context, ticker string, metric models.MetricType) (*models.ValuationStats, error)
}

// ObjectStoreInterface defines the object store reads needed by App
type ObjectStoreInterface interface {
	GetFeaturesLatest(ctx context.Context) ([]models.FeatureRow, error)
	GetTriggers(ctx context.Context, day time.Time) ([]models.Trigger, error)
	ListFeatureDates(ctx context.Context) ([]time.Time, error)
}

// DailyRunner runs the daily pipeline
type DailyRunner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (pipeline.RunResult, error)
}

// WeeklyRunner recomputes valuation stats
type WeeklyRunner interface {
	Run(ctx context.Context) (pipeline.WeeklyResult, error)
}

// App struct holds application dependencies using interfaces for testability
type App struct {
	ctx    context.Context
	cfg    *config.Config
	repo   RepositoryInterface
	store  ObjectStoreInterface
	daily  DailyRunner
	weekly WeeklyRunner
	runSem chan struct{}
}

// New creates a new App application struct
func New(cfg *config.Config, repo RepositoryInterface, store ObjectStoreInterface, daily DailyRunner, weekly WeeklyRunner) *App {
	return &App{
		cfg:    cfg,
		repo:   repo,
		store:  store,
		daily:  daily,
		weekly: weekly,
		runSem: make(chan struct{}, 1),
	}
}

// Startup is called when the app starts
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
}

// Shutdown is called when the app is closing
func (a *App) Shutdown(ctx context.Context) {
	if a.repo != nil {
		a.repo.Close()
	}
}

// Repo returns the repository interface for API handlers
func (a *App) Repo() RepositoryInterface {
	return a.repo
}

// ActiveTickers returns the tickers currently under watch
func (a *App) ActiveTickers(ctx context.Context) ([]string, error) {
	if a.repo == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return a.repo.GetActiveTickers(ctx)
}

// LatestFeatures returns the most recent feature rows from the object store
func (a *App) LatestFeatures(ctx context.Context) ([]models.FeatureRow, error) {
	if a.store == nil {
		return nil, fmt.Errorf("object store not initialized")
	}
	return a.store.GetFeaturesLatest(ctx)
}

// LatestTriggers returns the triggers from the most recent evaluation date.
// The returned time is the evaluation date the triggers belong to.
func (a *App) LatestTriggers(ctx context.Context) (time.Time, []models.Trigger, error) {
	if a.store == nil {
		return time.Time{}, nil, fmt.Errorf("object store not initialized")
	}

	dates, err := a.store.ListFeatureDates(ctx)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to list evaluation dates: %w", err)
	}
	if len(dates) == 0 {
		return time.Time{}, nil, nil
	}

	latest := dates[len(dates)-1]
	triggers, err := a.store.GetTriggers(ctx, latest)
	if err != nil {
		return time.Time{}, nil, err
	}
	return latest, triggers, nil
}

// TriggersForDate returns the triggers written for a specific evaluation date
func (a *App) TriggersForDate(ctx context.Context, day time.Time) ([]models.Trigger, error) {
	if a.store == nil {
		return nil, fmt.Errorf("object store not initialized")
	}
	return a.store.GetTriggers(ctx, day)
}

// ValuationStats returns stored valuation stats for all tickers
func (a *App) ValuationStats(ctx context.Context) (map[string]models.ValuationStats, error) {
	if a.repo == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return a.repo.GetValuationStats(ctx, models.MetricEVEBITDA)
}

// ValuationStatsForTicker returns stored valuation stats for one ticker,
// or nil when none have been computed yet
func (a *App) ValuationStatsForTicker(ctx context.Context, ticker string) (*models.ValuationStats, error) {
	if a.repo == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return a.repo.GetValuationStatsForTicker(ctx, ticker, models.MetricEVEBITDA)
}

// RunDaily runs the daily pipeline. Only one pipeline run may be in flight
// at a time; concurrent requests are rejected rather than queued.
func (a *App) RunDaily(ctx context.Context, opts pipeline.RunOptions) (pipeline.RunResult, error) {
	if a.daily == nil {
		return pipeline.RunResult{}, fmt.Errorf("daily pipeline not initialized")
	}

	select {
	case a.runSem <- struct{}{}:
		defer func() { <-a.runSem }()
	default:
		return pipeline.RunResult{}, fmt.Errorf("a pipeline run is already in progress - try again later")
	}

	return a.daily.Run(ctx, opts)
}

// RunWeeklyStats recomputes valuation stats for all active tickers
func (a *App) RunWeeklyStats(ctx context.Context) (pipeline.WeeklyResult, error) {
	if a.weekly == nil {
		return pipeline.WeeklyResult{}, fmt.Errorf("weekly stats pipeline not initialized")
	}

	select {
	case a.runSem <- struct{}{}:
		defer func() { <-a.runSem }()
	default:
		return pipeline.WeeklyResult{}, fmt.Errorf("a pipeline run is already in progress - try again later")
	}

	return a.weekly.Run(ctx)
}

// RunSemCapacity returns the capacity of the pipeline run semaphore (for testing)
func (a *App) RunSemCapacity() int {
	return cap(a.runSem)
}
