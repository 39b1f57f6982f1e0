// Package pipeline orchestrates the batch jobs: the daily feature, template,
// and alert run, the weekly valuation stats recomputation, and the cron
// scheduler that drives both.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stock-sentinel/alerts"
	"stock-sentinel/features"
	"stock-sentinel/models"
	"stock-sentinel/observability"
	"stock-sentinel/templates"
)

// Freshness gates. The daily run fails closed rather than computing on
// stale inputs.
const (
	PriceFreshnessDays        = 7
	FundamentalsFreshnessDays = 120
)

// Run statuses.
const (
	StatusSuccess          = "success"
	StatusFailedValidation = "failed_validation"
	StatusFailedFeatures   = "failed_features"
)

// Validation errors carried in RunResult.
const (
	ErrNoActiveTickers    = "no_active_tickers"
	ErrNoRecentPriceData  = "no_recent_price_data"
	ErrStaleFundamentals  = "stale_fundamentals"
	ErrNoPriceDataForDate = "no_price_data_for_date"
)

// ObjectStore is the bucket surface the pipelines consume.
type ObjectStore interface {
	GetFeatures(ctx context.Context, day time.Time) ([]models.FeatureRow, error)
	GetFeaturesLatest(ctx context.Context) ([]models.FeatureRow, error)
	ListFeatureDates(ctx context.Context) ([]time.Time, error)
	PutTriggers(ctx context.Context, day time.Time, rows []models.Trigger) error
	GetPriceSnapshot(ctx context.Context, day time.Time) ([]models.PriceSnapshot, error)
	GetLatestPriceSnapshotDate(ctx context.Context, today time.Time, lookbackDays int) (time.Time, bool, error)
}

// Database is the relational surface shared by the pipelines.
type Database interface {
	GetActiveTickers(ctx context.Context) ([]string, error)
	GetFundamentalsLatestDate(ctx context.Context, tickers []string) (time.Time, bool, error)
	GetValuationStats(ctx context.Context, metric models.MetricType) (map[string]models.ValuationStats, error)
	UpsertValuationStats(ctx context.Context, rows []models.ValuationStats) (int, error)
	WatchlistByTicker(ctx context.Context) (map[string][]models.WatchEntry, error)
	GetAlertState(ctx context.Context, userID, entityID uuid.UUID) (models.AlertState, error)
	UpsertAlertState(ctx context.Context, state models.AlertState) error
}

// FeatureComputer is the slice of the features package the daily run drives.
type FeatureComputer interface {
	ComputeDaily(ctx context.Context, runDate time.Time, tickers []string) (features.DailySummary, error)
	CreatePriceSnapshot(ctx context.Context, runDate time.Time, tickers []string) (int, error)
}

// Notifier sends the day's digests.
type Notifier interface {
	Notify(ctx context.Context, runDate time.Time, triggers []models.Trigger) (alerts.NotifySummary, error)
}

// Clock lets tests pin "today".
type Clock func() time.Time

// Daily runs the end-of-day pipeline: snapshot, features, templates, alerts.
type Daily struct {
	store    ObjectStore
	db       Database
	computer FeatureComputer
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      Clock
}

// NewDaily wires the daily pipeline. Logger, metrics, and clock may be nil.
func NewDaily(store ObjectStore, db Database, computer FeatureComputer, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics, now Clock) *Daily {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Daily{store: store, db: db, computer: computer, notifier: notifier, logger: logger, metrics: metrics, now: now}
}

// RunOptions control which steps execute.
type RunOptions struct {
	RunDate         time.Time // zero means discover the latest price date
	Tickers         []string  // nil means all active tickers
	SkipSnapshot    bool
	SkipFeatures    bool
	SkipTemplates   bool
	SkipAlerts      bool
	SkipStatsOnMiss bool // restrict to the basic template set when no valuation stats exist
}

// RunResult summarizes a daily run.
type RunResult struct {
	RunDate         time.Time
	Status          string
	ValidationError string
	Features        *features.DailySummary
	Triggers        int
	TemplateStats   *templates.EvalStats
	Alerts          *alerts.NotifySummary
	AxisChanges     int
}

// Run executes the daily pipeline. Validation failures return a RunResult
// with StatusFailedValidation and a nil error: stale data is an expected
// condition, not a fault.
func (d *Daily) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	started := d.now()
	result := RunResult{}

	tickers := opts.Tickers
	if tickers == nil {
		var err error
		tickers, err = d.db.GetActiveTickers(ctx)
		if err != nil {
			d.recordStepError("tickers")
			return result, fmt.Errorf("loading active tickers: %w", err)
		}
	}
	if len(tickers) == 0 {
		result.Status = StatusFailedValidation
		result.ValidationError = ErrNoActiveTickers
		return result, nil
	}

	runDate, validationErr, err := d.resolveRunDate(ctx, opts.RunDate, tickers)
	if err != nil {
		d.recordStepError("resolve_date")
		return result, err
	}
	if validationErr != "" {
		result.Status = StatusFailedValidation
		result.ValidationError = validationErr
		return result, nil
	}
	result.RunDate = runDate

	if fundDate, ok, err := d.db.GetFundamentalsLatestDate(ctx, tickers); err != nil {
		d.recordStepError("fundamentals_check")
		return result, fmt.Errorf("checking fundamentals freshness: %w", err)
	} else if !ok {
		d.logger.Warn("no fundamentals data, valuation fields will be unavailable")
	} else if age := int(runDate.Sub(fundDate).Hours() / 24); age > FundamentalsFreshnessDays {
		d.logger.Error("fundamentals too stale", "latest", fundDate.Format(models.DateOnly), "days_old", age)
		result.Status = StatusFailedValidation
		result.ValidationError = ErrStaleFundamentals
		return result, nil
	}

	d.logger.Info("daily pipeline starting", "run_date", runDate.Format(models.DateOnly), "tickers", len(tickers))

	if !opts.SkipSnapshot && !opts.SkipFeatures {
		n, err := d.computer.CreatePriceSnapshot(ctx, runDate, tickers)
		if err != nil {
			d.recordStepError("snapshot")
			return result, fmt.Errorf("creating price snapshot: %w", err)
		}
		d.logger.Info("price snapshot created", "tickers", n)
	}

	if !opts.SkipFeatures {
		summary, err := d.computer.ComputeDaily(ctx, runDate, tickers)
		if err != nil {
			d.recordStepError("features")
			return result, fmt.Errorf("computing features: %w", err)
		}
		result.Features = &summary
		if summary.Status != features.StatusSuccess && summary.Status != features.StatusDryRun {
			result.Status = StatusFailedFeatures
			return result, nil
		}
	}

	var triggers []models.Trigger
	if !opts.SkipTemplates {
		var stats templates.EvalStats
		var err error
		triggers, stats, err = d.evaluateTemplates(ctx, runDate, opts.SkipStatsOnMiss)
		if err != nil {
			d.recordStepError("templates")
			return result, err
		}
		result.Triggers = len(triggers)
		result.TemplateStats = &stats
		if d.metrics != nil {
			for i := range triggers {
				d.metrics.RecordTrigger(triggers[i].TemplateID)
			}
		}
	}

	if !opts.SkipAlerts {
		summary, err := d.notifier.Notify(ctx, runDate, triggers)
		if err != nil {
			d.recordStepError("alerts")
			return result, fmt.Errorf("sending alerts: %w", err)
		}
		result.Alerts = &summary
		if d.metrics != nil {
			d.metrics.DigestsSentTotal.Add(float64(summary.EmailsSent))
		}

		axisChanges, err := d.trackAxisState(ctx, runDate)
		if err != nil {
			d.recordStepError("axis_state")
			return result, err
		}
		result.AxisChanges = axisChanges
	}

	result.Status = StatusSuccess
	if d.metrics != nil {
		d.metrics.RecordPipelineRun("daily", result.Status, d.now().Sub(started))
	}
	d.logger.Info("daily pipeline complete",
		"run_date", runDate.Format(models.DateOnly),
		"triggers", result.Triggers,
		"axis_changes", result.AxisChanges)
	return result, nil
}

func (d *Daily) recordStepError(step string) {
	if d.metrics != nil {
		d.metrics.RecordStepError("daily", step)
	}
}

// resolveRunDate discovers or validates the target date. The second return
// is a validation error name when the gate fails.
func (d *Daily) resolveRunDate(ctx context.Context, requested time.Time, tickers []string) (time.Time, string, error) {
	if requested.IsZero() {
		latest, ok, err := d.store.GetLatestPriceSnapshotDate(ctx, d.now(), PriceFreshnessDays)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("discovering latest price date: %w", err)
		}
		if !ok {
			return time.Time{}, ErrNoRecentPriceData, nil
		}
		d.logger.Info("using latest available price data", "run_date", latest.Format(models.DateOnly))
		return latest, "", nil
	}

	snapshot, err := d.store.GetPriceSnapshot(ctx, requested)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("checking price snapshot: %w", err)
	}
	if len(snapshot) == 0 {
		// The snapshot step may still build one from ingestion files; only
		// hard-fail when the date has no data at all.
		d.logger.Warn("no price snapshot for requested date", "run_date", requested.Format(models.DateOnly))
	}
	return requested, "", nil
}

// evaluateTemplates joins the latest features with valuation stats and runs
// the catalogue. When no stats exist at all and skipStatsOnMiss is set, only
// the basic template set runs; a per-ticker stats gap always degrades to
// skipping just that ticker's history templates.
func (d *Daily) evaluateTemplates(ctx context.Context, runDate time.Time, skipStatsOnMiss bool) ([]models.Trigger, templates.EvalStats, error) {
	rows, err := d.store.GetFeaturesLatest(ctx)
	if err != nil {
		return nil, templates.EvalStats{}, fmt.Errorf("loading latest features: %w", err)
	}
	if len(rows) == 0 {
		d.logger.Warn("no features available, skipping template evaluation")
		return nil, templates.EvalStats{}, nil
	}

	statsByTicker, err := d.db.GetValuationStats(ctx, models.MetricEVEBITDA)
	if err != nil {
		return nil, templates.EvalStats{}, fmt.Errorf("loading valuation stats: %w", err)
	}

	catalogue := templates.Catalogue
	if len(statsByTicker) == 0 && skipStatsOnMiss {
		d.logger.Warn("no valuation stats available, evaluating basic templates only")
		catalogue = templates.Basic()
	}

	snapshots := make([]templates.Snapshot, 0, len(rows))
	for i := range rows {
		snapshots = append(snapshots, buildSnapshot(&rows[i], statsByTicker))
	}

	engine := templates.NewEngine(catalogue, d.logger)
	triggers, stats := engine.Evaluate(snapshots)

	if err := d.store.PutTriggers(ctx, runDate, triggers); err != nil {
		return nil, stats, fmt.Errorf("writing triggers: %w", err)
	}
	return triggers, stats, nil
}

// buildSnapshot joins one feature row with its ticker's stats percentiles.
func buildSnapshot(row *models.FeatureRow, stats map[string]models.ValuationStats) templates.Snapshot {
	snap := templates.Snapshot{
		Date:      row.Date,
		Ticker:    row.Ticker,
		Close:     row.Close,
		EMAShort:  row.EMAShort,
		EMALong:   row.EMALong,
		PrevClose: row.PrevClose,
		PrevShort: row.PrevShort,
		PrevLong:  row.PrevLong,
		Multiple:  row.EVEBITDA,
	}
	if s, ok := stats[row.Ticker]; ok {
		p20, p50, p80 := s.P20, s.P50, s.P80
		snap.P20 = &p20
		snap.P50 = &p50
		snap.P80 = &p80
	}
	return snap
}

// trackAxisState evaluates the trend and valuation axes for every watched
// ticker and advances state unconditionally. It returns how many material
// changes were detected.
func (d *Daily) trackAxisState(ctx context.Context, runDate time.Time) (int, error) {
	rows, err := d.store.GetFeaturesLatest(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading latest features: %w", err)
	}
	byTicker := make(map[string]*models.FeatureRow, len(rows))
	for i := range rows {
		byTicker[rows[i].Ticker] = &rows[i]
	}

	stats, err := d.db.GetValuationStats(ctx, models.MetricEVEBITDA)
	if err != nil {
		return 0, fmt.Errorf("loading valuation stats: %w", err)
	}

	watchlist, err := d.db.WatchlistByTicker(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading watchlists: %w", err)
	}

	changes := 0
	for ticker, watchers := range watchlist {
		row, ok := byTicker[ticker]
		if !ok {
			continue
		}
		obs := alerts.Observation{
			Ticker:              ticker,
			TrendPosition:       alerts.TrendFromRow(row.Close, row.EMALong),
			Close:               &row.Close,
			ValuationPercentile: percentileFromStats(row, stats),
		}

		for _, w := range watchers {
			prev, err := d.db.GetAlertState(ctx, w.UserID, w.EntityID)
			if err != nil {
				return changes, fmt.Errorf("loading alert state for %s: %w", ticker, err)
			}
			detected, next := alerts.EvaluateState(prev, obs, runDate)
			next.UserID = w.UserID
			next.EntityID = w.EntityID
			if err := d.db.UpsertAlertState(ctx, next); err != nil {
				return changes, fmt.Errorf("upserting alert state for %s: %w", ticker, err)
			}
			for _, c := range detected {
				d.logger.Info("material change detected",
					"ticker", c.Ticker, "change_type", c.ChangeType,
					"old", c.OldValue, "new", c.NewValue)
			}
			changes += len(detected)
		}
	}
	return changes, nil
}

// percentileFromStats scores the row's multiple against the stored stats
// distribution using the percentile bands.
func percentileFromStats(row *models.FeatureRow, stats map[string]models.ValuationStats) *float64 {
	if row.EVEBITDA == nil {
		return nil
	}
	s, ok := stats[row.Ticker]
	if !ok {
		return nil
	}
	m := *row.EVEBITDA

	// Piecewise interpolation over the stored band edges.
	type band struct {
		pct, val float64
	}
	bands := []band{{10, s.P10}, {20, s.P20}, {50, s.P50}, {80, s.P80}, {90, s.P90}}

	if m <= bands[0].val {
		p := 10.0
		return &p
	}
	for i := 1; i < len(bands); i++ {
		lo, hi := bands[i-1], bands[i]
		if m <= hi.val {
			p := lo.pct
			if hi.val > lo.val {
				p = lo.pct + (hi.pct-lo.pct)*(m-lo.val)/(hi.val-lo.val)
			}
			return &p
		}
	}
	p := 90.0
	return &p
}
