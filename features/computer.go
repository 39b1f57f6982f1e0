package features

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stock-sentinel/models"
)

// Run statuses reported in summaries.
const (
	StatusSuccess     = "success"
	StatusDryRun      = "dry_run"
	StatusNoTickers   = "no_tickers"
	StatusNoPriceData = "no_price_data"
	StatusNoFeatures  = "no_features"
)

// StateStore is the database surface the computer needs: indicator state for
// incremental EMAs, latest fundamentals for valuation, and entity metadata.
type StateStore interface {
	FetchIndicatorState(ctx context.Context, tickers []string) (map[string]models.IndicatorState, error)
	UpsertIndicatorState(ctx context.Context, states []models.IndicatorState) (int, error)
	FetchFundamentalsLatest(ctx context.Context, tickers []string) (map[string]models.FundamentalsLatest, error)
	GetSectors(ctx context.Context, tickers []string) (map[string]string, error)
}

// FeatureStore is the object-store surface: date-partitioned feature files,
// the latest projection, and cross-sectional price snapshots.
type FeatureStore interface {
	PutFeatures(ctx context.Context, day time.Time, rows []models.FeatureRow) error
	PutFeaturesLatest(ctx context.Context, rows []models.FeatureRow) error
	GetPriceSnapshot(ctx context.Context, day time.Time) ([]models.PriceSnapshot, error)
	PutPriceSnapshot(ctx context.Context, day time.Time, rows []models.PriceSnapshot) error
}

// PriceReader reads per-ticker time series.
type PriceReader interface {
	GetPrices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error)
	GetFundamentals(ctx context.Context, ticker string, start, end time.Time) ([]models.FundamentalsQuarter, error)
}

// Computer produces the daily feature snapshot.
type Computer struct {
	store  FeatureStore
	db     StateStore
	reader PriceReader
	logger *slog.Logger
	dryRun bool
}

// NewComputer wires a feature computer. Logger may be nil.
func NewComputer(store FeatureStore, db StateStore, reader PriceReader, logger *slog.Logger, dryRun bool) *Computer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Computer{store: store, db: db, reader: reader, logger: logger, dryRun: dryRun}
}

// DailySummary reports one incremental run.
type DailySummary struct {
	RunDate          time.Time
	Status           string
	TickersProcessed int
	ColdStarts       int
	ValuationValid   int
}

// ComputeDaily advances every ticker's EMAs by one trading day, joins the
// latest fundamentals, and persists the snapshot plus indicator state.
func (c *Computer) ComputeDaily(ctx context.Context, runDate time.Time, tickers []string) (DailySummary, error) {
	summary := DailySummary{RunDate: runDate}

	if len(tickers) == 0 {
		summary.Status = StatusNoTickers
		return summary, nil
	}
	c.logger.Info("computing daily features", "run_date", runDate.Format(models.DateOnly), "tickers", len(tickers))

	prices, err := c.loadPricesForDate(ctx, runDate, tickers)
	if err != nil {
		return summary, fmt.Errorf("loading prices for %s: %w", runDate.Format(models.DateOnly), err)
	}
	if len(prices) == 0 {
		summary.Status = StatusNoPriceData
		return summary, nil
	}

	states, err := c.db.FetchIndicatorState(ctx, tickers)
	if err != nil {
		return summary, fmt.Errorf("fetching indicator state: %w", err)
	}
	fundamentals, err := c.db.FetchFundamentalsLatest(ctx, tickers)
	if err != nil {
		return summary, fmt.Errorf("fetching fundamentals: %w", err)
	}
	sectors, err := c.db.GetSectors(ctx, tickers)
	if err != nil {
		return summary, fmt.Errorf("fetching sectors: %w", err)
	}

	rows := make([]models.FeatureRow, 0, len(prices))
	updates := make([]models.IndicatorState, 0, len(prices))

	for _, p := range prices {
		var prev *models.IndicatorState
		if s, ok := states[p.Ticker]; ok {
			s := s
			prev = &s
		} else {
			summary.ColdStarts++
		}

		var fund *models.FundamentalsLatest
		if f, ok := fundamentals[p.Ticker]; ok {
			f := f
			fund = &f
		}

		row, state := computeTickerFeatures(p, runDate, prev, fund, sectors[p.Ticker])
		if row.HasValuation() {
			summary.ValuationValid++
		}
		rows = append(rows, row)
		updates = append(updates, state)
	}

	summary.TickersProcessed = len(rows)
	c.logger.Info("feature computation complete",
		"tickers", summary.TickersProcessed,
		"cold_starts", summary.ColdStarts,
		"valuation_valid", summary.ValuationValid)

	if c.dryRun {
		summary.Status = StatusDryRun
		return summary, nil
	}

	if err := c.store.PutFeatures(ctx, runDate, rows); err != nil {
		return summary, fmt.Errorf("writing features: %w", err)
	}
	if err := c.store.PutFeaturesLatest(ctx, rows); err != nil {
		return summary, fmt.Errorf("writing latest features: %w", err)
	}
	if _, err := c.db.UpsertIndicatorState(ctx, updates); err != nil {
		return summary, fmt.Errorf("upserting indicator state: %w", err)
	}

	summary.Status = StatusSuccess
	return summary, nil
}

// loadPricesForDate prefers the cross-sectional snapshot and falls back to
// reading individual ticker files.
func (c *Computer) loadPricesForDate(ctx context.Context, runDate time.Time, tickers []string) ([]models.PriceSnapshot, error) {
	snapshot, err := c.store.GetPriceSnapshot(ctx, runDate)
	if err == nil && len(snapshot) > 0 {
		want := make(map[string]bool, len(tickers))
		for _, t := range tickers {
			want[t] = true
		}
		filtered := snapshot[:0]
		for _, row := range snapshot {
			if want[row.Ticker] {
				filtered = append(filtered, row)
			}
		}
		if len(filtered) > 0 {
			return filtered, nil
		}
	}

	c.logger.Info("no price snapshot, reading individual ticker files", "run_date", runDate.Format(models.DateOnly))
	var rows []models.PriceSnapshot
	for _, ticker := range tickers {
		bars, err := c.reader.GetPrices(ctx, ticker, runDate, runDate)
		if err != nil {
			c.logger.Warn("could not load prices", "ticker", ticker, "error", err)
			continue
		}
		if len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		rows = append(rows, models.PriceSnapshot{
			Date:   runDate,
			Ticker: ticker,
			Close:  last.Close,
			Volume: &last.Volume,
		})
	}
	return rows, nil
}

// CreatePriceSnapshot assembles and stores the cross-sectional snapshot from
// individual ticker files, typically right after ingestion.
func (c *Computer) CreatePriceSnapshot(ctx context.Context, runDate time.Time, tickers []string) (int, error) {
	var rows []models.PriceSnapshot
	for _, ticker := range tickers {
		bars, err := c.reader.GetPrices(ctx, ticker, runDate, runDate)
		if err != nil {
			c.logger.Warn("could not load prices", "ticker", ticker, "error", err)
			continue
		}
		for _, b := range bars {
			b := b
			if b.Date.Equal(runDate) {
				rows = append(rows, models.PriceSnapshot{Date: runDate, Ticker: ticker, Close: b.Close, Volume: &b.Volume})
			}
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := c.store.PutPriceSnapshot(ctx, runDate, rows); err != nil {
		return 0, fmt.Errorf("writing price snapshot: %w", err)
	}
	return len(rows), nil
}

// computeTickerFeatures advances one ticker by one day. A nil prev state is
// a cold start: the EMAs seed at the close and prev fields stay unset.
func computeTickerFeatures(
	p models.PriceSnapshot,
	runDate time.Time,
	prev *models.IndicatorState,
	fund *models.FundamentalsLatest,
	sector string,
) (models.FeatureRow, models.IndicatorState) {
	close := p.Close

	var emaLong, emaShort float64
	var prevClose, prevLong, prevShort *float64

	if prev == nil {
		emaLong = close
		emaShort = close
	} else {
		lastClose := prev.LastClose
		prevClose = &lastClose
		pl, ps := prev.EMALong, prev.EMAShort
		prevLong = &pl
		prevShort = &ps
		emaLong = NextEMA(prev.EMALong, close, Alpha(EMALongSpan))
		emaShort = NextEMA(prev.EMAShort, close, Alpha(EMAShortSpan))
	}

	row := models.FeatureRow{
		Date:      runDate,
		Ticker:    p.Ticker,
		Close:     close,
		Volume:    p.Volume,
		EMALong:   emaLong,
		EMAShort:  emaShort,
		PrevClose: prevClose,
		PrevLong:  prevLong,
		PrevShort: prevShort,
		Sector:    sector,
	}

	if fund != nil && fund.SharesOutstanding != nil && *fund.SharesOutstanding > 0 {
		marketCap := close * *fund.SharesOutstanding
		ev := marketCap + fund.EffectiveNetDebt()
		row.MarketCap = &marketCap
		row.EnterpriseValue = &ev
		if fund.EBITDATTM != nil && *fund.EBITDATTM > 0 {
			ebitda := *fund.EBITDATTM
			multiple := ev / ebitda
			row.EBITDATTM = &ebitda
			row.EVEBITDA = &multiple
		}
	}

	state := models.IndicatorState{
		Ticker:        p.Ticker,
		LastPriceDate: runDate,
		LastClose:     close,
		PrevClose:     prevClose,
		PrevLong:      prevLong,
		PrevShort:     prevShort,
		EMALong:       emaLong,
		EMAShort:      emaShort,
	}
	return row, state
}
