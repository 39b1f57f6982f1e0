package features

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stock-sentinel/models"
)

// Warmup windows in calendar days. The price warmup gives the long EMA a
// realistic history before the requested range; the fundamentals warmup
// reaches back far enough that the first price dates have a quarter to join.
const (
	PriceWarmupDays        = 300
	FundamentalsWarmupDays = 180
)

// BackfillSummary reports a backfill run.
type BackfillSummary struct {
	Status           string
	TickersProcessed int
	TickersFailed    int
	TotalRows        int
	DatesWritten     int
}

// Backfill recomputes features for [start, end] with point-in-time
// fundamentals. One failing ticker does not stop the run.
func (c *Computer) Backfill(ctx context.Context, start, end time.Time, tickers []string) (BackfillSummary, error) {
	summary := BackfillSummary{}
	if len(tickers) == 0 {
		summary.Status = StatusNoTickers
		return summary, nil
	}
	c.logger.Info("backfilling features",
		"start", start.Format(models.DateOnly), "end", end.Format(models.DateOnly), "tickers", len(tickers))

	sectors, err := c.db.GetSectors(ctx, tickers)
	if err != nil {
		return summary, fmt.Errorf("fetching sectors: %w", err)
	}

	var all []models.FeatureRow
	for _, ticker := range tickers {
		rows, err := c.backfillTicker(ctx, ticker, start, end, sectors[ticker])
		if err != nil {
			c.logger.Error("backfill failed for ticker", "ticker", ticker, "error", err)
			summary.TickersFailed++
			continue
		}
		if len(rows) == 0 {
			summary.TickersFailed++
			continue
		}
		all = append(all, rows...)
		summary.TickersProcessed++
	}

	if len(all) == 0 {
		summary.Status = StatusNoFeatures
		return summary, nil
	}
	summary.TotalRows = len(all)

	if c.dryRun {
		summary.Status = StatusDryRun
		return summary, nil
	}

	dates, err := c.writeFeaturesByDate(ctx, all)
	if err != nil {
		return summary, err
	}
	summary.DatesWritten = dates

	if err := c.updateStateFromBackfill(ctx, all); err != nil {
		return summary, fmt.Errorf("updating indicator state: %w", err)
	}

	summary.Status = StatusSuccess
	return summary, nil
}

// BackfillTickerRows computes the feature series for one ticker. Exported so
// callers can replay a single name without persisting.
func (c *Computer) BackfillTickerRows(ctx context.Context, ticker string, start, end time.Time) ([]models.FeatureRow, error) {
	sectors, err := c.db.GetSectors(ctx, []string{ticker})
	if err != nil {
		return nil, err
	}
	return c.backfillTicker(ctx, ticker, start, end, sectors[ticker])
}

func (c *Computer) backfillTicker(ctx context.Context, ticker string, start, end time.Time, sector string) ([]models.FeatureRow, error) {
	warmupStart := start.AddDate(0, 0, -PriceWarmupDays)
	bars, err := c.reader.GetPrices(ctx, ticker, warmupStart, end)
	if err != nil {
		return nil, fmt.Errorf("reading prices: %w", err)
	}
	if len(bars) == 0 {
		return nil, nil
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	fundStart := warmupStart.AddDate(0, 0, -FundamentalsWarmupDays)
	quarters, err := c.reader.GetFundamentals(ctx, ticker, fundStart, end)
	if err != nil {
		c.logger.Warn("no fundamentals, valuation fields will be null", "ticker", ticker, "error", err)
		quarters = nil
	}
	pit := BuildPITFundamentals(quarters)

	return buildBackfillRows(ticker, sector, bars, pit, start, end), nil
}

// buildBackfillRows runs the continuous EMA recursion over the warmed-up bar
// series, joins point-in-time fundamentals, trims to the requested range, and
// shifts prev values within the trimmed window.
func buildBackfillRows(ticker, sector string, bars []models.PriceBar, pit []FundamentalsPoint, start, end time.Time) []models.FeatureRow {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	emaLong := EMASeries(closes, EMALongSpan)
	emaShort := EMASeries(closes, EMAShortSpan)

	rows := make([]models.FeatureRow, 0, len(bars))
	for i, b := range bars {
		b := b
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		row := models.FeatureRow{
			Date:     b.Date,
			Ticker:   ticker,
			Close:    b.Close,
			Volume:   &b.Volume,
			EMALong:  emaLong[i],
			EMAShort: emaShort[i],
			Sector:   sector,
		}

		if fund, ok := AsOfFundamentals(pit, b.Date); ok && fund.SharesOutstanding != nil && *fund.SharesOutstanding > 0 {
			marketCap := b.Close * *fund.SharesOutstanding
			ev := marketCap + fund.TotalDebt - fund.Cash
			row.MarketCap = &marketCap
			row.EnterpriseValue = &ev
			if fund.EBITDATTM != nil && *fund.EBITDATTM > 0 {
				ebitda := *fund.EBITDATTM
				multiple := ev / ebitda
				row.EBITDATTM = &ebitda
				row.EVEBITDA = &multiple
			}
		}

		rows = append(rows, row)
	}

	// Prev values shift within the returned window only.
	for i := len(rows) - 1; i >= 1; i-- {
		prev := rows[i-1]
		pc, pl, ps := prev.Close, prev.EMALong, prev.EMAShort
		rows[i].PrevClose = &pc
		rows[i].PrevLong = &pl
		rows[i].PrevShort = &ps
	}
	return rows
}

func (c *Computer) writeFeaturesByDate(ctx context.Context, all []models.FeatureRow) (int, error) {
	byDate := make(map[time.Time][]models.FeatureRow)
	for _, row := range all {
		byDate[row.Date] = append(byDate[row.Date], row)
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, d := range dates {
		if err := c.store.PutFeatures(ctx, d, byDate[d]); err != nil {
			return 0, fmt.Errorf("writing features for %s: %w", d.Format(models.DateOnly), err)
		}
	}

	latest := dates[len(dates)-1]
	if err := c.store.PutFeaturesLatest(ctx, byDate[latest]); err != nil {
		return 0, fmt.Errorf("writing latest features: %w", err)
	}
	return len(dates), nil
}

// updateStateFromBackfill persists each ticker's final row as its indicator
// state so later incremental runs continue the same recursion.
func (c *Computer) updateStateFromBackfill(ctx context.Context, all []models.FeatureRow) error {
	final := make(map[string]models.FeatureRow)
	for _, row := range all {
		if cur, ok := final[row.Ticker]; !ok || row.Date.After(cur.Date) {
			final[row.Ticker] = row
		}
	}

	updates := make([]models.IndicatorState, 0, len(final))
	for _, row := range final {
		updates = append(updates, models.IndicatorState{
			Ticker:        row.Ticker,
			LastPriceDate: row.Date,
			LastClose:     row.Close,
			PrevClose:     row.PrevClose,
			PrevLong:      row.PrevLong,
			PrevShort:     row.PrevShort,
			EMALong:       row.EMALong,
			EMAShort:      row.EMAShort,
		})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Ticker < updates[j].Ticker })

	n, err := c.db.UpsertIndicatorState(ctx, updates)
	if err != nil {
		return err
	}
	c.logger.Info("indicator state updated from backfill", "tickers", n)
	return nil
}
