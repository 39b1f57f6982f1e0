package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"stock-sentinel/models"
	"stock-sentinel/valuation"
)

// FundamentalsWriter persists the derived latest-TTM rows.
type FundamentalsWriter interface {
	UpsertFundamentalsLatest(ctx context.Context, rows []models.FundamentalsLatest) (int, error)
}

// SeriesStore merges fetched history into the per-ticker time-series files.
type SeriesStore interface {
	MergePriceBars(ctx context.Context, ticker string, bars []models.PriceBar) (int, error)
	MergeFundamentals(ctx context.Context, ticker string, quarters []models.FundamentalsQuarter) (int, error)
}

// Ingestor pulls upstream market data and merges it into the per-ticker
// time-series store. It also derives the latest TTM fundamentals row the
// daily feature computer joins against.
type Ingestor struct {
	source MarketDataService
	store  SeriesStore
	db     FundamentalsWriter
	logger *slog.Logger
}

// NewIngestor wires an ingestor. Logger may be nil.
func NewIngestor(source MarketDataService, store SeriesStore, db FundamentalsWriter, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{source: source, store: store, db: db, logger: logger}
}

// IngestSummary reports one ingestion run.
type IngestSummary struct {
	TickersProcessed int
	TickersFailed    int
	BarsWritten      int
	QuartersWritten  int
}

// IngestPrices fetches and merges daily bars for each ticker over
// [from, to]. Per-ticker failures are isolated.
func (g *Ingestor) IngestPrices(ctx context.Context, tickers []string, from, to time.Time) (IngestSummary, error) {
	summary := IngestSummary{}

	for _, ticker := range tickers {
		bars, err := g.source.GetEOD(ctx, ticker, from, to)
		if err != nil {
			g.logger.Error("price ingestion failed", "ticker", ticker, "error", err)
			summary.TickersFailed++
			continue
		}
		if len(bars) == 0 {
			g.logger.Warn("no bars returned", "ticker", ticker)
			summary.TickersFailed++
			continue
		}

		n, err := g.store.MergePriceBars(ctx, ticker, bars)
		if err != nil {
			g.logger.Error("price merge failed", "ticker", ticker, "error", err)
			summary.TickersFailed++
			continue
		}
		summary.BarsWritten += n
		summary.TickersProcessed++
	}

	g.logger.Info("price ingestion complete",
		"processed", summary.TickersProcessed,
		"failed", summary.TickersFailed,
		"bars", summary.BarsWritten)
	return summary, nil
}

// IngestFundamentals fetches, merges, and re-derives TTM fundamentals for
// each ticker.
func (g *Ingestor) IngestFundamentals(ctx context.Context, tickers []string) (IngestSummary, error) {
	summary := IngestSummary{}
	var latest []models.FundamentalsLatest

	for _, ticker := range tickers {
		quarters, err := g.source.GetFundamentals(ctx, ticker)
		if err != nil {
			g.logger.Error("fundamentals ingestion failed", "ticker", ticker, "error", err)
			summary.TickersFailed++
			continue
		}
		if len(quarters) == 0 {
			g.logger.Warn("no fundamentals returned", "ticker", ticker)
			summary.TickersFailed++
			continue
		}

		n, err := g.store.MergeFundamentals(ctx, ticker, quarters)
		if err != nil {
			g.logger.Error("fundamentals merge failed", "ticker", ticker, "error", err)
			summary.TickersFailed++
			continue
		}
		summary.QuartersWritten += n
		summary.TickersProcessed++

		if row, ok := DeriveLatestFundamentals(ticker, quarters); ok {
			latest = append(latest, row)
		}
	}

	if g.db != nil && len(latest) > 0 {
		if _, err := g.db.UpsertFundamentalsLatest(ctx, latest); err != nil {
			return summary, fmt.Errorf("upserting latest fundamentals: %w", err)
		}
	}

	g.logger.Info("fundamentals ingestion complete",
		"processed", summary.TickersProcessed,
		"failed", summary.TickersFailed,
		"quarters", summary.QuartersWritten)
	return summary, nil
}

// DeriveLatestFundamentals rolls the most recent quarters into the TTM row
// the feature computer consumes. Requires at least one quarterly report;
// TTM aggregates stay nil until four quarters exist.
func DeriveLatestFundamentals(ticker string, quarters []models.FundamentalsQuarter) (models.FundamentalsLatest, bool) {
	var quarterly []models.FundamentalsQuarter
	for i := range quarters {
		if quarters[i].IsQuarterly() {
			quarterly = append(quarterly, quarters[i])
		}
	}
	if len(quarterly) == 0 {
		return models.FundamentalsLatest{}, false
	}
	sort.Slice(quarterly, func(i, j int) bool { return quarterly[i].PeriodEnd.Before(quarterly[j].PeriodEnd) })

	last := quarterly[len(quarterly)-1]
	row := models.FundamentalsLatest{
		Ticker:            ticker,
		SharesOutstanding: last.SharesOutstanding,
		AsOfDate:          last.PeriodEnd,
	}

	totalDebt := last.TotalDebtCombined()
	row.TotalDebt = &totalDebt
	if last.Cash != nil {
		cash := *last.Cash
		row.Cash = &cash
	}

	if len(quarterly) >= 4 {
		var ebitda, revenue float64
		var ebitdaOK, revenueOK = true, true
		for _, q := range quarterly[len(quarterly)-4:] {
			if v, ok := valuation.QuarterEBITDA(q); ok {
				ebitda += v
			} else {
				ebitdaOK = false
			}
			if q.Revenue != nil {
				revenue += *q.Revenue
			} else {
				revenueOK = false
			}
		}
		if ebitdaOK {
			row.EBITDATTM = &ebitda
		}
		if revenueOK {
			row.RevenueTTM = &revenue
		}
	}

	return row, true
}
