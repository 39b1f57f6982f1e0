package models

import "time"

// MetricType identifies which valuation multiple a signal is based on.
type MetricType string

const (
	MetricEVEBITDA  MetricType = "ev_ebitda"
	MetricEVRevenue MetricType = "ev_revenue"
	MetricUnknown   MetricType = "unknown"
)

// Regime is the coarse valuation classification derived from a percentile.
type Regime string

const (
	RegimeCheap     Regime = "cheap"
	RegimeNormal    Regime = "normal"
	RegimeExpensive Regime = "expensive"
	RegimeUnknown   Regime = "unknown"
)

// TrendPosition is the technical trend state relative to the long EMA.
type TrendPosition string

const (
	TrendAbove   TrendPosition = "above_average"
	TrendBelow   TrendPosition = "below_average"
	TrendUnknown TrendPosition = "unknown"
)

// ValuationStats is the weekly-recomputed distribution summary of a ticker's
// cleaned historical multiple. Keyed by (ticker, metric, window); each write
// fully replaces the prior row for that key.
type ValuationStats struct {
	Ticker     string     `json:"ticker"`
	Metric     MetricType `json:"metric"`
	WindowDays int        `json:"window_days"`

	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P10   float64 `json:"p10"`
	P20   float64 `json:"p20"`
	P50   float64 `json:"p50"`
	P80   float64 `json:"p80"`
	P90   float64 `json:"p90"`

	AsOfDate time.Time `json:"asof_date"`
}

// ValuationSignal is the outcome of a full per-ticker valuation computation.
type ValuationSignal struct {
	MetricType        MetricType `json:"metric_type"`
	CurrentMultiple   *float64   `json:"current_multiple,omitempty"`
	CurrentPercentile *float64   `json:"current_percentile,omitempty"`
	Regime            Regime     `json:"regime"`
	HistoryCount      int        `json:"history_count"`
	HistoryMin        *float64   `json:"history_min,omitempty"`
	HistoryMax        *float64   `json:"history_max,omitempty"`
	HistoryMedian     *float64   `json:"history_median,omitempty"`
	OutliersRemoved   int        `json:"outliers_removed"`
	Success           bool       `json:"success"`
	Err               string     `json:"error,omitempty"`
}
