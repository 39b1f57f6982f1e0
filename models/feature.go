package models

import (
	"time"
)

// DateOnly is the canonical layout for calendar dates in keys and payloads.
const DateOnly = "2006-01-02"

// FeatureRow is one cross-sectional feature record for a (date, ticker) pair.
// Rows for historical dates are append-only; the "latest" projection is
// overwritten on every daily run.
type FeatureRow struct {
	Date   time.Time `json:"date" parquet:"date"`
	Ticker string    `json:"ticker" parquet:"ticker"`

	Close  float64  `json:"close" parquet:"close"`
	Volume *float64 `json:"volume,omitempty" parquet:"volume,optional"`

	EMALong   float64  `json:"ema_200" parquet:"ema_200"`
	EMAShort  float64  `json:"ema_50" parquet:"ema_50"`
	PrevClose *float64 `json:"prev_close,omitempty" parquet:"prev_close,optional"`
	PrevLong  *float64 `json:"prev_ema_200,omitempty" parquet:"prev_ema_200,optional"`
	PrevShort *float64 `json:"prev_ema_50,omitempty" parquet:"prev_ema_50,optional"`

	EVEBITDA        *float64 `json:"ev_ebitda,omitempty" parquet:"ev_ebitda,optional"`
	MarketCap       *float64 `json:"market_cap,omitempty" parquet:"market_cap,optional"`
	EnterpriseValue *float64 `json:"enterprise_value,omitempty" parquet:"enterprise_value,optional"`
	EBITDATTM       *float64 `json:"ebitda_ttm,omitempty" parquet:"ebitda_ttm,optional"`

	Sector string `json:"sector,omitempty" parquet:"sector,optional"`
}

// HasValuation reports whether the row carries a usable valuation multiple.
func (f *FeatureRow) HasValuation() bool {
	return f.EVEBITDA != nil && *f.EVEBITDA > 0
}

// PriceBar is a single daily OHLCV observation from the time-series store.
type PriceBar struct {
	Date   time.Time `json:"date" parquet:"date"`
	Ticker string    `json:"ticker" parquet:"ticker"`
	Open   float64   `json:"open" parquet:"open"`
	High   float64   `json:"high" parquet:"high"`
	Low    float64   `json:"low" parquet:"low"`
	Close  float64   `json:"close" parquet:"close"`
	Volume float64   `json:"volume" parquet:"volume"`
}

// PriceSnapshot is the cross-sectional close/volume view for one date,
// assembled after ingestion and consumed by the daily feature step.
type PriceSnapshot struct {
	Date   time.Time `json:"date" parquet:"date"`
	Ticker string    `json:"ticker" parquet:"ticker"`
	Close  float64   `json:"close" parquet:"close"`
	Volume *float64  `json:"volume,omitempty" parquet:"volume,optional"`
}
