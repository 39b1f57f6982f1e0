package models

import "time"

// IndicatorState is the persisted per-ticker state that lets the daily
// pipeline advance EMAs one trading day at a time. One row per ticker,
// upserted after every run, never deleted.
type IndicatorState struct {
	Ticker        string    `json:"ticker"`
	LastPriceDate time.Time `json:"last_price_date"`
	LastClose     float64   `json:"last_close"`

	PrevClose *float64 `json:"prev_close,omitempty"`
	PrevLong  *float64 `json:"prev_ema_200,omitempty"`
	PrevShort *float64 `json:"prev_ema_50,omitempty"`

	EMALong  float64 `json:"ema_200"`
	EMAShort float64 `json:"ema_50"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FundamentalsLatest holds the most recent trailing-twelve-month line items
// for a ticker, superseded whenever new quarterly fundamentals are ingested.
type FundamentalsLatest struct {
	Ticker            string    `json:"ticker"`
	EBITDATTM         *float64  `json:"ebitda_ttm,omitempty"`
	RevenueTTM        *float64  `json:"revenue_ttm,omitempty"`
	NetDebt           *float64  `json:"net_debt,omitempty"`
	SharesOutstanding *float64  `json:"shares_outstanding,omitempty"`
	TotalDebt         *float64  `json:"total_debt,omitempty"`
	Cash              *float64  `json:"cash_and_equivalents,omitempty"`
	AsOfDate          time.Time `json:"asof_date"`
}

// EffectiveNetDebt resolves net debt, preferring the reported figure and
// falling back to total debt minus cash.
func (f *FundamentalsLatest) EffectiveNetDebt() float64 {
	if f.NetDebt != nil {
		return *f.NetDebt
	}
	var debt, cash float64
	if f.TotalDebt != nil {
		debt = *f.TotalDebt
	}
	if f.Cash != nil {
		cash = *f.Cash
	}
	return debt - cash
}

// FundamentalsQuarter is one quarterly report row from the time-series store,
// used by the backfill path to rebuild TTM aggregates point-in-time.
type FundamentalsQuarter struct {
	Ticker    string    `json:"ticker" parquet:"ticker"`
	PeriodEnd time.Time `json:"period_end" parquet:"period_end"`
	Period    string    `json:"period" parquet:"period"`

	Revenue           *float64 `json:"sales,omitempty" parquet:"sales,optional"`
	EBITDA            *float64 `json:"income_before_depreciation,omitempty" parquet:"income_before_depreciation,optional"`
	NetIncome         *float64 `json:"net_income,omitempty" parquet:"net_income,optional"`
	OperatingIncome   *float64 `json:"operating_income,omitempty" parquet:"operating_income,optional"`
	SharesOutstanding *float64 `json:"shares_outstanding,omitempty" parquet:"shares_outstanding,optional"`
	LongTermDebt      *float64 `json:"long_term_debt,omitempty" parquet:"long_term_debt,optional"`
	CurrentDebt       *float64 `json:"current_portion_long_term_debt,omitempty" parquet:"current_portion_long_term_debt,optional"`
	Cash              *float64 `json:"cash_and_equivalents,omitempty" parquet:"cash_and_equivalents,optional"`
}

// IsQuarterly reports whether the row is a quarterly (not annual) period.
func (f *FundamentalsQuarter) IsQuarterly() bool {
	switch f.Period {
	case "Q", "Quarter", "QUARTER", "quarter":
		return true
	}
	return false
}

// TotalDebtCombined forward-combines the balance-sheet debt fields.
func (f *FundamentalsQuarter) TotalDebtCombined() float64 {
	var total float64
	if f.LongTermDebt != nil {
		total += *f.LongTermDebt
	}
	if f.CurrentDebt != nil {
		total += *f.CurrentDebt
	}
	return total
}
