package mocks

// EODBar is one row of the mock end-of-day response, in EODHD wire format.
type EODBar struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adjusted_close"`
	Volume   float64 `json:"volume"`
}

// IncomeRow is a quarterly income statement row keyed by period end date.
type IncomeRow struct {
	Date         string   `json:"date"`
	TotalRevenue *float64 `json:"totalRevenue,omitempty"`
	EBITDA       *float64 `json:"ebitda,omitempty"`
	NetIncome    *float64 `json:"netIncome,omitempty"`
}

// BalanceRow is a quarterly balance sheet row keyed by period end date.
type BalanceRow struct {
	Date              string   `json:"date"`
	LongTermDebt      *float64 `json:"longTermDebt,omitempty"`
	ShortLongTermDebt *float64 `json:"shortLongTermDebt,omitempty"`
	Cash              *float64 `json:"cashAndEquivalents,omitempty"`
	Shares            *float64 `json:"commonStockSharesOutstanding,omitempty"`
}

// IncomeStatement groups quarterly income rows.
type IncomeStatement struct {
	Quarterly map[string]IncomeRow `json:"quarterly"`
}

// BalanceSheet groups quarterly balance sheet rows.
type BalanceSheet struct {
	Quarterly map[string]BalanceRow `json:"quarterly"`
}

// Financials mirrors the nested financials block of the fundamentals payload.
type Financials struct {
	IncomeStatement IncomeStatement `json:"Income_Statement"`
	BalanceSheet    BalanceSheet    `json:"Balance_Sheet"`
}

// SharesStats carries the global shares outstanding fallback.
type SharesStats struct {
	SharesOutstanding *float64 `json:"SharesOutstanding,omitempty"`
}

// Fundamentals is the subset of the EODHD fundamentals payload the client
// reads.
type Fundamentals struct {
	Financials  Financials  `json:"Financials"`
	SharesStats SharesStats `json:"SharesStats"`
}

// Float returns a pointer to v, for building fixture rows inline.
func Float(v float64) *float64 {
	return &v
}
