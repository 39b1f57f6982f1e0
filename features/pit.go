package features

import (
	"sort"
	"time"

	"stock-sentinel/models"
	"stock-sentinel/valuation"
)

// FundamentalsPoint is one period-end observation prepared for the
// point-in-time join: balance sheet items plus the trailing EBITDA that was
// known as of that period end.
type FundamentalsPoint struct {
	Date              time.Time
	SharesOutstanding *float64
	TotalDebt         float64
	Cash              float64
	EBITDATTM         *float64
}

// BuildPITFundamentals turns raw quarterly fundamentals into a series ready
// for a backward as-of join against price dates. Only quarterly periods
// participate; the trailing EBITDA needs four quarters before it is defined.
func BuildPITFundamentals(quarters []models.FundamentalsQuarter) []FundamentalsPoint {
	q := make([]models.FundamentalsQuarter, 0, len(quarters))
	for _, row := range quarters {
		if row.IsQuarterly() {
			q = append(q, row)
		}
	}
	if len(q) == 0 {
		return nil
	}
	sort.Slice(q, func(i, j int) bool { return q[i].PeriodEnd.Before(q[j].PeriodEnd) })

	ebitdaQ := make([]float64, len(q))
	for i, row := range q {
		v, ok := valuation.QuarterEBITDA(row)
		if !ok {
			v = 0
		}
		ebitdaQ[i] = v
	}

	out := make([]FundamentalsPoint, len(q))
	for i, row := range q {
		p := FundamentalsPoint{
			Date:              row.PeriodEnd,
			SharesOutstanding: row.SharesOutstanding,
			TotalDebt:         row.TotalDebtCombined(),
		}
		if row.Cash != nil {
			p.Cash = *row.Cash
		}
		if i >= 3 {
			ttm := ebitdaQ[i] + ebitdaQ[i-1] + ebitdaQ[i-2] + ebitdaQ[i-3]
			p.EBITDATTM = &ttm
		}
		out[i] = p
	}
	return out
}

// AsOfFundamentals returns the most recent point with Date <= cutoff. Prices
// must never see fundamentals from a period that had not ended yet.
func AsOfFundamentals(points []FundamentalsPoint, cutoff time.Time) (FundamentalsPoint, bool) {
	idx := sort.Search(len(points), func(i int) bool { return points[i].Date.After(cutoff) })
	if idx == 0 {
		return FundamentalsPoint{}, false
	}
	return points[idx-1], true
}
