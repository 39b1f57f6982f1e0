package valuation

import (
	"sort"
	"time"

	"stock-sentinel/models"
)

// TTMPoint is a dated trailing-four-quarter aggregate.
type TTMPoint struct {
	Date  time.Time
	Value float64
}

// quarterValue extracts one quarterly line item as (value, ok).
type quarterValue func(q models.FundamentalsQuarter) (float64, bool)

// rollingFourQuarterSum filters to quarterly periods, sorts by period end,
// and produces a trailing sum once four quarters are available.
func rollingFourQuarterSum(quarters []models.FundamentalsQuarter, extract quarterValue) []TTMPoint {
	q := make([]models.FundamentalsQuarter, 0, len(quarters))
	for _, row := range quarters {
		if row.IsQuarterly() {
			q = append(q, row)
		}
	}
	if len(q) < 4 {
		return nil
	}
	sort.Slice(q, func(i, j int) bool { return q[i].PeriodEnd.Before(q[j].PeriodEnd) })

	values := make([]float64, len(q))
	for i, row := range q {
		v, ok := extract(row)
		if !ok {
			v = 0
		}
		values[i] = v
	}

	out := make([]TTMPoint, 0, len(q)-3)
	for i := 3; i < len(q); i++ {
		sum := values[i] + values[i-1] + values[i-2] + values[i-3]
		out = append(out, TTMPoint{Date: q[i].PeriodEnd, Value: sum})
	}
	return out
}

// TTMRevenue computes the trailing-twelve-month revenue series from
// quarterly fundamentals.
func TTMRevenue(quarters []models.FundamentalsQuarter) []TTMPoint {
	return rollingFourQuarterSum(quarters, func(q models.FundamentalsQuarter) (float64, bool) {
		if q.Revenue == nil {
			return 0, false
		}
		return *q.Revenue, true
	})
}

// TTMEBITDA computes the trailing-twelve-month EBITDA series. The reported
// income-before-depreciation figure is EBITDA; when absent the quarter
// contributes its net income as a floor.
func TTMEBITDA(quarters []models.FundamentalsQuarter) []TTMPoint {
	return rollingFourQuarterSum(quarters, QuarterEBITDA)
}

// QuarterEBITDA resolves a single quarter's EBITDA contribution.
func QuarterEBITDA(q models.FundamentalsQuarter) (float64, bool) {
	if q.EBITDA != nil {
		return *q.EBITDA, true
	}
	if q.NetIncome != nil {
		return *q.NetIncome, true
	}
	return 0, false
}

// AsOf returns the most recent TTM point with date <= cutoff, preserving
// point-in-time correctness: a value may only be observed on or after the
// period end that produced it.
func AsOf(series []TTMPoint, cutoff time.Time) (TTMPoint, bool) {
	idx := sort.Search(len(series), func(i int) bool { return series[i].Date.After(cutoff) })
	if idx == 0 {
		return TTMPoint{}, false
	}
	return series[idx-1], true
}
