// Package valuation computes valuation-regime signals from fundamental data:
// EV/Revenue and EV/EBITDA multiples, outlier-robust historical cleaning,
// percentile scoring, and regime classification.
package valuation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"stock-sentinel/models"
)

const (
	// Regime thresholds, boundary-inclusive.
	CheapThreshold     = 20.0
	ExpensiveThreshold = 80.0

	// MinValidPoints is the minimum cleaned history required for a
	// percentile to be meaningful (~3 years of monthly observations).
	MinValidPoints = 36

	// IQRMultiplier is deliberately wide so legitimate regime extremes
	// survive cleaning.
	IQRMultiplier = 3.0

	// MinPositiveEBITDAPeriods out of the trailing 24 periods required
	// before EV/EBITDA is trusted over EV/Revenue.
	MinPositiveEBITDAPeriods = 18

	profitabilityLookback = 24
)

// MultiplePoint is one dated observation of a ticker's valuation series.
type MultiplePoint struct {
	Date       time.Time
	EVRevenue  *float64
	EVEBITDA   *float64
	RevenueTTM *float64
	EBITDATTM  *float64
}

// SelectMetric chooses EV/EBITDA for stably profitable companies and
// EV/Revenue otherwise. Companies without valid revenue get MetricUnknown;
// EBITDA multiples are meaningless for structurally unprofitable names.
func SelectMetric(points []MultiplePoint) models.MetricType {
	if len(points) == 0 {
		return models.MetricUnknown
	}

	latest := points[len(points)-1]
	if latest.RevenueTTM == nil || *latest.RevenueTTM <= 0 {
		return models.MetricUnknown
	}

	if latest.EBITDATTM != nil && *latest.EBITDATTM > 0 {
		recent := points
		if len(recent) > profitabilityLookback {
			recent = recent[len(recent)-profitabilityLookback:]
		}
		positive := 0
		for _, p := range recent {
			if p.EBITDATTM != nil && *p.EBITDATTM > 0 {
				positive++
			}
		}
		if positive >= MinPositiveEBITDAPeriods {
			return models.MetricEVEBITDA
		}
	}

	return models.MetricEVRevenue
}

// CleanMeta describes what historical cleaning did to a multiple series.
type CleanMeta struct {
	OriginalCount       int
	AfterNaNRemoval     int
	AfterOutlierRemoval int
	OutliersRemoved     int
	SufficientHistory   bool
}

// CleanHistoricalMultiples removes non-finite and non-positive values, then
// rejects points outside [Q1 - 3*IQR, Q3 + 3*IQR]. At least minPoints must
// survive both stages for the history to count as sufficient.
func CleanHistoricalMultiples(multiples []float64, minPoints int) ([]float64, CleanMeta) {
	meta := CleanMeta{OriginalCount: len(multiples)}

	clean := make([]float64, 0, len(multiples))
	for _, v := range multiples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		clean = append(clean, v)
	}
	meta.AfterNaNRemoval = len(clean)

	positive := clean[:0]
	for _, v := range clean {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	clean = positive

	if len(clean) < minPoints {
		meta.AfterOutlierRemoval = len(clean)
		return nil, meta
	}

	sorted := append([]float64(nil), clean...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lower := q1 - IQRMultiplier*iqr
	upper := q3 + IQRMultiplier*iqr

	before := len(clean)
	kept := clean[:0]
	for _, v := range clean {
		if v >= lower && v <= upper {
			kept = append(kept, v)
		}
	}
	clean = kept

	meta.AfterOutlierRemoval = len(clean)
	meta.OutliersRemoved = before - len(clean)
	meta.SufficientHistory = len(clean) >= minPoints

	if !meta.SufficientHistory {
		return nil, meta
	}
	return clean, meta
}

// PercentileOfScore computes the rank-based percentile (0-100) of value
// against the historical set, with rank-average tie semantics: ties count
// half. Lower multiple means lower percentile means cheaper.
func PercentileOfScore(value float64, historical []float64) *float64 {
	n := len(historical)
	if n == 0 {
		return nil
	}
	below, equal := 0, 0
	for _, h := range historical {
		switch {
		case h < value:
			below++
		case h == value:
			equal++
		}
	}
	pct := (float64(below) + 0.5*float64(equal)) / float64(n) * 100.0
	return &pct
}

// ClassifyRegime maps a percentile into exactly one regime. Boundaries are
// inclusive on both sides; a nil percentile is unknown.
func ClassifyRegime(percentile *float64) models.Regime {
	if percentile == nil {
		return models.RegimeUnknown
	}
	switch {
	case *percentile <= CheapThreshold:
		return models.RegimeCheap
	case *percentile >= ExpensiveThreshold:
		return models.RegimeExpensive
	default:
		return models.RegimeNormal
	}
}

// EnterpriseValue computes EV = close*shares + totalDebt - cash. The boolean
// result is false when shares outstanding are not strictly positive.
func EnterpriseValue(close, shares, totalDebt, cash float64) (marketCap, ev float64, ok bool) {
	if shares <= 0 {
		return 0, 0, false
	}
	marketCap = close * shares
	ev = marketCap + totalDebt - cash
	return marketCap, ev, true
}

// Multiple divides an enterprise value by a trailing denominator. Defined
// only when the denominator is strictly positive.
func Multiple(ev, denominator float64) *float64 {
	if denominator <= 0 {
		return nil
	}
	m := ev / denominator
	return &m
}

// ComputeSignals runs the full per-ticker valuation computation: metric
// selection, history extraction within the lookback window, cleaning,
// percentile scoring, and regime classification.
func ComputeSignals(points []MultiplePoint, lookbackYears int) *models.ValuationSignal {
	out := &models.ValuationSignal{
		MetricType: models.MetricUnknown,
		Regime:     models.RegimeUnknown,
	}

	if len(points) == 0 {
		out.Err = "no valuation data"
		return out
	}

	sorted := append([]MultiplePoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	if lookbackYears > 0 {
		cutoff := sorted[len(sorted)-1].Date.AddDate(0, 0, -365*lookbackYears)
		first := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Date.Before(cutoff) })
		sorted = sorted[first:]
	}

	if len(sorted) < MinValidPoints {
		out.Err = fmt.Sprintf("insufficient history: %d < %d", len(sorted), MinValidPoints)
		return out
	}

	metric := SelectMetric(sorted)
	if metric == models.MetricUnknown {
		out.Err = "invalid revenue data"
		return out
	}

	multiples := make([]float64, 0, len(sorted))
	var latest *float64
	for _, p := range sorted {
		v := p.EVEBITDA
		if metric == models.MetricEVRevenue {
			v = p.EVRevenue
		}
		if v == nil {
			multiples = append(multiples, math.NaN())
			continue
		}
		multiples = append(multiples, *v)
		latest = v
	}
	if len(sorted) > 0 {
		last := sorted[len(sorted)-1]
		if metric == models.MetricEVRevenue {
			latest = last.EVRevenue
		} else {
			latest = last.EVEBITDA
		}
	}

	cleaned, meta := CleanHistoricalMultiples(multiples, MinValidPoints)
	out.OutliersRemoved = meta.OutliersRemoved
	if !meta.SufficientHistory {
		out.Err = fmt.Sprintf("insufficient clean data: %d points", meta.AfterOutlierRemoval)
		return out
	}

	if latest == nil || math.IsNaN(*latest) || math.IsInf(*latest, 0) || *latest <= 0 {
		out.Err = "invalid current multiple"
		return out
	}

	pct := PercentileOfScore(*latest, cleaned)

	sortedClean := append([]float64(nil), cleaned...)
	sort.Float64s(sortedClean)
	minV := sortedClean[0]
	maxV := sortedClean[len(sortedClean)-1]
	median := quantile(sortedClean, 0.5)

	out.MetricType = metric
	out.CurrentMultiple = latest
	out.CurrentPercentile = pct
	out.Regime = ClassifyRegime(pct)
	out.HistoryCount = len(cleaned)
	out.HistoryMin = &minV
	out.HistoryMax = &maxV
	out.HistoryMedian = &median
	out.Success = true
	return out
}

// quantile returns the linearly interpolated q-quantile of a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
