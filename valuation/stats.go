package valuation

import (
	"math"
	"sort"
	"time"

	"stock-sentinel/models"
)

// ComputeStats summarizes a positive multiple distribution into the row the
// weekly stats job persists. Returns false when values is empty.
func ComputeStats(ticker string, metric models.MetricType, windowDays int, asOf time.Time, values []float64) (models.ValuationStats, bool) {
	if len(values) == 0 {
		return models.ValuationStats{}, false
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	std := 0.0
	if len(sorted) > 1 {
		// Sample standard deviation, matching the stored history rows.
		std = math.Sqrt(sq / float64(len(sorted)-1))
	}

	return models.ValuationStats{
		Ticker:     ticker,
		Metric:     metric,
		WindowDays: windowDays,
		Count:      len(sorted),
		Mean:       mean,
		Std:        std,
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		P10:        quantile(sorted, 0.10),
		P20:        quantile(sorted, 0.20),
		P50:        quantile(sorted, 0.50),
		P80:        quantile(sorted, 0.80),
		P90:        quantile(sorted, 0.90),
		AsOfDate:   asOf,
	}, true
}
