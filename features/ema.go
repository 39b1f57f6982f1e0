// Package features computes the daily wide-row feature snapshot: incremental
// EMAs driven by persisted indicator state, valuation fields from the latest
// fundamentals, and a backfill path that replays history with point-in-time
// fundamentals.
package features

// EMA spans in trading days.
const (
	EMAShortSpan = 50
	EMALongSpan  = 200
)

// Alpha returns the smoothing factor 2/(span+1) for an EMA span.
func Alpha(span int) float64 {
	return 2.0 / (float64(span) + 1.0)
}

// NextEMA advances an EMA by one observation.
func NextEMA(prev, close, alpha float64) float64 {
	return alpha*close + (1-alpha)*prev
}

// EMASeries computes the full EMA series over closes, seeded with the first
// close. The result has the same length as the input.
func EMASeries(closes []float64, span int) []float64 {
	if len(closes) == 0 {
		return nil
	}
	alpha := Alpha(span)
	out := make([]float64, len(closes))
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = NextEMA(out[i-1], closes[i], alpha)
	}
	return out
}
