// Package alerts decides which observations turn into user alerts: axis-level
// material change detection, a per-template cooldown, and digest delivery.
package alerts

import (
	"time"

	"stock-sentinel/models"
	"stock-sentinel/valuation"
)

// TemplateCooldownDays is the per-template re-alert window. A user alerted
// for a template on a ticker stays quiet for this many days.
const TemplateCooldownDays = 7

// Change types reported by the tracker.
const (
	ChangeTrendPosition   = "trend_position"
	ChangeValuationRegime = "valuation_regime"
)

// Change is one detected axis transition for a watched ticker.
type Change struct {
	Ticker     string
	ChangeType string
	OldValue   string
	NewValue   string
	Timestamp  time.Time
}

// Observation is a ticker's current axis values for one evaluation.
type Observation struct {
	Ticker              string
	TrendPosition       models.TrendPosition
	Close               *float64
	ValuationPercentile *float64
}

// TrendFromRow classifies a close against the long EMA.
func TrendFromRow(close, emaLong float64) models.TrendPosition {
	if emaLong <= 0 {
		return models.TrendUnknown
	}
	if close >= emaLong {
		return models.TrendAbove
	}
	return models.TrendBelow
}

// DetectTrendChange fires only on a transition with known prior state. The
// first observation of a ticker records state without alerting.
func DetectTrendChange(prev models.AlertState, current models.TrendPosition, now time.Time) *Change {
	if prev.LastTrendPosition == "" || prev.LastTrendPosition == models.TrendUnknown {
		return nil
	}
	if current == models.TrendUnknown || current == prev.LastTrendPosition {
		return nil
	}
	return &Change{
		Ticker:     prev.Ticker,
		ChangeType: ChangeTrendPosition,
		OldValue:   string(prev.LastTrendPosition),
		NewValue:   string(current),
		Timestamp:  now,
	}
}

// DetectRegimeChange fires when the percentile reclassifies into a different
// regime than the previous observation's percentile did. Like the trend axis,
// a missing prior percentile never alerts.
func DetectRegimeChange(prev models.AlertState, currentPercentile *float64, now time.Time) *Change {
	if prev.LastValuationPercentile == nil {
		return nil
	}
	current := valuation.ClassifyRegime(currentPercentile)
	previous := valuation.ClassifyRegime(prev.LastValuationPercentile)
	if current == models.RegimeUnknown || current == previous {
		return nil
	}
	return &Change{
		Ticker:     prev.Ticker,
		ChangeType: ChangeValuationRegime,
		OldValue:   string(previous),
		NewValue:   string(current),
		Timestamp:  now,
	}
}

// EvaluateState runs both axes against an observation. The returned state is
// always advanced to the current observation, whether or not anything fired.
func EvaluateState(prev models.AlertState, obs Observation, now time.Time) ([]Change, models.AlertState) {
	var changes []Change
	if c := DetectTrendChange(prev, obs.TrendPosition, now); c != nil {
		c.Ticker = obs.Ticker
		changes = append(changes, *c)
	}
	if c := DetectRegimeChange(prev, obs.ValuationPercentile, now); c != nil {
		c.Ticker = obs.Ticker
		changes = append(changes, *c)
	}

	next := prev
	next.Ticker = obs.Ticker
	if obs.TrendPosition != models.TrendUnknown {
		next.LastTrendPosition = obs.TrendPosition
	}
	if obs.Close != nil {
		next.LastClose = obs.Close
	}
	if obs.ValuationPercentile != nil {
		next.LastValuationPercentile = obs.ValuationPercentile
		next.LastValuationRegime = valuation.ClassifyRegime(obs.ValuationPercentile)
	}
	next.LastEvaluatedAt = now
	return changes, next
}

// ShouldSendTemplate applies the cooldown: send when the template was never
// alerted for this user and ticker, or when at least TemplateCooldownDays
// have passed since the last alert.
func ShouldSendTemplate(state models.AlertState, templateID string, runDate time.Time) bool {
	last, ok := state.TemplateLastAlerted(templateID)
	if !ok {
		return true
	}
	days := int(runDate.Sub(last).Hours() / 24)
	return days >= TemplateCooldownDays
}
