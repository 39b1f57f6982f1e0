// Package templates holds the closed catalogue of trigger templates T1-T10
// and the engine that evaluates them over daily feature snapshots.
package templates

import (
	"time"

	"github.com/shopspring/decimal"
)

// Field names a single input a template reads from a snapshot.
type Field string

const (
	FieldClose     Field = "close"
	FieldPrevClose Field = "prev_close"
	FieldEMAShort  Field = "ema_50"
	FieldEMALong   Field = "ema_200"
	FieldPrevShort Field = "prev_ema_50"
	FieldPrevLong  Field = "prev_ema_200"
	FieldMultiple  Field = "ev_ebitda"
	FieldP20       Field = "ev_ebitda_p20"
	FieldP50       Field = "ev_ebitda_p50"
	FieldP80       Field = "ev_ebitda_p80"
)

// Snapshot is one ticker's view for a single evaluation date: the daily
// feature row joined with the latest weekly valuation stats when present.
type Snapshot struct {
	Date   time.Time
	Ticker string

	Close    float64
	EMAShort float64
	EMALong  float64

	PrevClose *float64
	PrevShort *float64
	PrevLong  *float64

	Multiple *float64
	P20      *float64
	P50      *float64
	P80      *float64
}

// Value resolves a field by name. Prices and EMAs are considered present
// only when strictly positive; pointer fields when non-nil.
func (s Snapshot) Value(f Field) (float64, bool) {
	switch f {
	case FieldClose:
		return s.Close, s.Close > 0
	case FieldEMAShort:
		return s.EMAShort, s.EMAShort > 0
	case FieldEMALong:
		return s.EMALong, s.EMALong > 0
	case FieldPrevClose:
		return deref(s.PrevClose)
	case FieldPrevShort:
		return deref(s.PrevShort)
	case FieldPrevLong:
		return deref(s.PrevLong)
	case FieldMultiple:
		return deref(s.Multiple)
	case FieldP20:
		return deref(s.P20)
	case FieldP50:
		return deref(s.P50)
	case FieldP80:
		return deref(s.P80)
	}
	return 0, false
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Result carries a triggered template's strength and human-readable reasons.
type Result struct {
	Strength float64
	Reasons  map[string]float64
}

// Template is one catalogue entry. Eval is pure: it must not touch anything
// beyond the snapshot, and returns false when the template does not fire.
type Template struct {
	ID          string
	Name        string
	Description string
	Required    []Field
	Eval        func(Snapshot) (Result, bool)
}

// NeedsStats reports whether the template reads weekly valuation stats.
func (t Template) NeedsStats() bool {
	for _, f := range t.Required {
		switch f {
		case FieldP20, FieldP50, FieldP80:
			return true
		}
	}
	return false
}

const (
	// ExtensionThreshold marks a close 20%+ above the long EMA as extended.
	ExtensionThreshold = 0.20
	// ExpensiveExtensionThreshold is the looser extension used by T6.
	ExpensiveExtensionThreshold = 0.15
	// CheapMultiple and ExpensiveMultiple are absolute EV/EBITDA gates.
	CheapMultiple     = 12.0
	ExpensiveMultiple = 30.0
)

// Catalogue is the full ordered template set. It is fixed: adding a template
// means adding an entry here plus alert copy in the alerts package.
var Catalogue = []Template{
	{
		ID:          "T1",
		Name:        "Cross above 200 EMA",
		Description: "Price crossed above the 200-day EMA (bullish trend entry)",
		Required:    []Field{FieldClose, FieldEMALong, FieldPrevClose, FieldPrevLong},
		Eval: func(s Snapshot) (Result, bool) {
			prevClose := *s.PrevClose
			prevLong := *s.PrevLong
			if !(prevClose <= prevLong && s.Close > s.EMALong) {
				return Result{}, false
			}
			return Result{
				Strength: (s.Close - s.EMALong) / s.EMALong,
				Reasons: map[string]float64{
					"prev_close":   round2(prevClose),
					"prev_ema_200": round2(prevLong),
					"close":        round2(s.Close),
					"ema_200":      round2(s.EMALong),
				},
			}, true
		},
	},
	{
		ID:          "T2",
		Name:        "Cross below 200 EMA",
		Description: "Price crossed below the 200-day EMA (bearish trend risk)",
		Required:    []Field{FieldClose, FieldEMALong, FieldPrevClose, FieldPrevLong},
		Eval: func(s Snapshot) (Result, bool) {
			prevClose := *s.PrevClose
			prevLong := *s.PrevLong
			if !(prevClose >= prevLong && s.Close < s.EMALong) {
				return Result{}, false
			}
			return Result{
				Strength: (s.EMALong - s.Close) / s.EMALong,
				Reasons: map[string]float64{
					"prev_close":   round2(prevClose),
					"prev_ema_200": round2(prevLong),
					"close":        round2(s.Close),
					"ema_200":      round2(s.EMALong),
				},
			}, true
		},
	},
	{
		ID:          "T3",
		Name:        "Pullback in uptrend",
		Description: "Price pulled back to support in an uptrend (EMA50 > EMA200, close between them)",
		Required:    []Field{FieldClose, FieldEMAShort, FieldEMALong},
		Eval: func(s Snapshot) (Result, bool) {
			if !(s.EMAShort > s.EMALong && s.Close < s.EMAShort && s.Close > s.EMALong) {
				return Result{}, false
			}
			// 0 = at the short EMA, 1 = all the way down at the long EMA.
			depth := (s.EMAShort - s.Close) / (s.EMAShort - s.EMALong)
			return Result{
				Strength: depth,
				Reasons: map[string]float64{
					"close":             round2(s.Close),
					"ema_50":            round2(s.EMAShort),
					"ema_200":           round2(s.EMALong),
					"pullback_depth_pct": round1(depth * 100),
				},
			}, true
		},
	},
	{
		ID:          "T4",
		Name:        "Extended above trend",
		Description: "Price is extended 20%+ above 200 EMA (potential trim candidate)",
		Required:    []Field{FieldClose, FieldEMALong},
		Eval: func(s Snapshot) (Result, bool) {
			ext := (s.Close - s.EMALong) / s.EMALong
			if ext < ExtensionThreshold {
				return Result{}, false
			}
			return Result{
				Strength: ext,
				Reasons: map[string]float64{
					"close":         round2(s.Close),
					"ema_200":       round2(s.EMALong),
					"extension_pct": round1(ext * 100),
				},
			}, true
		},
	},
	{
		ID:          "T5",
		Name:        "Value + momentum",
		Description: "Cheap EV/EBITDA (<=12x) with price above 200 EMA",
		Required:    []Field{FieldMultiple, FieldClose, FieldEMALong},
		Eval: func(s Snapshot) (Result, bool) {
			m := *s.Multiple
			if !(m <= CheapMultiple && s.Close > s.EMALong) {
				return Result{}, false
			}
			return Result{
				Strength: (CheapMultiple - m) / CheapMultiple,
				Reasons: map[string]float64{
					"ev_ebitda": round1(m),
					"close":     round2(s.Close),
					"ema_200":   round2(s.EMALong),
				},
			}, true
		},
	},
	{
		ID:          "T6",
		Name:        "Expensive + extended",
		Description: "Expensive EV/EBITDA (>=30x) and extended 15%+ above 200 EMA",
		Required:    []Field{FieldMultiple, FieldClose, FieldEMALong},
		Eval: func(s Snapshot) (Result, bool) {
			m := *s.Multiple
			ext := (s.Close - s.EMALong) / s.EMALong
			if !(m >= ExpensiveMultiple && ext >= ExpensiveExtensionThreshold) {
				return Result{}, false
			}
			return Result{
				Strength: ext,
				Reasons: map[string]float64{
					"ev_ebitda":     round1(m),
					"close":         round2(s.Close),
					"ema_200":       round2(s.EMALong),
					"extension_pct": round1(ext * 100),
				},
			}, true
		},
	},
	{
		ID:          "T7",
		Name:        "Cheap vs history",
		Description: "EV/EBITDA is below the 20th percentile of its own 5-year history",
		Required:    []Field{FieldMultiple, FieldP20},
		Eval: func(s Snapshot) (Result, bool) {
			m, p20 := *s.Multiple, *s.P20
			if !(m <= p20) {
				return Result{}, false
			}
			return Result{
				Strength: (p20 - m) / p20,
				Reasons: map[string]float64{
					"ev_ebitda": round1(m),
					"p20":       round1(p20),
				},
			}, true
		},
	},
	{
		ID:          "T8",
		Name:        "Expensive vs history",
		Description: "EV/EBITDA is above the 80th percentile of its own 5-year history",
		Required:    []Field{FieldMultiple, FieldP80},
		Eval: func(s Snapshot) (Result, bool) {
			m, p80 := *s.Multiple, *s.P80
			if !(m >= p80) {
				return Result{}, false
			}
			return Result{
				Strength: (m - p80) / p80,
				Reasons: map[string]float64{
					"ev_ebitda": round1(m),
					"p80":       round1(p80),
				},
			}, true
		},
	},
	{
		ID:          "T9",
		Name:        "Fair value",
		Description: "EV/EBITDA is at or below the median of its 5-year history",
		Required:    []Field{FieldMultiple, FieldP50},
		Eval: func(s Snapshot) (Result, bool) {
			m, p50 := *s.Multiple, *s.P50
			if !(m <= p50) {
				return Result{}, false
			}
			return Result{
				Strength: (p50 - m) / p50,
				Reasons: map[string]float64{
					"ev_ebitda":  round1(m),
					"p50_median": round1(p50),
				},
			}, true
		},
	},
	{
		ID:          "T10",
		Name:        "Uptrend + cheap",
		Description: "Uptrend (EMA50 > EMA200) with EV/EBITDA below the 20th percentile",
		Required:    []Field{FieldEMAShort, FieldEMALong, FieldMultiple, FieldP20},
		Eval: func(s Snapshot) (Result, bool) {
			m, p20 := *s.Multiple, *s.P20
			if !(s.EMAShort > s.EMALong && m <= p20) {
				return Result{}, false
			}
			trend := (s.EMAShort - s.EMALong) / s.EMALong
			value := (p20 - m) / p20
			return Result{
				Strength: trend + value,
				Reasons: map[string]float64{
					"ema_50":    round2(s.EMAShort),
					"ema_200":   round2(s.EMALong),
					"ev_ebitda": round1(m),
					"p20":       round1(p20),
				},
			}, true
		},
	},
}

// ByID returns the catalogue entry with the given ID.
func ByID(id string) (Template, bool) {
	for _, t := range Catalogue {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// Basic returns the templates that can run without weekly valuation stats.
func Basic() []Template {
	out := make([]Template, 0, len(Catalogue))
	for _, t := range Catalogue {
		if !t.NeedsStats() {
			out = append(out, t)
		}
	}
	return out
}

func round2(v float64) float64 { return roundTo(v, 2) }
func round1(v float64) float64 { return roundTo(v, 1) }

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
