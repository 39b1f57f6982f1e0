package valuation

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"stock-sentinel/models"
)

func fp(v float64) *float64 { return &v }

func TestClassifyRegime(t *testing.T) {
	tests := []struct {
		name       string
		percentile *float64
		want       models.Regime
	}{
		{"nil is unknown", nil, models.RegimeUnknown},
		{"zero is cheap", fp(0), models.RegimeCheap},
		{"exactly 20 is cheap", fp(20), models.RegimeCheap},
		{"just above 20 is normal", fp(20.01), models.RegimeNormal},
		{"midrange is normal", fp(50), models.RegimeNormal},
		{"just below 80 is normal", fp(79.99), models.RegimeNormal},
		{"exactly 80 is expensive", fp(80), models.RegimeExpensive},
		{"hundred is expensive", fp(100), models.RegimeExpensive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRegime(tt.percentile); got != tt.want {
				t.Errorf("ClassifyRegime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPercentileOfScore_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	historical := make([]float64, 200)
	for i := range historical {
		historical[i] = 10 + rng.Float64()*20
	}

	prev := -1.0
	for v := 5.0; v <= 40.0; v += 0.5 {
		pct := PercentileOfScore(v, historical)
		if pct == nil {
			t.Fatalf("PercentileOfScore(%v) = nil", v)
		}
		if *pct < prev {
			t.Errorf("percentile not monotonic: value %v got %v after %v", v, *pct, prev)
		}
		if *pct < 0 || *pct > 100 {
			t.Errorf("percentile out of range: %v", *pct)
		}
		prev = *pct
	}
}

func TestPercentileOfScore_RankAverageTies(t *testing.T) {
	historical := []float64{1, 2, 2, 3}
	pct := PercentileOfScore(2, historical)
	if pct == nil {
		t.Fatal("expected percentile")
	}
	// 1 below + half of 2 equal = 2 of 4 -> 50.
	if *pct != 50 {
		t.Errorf("percentile = %v, want 50", *pct)
	}

	if got := PercentileOfScore(2, nil); got != nil {
		t.Errorf("empty history should yield nil, got %v", *got)
	}
}

func TestCleanHistoricalMultiples(t *testing.T) {
	t.Run("removes outliers from normal data", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		series := make([]float64, 0, 104)
		for i := 0; i < 100; i++ {
			series = append(series, 15+rng.NormFloat64())
		}
		series = append(series, 500, 800, 1200, 950)

		cleaned, meta := CleanHistoricalMultiples(series, MinValidPoints)
		if !meta.SufficientHistory {
			t.Fatal("expected sufficient history")
		}
		if meta.OutliersRemoved == 0 {
			t.Error("expected outliers_removed > 0")
		}
		if len(cleaned) < MinValidPoints {
			t.Errorf("cleaned length %d below minimum", len(cleaned))
		}
		for _, v := range cleaned {
			if v > 400 {
				t.Errorf("extreme outlier %v survived cleaning", v)
			}
		}
	})

	t.Run("drops non-finite and non-positive", func(t *testing.T) {
		series := []float64{math.NaN(), math.Inf(1), math.Inf(-1), -5, 0, 10, 12}
		_, meta := CleanHistoricalMultiples(series, MinValidPoints)
		if meta.AfterNaNRemoval != 4 {
			t.Errorf("after NaN removal = %d, want 4", meta.AfterNaNRemoval)
		}
		if meta.SufficientHistory {
			t.Error("7 raw points should never be sufficient")
		}
	})

	t.Run("insufficient points reports count", func(t *testing.T) {
		series := make([]float64, 20)
		for i := range series {
			series[i] = 10
		}
		cleaned, meta := CleanHistoricalMultiples(series, MinValidPoints)
		if cleaned != nil {
			t.Error("expected nil cleaned series")
		}
		if meta.SufficientHistory {
			t.Error("expected insufficient history")
		}
		if meta.AfterOutlierRemoval != 20 {
			t.Errorf("after outlier removal = %d, want 20", meta.AfterOutlierRemoval)
		}
	})
}

func TestSelectMetric(t *testing.T) {
	day := func(i int) time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
	}

	makePoints := func(n int, ebitda, revenue *float64) []MultiplePoint {
		pts := make([]MultiplePoint, n)
		for i := range pts {
			pts[i] = MultiplePoint{Date: day(i), EBITDATTM: ebitda, RevenueTTM: revenue}
		}
		return pts
	}

	t.Run("profitable company uses ev_ebitda", func(t *testing.T) {
		pts := makePoints(30, fp(1e9), fp(5e9))
		if got := SelectMetric(pts); got != models.MetricEVEBITDA {
			t.Errorf("SelectMetric() = %v, want ev_ebitda", got)
		}
	})

	t.Run("unprofitable company falls back to ev_revenue", func(t *testing.T) {
		pts := makePoints(30, fp(-1e8), fp(5e9))
		if got := SelectMetric(pts); got != models.MetricEVRevenue {
			t.Errorf("SelectMetric() = %v, want ev_revenue", got)
		}
	})

	t.Run("unstable profitability falls back to ev_revenue", func(t *testing.T) {
		pts := makePoints(24, fp(-1e8), fp(5e9))
		// Positive only in the last 10 of 24 periods: below the 18 minimum.
		for i := 14; i < 24; i++ {
			pts[i].EBITDATTM = fp(2e8)
		}
		if got := SelectMetric(pts); got != models.MetricEVRevenue {
			t.Errorf("SelectMetric() = %v, want ev_revenue", got)
		}
	})

	t.Run("missing revenue is unknown", func(t *testing.T) {
		pts := makePoints(30, fp(1e9), nil)
		if got := SelectMetric(pts); got != models.MetricUnknown {
			t.Errorf("SelectMetric() = %v, want unknown", got)
		}
	})

	t.Run("non-positive revenue is unknown", func(t *testing.T) {
		pts := makePoints(30, fp(1e9), fp(0))
		if got := SelectMetric(pts); got != models.MetricUnknown {
			t.Errorf("SelectMetric() = %v, want unknown", got)
		}
	})

	t.Run("empty series is unknown", func(t *testing.T) {
		if got := SelectMetric(nil); got != models.MetricUnknown {
			t.Errorf("SelectMetric(nil) = %v, want unknown", got)
		}
	})
}

func TestEnterpriseValue(t *testing.T) {
	mcap, ev, ok := EnterpriseValue(100, 1e6, 5e7, 2e7)
	if !ok {
		t.Fatal("expected EV to be defined")
	}
	if mcap != 1e8 {
		t.Errorf("market cap = %v, want 1e8", mcap)
	}
	if ev != 1e8+5e7-2e7 {
		t.Errorf("ev = %v, want %v", ev, 1e8+5e7-2e7)
	}

	if _, _, ok := EnterpriseValue(100, 0, 0, 0); ok {
		t.Error("zero shares must not produce an EV")
	}
}

func TestMultiple(t *testing.T) {
	if m := Multiple(1e9, 1e8); m == nil || *m != 10 {
		t.Errorf("Multiple = %v, want 10", m)
	}
	if m := Multiple(1e9, 0); m != nil {
		t.Error("zero denominator must yield nil")
	}
	if m := Multiple(1e9, -1e8); m != nil {
		t.Error("negative denominator must yield nil")
	}
}

func TestComputeSignals(t *testing.T) {
	day := func(i int) time.Time {
		return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i*7)
	}

	t.Run("full pipeline on profitable company", func(t *testing.T) {
		rng := rand.New(rand.NewSource(3))
		pts := make([]MultiplePoint, 200)
		for i := range pts {
			m := 15 + rng.NormFloat64()
			pts[i] = MultiplePoint{
				Date:       day(i),
				EVEBITDA:   fp(m),
				EVRevenue:  fp(m / 5),
				EBITDATTM:  fp(1e9),
				RevenueTTM: fp(5e9),
			}
		}

		sig := ComputeSignals(pts, 10)
		if !sig.Success {
			t.Fatalf("expected success, got error %q", sig.Err)
		}
		if sig.MetricType != models.MetricEVEBITDA {
			t.Errorf("metric = %v, want ev_ebitda", sig.MetricType)
		}
		if sig.CurrentPercentile == nil {
			t.Fatal("expected a percentile")
		}
		if sig.Regime == models.RegimeUnknown {
			t.Error("regime should be classified")
		}
		if sig.HistoryCount < MinValidPoints {
			t.Errorf("history count %d below minimum", sig.HistoryCount)
		}
	})

	t.Run("short history fails closed", func(t *testing.T) {
		pts := make([]MultiplePoint, 10)
		for i := range pts {
			pts[i] = MultiplePoint{Date: day(i), EVEBITDA: fp(15), EBITDATTM: fp(1e9), RevenueTTM: fp(5e9)}
		}
		sig := ComputeSignals(pts, 10)
		if sig.Success {
			t.Error("expected failure on short history")
		}
		if sig.Regime != models.RegimeUnknown {
			t.Errorf("regime = %v, want unknown", sig.Regime)
		}
	})

	t.Run("empty series", func(t *testing.T) {
		sig := ComputeSignals(nil, 10)
		if sig.Success || sig.Err == "" {
			t.Error("expected named error on empty input")
		}
	})
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	if q := quantile(sorted, 0.5); q != 3 {
		t.Errorf("median = %v, want 3", q)
	}
	if q := quantile(sorted, 0.25); q != 2 {
		t.Errorf("q1 = %v, want 2", q)
	}
	if q := quantile([]float64{7}, 0.9); q != 7 {
		t.Errorf("single-point quantile = %v, want 7", q)
	}
}
