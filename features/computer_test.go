package features

import (
	"context"
	"math"
	"testing"
	"time"

	"stock-sentinel/models"
)

func fp(v float64) *float64 { return &v }

func day(s string) time.Time {
	t, _ := time.Parse(models.DateOnly, s)
	return t
}

type mockFeatureStore struct {
	snapshots     map[string][]models.PriceSnapshot
	putFeatures   map[string][]models.FeatureRow
	latest        []models.FeatureRow
	putSnapshots  map[string][]models.PriceSnapshot
}

func newMockFeatureStore() *mockFeatureStore {
	return &mockFeatureStore{
		snapshots:    map[string][]models.PriceSnapshot{},
		putFeatures:  map[string][]models.FeatureRow{},
		putSnapshots: map[string][]models.PriceSnapshot{},
	}
}

func (m *mockFeatureStore) PutFeatures(_ context.Context, d time.Time, rows []models.FeatureRow) error {
	m.putFeatures[d.Format(models.DateOnly)] = rows
	return nil
}

func (m *mockFeatureStore) PutFeaturesLatest(_ context.Context, rows []models.FeatureRow) error {
	m.latest = rows
	return nil
}

func (m *mockFeatureStore) GetPriceSnapshot(_ context.Context, d time.Time) ([]models.PriceSnapshot, error) {
	return m.snapshots[d.Format(models.DateOnly)], nil
}

func (m *mockFeatureStore) PutPriceSnapshot(_ context.Context, d time.Time, rows []models.PriceSnapshot) error {
	m.putSnapshots[d.Format(models.DateOnly)] = rows
	return nil
}

type mockStateStore struct {
	states       map[string]models.IndicatorState
	fundamentals map[string]models.FundamentalsLatest
	sectors      map[string]string
	upserted     []models.IndicatorState
}

func newMockStateStore() *mockStateStore {
	return &mockStateStore{
		states:       map[string]models.IndicatorState{},
		fundamentals: map[string]models.FundamentalsLatest{},
		sectors:      map[string]string{},
	}
}

func (m *mockStateStore) FetchIndicatorState(_ context.Context, _ []string) (map[string]models.IndicatorState, error) {
	return m.states, nil
}

func (m *mockStateStore) UpsertIndicatorState(_ context.Context, states []models.IndicatorState) (int, error) {
	m.upserted = append(m.upserted, states...)
	return len(states), nil
}

func (m *mockStateStore) FetchFundamentalsLatest(_ context.Context, _ []string) (map[string]models.FundamentalsLatest, error) {
	return m.fundamentals, nil
}

func (m *mockStateStore) GetSectors(_ context.Context, _ []string) (map[string]string, error) {
	return m.sectors, nil
}

type mockPriceReader struct {
	prices       map[string][]models.PriceBar
	fundamentals map[string][]models.FundamentalsQuarter
}

func (m *mockPriceReader) GetPrices(_ context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	var out []models.PriceBar
	for _, b := range m.prices[ticker] {
		if !b.Date.Before(start) && !b.Date.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockPriceReader) GetFundamentals(_ context.Context, ticker string, _, _ time.Time) ([]models.FundamentalsQuarter, error) {
	return m.fundamentals[ticker], nil
}

func TestEMASeries_SeedsAtFirstClose(t *testing.T) {
	closes := []float64{100, 102, 101}
	ema := EMASeries(closes, EMALongSpan)
	if ema[0] != 100 {
		t.Errorf("seed = %v, want first close 100", ema[0])
	}
	alpha := Alpha(EMALongSpan)
	want := alpha*102 + (1-alpha)*100
	if math.Abs(ema[1]-want) > 1e-12 {
		t.Errorf("ema[1] = %v, want %v", ema[1], want)
	}
}

func TestCreatePriceSnapshot_CarriesVolume(t *testing.T) {
	store := newMockFeatureStore()
	reader := &mockPriceReader{prices: map[string][]models.PriceBar{
		"AAPL": {{Date: day("2024-06-07"), Ticker: "AAPL", Close: 150, Volume: 52000}},
	}}
	c := NewComputer(store, newMockStateStore(), reader, nil, false)

	n, err := c.CreatePriceSnapshot(context.Background(), day("2024-06-07"), []string{"AAPL"})
	if err != nil {
		t.Fatalf("CreatePriceSnapshot: %v", err)
	}
	if n != 1 {
		t.Fatalf("tickers written = %d, want 1", n)
	}

	rows := store.putSnapshots["2024-06-07"]
	if len(rows) != 1 {
		t.Fatalf("stored rows = %d, want 1", len(rows))
	}
	if rows[0].Close != 150 {
		t.Errorf("close = %v, want 150", rows[0].Close)
	}
	if rows[0].Volume == nil || *rows[0].Volume != 52000 {
		t.Errorf("volume = %v, want the bar's volume carried through", rows[0].Volume)
	}
}

func TestComputeTickerFeatures_ColdStart(t *testing.T) {
	snap := models.PriceSnapshot{Date: day("2024-06-07"), Ticker: "AAPL", Close: 150}
	row, state := computeTickerFeatures(snap, day("2024-06-07"), nil, nil, "Technology")

	if row.EMALong != 150 || row.EMAShort != 150 {
		t.Errorf("cold-start EMAs = %v/%v, want 150/150", row.EMALong, row.EMAShort)
	}
	if row.PrevClose != nil || row.PrevLong != nil || row.PrevShort != nil {
		t.Error("cold start must leave prev fields unset")
	}
	if row.HasValuation() {
		t.Error("no fundamentals, no valuation")
	}
	if state.LastClose != 150 || state.EMALong != 150 {
		t.Errorf("state = %+v", state)
	}
}

func TestComputeTickerFeatures_IncrementalAdvance(t *testing.T) {
	prev := &models.IndicatorState{
		Ticker: "AAPL", LastPriceDate: day("2024-06-06"),
		LastClose: 150, EMALong: 148, EMAShort: 149,
	}
	snap := models.PriceSnapshot{Date: day("2024-06-07"), Ticker: "AAPL", Close: 152}
	row, state := computeTickerFeatures(snap, day("2024-06-07"), prev, nil, "")

	wantLong := NextEMA(148, 152, Alpha(EMALongSpan))
	wantShort := NextEMA(149, 152, Alpha(EMAShortSpan))
	if math.Abs(row.EMALong-wantLong) > 1e-12 || math.Abs(row.EMAShort-wantShort) > 1e-12 {
		t.Errorf("EMAs = %v/%v, want %v/%v", row.EMALong, row.EMAShort, wantLong, wantShort)
	}
	if row.PrevClose == nil || *row.PrevClose != 150 {
		t.Errorf("prev_close = %v, want 150", row.PrevClose)
	}
	if row.PrevLong == nil || *row.PrevLong != 148 {
		t.Errorf("prev_ema_200 = %v, want 148", row.PrevLong)
	}
	if state.PrevClose == nil || *state.PrevClose != 150 {
		t.Error("state must carry the shifted prev close")
	}
}

func TestComputeTickerFeatures_Valuation(t *testing.T) {
	fund := &models.FundamentalsLatest{
		Ticker:            "AAPL",
		SharesOutstanding: fp(1e6),
		TotalDebt:         fp(5e7),
		Cash:              fp(2e7),
		EBITDATTM:         fp(1e7),
	}
	snap := models.PriceSnapshot{Date: day("2024-06-07"), Ticker: "AAPL", Close: 100}
	row, _ := computeTickerFeatures(snap, day("2024-06-07"), nil, fund, "")

	if row.MarketCap == nil || *row.MarketCap != 1e8 {
		t.Fatalf("market cap = %v, want 1e8", row.MarketCap)
	}
	wantEV := 1e8 + 5e7 - 2e7
	if row.EnterpriseValue == nil || *row.EnterpriseValue != wantEV {
		t.Errorf("ev = %v, want %v", row.EnterpriseValue, wantEV)
	}
	if row.EVEBITDA == nil || math.Abs(*row.EVEBITDA-wantEV/1e7) > 1e-12 {
		t.Errorf("ev_ebitda = %v", row.EVEBITDA)
	}

	t.Run("zero shares yields no valuation", func(t *testing.T) {
		zero := &models.FundamentalsLatest{Ticker: "AAPL", SharesOutstanding: fp(0)}
		row, _ := computeTickerFeatures(snap, day("2024-06-07"), nil, zero, "")
		if row.MarketCap != nil || row.EVEBITDA != nil {
			t.Error("expected no valuation fields")
		}
	})

	t.Run("negative ebitda yields no multiple", func(t *testing.T) {
		loss := &models.FundamentalsLatest{
			Ticker: "AAPL", SharesOutstanding: fp(1e6), EBITDATTM: fp(-1e7),
		}
		row, _ := computeTickerFeatures(snap, day("2024-06-07"), nil, loss, "")
		if row.MarketCap == nil {
			t.Error("market cap should still be set")
		}
		if row.EVEBITDA != nil {
			t.Error("negative EBITDA must not produce a multiple")
		}
	})
}

func TestComputeDaily(t *testing.T) {
	runDate := day("2024-06-07")
	store := newMockFeatureStore()
	store.snapshots["2024-06-07"] = []models.PriceSnapshot{
		{Date: runDate, Ticker: "AAPL", Close: 150},
		{Date: runDate, Ticker: "MSFT", Close: 400},
		{Date: runDate, Ticker: "IGNORED", Close: 1},
	}
	db := newMockStateStore()
	db.states["AAPL"] = models.IndicatorState{Ticker: "AAPL", LastClose: 149, EMALong: 145, EMAShort: 147}
	db.sectors["AAPL"] = "Technology"

	c := NewComputer(store, db, &mockPriceReader{}, nil, false)
	summary, err := c.ComputeDaily(context.Background(), runDate, []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatal(err)
	}

	if summary.Status != StatusSuccess {
		t.Errorf("status = %s", summary.Status)
	}
	if summary.TickersProcessed != 2 {
		t.Errorf("processed = %d, want 2 (snapshot filtered to active tickers)", summary.TickersProcessed)
	}
	if summary.ColdStarts != 1 {
		t.Errorf("cold starts = %d, want 1 (MSFT)", summary.ColdStarts)
	}
	if len(store.putFeatures["2024-06-07"]) != 2 || len(store.latest) != 2 {
		t.Error("features and latest projection must both be written")
	}
	if len(db.upserted) != 2 {
		t.Errorf("upserted %d states, want 2", len(db.upserted))
	}
}

func TestComputeDaily_NoPriceData(t *testing.T) {
	c := NewComputer(newMockFeatureStore(), newMockStateStore(), &mockPriceReader{}, nil, false)
	summary, err := c.ComputeDaily(context.Background(), day("2024-06-08"), []string{"AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != StatusNoPriceData {
		t.Errorf("status = %s, want %s", summary.Status, StatusNoPriceData)
	}
}

func TestComputeDaily_NoTickers(t *testing.T) {
	c := NewComputer(newMockFeatureStore(), newMockStateStore(), &mockPriceReader{}, nil, false)
	summary, err := c.ComputeDaily(context.Background(), day("2024-06-07"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != StatusNoTickers {
		t.Errorf("status = %s, want %s", summary.Status, StatusNoTickers)
	}
}

func TestComputeDaily_DryRunWritesNothing(t *testing.T) {
	runDate := day("2024-06-07")
	store := newMockFeatureStore()
	store.snapshots["2024-06-07"] = []models.PriceSnapshot{{Date: runDate, Ticker: "AAPL", Close: 150}}
	db := newMockStateStore()

	c := NewComputer(store, db, &mockPriceReader{}, nil, true)
	summary, err := c.ComputeDaily(context.Background(), runDate, []string{"AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != StatusDryRun {
		t.Errorf("status = %s", summary.Status)
	}
	if len(store.putFeatures) != 0 || store.latest != nil || len(db.upserted) != 0 {
		t.Error("dry run must not persist anything")
	}
}
