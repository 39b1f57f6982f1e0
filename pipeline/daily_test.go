package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"stock-sentinel/alerts"
	"stock-sentinel/features"
	"stock-sentinel/models"
	"stock-sentinel/observability"
)

func fp(v float64) *float64 { return &v }

func day(s string) time.Time {
	t, err := time.Parse(models.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

type mockObjectStore struct {
	featuresByDate map[string][]models.FeatureRow
	latest         []models.FeatureRow
	snapshots      map[string][]models.PriceSnapshot
	triggers       map[string][]models.Trigger
	latestSnapDate time.Time
	hasSnapDate    bool
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{
		featuresByDate: map[string][]models.FeatureRow{},
		snapshots:      map[string][]models.PriceSnapshot{},
		triggers:       map[string][]models.Trigger{},
	}
}

func (m *mockObjectStore) GetFeatures(_ context.Context, d time.Time) ([]models.FeatureRow, error) {
	return m.featuresByDate[d.Format(models.DateOnly)], nil
}

func (m *mockObjectStore) GetFeaturesLatest(_ context.Context) ([]models.FeatureRow, error) {
	return m.latest, nil
}

func (m *mockObjectStore) ListFeatureDates(_ context.Context) ([]time.Time, error) {
	var dates []time.Time
	for k := range m.featuresByDate {
		dates = append(dates, day(k))
	}
	return dates, nil
}

func (m *mockObjectStore) PutTriggers(_ context.Context, d time.Time, rows []models.Trigger) error {
	m.triggers[d.Format(models.DateOnly)] = rows
	return nil
}

func (m *mockObjectStore) GetPriceSnapshot(_ context.Context, d time.Time) ([]models.PriceSnapshot, error) {
	return m.snapshots[d.Format(models.DateOnly)], nil
}

func (m *mockObjectStore) GetLatestPriceSnapshotDate(_ context.Context, _ time.Time, _ int) (time.Time, bool, error) {
	return m.latestSnapDate, m.hasSnapDate, nil
}

type mockDatabase struct {
	tickers     []string
	fundDate    time.Time
	hasFundDate bool
	stats       map[string]models.ValuationStats
	watchlist   map[string][]models.WatchEntry
	alertStates map[string]models.AlertState
	upserted    []models.ValuationStats
}

func newMockDatabase() *mockDatabase {
	return &mockDatabase{
		stats:       map[string]models.ValuationStats{},
		watchlist:   map[string][]models.WatchEntry{},
		alertStates: map[string]models.AlertState{},
	}
}

func stateKey(userID, entityID uuid.UUID) string {
	return userID.String() + "/" + entityID.String()
}

func (m *mockDatabase) GetActiveTickers(_ context.Context) ([]string, error) {
	return m.tickers, nil
}

func (m *mockDatabase) GetFundamentalsLatestDate(_ context.Context, _ []string) (time.Time, bool, error) {
	return m.fundDate, m.hasFundDate, nil
}

func (m *mockDatabase) GetValuationStats(_ context.Context, _ models.MetricType) (map[string]models.ValuationStats, error) {
	return m.stats, nil
}

func (m *mockDatabase) UpsertValuationStats(_ context.Context, rows []models.ValuationStats) (int, error) {
	m.upserted = append(m.upserted, rows...)
	return len(rows), nil
}

func (m *mockDatabase) WatchlistByTicker(_ context.Context) (map[string][]models.WatchEntry, error) {
	return m.watchlist, nil
}

func (m *mockDatabase) GetAlertState(_ context.Context, userID, entityID uuid.UUID) (models.AlertState, error) {
	if s, ok := m.alertStates[stateKey(userID, entityID)]; ok {
		return s, nil
	}
	return models.AlertState{UserID: userID, EntityID: entityID}, nil
}

func (m *mockDatabase) UpsertAlertState(_ context.Context, state models.AlertState) error {
	m.alertStates[stateKey(state.UserID, state.EntityID)] = state
	return nil
}

type mockComputer struct {
	summary      features.DailySummary
	err          error
	snapshotN    int
	snapshotRuns int
	computeRuns  int
}

func (m *mockComputer) ComputeDaily(_ context.Context, runDate time.Time, _ []string) (features.DailySummary, error) {
	m.computeRuns++
	s := m.summary
	s.RunDate = runDate
	return s, m.err
}

func (m *mockComputer) CreatePriceSnapshot(_ context.Context, _ time.Time, tickers []string) (int, error) {
	m.snapshotRuns++
	m.snapshotN = len(tickers)
	return len(tickers), nil
}

type mockNotifier struct {
	summary  alerts.NotifySummary
	received []models.Trigger
	err      error
}

func (m *mockNotifier) Notify(_ context.Context, _ time.Time, triggers []models.Trigger) (alerts.NotifySummary, error) {
	m.received = triggers
	return m.summary, m.err
}

// crossAboveRow fires the bullish EMA cross template: previous close at or
// under the previous long EMA, current close above it.
func crossAboveRow(ticker string, d time.Time) models.FeatureRow {
	return models.FeatureRow{
		Date:      d,
		Ticker:    ticker,
		Close:     105,
		EMAShort:  102,
		EMALong:   100,
		PrevClose: fp(99),
		PrevShort: fp(101),
		PrevLong:  fp(100),
		EVEBITDA:  fp(15),
	}
}

func TestDailyRunHappyPath(t *testing.T) {
	runDate := day("2024-03-15")

	store := newMockObjectStore()
	store.latest = []models.FeatureRow{crossAboveRow("AAPL", runDate)}

	db := newMockDatabase()
	db.tickers = []string{"AAPL"}
	db.fundDate = day("2024-02-20")
	db.hasFundDate = true
	db.stats["AAPL"] = models.ValuationStats{
		Ticker: "AAPL", Metric: models.MetricEVEBITDA,
		P10: 8, P20: 10, P50: 14, P80: 20, P90: 25,
	}

	computer := &mockComputer{summary: features.DailySummary{Status: features.StatusSuccess, TickersProcessed: 1}}
	notifier := &mockNotifier{summary: alerts.NotifySummary{Status: alerts.StatusSuccess, EmailsSent: 1}}

	d := NewDaily(store, db, computer, notifier, nil, nil, func() time.Time { return runDate })
	result, err := d.Run(context.Background(), RunOptions{RunDate: runDate})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %q, want %q (validation error %q)", result.Status, StatusSuccess, result.ValidationError)
	}
	if computer.snapshotRuns != 1 || computer.computeRuns != 1 {
		t.Errorf("snapshot runs = %d, compute runs = %d, want 1 and 1", computer.snapshotRuns, computer.computeRuns)
	}
	if result.Triggers == 0 {
		t.Fatal("expected at least one trigger from the cross-above row")
	}
	var sawT1 bool
	for _, trig := range store.triggers[runDate.Format(models.DateOnly)] {
		if trig.TemplateID == "T1" && trig.Ticker == "AAPL" {
			sawT1 = true
		}
	}
	if !sawT1 {
		t.Error("T1 trigger for AAPL not written to the store")
	}
	if len(notifier.received) != result.Triggers {
		t.Errorf("notifier received %d triggers, pipeline reported %d", len(notifier.received), result.Triggers)
	}
}

func TestDailyRunNoActiveTickers(t *testing.T) {
	d := NewDaily(newMockObjectStore(), newMockDatabase(), &mockComputer{}, &mockNotifier{}, nil, nil, nil)
	result, err := d.Run(context.Background(), RunOptions{RunDate: day("2024-03-15")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != StatusFailedValidation || result.ValidationError != ErrNoActiveTickers {
		t.Errorf("got status %q error %q, want failed validation with %q", result.Status, result.ValidationError, ErrNoActiveTickers)
	}
}

func TestDailyRunStaleFundamentals(t *testing.T) {
	runDate := day("2024-06-15")
	db := newMockDatabase()
	db.tickers = []string{"AAPL"}
	db.fundDate = day("2024-01-01") // 166 days old
	db.hasFundDate = true

	computer := &mockComputer{summary: features.DailySummary{Status: features.StatusSuccess}}
	d := NewDaily(newMockObjectStore(), db, computer, &mockNotifier{}, nil, nil, func() time.Time { return runDate })
	result, err := d.Run(context.Background(), RunOptions{RunDate: runDate})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != StatusFailedValidation || result.ValidationError != ErrStaleFundamentals {
		t.Errorf("got status %q error %q, want failed validation with %q", result.Status, result.ValidationError, ErrStaleFundamentals)
	}
	if computer.computeRuns != 0 {
		t.Error("features computed despite failed validation")
	}
}

func TestDailyRunMissingFundamentalsIsWarning(t *testing.T) {
	runDate := day("2024-03-15")
	db := newMockDatabase()
	db.tickers = []string{"AAPL"}
	// hasFundDate stays false: no fundamentals at all.

	computer := &mockComputer{summary: features.DailySummary{Status: features.StatusSuccess}}
	d := NewDaily(newMockObjectStore(), db, computer, &mockNotifier{}, nil, nil, func() time.Time { return runDate })
	result, err := d.Run(context.Background(), RunOptions{RunDate: runDate})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("status = %q, want success when fundamentals are merely absent", result.Status)
	}
}

func TestDailyRunDiscoversLatestPriceDate(t *testing.T) {
	db := newMockDatabase()
	db.tickers = []string{"AAPL"}

	t.Run("no recent data fails closed", func(t *testing.T) {
		store := newMockObjectStore() // hasSnapDate false
		d := NewDaily(store, db, &mockComputer{}, &mockNotifier{}, nil, nil, func() time.Time { return day("2024-03-15") })
		result, err := d.Run(context.Background(), RunOptions{})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.Status != StatusFailedValidation || result.ValidationError != ErrNoRecentPriceData {
			t.Errorf("got status %q error %q, want failed validation with %q", result.Status, result.ValidationError, ErrNoRecentPriceData)
		}
	})

	t.Run("recent snapshot date is adopted", func(t *testing.T) {
		store := newMockObjectStore()
		store.latestSnapDate = day("2024-03-14")
		store.hasSnapDate = true
		computer := &mockComputer{summary: features.DailySummary{Status: features.StatusSuccess}}
		d := NewDaily(store, db, computer, &mockNotifier{}, nil, nil, func() time.Time { return day("2024-03-15") })
		result, err := d.Run(context.Background(), RunOptions{})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !result.RunDate.Equal(day("2024-03-14")) {
			t.Errorf("run date = %s, want discovered 2024-03-14", result.RunDate.Format(models.DateOnly))
		}
	})
}

func TestDailyRunFeaturesFailureAborts(t *testing.T) {
	runDate := day("2024-03-15")
	db := newMockDatabase()
	db.tickers = []string{"AAPL"}

	store := newMockObjectStore()
	store.latest = []models.FeatureRow{crossAboveRow("AAPL", runDate)}

	computer := &mockComputer{summary: features.DailySummary{Status: features.StatusNoPriceData}}
	notifier := &mockNotifier{}
	d := NewDaily(store, db, computer, notifier, nil, nil, func() time.Time { return runDate })
	result, err := d.Run(context.Background(), RunOptions{RunDate: runDate})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != StatusFailedFeatures {
		t.Errorf("status = %q, want %q", result.Status, StatusFailedFeatures)
	}
	if len(store.triggers) != 0 {
		t.Error("templates ran despite feature failure")
	}
	if notifier.received != nil {
		t.Error("alerts ran despite feature failure")
	}
}

func TestDailyRunStatsTemplates(t *testing.T) {
	runDate := day("2024-03-15")

	// Cheap absolute multiple fires the stats-free T5; a below-p20 multiple
	// also fires T7 when stats are joined.
	row := models.FeatureRow{
		Date: runDate, Ticker: "CHEAP",
		Close: 110, EMAShort: 105, EMALong: 100,
		PrevClose: fp(109), PrevShort: fp(104), PrevLong: fp(99),
		EVEBITDA: fp(6),
	}
	stats := models.ValuationStats{P10: 7, P20: 8, P50: 12, P80: 18, P90: 22}

	run := func(withStats, skipOnMiss bool) map[string]bool {
		db := newMockDatabase()
		db.tickers = []string{"CHEAP"}
		if withStats {
			db.stats["CHEAP"] = stats
		}
		store := newMockObjectStore()
		store.latest = []models.FeatureRow{row}
		computer := &mockComputer{summary: features.DailySummary{Status: features.StatusSuccess}}
		d := NewDaily(store, db, computer, &mockNotifier{}, nil, nil, func() time.Time { return runDate })
		if _, err := d.Run(context.Background(), RunOptions{RunDate: runDate, SkipStatsOnMiss: skipOnMiss, SkipAlerts: true}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		fired := map[string]bool{}
		for _, trig := range store.triggers[runDate.Format(models.DateOnly)] {
			fired[trig.TemplateID] = true
		}
		return fired
	}

	// Stats present: the full catalogue runs even with the miss flag set.
	fired := run(true, true)
	if !fired["T5"] || !fired["T7"] {
		t.Errorf("with stats present, want T5 and T7, got %v", fired)
	}

	// No stats at all with the miss flag: only the basic set runs.
	fired = run(false, true)
	if !fired["T5"] {
		t.Errorf("without stats, want T5 to still fire, got %v", fired)
	}
	if fired["T7"] {
		t.Error("stats-dependent T7 fired without any stats")
	}

	// No stats without the flag: full catalogue, T7 degrades per ticker.
	fired = run(false, false)
	if !fired["T5"] {
		t.Errorf("without stats, want T5 to still fire, got %v", fired)
	}
	if fired["T7"] {
		t.Error("T7 fired with no percentiles to compare against")
	}
}

func TestDailyRunTracksAxisState(t *testing.T) {
	runDate := day("2024-03-15")
	userID := uuid.New()
	entityID := uuid.New()

	store := newMockObjectStore()
	store.latest = []models.FeatureRow{crossAboveRow("AAPL", runDate)}

	db := newMockDatabase()
	db.tickers = []string{"AAPL"}
	db.watchlist["AAPL"] = []models.WatchEntry{{
		UserID: userID, EntityID: entityID, Ticker: "AAPL",
		Email: "alice@example.com", AlertsEnabled: true,
	}}
	db.stats["AAPL"] = models.ValuationStats{P10: 8, P20: 10, P50: 14, P80: 20, P90: 25}

	computer := &mockComputer{summary: features.DailySummary{Status: features.StatusSuccess}}
	notifier := &mockNotifier{summary: alerts.NotifySummary{Status: alerts.StatusSuccess}}
	d := NewDaily(store, db, computer, notifier, nil, nil, func() time.Time { return runDate })

	// First run: state is empty so no change alerts, but state must advance.
	result, err := d.Run(context.Background(), RunOptions{RunDate: runDate})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.AxisChanges != 0 {
		t.Errorf("first observation produced %d axis changes, want 0", result.AxisChanges)
	}
	state := db.alertStates[stateKey(userID, entityID)]
	if state.LastTrendPosition != models.TrendAbove {
		t.Fatalf("trend state = %q, want %q after first run", state.LastTrendPosition, models.TrendAbove)
	}

	// Flip the trend: close drops below the long EMA.
	store.latest[0].Close = 95
	store.latest[0].PrevClose = fp(105)
	result, err = d.Run(context.Background(), RunOptions{RunDate: runDate.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.AxisChanges == 0 {
		t.Error("trend flip above->below produced no axis change")
	}
}

func TestDailyRunAlertsFailurePropagates(t *testing.T) {
	runDate := day("2024-03-15")
	db := newMockDatabase()
	db.tickers = []string{"AAPL"}
	store := newMockObjectStore()
	store.latest = []models.FeatureRow{crossAboveRow("AAPL", runDate)}

	computer := &mockComputer{summary: features.DailySummary{Status: features.StatusSuccess}}
	notifier := &mockNotifier{err: errors.New("smtp down")}
	d := NewDaily(store, db, computer, notifier, nil, nil, func() time.Time { return runDate })
	if _, err := d.Run(context.Background(), RunOptions{RunDate: runDate}); err == nil {
		t.Fatal("expected error when the notifier fails")
	}
}

func TestDailyRunRecordsStepErrors(t *testing.T) {
	runDate := day("2024-03-15")
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	db := newMockDatabase()
	db.tickers = []string{"AAPL"}
	store := newMockObjectStore()
	store.latest = []models.FeatureRow{crossAboveRow("AAPL", runDate)}

	t.Run("features step", func(t *testing.T) {
		computer := &mockComputer{err: errors.New("bucket unavailable")}
		d := NewDaily(store, db, computer, &mockNotifier{}, nil, metrics, func() time.Time { return runDate })
		if _, err := d.Run(context.Background(), RunOptions{RunDate: runDate}); err == nil {
			t.Fatal("expected error from the feature computer")
		}
		got := testutil.ToFloat64(metrics.PipelineStepErrors.WithLabelValues("daily", "features"))
		if got != 1 {
			t.Errorf("features step errors = %v, want 1", got)
		}
	})

	t.Run("alerts step", func(t *testing.T) {
		computer := &mockComputer{summary: features.DailySummary{Status: features.StatusSuccess}}
		notifier := &mockNotifier{err: errors.New("smtp down")}
		d := NewDaily(store, db, computer, notifier, nil, metrics, func() time.Time { return runDate })
		if _, err := d.Run(context.Background(), RunOptions{RunDate: runDate}); err == nil {
			t.Fatal("expected error when the notifier fails")
		}
		got := testutil.ToFloat64(metrics.PipelineStepErrors.WithLabelValues("daily", "alerts"))
		if got != 1 {
			t.Errorf("alerts step errors = %v, want 1", got)
		}
	})
}

func TestPercentileFromStats(t *testing.T) {
	stats := map[string]models.ValuationStats{
		"AAPL": {P10: 10, P20: 12, P50: 16, P80: 24, P90: 30},
	}
	tests := []struct {
		name     string
		multiple *float64
		want     *float64
	}{
		{"below p10 clamps", fp(5), fp(10)},
		{"at p50", fp(16), fp(50)},
		{"midway p50 to p80", fp(20), fp(65)},
		{"above p90 clamps", fp(40), fp(90)},
		{"nil multiple", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := models.FeatureRow{Ticker: "AAPL", EVEBITDA: tt.multiple}
			got := percentileFromStats(&row, stats)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("percentile = %v, want %v", got, tt.want)
			}
			if got != nil && (*got-*tt.want) > 1e-9 && (*tt.want-*got) > 1e-9 {
				t.Errorf("percentile = %v, want %v", *got, *tt.want)
			}
		})
	}

	t.Run("missing stats row", func(t *testing.T) {
		row := models.FeatureRow{Ticker: "ZZZZ", EVEBITDA: fp(16)}
		if got := percentileFromStats(&row, stats); got != nil {
			t.Errorf("percentile = %v, want nil for unknown ticker", *got)
		}
	})
}
