package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	// Verify all metrics are initialized
	if m.PipelineRunsTotal == nil {
		t.Error("PipelineRunsTotal is nil")
	}
	if m.PipelineDuration == nil {
		t.Error("PipelineDuration is nil")
	}
	if m.PipelineStepErrors == nil {
		t.Error("PipelineStepErrors is nil")
	}
	if m.TriggersTotal == nil {
		t.Error("TriggersTotal is nil")
	}
	if m.DigestsSentTotal == nil {
		t.Error("DigestsSentTotal is nil")
	}
	if m.AlertsSkippedTotal == nil {
		t.Error("AlertsSkippedTotal is nil")
	}
	if m.AxisChangesTotal == nil {
		t.Error("AxisChangesTotal is nil")
	}
	if m.TickersProcessed == nil {
		t.Error("TickersProcessed is nil")
	}
	if m.ColdStartsTotal == nil {
		t.Error("ColdStartsTotal is nil")
	}
	if m.ValuationValidGauge == nil {
		t.Error("ValuationValidGauge is nil")
	}
	if m.ExternalAPIRequestsTotal == nil {
		t.Error("ExternalAPIRequestsTotal is nil")
	}
	if m.ExternalAPIErrorsTotal == nil {
		t.Error("ExternalAPIErrorsTotal is nil")
	}
	if m.ExternalAPIDuration == nil {
		t.Error("ExternalAPIDuration is nil")
	}
	if m.StorageOpsTotal == nil {
		t.Error("StorageOpsTotal is nil")
	}
	if m.StorageOpsDuration == nil {
		t.Error("StorageOpsDuration is nil")
	}
	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration is nil")
	}
	if m.DBQueryTotal == nil {
		t.Error("DBQueryTotal is nil")
	}
	if m.DBErrorsTotal == nil {
		t.Error("DBErrorsTotal is nil")
	}
	if m.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration is nil")
	}
	if m.CircuitBreakerState == nil {
		t.Error("CircuitBreakerState is nil")
	}
	if m.CircuitBreakerTrips == nil {
		t.Error("CircuitBreakerTrips is nil")
	}
}

func TestRecordPipelineRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPipelineRun("daily", "success", 30*time.Second)
	m.RecordPipelineRun("daily", "success", 45*time.Second)
	m.RecordPipelineRun("weekly_stats", "failed_validation", 2*time.Second)

	dailySuccess := testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("daily", "success"))
	if dailySuccess != 2 {
		t.Errorf("Expected daily success count to be 2, got %f", dailySuccess)
	}

	weeklyFailed := testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("weekly_stats", "failed_validation"))
	if weeklyFailed != 1 {
		t.Errorf("Expected weekly_stats failed_validation count to be 1, got %f", weeklyFailed)
	}
}

func TestRecordStepError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordStepError("daily", "features")
	m.RecordStepError("daily", "features")
	m.RecordStepError("daily", "alerts")

	featuresErrors := testutil.ToFloat64(m.PipelineStepErrors.WithLabelValues("daily", "features"))
	if featuresErrors != 2 {
		t.Errorf("Expected daily features error count to be 2, got %f", featuresErrors)
	}

	alertsErrors := testutil.ToFloat64(m.PipelineStepErrors.WithLabelValues("daily", "alerts"))
	if alertsErrors != 1 {
		t.Errorf("Expected daily alerts error count to be 1, got %f", alertsErrors)
	}
}

func TestRecordTrigger(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTrigger("T1")
	m.RecordTrigger("T1")
	m.RecordTrigger("T7")

	t1Count := testutil.ToFloat64(m.TriggersTotal.WithLabelValues("T1"))
	if t1Count != 2 {
		t.Errorf("Expected T1 count to be 2, got %f", t1Count)
	}

	t7Count := testutil.ToFloat64(m.TriggersTotal.WithLabelValues("T7"))
	if t7Count != 1 {
		t.Errorf("Expected T7 count to be 1, got %f", t7Count)
	}
}

func TestAlertMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.DigestsSentTotal.Inc()
	m.AlertsSkippedTotal.WithLabelValues("cooldown").Inc()
	m.AlertsSkippedTotal.WithLabelValues("cooldown").Inc()
	m.AlertsSkippedTotal.WithLabelValues("first_observation").Inc()
	m.AxisChangesTotal.WithLabelValues("trend").Inc()

	digests := testutil.ToFloat64(m.DigestsSentTotal)
	if digests != 1 {
		t.Errorf("Expected digests sent to be 1, got %f", digests)
	}

	cooldown := testutil.ToFloat64(m.AlertsSkippedTotal.WithLabelValues("cooldown"))
	if cooldown != 2 {
		t.Errorf("Expected cooldown skip count to be 2, got %f", cooldown)
	}

	trendChanges := testutil.ToFloat64(m.AxisChangesTotal.WithLabelValues("trend"))
	if trendChanges != 1 {
		t.Errorf("Expected trend axis change count to be 1, got %f", trendChanges)
	}
}

func TestFeatureGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TickersProcessed.WithLabelValues("daily").Set(42)
	m.ValuationValidGauge.Set(38)
	m.ColdStartsTotal.Inc()
	m.ColdStartsTotal.Inc()

	processed := testutil.ToFloat64(m.TickersProcessed.WithLabelValues("daily"))
	if processed != 42 {
		t.Errorf("Expected tickers processed to be 42, got %f", processed)
	}

	valid := testutil.ToFloat64(m.ValuationValidGauge)
	if valid != 38 {
		t.Errorf("Expected valuation valid gauge to be 38, got %f", valid)
	}

	coldStarts := testutil.ToFloat64(m.ColdStartsTotal)
	if coldStarts != 2 {
		t.Errorf("Expected cold starts to be 2, got %f", coldStarts)
	}
}

func TestRecordExternalAPIRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordExternalAPIRequest("eodhd", "eod")
	m.RecordExternalAPIRequest("eodhd", "eod")
	m.RecordExternalAPIRequest("eodhd", "fundamentals")

	eodCount := testutil.ToFloat64(m.ExternalAPIRequestsTotal.WithLabelValues("eodhd", "eod"))
	if eodCount != 2 {
		t.Errorf("Expected eodhd eod count to be 2, got %f", eodCount)
	}

	fundCount := testutil.ToFloat64(m.ExternalAPIRequestsTotal.WithLabelValues("eodhd", "fundamentals"))
	if fundCount != 1 {
		t.Errorf("Expected eodhd fundamentals count to be 1, got %f", fundCount)
	}
}

func TestRecordExternalAPIError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordExternalAPIError("eodhd", "eod", "timeout")
	m.RecordExternalAPIError("smtp", "send", "connect")

	eodTimeout := testutil.ToFloat64(m.ExternalAPIErrorsTotal.WithLabelValues("eodhd", "eod", "timeout"))
	if eodTimeout != 1 {
		t.Errorf("Expected eodhd timeout count to be 1, got %f", eodTimeout)
	}
}

func TestRecordExternalAPIDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordExternalAPIDuration("eodhd", "eod", 500*time.Millisecond)
	m.RecordExternalAPIDuration("eodhd", "fundamentals", 200*time.Millisecond)

	// Verify histograms are recorded (just check they don't panic)
}

func TestRecordStorageOp(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordStorageOp("put_features", "success", 50*time.Millisecond)
	m.RecordStorageOp("put_features", "success", 30*time.Millisecond)
	m.RecordStorageOp("get_prices", "error", 10*time.Millisecond)

	putOK := testutil.ToFloat64(m.StorageOpsTotal.WithLabelValues("put_features", "success"))
	if putOK != 2 {
		t.Errorf("Expected put_features success count to be 2, got %f", putOK)
	}

	getErr := testutil.ToFloat64(m.StorageOpsTotal.WithLabelValues("get_prices", "error"))
	if getErr != 1 {
		t.Errorf("Expected get_prices error count to be 1, got %f", getErr)
	}
}

func TestRecordDBQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDBQuery("select", "valuation_stats", 10*time.Millisecond)
	m.RecordDBQuery("insert", "valuation_stats", 5*time.Millisecond)
	m.RecordDBQuery("select", "indicator_state", 8*time.Millisecond)

	selectStats := testutil.ToFloat64(m.DBQueryTotal.WithLabelValues("select", "valuation_stats"))
	if selectStats != 1 {
		t.Errorf("Expected select valuation_stats count to be 1, got %f", selectStats)
	}

	insertStats := testutil.ToFloat64(m.DBQueryTotal.WithLabelValues("insert", "valuation_stats"))
	if insertStats != 1 {
		t.Errorf("Expected insert valuation_stats count to be 1, got %f", insertStats)
	}
}

func TestRecordDBError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDBError("select", "valuation_stats")
	m.RecordDBError("insert", "indicator_state")

	selectError := testutil.ToFloat64(m.DBErrorsTotal.WithLabelValues("select", "valuation_stats"))
	if selectError != 1 {
		t.Errorf("Expected select error count to be 1, got %f", selectError)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordHTTPRequest("GET", "/api/health", "200", 10*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/runs/daily", "202", 2*time.Second)
	m.RecordHTTPRequest("GET", "/api/stats", "500", 50*time.Millisecond)

	healthOK := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/health", "200"))
	if healthOK != 1 {
		t.Errorf("Expected GET /api/health 200 count to be 1, got %f", healthOK)
	}

	statsError := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/stats", "500"))
	if statsError != 1 {
		t.Errorf("Expected GET /api/stats 500 count to be 1, got %f", statsError)
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// Set initial states
	m.SetCircuitBreakerState("eodhd", 0) // closed
	m.SetCircuitBreakerState("smtp", 2)  // open

	eodhdState := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("eodhd"))
	if eodhdState != 0 {
		t.Errorf("Expected eodhd state to be 0 (closed), got %f", eodhdState)
	}

	smtpState := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("smtp"))
	if smtpState != 2 {
		t.Errorf("Expected smtp state to be 2 (open), got %f", smtpState)
	}

	// Record trips
	m.RecordCircuitBreakerTrip("eodhd")
	m.RecordCircuitBreakerTrip("eodhd")

	eodhdTrips := testutil.ToFloat64(m.CircuitBreakerTrips.WithLabelValues("eodhd"))
	if eodhdTrips != 2 {
		t.Errorf("Expected eodhd trips to be 2, got %f", eodhdTrips)
	}
}

func TestTimer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	timer := m.NewTimer()
	if timer == nil {
		t.Fatal("NewTimer returned nil")
	}

	// Sleep a small amount to ensure duration is measurable
	time.Sleep(10 * time.Millisecond)

	duration := timer.Duration()
	if duration < 10*time.Millisecond {
		t.Errorf("Expected duration to be at least 10ms, got %v", duration)
	}

	// Test ObservePipeline
	timer.ObservePipeline("daily", "success")

	dailySuccess := testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("daily", "success"))
	if dailySuccess != 1 {
		t.Errorf("Expected daily success count to be 1, got %f", dailySuccess)
	}

	// Test ObserveExternalAPI
	timer2 := m.NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer2.ObserveExternalAPI("eodhd", "eod")

	// Test ObserveDB
	timer3 := m.NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer3.ObserveDB("select", "valuation_stats")
}

func TestGetMetrics_Singleton(t *testing.T) {
	// Save and restore global metrics state
	original := globalMetrics
	defer func() { globalMetrics = original }()

	// Create a fresh metrics instance with a dedicated registry
	reg := prometheus.NewRegistry()
	testMetrics := NewMetrics(reg)
	globalMetrics = testMetrics

	m1 := GetMetrics()
	if m1 == nil {
		t.Fatal("GetMetrics returned nil")
	}

	m2 := GetMetrics()
	if m1 != m2 {
		t.Error("GetMetrics should return the same instance")
	}
}

func TestInitMetrics_SetsGlobal(t *testing.T) {
	// Save and restore global metrics state
	original := globalMetrics
	defer func() { globalMetrics = original }()

	// Create a new registry for isolation
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	globalMetrics = m

	// Verify it's the global instance
	if globalMetrics != m {
		t.Error("globalMetrics should match the instance we set")
	}

	// Verify GetMetrics returns it
	if GetMetrics() != m {
		t.Error("GetMetrics should return the global instance")
	}
}
