//go:build e2e
// +build e2e

package scenarios

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"stock-sentinel/e2e"
	"stock-sentinel/e2e/mocks"
	"stock-sentinel/models"
	"stock-sentinel/services"
)

func TestAPIEndpoints_InMemory(t *testing.T) {
	harness := e2e.NewTestHarness(t)
	if err := harness.Setup(); err != nil {
		t.Fatalf("failed to setup test harness: %v", err)
	}
	defer harness.Teardown()

	t.Run("health reports without database", func(t *testing.T) {
		resp := harness.DoRequest(http.MethodGet, "/api/health", "")

		if resp.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", resp.Code)
		}
	})

	t.Run("triggers latest is empty before any run", func(t *testing.T) {
		resp := harness.DoRequest(http.MethodGet, "/api/triggers/latest", "")

		if resp.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.Code)
		}

		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Count != 0 {
			t.Errorf("expected 0 triggers, got %d", body.Count)
		}
	})

	t.Run("triggers appear after the store is written", func(t *testing.T) {
		day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		harness.Store().SetTriggers(day, []models.Trigger{
			{Date: day, Ticker: "AAPL", TemplateID: "T1", TemplateName: "Golden cross", Strength: 0.05},
		})

		resp := harness.DoRequest(http.MethodGet, "/api/triggers/latest", "")

		var body struct {
			Date     string           `json:"date"`
			Triggers []models.Trigger `json:"triggers"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Date != "2024-03-15" || len(body.Triggers) != 1 {
			t.Errorf("unexpected triggers response: %+v", body)
		}
	})

	t.Run("run daily fails when pipeline not wired", func(t *testing.T) {
		resp := harness.DoRequest(http.MethodPost, "/api/runs/daily", "")

		if resp.Code != http.StatusConflict {
			t.Errorf("expected status 409 when daily pipeline not initialized, got %d", resp.Code)
		}

		var errResp map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			t.Fatalf("failed to decode error response: %v", err)
		}
		if errResp["error"] != "daily pipeline not initialized" {
			t.Errorf("unexpected error message: %s", errResp["error"])
		}
	})
}

func TestIngestWorkflow(t *testing.T) {
	harness := e2e.NewTestHarness(t)
	if err := harness.Setup(); err != nil {
		t.Fatalf("failed to setup test harness: %v", err)
	}
	defer harness.Teardown()

	harness.MockServer().SetEODResponse("AAPL", []mocks.EODBar{
		{Date: "2024-03-13", Open: 100, High: 102, Low: 99, Close: 101, AdjClose: 100.5, Volume: 1e6},
		{Date: "2024-03-14", Open: 101, High: 103, Low: 100, Close: 102, AdjClose: 101.5, Volume: 1.1e6},
	})
	harness.MockServer().SetFundamentals("AAPL", mocks.Fundamentals{
		Financials: mocks.Financials{
			IncomeStatement: mocks.IncomeStatement{Quarterly: map[string]mocks.IncomeRow{
				"2023-06-30": {Date: "2023-06-30", TotalRevenue: mocks.Float(400e6), EBITDA: mocks.Float(110e6)},
				"2023-09-30": {Date: "2023-09-30", TotalRevenue: mocks.Float(410e6), EBITDA: mocks.Float(115e6)},
				"2023-12-31": {Date: "2023-12-31", TotalRevenue: mocks.Float(420e6), EBITDA: mocks.Float(120e6)},
				"2024-03-31": {Date: "2024-03-31", TotalRevenue: mocks.Float(430e6), EBITDA: mocks.Float(125e6)},
			}},
			BalanceSheet: mocks.BalanceSheet{Quarterly: map[string]mocks.BalanceRow{
				"2024-03-31": {
					Date:         "2024-03-31",
					LongTermDebt: mocks.Float(80e6),
					Cash:         mocks.Float(50e6),
					Shares:       mocks.Float(10e6),
				},
			}},
		},
	})

	writer := mocks.NewMemoryFundamentalsWriter()
	ingestor := services.NewIngestor(harness.EODHD(), harness.Store(), writer, nil)

	t.Run("prices flow from API to store", func(t *testing.T) {
		from := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
		to := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

		summary, err := ingestor.IngestPrices(harness.Context(), []string{"AAPL"}, from, to)
		if err != nil {
			t.Fatalf("IngestPrices failed: %v", err)
		}
		if summary.BarsWritten != 2 {
			t.Errorf("expected 2 bars written, got %d", summary.BarsWritten)
		}

		bars := harness.Store().PriceBars("AAPL")
		if len(bars) != 2 {
			t.Fatalf("expected 2 stored bars, got %d", len(bars))
		}
		// Adjusted close preferred over raw close.
		if bars[0].Close != 100.5 {
			t.Errorf("expected adjusted close 100.5, got %v", bars[0].Close)
		}
	})

	t.Run("fundamentals flow and derive a latest row", func(t *testing.T) {
		summary, err := ingestor.IngestFundamentals(harness.Context(), []string{"AAPL"})
		if err != nil {
			t.Fatalf("IngestFundamentals failed: %v", err)
		}
		if summary.QuartersWritten != 4 {
			t.Errorf("expected 4 quarters written, got %d", summary.QuartersWritten)
		}

		latest, ok := writer.Rows["AAPL"]
		if !ok {
			t.Fatal("expected a fundamentals_latest row for AAPL")
		}
		if latest.EBITDATTM == nil || *latest.EBITDATTM != 470e6 {
			t.Errorf("expected TTM EBITDA 470e6, got %v", latest.EBITDATTM)
		}
	})

	t.Run("upstream failure is isolated per ticker", func(t *testing.T) {
		harness.MockServer().SetEODResponse("MSFT", []mocks.EODBar{
			{Date: "2024-03-14", Open: 400, High: 405, Low: 398, Close: 404, AdjClose: 403, Volume: 2e6},
		})

		from := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
		summary, err := ingestor.IngestPrices(harness.Context(), []string{"BROKEN", "MSFT"}, from, from)
		if err != nil {
			t.Fatalf("IngestPrices failed: %v", err)
		}
		if summary.TickersFailed != 1 {
			t.Errorf("expected 1 failed ticker, got %d", summary.TickersFailed)
		}
		if len(harness.Store().PriceBars("MSFT")) != 1 {
			t.Error("expected MSFT bars despite BROKEN failing")
		}
	})
}

func TestDatabaseBackedAPI(t *testing.T) {
	e2e.RequireDatabase(t)

	harness := e2e.NewTestHarness(t)
	if err := harness.Setup(); err != nil {
		t.Fatalf("failed to setup test harness: %v", err)
	}
	defer harness.Teardown()

	t.Run("health reports connected database", func(t *testing.T) {
		resp := harness.DoRequest(http.MethodGet, "/api/health", "")

		var body struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Services["database"] != "connected" {
			t.Errorf("expected database connected, got %s", body.Services["database"])
		}
	})

	t.Run("stats endpoint is 404 for unknown ticker", func(t *testing.T) {
		resp := harness.DoRequest(http.MethodGet, "/api/stats?ticker=ZZZZ", "")

		if resp.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", resp.Code)
		}
	})
}
