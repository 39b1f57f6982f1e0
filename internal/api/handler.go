package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"stock-sentinel/config"
	"stock-sentinel/internal/app"
	"stock-sentinel/models"
	"stock-sentinel/pipeline"

	"github.com/go-chi/chi/v5"
)

// Handler handles HTTP API requests
type Handler struct {
	app *app.App
	cfg *config.Config
}

// NewHandler creates a new Handler
func NewHandler(application *app.App, cfg *config.Config) *Handler {
	return &Handler{app: application, cfg: cfg}
}

// HandleHealth returns the health status of the application
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"services": map[string]string{
			"database": "unknown",
		},
	}

	if h.app.Repo() != nil {
		ctx := r.Context()
		if err := h.app.Repo().Health(ctx); err == nil {
			status["services"].(map[string]string)["database"] = "connected"
		} else {
			status["services"].(map[string]string)["database"] = "disconnected"
			status["status"] = "degraded"
		}
	} else {
		status["services"].(map[string]string)["database"] = "not_configured"
	}

	h.jsonResponse(w, status)
}

// HandleGetTickers returns the active watch universe
func (h *Handler) HandleGetTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := h.app.ActiveTickers(r.Context())
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]interface{}{
		"tickers": tickers,
		"count":   len(tickers),
	})
}

// HandleGetFeaturesLatest returns the most recent feature rows.
// An optional ticker query parameter restricts the response to one ticker.
func (h *Handler) HandleGetFeaturesLatest(w http.ResponseWriter, r *http.Request) {
	rows, err := h.app.LatestFeatures(r.Context())
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if ticker := r.URL.Query().Get("ticker"); ticker != "" {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if err := h.validateTicker(ticker); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filtered := make([]models.FeatureRow, 0, 1)
		for _, row := range rows {
			if row.Ticker == ticker {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	h.jsonResponse(w, rows)
}

// HandleGetLatestTriggers returns the triggers from the most recent evaluation
func (h *Handler) HandleGetLatestTriggers(w http.ResponseWriter, r *http.Request) {
	day, triggers, err := h.app.LatestTriggers(r.Context())
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"triggers": triggers,
		"count":    len(triggers),
	}
	if !day.IsZero() {
		resp["date"] = day.Format(models.DateOnly)
	}

	h.jsonResponse(w, resp)
}

// HandleGetTriggersByDate returns the triggers for a specific evaluation date
func (h *Handler) HandleGetTriggersByDate(w http.ResponseWriter, r *http.Request) {
	dateStr := chi.URLParam(r, "date")
	day, err := time.Parse(models.DateOnly, dateStr)
	if err != nil {
		h.jsonError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	triggers, err := h.app.TriggersForDate(r.Context(), day)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]interface{}{
		"date":     day.Format(models.DateOnly),
		"triggers": triggers,
		"count":    len(triggers),
	})
}

// HandleGetStats returns stored valuation stats, either for all tickers or
// for one ticker when the ticker query parameter is set
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	if ticker := r.URL.Query().Get("ticker"); ticker != "" {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if err := h.validateTicker(ticker); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		stats, err := h.app.ValuationStatsForTicker(r.Context(), ticker)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if stats == nil {
			h.jsonError(w, "no stats computed for ticker", http.StatusNotFound)
			return
		}
		h.jsonResponse(w, stats)
		return
	}

	stats, err := h.app.ValuationStats(r.Context())
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, stats)
}

// HandleRunDaily triggers a daily pipeline run.
// An optional date body field overrides evaluation-date discovery.
func (h *Handler) HandleRunDaily(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date    string   `json:"date"`
		Tickers []string `json:"tickers"`
	}
	if r.Body != nil {
		// An empty body is fine; only reject bodies that fail to decode.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.jsonError(w, "invalid JSON request", http.StatusBadRequest)
			return
		}
	}

	opts := pipeline.RunOptions{}
	if req.Date != "" {
		day, err := time.Parse(models.DateOnly, req.Date)
		if err != nil {
			h.jsonError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		opts.RunDate = day
	}
	for _, ticker := range req.Tickers {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if err := h.validateTicker(ticker); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Tickers = append(opts.Tickers, ticker)
	}

	result, err := h.app.RunDaily(r.Context(), opts)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	h.jsonResponse(w, result)
}

// HandleRunWeeklyStats triggers a valuation stats recompute
func (h *Handler) HandleRunWeeklyStats(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.RunWeeklyStats(r.Context())
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	h.jsonResponse(w, result)
}

// Helper functions

func (h *Handler) validateTicker(ticker string) error {
	if ticker == "" {
		return fmt.Errorf("ticker is required")
	}

	if len(ticker) > 10 {
		return fmt.Errorf("ticker too long (max 10 characters)")
	}

	matched, _ := regexp.MatchString("^[A-Z0-9.-]+$", ticker)
	if !matched {
		return fmt.Errorf("invalid ticker format (alphanumeric, dots, and dashes only)")
	}

	return nil
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
