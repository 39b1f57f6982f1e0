package api

import (
	"net/http"
	"time"

	"stock-sentinel/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestTimeout bounds read handlers. Pipeline runs are triggered through
// the API but execute against this same deadline, so it stays generous.
const requestTimeout = 120 * time.Second

// NewRouter creates and configures a Chi router with all routes
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(CORSMiddleware(cfg.HTTP.CORSAllowedOrigins))
	r.Use(MetricsMiddleware)

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", h.HandleHealth)

		// Watch universe
		r.Get("/tickers", h.HandleGetTickers)

		// Features
		r.Get("/features/latest", h.HandleGetFeaturesLatest)

		// Triggers
		r.Route("/triggers", func(r chi.Router) {
			r.Get("/latest", h.HandleGetLatestTriggers)
			r.Get("/{date}", h.HandleGetTriggersByDate)
		})

		// Valuation stats
		r.Get("/stats", h.HandleGetStats)

		// Pipeline runs
		r.Route("/runs", func(r chi.Router) {
			r.Post("/daily", h.HandleRunDaily)
			r.Post("/weekly-stats", h.HandleRunWeeklyStats)
		})
	})

	return r
}

// CORSMiddleware returns CORS middleware with the specified allowed origins
func CORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
