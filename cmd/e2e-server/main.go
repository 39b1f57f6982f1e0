// Package main provides a standalone HTTP server for E2E testing. It runs
// the same routes and handlers as the serve command, backed by an in-memory
// object store and an optional test database, so API scenarios run without
// real S3 or EODHD credentials.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-sentinel/config"
	"stock-sentinel/e2e/mocks"
	"stock-sentinel/internal/api"
	"stock-sentinel/internal/app"
	"stock-sentinel/observability"
	"stock-sentinel/repository"
)

func main() {
	// Initialize logger in development mode for tests
	observability.InitLogger(false)
	observability.InitMetrics()

	// Get configuration from environment
	port := os.Getenv("E2E_SERVER_PORT")
	if port == "" {
		port = "9090"
	}

	cfg := config.NewTestConfig()

	ctx := context.Background()

	// Optional test database
	var repo app.RepositoryInterface
	var repoImpl *repository.Repository
	if databaseURL := os.Getenv("E2E_DATABASE_URL"); databaseURL != "" {
		var err error
		repoImpl, err = repository.NewRepository(ctx, databaseURL)
		if err != nil {
			observability.Fatal("failed to connect to database", "error", err)
		}
		defer repoImpl.Close()
		repo = repoImpl
		observability.Info("connected to test database")
	} else {
		observability.Info("E2E_DATABASE_URL not set, running without database")
	}

	// In-memory object store stands in for S3
	store := mocks.NewMemoryObjectStore()

	application := app.New(cfg, repo, store, nil, nil)
	application.Startup(ctx)

	// Create HTTP router
	handler := api.NewHandler(application, cfg)
	router := api.NewRouter(handler, cfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		observability.Info("starting E2E test server", "port", port, "url", fmt.Sprintf("http://localhost:%s", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down E2E test server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Fatal("server forced to shutdown", "error", err)
	}

	application.Shutdown(shutdownCtx)
	observability.Info("E2E test server stopped")
}
