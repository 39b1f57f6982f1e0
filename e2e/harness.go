// Package e2e provides end-to-end testing infrastructure for stock-sentinel.
package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"stock-sentinel/config"
	"stock-sentinel/e2e/mocks"
	"stock-sentinel/internal/api"
	"stock-sentinel/internal/app"
	"stock-sentinel/repository"
	"stock-sentinel/services"
)

// TestHarness provides the infrastructure for running E2E tests.
type TestHarness struct {
	t          *testing.T
	ctx        context.Context
	cancel     context.CancelFunc
	mockServer *mocks.MockServer
	store      *mocks.MemoryObjectStore
	eodhd      *services.EODHDService
	repo       *repository.Repository
	app        *app.App
	router     http.Handler
	config     *config.Config
}

// NewTestHarness creates a new test harness with all dependencies initialized.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	return &TestHarness{
		t:      t,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Setup initializes all test dependencies. The relational database is
// optional: when E2E_DATABASE_URL is unset the harness runs API and ingest
// scenarios against in-memory stores only.
func (h *TestHarness) Setup() error {
	// Start mock server for the EODHD API
	h.mockServer = mocks.NewMockServer()

	// Create test configuration
	h.config = config.NewTestConfig()

	// In-memory object store shared by ingest and API reads
	h.store = mocks.NewMemoryObjectStore()

	// Market data client pointed at the mock server
	h.eodhd = services.NewEODHDService("e2e-test-token", nil)
	h.eodhd.SetBaseURL(h.mockServer.URL())

	// Optional test database
	if dbURL := os.Getenv("E2E_DATABASE_URL"); dbURL != "" {
		var err error
		h.repo, err = repository.NewRepository(h.ctx, dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to test database: %w", err)
		}
	}

	// Create application. The repo interface stays nil (not a typed nil)
	// when no database is configured.
	var repo app.RepositoryInterface
	if h.repo != nil {
		repo = h.repo
	}
	h.app = app.New(h.config, repo, h.store, nil, nil)
	h.app.Startup(h.ctx)

	// Create router
	handler := api.NewHandler(h.app, h.config)
	h.router = api.NewRouter(handler, h.config)

	return nil
}

// Teardown cleans up all test resources.
func (h *TestHarness) Teardown() {
	if h.cancel != nil {
		h.cancel()
	}

	if h.repo != nil {
		h.cleanupTestData()
		h.repo.Close()
	}

	if h.mockServer != nil {
		h.mockServer.Close()
	}
}

// Context returns the test context.
func (h *TestHarness) Context() context.Context {
	return h.ctx
}

// MockServer returns the mock server for configuring responses.
func (h *TestHarness) MockServer() *mocks.MockServer {
	return h.mockServer
}

// Store returns the in-memory object store.
func (h *TestHarness) Store() *mocks.MemoryObjectStore {
	return h.store
}

// EODHD returns the market data client pointed at the mock server.
func (h *TestHarness) EODHD() *services.EODHDService {
	return h.eodhd
}

// Repository returns the test database repository, or nil when no database
// is configured.
func (h *TestHarness) Repository() *repository.Repository {
	return h.repo
}

// App returns the application instance.
func (h *TestHarness) App() *app.App {
	return h.app
}

// Router returns the HTTP router for making requests.
func (h *TestHarness) Router() http.Handler {
	return h.router
}

// Config returns the test configuration.
func (h *TestHarness) Config() *config.Config {
	return h.config
}

// DoRequest performs an HTTP request and returns the response.
func (h *TestHarness) DoRequest(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *TestHarness) cleanupTestData() {
	queries := []string{
		"DELETE FROM user_entity_settings",
		"DELETE FROM valuation_stats",
		"DELETE FROM fundamentals_latest",
		"DELETE FROM indicator_state",
		"DELETE FROM api_response_cache",
	}

	for _, q := range queries {
		if _, err := h.repo.Pool().Exec(h.ctx, q); err != nil {
			h.t.Logf("cleanup query failed (may be ok if table doesn't exist): %s: %v", q, err)
		}
	}
}

// RequireDatabase skips the test if the E2E database is not available.
func RequireDatabase(t *testing.T) {
	t.Helper()

	dbURL := os.Getenv("E2E_DATABASE_URL")
	if dbURL == "" {
		t.Skip("E2E_DATABASE_URL not set, skipping database-backed E2E test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	repo, err := repository.NewRepository(ctx, dbURL)
	if err != nil {
		t.Skipf("E2E database not available: %v", err)
	}
	repo.Close()
}
