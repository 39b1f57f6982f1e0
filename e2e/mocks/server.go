// Package mocks provides HTTP mock servers and in-memory stores for E2E tests.
package mocks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockServer provides configurable mock responses for the EODHD API.
type MockServer struct {
	mu     sync.RWMutex
	server *httptest.Server

	// Response configurations, keyed by ticker
	eodBars      map[string][]EODBar
	fundamentals map[string]Fundamentals

	// Error injection: path prefix to HTTP status
	failures map[string]int

	// Request tracking for assertions
	requestLog []RequestLog
}

// RequestLog records incoming requests for test assertions.
type RequestLog struct {
	Method string
	Path   string
	Query  string
}

// NewMockServer creates a new mock server with no configured responses.
func NewMockServer() *MockServer {
	m := &MockServer{
		eodBars:      make(map[string][]EODBar),
		fundamentals: make(map[string]Fundamentals),
		failures:     make(map[string]int),
	}
	m.server = httptest.NewServer(m)
	return m
}

// URL returns the mock server's base URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// SetEODResponse configures the daily bars returned for a ticker.
func (m *MockServer) SetEODResponse(ticker string, bars []EODBar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eodBars[ticker] = bars
}

// SetFundamentals configures the fundamentals payload returned for a ticker.
func (m *MockServer) SetFundamentals(ticker string, f Fundamentals) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundamentals[ticker] = f
}

// FailWith makes every request whose path starts with prefix return status.
func (m *MockServer) FailWith(prefix string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[prefix] = status
}

// ClearFailures removes all injected failures.
func (m *MockServer) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]int)
}

// RequestCount returns how many requests hit paths starting with prefix.
func (m *MockServer) RequestCount(prefix string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, entry := range m.requestLog {
		if strings.HasPrefix(entry.Path, prefix) {
			count++
		}
	}
	return count
}

// ServeHTTP implements http.Handler to route requests to mock handlers.
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestLog = append(m.requestLog, RequestLog{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
	})
	for prefix, status := range m.failures {
		if strings.HasPrefix(r.URL.Path, prefix) {
			m.mu.Unlock()
			http.Error(w, "injected failure", status)
			return
		}
	}
	m.mu.Unlock()

	if r.URL.Query().Get("api_token") == "" {
		http.Error(w, "missing api_token", http.StatusUnauthorized)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/eod/"):
		m.handleEOD(w, r)
	case strings.HasPrefix(r.URL.Path, "/fundamentals/"):
		m.handleFundamentals(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockServer) handleEOD(w http.ResponseWriter, r *http.Request) {
	ticker := strings.TrimPrefix(r.URL.Path, "/eod/")

	m.mu.RLock()
	bars, ok := m.eodBars[ticker]
	m.mu.RUnlock()

	if !ok {
		http.Error(w, "unknown ticker", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bars)
}

func (m *MockServer) handleFundamentals(w http.ResponseWriter, r *http.Request) {
	ticker := strings.TrimPrefix(r.URL.Path, "/fundamentals/")

	m.mu.RLock()
	f, ok := m.fundamentals[ticker]
	m.mu.RUnlock()

	if !ok {
		http.Error(w, "unknown ticker", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(f)
}
