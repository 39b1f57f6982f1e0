package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"stock-sentinel/models"
)

// MemoryObjectStore is an in-memory stand-in for the object store. It serves
// both the read side consumed by the API and the merge side consumed by the
// ingestor.
type MemoryObjectStore struct {
	mu             sync.RWMutex
	featuresLatest []models.FeatureRow
	triggers       map[string][]models.Trigger
	dates          []time.Time
	priceBars      map[string][]models.PriceBar
	quarters       map[string][]models.FundamentalsQuarter
}

// NewMemoryObjectStore creates an empty in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		triggers:  make(map[string][]models.Trigger),
		priceBars: make(map[string][]models.PriceBar),
		quarters:  make(map[string][]models.FundamentalsQuarter),
	}
}

// SetFeaturesLatest seeds the latest feature projection.
func (s *MemoryObjectStore) SetFeaturesLatest(rows []models.FeatureRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.featuresLatest = rows
}

// SetTriggers seeds the triggers for an evaluation date.
func (s *MemoryObjectStore) SetTriggers(day time.Time, rows []models.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[day.Format(models.DateOnly)] = rows
	s.dates = append(s.dates, day)
	sort.Slice(s.dates, func(i, j int) bool { return s.dates[i].Before(s.dates[j]) })
}

// PriceBars returns the merged bars for a ticker, for assertions.
func (s *MemoryObjectStore) PriceBars(ticker string) []models.PriceBar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priceBars[ticker]
}

// Quarters returns the merged fundamentals for a ticker, for assertions.
func (s *MemoryObjectStore) Quarters(ticker string) []models.FundamentalsQuarter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quarters[ticker]
}

func (s *MemoryObjectStore) GetFeaturesLatest(ctx context.Context) ([]models.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.featuresLatest, nil
}

func (s *MemoryObjectStore) GetTriggers(ctx context.Context, day time.Time) ([]models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.triggers[day.Format(models.DateOnly)], nil
}

func (s *MemoryObjectStore) ListFeatureDates(ctx context.Context) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dates, nil
}

func (s *MemoryObjectStore) MergePriceBars(ctx context.Context, ticker string, bars []models.PriceBar) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDate := make(map[string]models.PriceBar, len(s.priceBars[ticker]))
	for _, b := range s.priceBars[ticker] {
		byDate[b.Date.Format(models.DateOnly)] = b
	}
	written := 0
	for _, b := range bars {
		key := b.Date.Format(models.DateOnly)
		if _, exists := byDate[key]; !exists {
			written++
		}
		byDate[key] = b
	}

	merged := make([]models.PriceBar, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })
	s.priceBars[ticker] = merged
	return written, nil
}

func (s *MemoryObjectStore) MergeFundamentals(ctx context.Context, ticker string, quarters []models.FundamentalsQuarter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPeriod := make(map[string]models.FundamentalsQuarter, len(s.quarters[ticker]))
	for _, q := range s.quarters[ticker] {
		byPeriod[q.PeriodEnd.Format(models.DateOnly)] = q
	}
	written := 0
	for _, q := range quarters {
		key := q.PeriodEnd.Format(models.DateOnly)
		if _, exists := byPeriod[key]; !exists {
			written++
		}
		byPeriod[key] = q
	}

	merged := make([]models.FundamentalsQuarter, 0, len(byPeriod))
	for _, q := range byPeriod {
		merged = append(merged, q)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].PeriodEnd.Before(merged[j].PeriodEnd) })
	s.quarters[ticker] = merged
	return written, nil
}

// MemoryFundamentalsWriter collects fundamentals_latest upserts in memory.
type MemoryFundamentalsWriter struct {
	mu   sync.Mutex
	Rows map[string]models.FundamentalsLatest
}

// NewMemoryFundamentalsWriter creates an empty writer.
func NewMemoryFundamentalsWriter() *MemoryFundamentalsWriter {
	return &MemoryFundamentalsWriter{Rows: make(map[string]models.FundamentalsLatest)}
}

func (w *MemoryFundamentalsWriter) UpsertFundamentalsLatest(ctx context.Context, rows []models.FundamentalsLatest) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, row := range rows {
		w.Rows[row.Ticker] = row
	}
	return len(rows), nil
}
