package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"stock-sentinel/models"
	"stock-sentinel/observability"
)

// ResponseCache is the optional persisted cache consulted before hitting the
// upstream API.
type ResponseCache interface {
	GetCachedResponse(ctx context.Context, ticker, endpoint string) ([]byte, error)
	SetCachedResponse(ctx context.Context, ticker, endpoint string, data []byte, ttl time.Duration) error
}

// Cache TTLs. Prices change daily, fundamentals quarterly.
const (
	priceCacheTTL        = 4 * time.Hour
	fundamentalsCacheTTL = 24 * time.Hour
)

// EODHDService fetches end-of-day prices and quarterly fundamentals from the
// EODHD API.
type EODHDService struct {
	apiKey  string
	client  *resty.Client
	cache   ResponseCache
	baseURL string
}

// NewEODHDService creates a new EODHDService. Cache may be nil.
func NewEODHDService(apiKey string, cache ResponseCache) *EODHDService {
	client := resty.New()
	client.SetTimeout(30 * time.Second)

	return &EODHDService{
		apiKey:  apiKey,
		client:  client,
		cache:   cache,
		baseURL: "https://eodhd.com/api",
	}
}

// SetBaseURL overrides the upstream API base URL. Test harnesses point this
// at a local mock server.
func (s *EODHDService) SetBaseURL(url string) {
	s.baseURL = url
}

// flexFloat tolerates the API's mix of numeric and quoted-numeric fields.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", data, err)
	}
	*f = flexFloat(v)
	return nil
}

func (f *flexFloat) ptr() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

// eodhdBar is one row of the end-of-day endpoint.
type eodhdBar struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adjusted_close"`
	Volume   float64 `json:"volume"`
}

// eodhdFundamentals is the slice of the fundamentals payload this system
// reads: quarterly income statement and balance sheet rows.
type eodhdFundamentals struct {
	Financials struct {
		IncomeStatement struct {
			Quarterly map[string]eodhdIncomeRow `json:"quarterly"`
		} `json:"Income_Statement"`
		BalanceSheet struct {
			Quarterly map[string]eodhdBalanceRow `json:"quarterly"`
		} `json:"Balance_Sheet"`
	} `json:"Financials"`
	SharesStats struct {
		SharesOutstanding *flexFloat `json:"SharesOutstanding"`
	} `json:"SharesStats"`
}

type eodhdIncomeRow struct {
	Date            string     `json:"date"`
	TotalRevenue    *flexFloat `json:"totalRevenue"`
	EBITDA          *flexFloat `json:"ebitda"`
	NetIncome       *flexFloat `json:"netIncome"`
	OperatingIncome *flexFloat `json:"operatingIncome"`
}

type eodhdBalanceRow struct {
	Date                 string     `json:"date"`
	LongTermDebt         *flexFloat `json:"longTermDebt"`
	ShortLongTermDebt    *flexFloat `json:"shortLongTermDebt"`
	Cash                 *flexFloat `json:"cashAndEquivalents"`
	CommonSharesOutstand *flexFloat `json:"commonStockSharesOutstanding"`
}

// GetEOD returns daily bars for a ticker over [from, to], ascending by date.
func (s *EODHDService) GetEOD(ctx context.Context, ticker string, from, to time.Time) ([]models.PriceBar, error) {
	endpoint := fmt.Sprintf("eod/%s/%s", from.Format(models.DateOnly), to.Format(models.DateOnly))
	body, err := s.fetch(ctx, ticker, endpoint, "eod", priceCacheTTL, func() ([]byte, error) {
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"api_token": s.apiKey,
				"fmt":       "json",
				"period":    "d",
				"from":      from.Format(models.DateOnly),
				"to":        to.Format(models.DateOnly),
			}).
			Get(fmt.Sprintf("%s/eod/%s", s.baseURL, ticker))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch eod data: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("eod API returned status %d", resp.StatusCode())
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}

	var raw []eodhdBar
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode eod response: %w", err)
	}

	bars := make([]models.PriceBar, 0, len(raw))
	for _, b := range raw {
		d, err := time.Parse(models.DateOnly, b.Date)
		if err != nil {
			continue
		}
		close := b.AdjClose
		if close <= 0 {
			close = b.Close
		}
		bars = append(bars, models.PriceBar{
			Date:   d,
			Ticker: ticker,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  close,
			Volume: b.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// GetFundamentals returns quarterly fundamentals rows for a ticker,
// ascending by period end.
func (s *EODHDService) GetFundamentals(ctx context.Context, ticker string) ([]models.FundamentalsQuarter, error) {
	body, err := s.fetch(ctx, ticker, "fundamentals", "fundamentals", fundamentalsCacheTTL, func() ([]byte, error) {
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"api_token": s.apiKey,
				"fmt":       "json",
			}).
			Get(fmt.Sprintf("%s/fundamentals/%s", s.baseURL, ticker))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch fundamentals: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fundamentals API returned status %d", resp.StatusCode())
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}

	var raw eodhdFundamentals
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode fundamentals response: %w", err)
	}
	return parseQuarterlyFundamentals(ticker, &raw), nil
}

// parseQuarterlyFundamentals joins income statement and balance sheet rows
// by period end date.
func parseQuarterlyFundamentals(ticker string, raw *eodhdFundamentals) []models.FundamentalsQuarter {
	byDate := make(map[string]*models.FundamentalsQuarter)

	row := func(date string) *models.FundamentalsQuarter {
		if q, ok := byDate[date]; ok {
			return q
		}
		d, err := time.Parse(models.DateOnly, date)
		if err != nil {
			return nil
		}
		q := &models.FundamentalsQuarter{Ticker: ticker, PeriodEnd: d, Period: "Q"}
		byDate[date] = q
		return q
	}

	for date, inc := range raw.Financials.IncomeStatement.Quarterly {
		q := row(date)
		if q == nil {
			continue
		}
		q.Revenue = inc.TotalRevenue.ptr()
		q.EBITDA = inc.EBITDA.ptr()
		q.NetIncome = inc.NetIncome.ptr()
		q.OperatingIncome = inc.OperatingIncome.ptr()
	}
	for date, bal := range raw.Financials.BalanceSheet.Quarterly {
		q := row(date)
		if q == nil {
			continue
		}
		q.LongTermDebt = bal.LongTermDebt.ptr()
		q.CurrentDebt = bal.ShortLongTermDebt.ptr()
		q.Cash = bal.Cash.ptr()
		q.SharesOutstanding = bal.CommonSharesOutstand.ptr()
		if q.SharesOutstanding == nil {
			q.SharesOutstanding = raw.SharesStats.SharesOutstanding.ptr()
		}
	}

	quarters := make([]models.FundamentalsQuarter, 0, len(byDate))
	for _, q := range byDate {
		quarters = append(quarters, *q)
	}
	sort.Slice(quarters, func(i, j int) bool { return quarters[i].PeriodEnd.Before(quarters[j].PeriodEnd) })
	return quarters
}

// fetch runs an upstream call behind the cache, retry policy, and circuit
// breaker. op labels the metrics for this endpoint family.
func (s *EODHDService) fetch(ctx context.Context, ticker, endpoint, op string, ttl time.Duration, call func() ([]byte, error)) ([]byte, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetCachedResponse(ctx, ticker, endpoint); err == nil && cached != nil {
			return cached, nil
		}
	}

	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("eodhd", op)
	timer := metrics.NewTimer()

	body, err := WithCircuitBreaker(ctx, BreakerEODHD, func() ([]byte, error) {
		var out []byte
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			var err error
			out, err = call()
			return err
		})
		return out, err
	})
	metrics.RecordExternalAPIDuration("eodhd", op, timer.Duration())
	if err != nil {
		errType := "request"
		if errors.Is(err, ErrCircuitOpen) {
			errType = "circuit_open"
		}
		metrics.RecordExternalAPIError("eodhd", op, errType)
		return nil, err
	}

	if s.cache != nil {
		// Best effort: a cache write failure must not fail the fetch.
		_ = s.cache.SetCachedResponse(ctx, ticker, endpoint, body, ttl)
	}
	return body, nil
}

// Compile-time interface verification
var _ MarketDataService = (*EODHDService)(nil)
