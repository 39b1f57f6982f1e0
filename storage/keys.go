// Package storage is the object-store layer: parquet files in an
// S3-compatible bucket, keyed by dataset and date.
package storage

import (
	"fmt"
	"strings"
	"time"

	"stock-sentinel/models"
)

// Dataset names for per-ticker monthly time series.
const (
	DatasetPrices       = "prices"
	DatasetFundamentals = "fundamentals"
)

// FeaturesLatestKey is the overwritten projection of the most recent run.
const FeaturesLatestKey = "features/latest.parquet"

const featuresPrefix = "features/dt="

// TimeSeriesKey builds the monthly per-ticker key:
// {dataset}/v1/{TICKER}/{year}/{month}/data.parquet
func TimeSeriesKey(dataset, ticker string, year int, month time.Month) string {
	return fmt.Sprintf("%s/v1/%s/%04d/%02d/data.parquet", dataset, strings.ToUpper(ticker), year, int(month))
}

// FeaturesKey builds the date-partitioned daily features key.
func FeaturesKey(day time.Time) string {
	return featuresPrefix + day.Format(models.DateOnly) + "/part.parquet"
}

// TriggersKey builds the date-partitioned trigger output key.
func TriggersKey(day time.Time) string {
	return "triggers/dt=" + day.Format(models.DateOnly) + "/part.parquet"
}

// PriceSnapshotKey builds the cross-sectional price snapshot key.
func PriceSnapshotKey(day time.Time) string {
	return "snapshots/prices/dt=" + day.Format(models.DateOnly) + "/part.parquet"
}

// dateFromFeaturesKey parses the partition date out of a features key.
func dateFromFeaturesKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, featuresPrefix) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(key, featuresPrefix)
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(models.DateOnly, rest[:idx])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
