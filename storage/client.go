package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"stock-sentinel/models"
	"stock-sentinel/observability"
)

// ErrNotFound is returned when a key does not exist in the bucket.
var ErrNotFound = errors.New("storage: object not found")

// Options configure the object-store client. Endpoint points at R2, MinIO,
// or any other S3-compatible service.
type Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Client reads and writes parquet datasets in the bucket.
type Client struct {
	s3     *s3.Client
	bucket string
	logger *slog.Logger
}

// New builds a client against an S3-compatible endpoint with static
// credentials. Logger may be nil.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Client{s3: client, bucket: opts.Bucket, logger: logger}, nil
}

func (c *Client) putObject(ctx context.Context, key string, body []byte) error {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		metrics.RecordStorageOp("put", "error", timer.Duration())
		return fmt.Errorf("putting %s: %w", key, err)
	}
	metrics.RecordStorageOp("put", "success", timer.Duration())
	return nil
}

func (c *Client) getObject(ctx context.Context, key string) ([]byte, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			metrics.RecordStorageOp("get", "not_found", timer.Duration())
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		metrics.RecordStorageOp("get", "error", timer.Duration())
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		metrics.RecordStorageOp("get", "error", timer.Duration())
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	metrics.RecordStorageOp("get", "success", timer.Duration())
	return data, nil
}

// KeyExists checks a key without fetching its body.
func (c *Client) KeyExists(ctx context.Context, key string) (bool, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			metrics.RecordStorageOp("head", "not_found", timer.Duration())
			return false, nil
		}
		metrics.RecordStorageOp("head", "error", timer.Duration())
		return false, fmt.Errorf("heading %s: %w", key, err)
	}
	metrics.RecordStorageOp("head", "success", timer.Duration())
	return true, nil
}

// ListKeys returns all keys under prefix.
func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordStorageOp("list", "error", timer.Duration())
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	metrics.RecordStorageOp("list", "success", timer.Duration())
	return keys, nil
}

// PutFeatures writes the date-partitioned feature file for one day.
func (c *Client) PutFeatures(ctx context.Context, day time.Time, rows []models.FeatureRow) error {
	data, err := marshalParquet(rows)
	if err != nil {
		return err
	}
	c.logger.Info("writing features", "date", day.Format(models.DateOnly), "rows", len(rows))
	return c.putObject(ctx, FeaturesKey(day), data)
}

// PutFeaturesLatest overwrites the latest-run projection.
func (c *Client) PutFeaturesLatest(ctx context.Context, rows []models.FeatureRow) error {
	data, err := marshalParquet(rows)
	if err != nil {
		return err
	}
	return c.putObject(ctx, FeaturesLatestKey, data)
}

// GetFeatures reads one day's feature file.
func (c *Client) GetFeatures(ctx context.Context, day time.Time) ([]models.FeatureRow, error) {
	data, err := c.getObject(ctx, FeaturesKey(day))
	if err != nil {
		return nil, err
	}
	return unmarshalParquet[models.FeatureRow](data)
}

// GetFeaturesLatest reads the latest-run projection.
func (c *Client) GetFeaturesLatest(ctx context.Context) ([]models.FeatureRow, error) {
	data, err := c.getObject(ctx, FeaturesLatestKey)
	if err != nil {
		return nil, err
	}
	return unmarshalParquet[models.FeatureRow](data)
}

// ListFeatureDates returns the partition dates present in the bucket, sorted
// ascending.
func (c *Client) ListFeatureDates(ctx context.Context) ([]time.Time, error) {
	keys, err := c.ListKeys(ctx, featuresPrefix)
	if err != nil {
		return nil, err
	}
	var dates []time.Time
	for _, key := range keys {
		if d, ok := dateFromFeaturesKey(key); ok {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// PutTriggers writes one day's trigger output.
func (c *Client) PutTriggers(ctx context.Context, day time.Time, rows []models.Trigger) error {
	data, err := marshalParquet(rows)
	if err != nil {
		return err
	}
	c.logger.Info("writing triggers", "date", day.Format(models.DateOnly), "rows", len(rows))
	return c.putObject(ctx, TriggersKey(day), data)
}

// GetTriggers reads one day's trigger output.
func (c *Client) GetTriggers(ctx context.Context, day time.Time) ([]models.Trigger, error) {
	data, err := c.getObject(ctx, TriggersKey(day))
	if err != nil {
		return nil, err
	}
	return unmarshalParquet[models.Trigger](data)
}

// PutPriceSnapshot writes the cross-sectional snapshot for one day.
func (c *Client) PutPriceSnapshot(ctx context.Context, day time.Time, rows []models.PriceSnapshot) error {
	data, err := marshalParquet(rows)
	if err != nil {
		return err
	}
	return c.putObject(ctx, PriceSnapshotKey(day), data)
}

// GetPriceSnapshot reads the cross-sectional snapshot for one day. A missing
// snapshot is not an error; callers fall back to per-ticker files.
func (c *Client) GetPriceSnapshot(ctx context.Context, day time.Time) ([]models.PriceSnapshot, error) {
	data, err := c.getObject(ctx, PriceSnapshotKey(day))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return unmarshalParquet[models.PriceSnapshot](data)
}

// GetLatestPriceSnapshotDate probes back from today for the most recent
// snapshot within lookbackDays.
func (c *Client) GetLatestPriceSnapshotDate(ctx context.Context, today time.Time, lookbackDays int) (time.Time, bool, error) {
	for i := 0; i <= lookbackDays; i++ {
		day := today.AddDate(0, 0, -i)
		ok, err := c.KeyExists(ctx, PriceSnapshotKey(day))
		if err != nil {
			return time.Time{}, false, err
		}
		if ok {
			return day, true, nil
		}
	}
	return time.Time{}, false, nil
}

// MergePriceBars merges new bars into the ticker's monthly files,
// deduplicating by date with new rows winning. This is the daily ingestion
// write path.
func (c *Client) MergePriceBars(ctx context.Context, ticker string, bars []models.PriceBar) (int, error) {
	byMonth := make(map[string][]models.PriceBar)
	for _, b := range bars {
		key := TimeSeriesKey(DatasetPrices, ticker, b.Date.Year(), b.Date.Month())
		byMonth[key] = append(byMonth[key], b)
	}

	total := 0
	for key, newBars := range byMonth {
		existing, err := c.getPriceFile(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return total, err
		}

		merged := make(map[string]models.PriceBar, len(existing)+len(newBars))
		for _, b := range existing {
			merged[b.Date.Format(models.DateOnly)] = b
		}
		for _, b := range newBars {
			merged[b.Date.Format(models.DateOnly)] = b
		}

		out := make([]models.PriceBar, 0, len(merged))
		for _, b := range merged {
			out = append(out, b)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

		data, err := marshalParquet(out)
		if err != nil {
			return total, err
		}
		if err := c.putObject(ctx, key, data); err != nil {
			return total, err
		}
		total += len(out)
	}
	return total, nil
}

// GetPriceSeries reads a ticker's bars across the monthly files covering
// [start, end], filtered to the range and sorted.
func (c *Client) GetPriceSeries(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	var all []models.PriceBar
	for _, key := range monthKeys(DatasetPrices, ticker, start, end) {
		bars, err := c.getPriceFile(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}

	filtered := all[:0]
	for _, b := range all {
		if !b.Date.Before(start) && !b.Date.After(end) {
			filtered = append(filtered, b)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Date.Before(filtered[j].Date) })
	return filtered, nil
}

// MergeFundamentals merges quarterly rows into the ticker's monthly files,
// deduplicating by period end.
func (c *Client) MergeFundamentals(ctx context.Context, ticker string, quarters []models.FundamentalsQuarter) (int, error) {
	byMonth := make(map[string][]models.FundamentalsQuarter)
	for _, q := range quarters {
		key := TimeSeriesKey(DatasetFundamentals, ticker, q.PeriodEnd.Year(), q.PeriodEnd.Month())
		byMonth[key] = append(byMonth[key], q)
	}

	total := 0
	for key, newRows := range byMonth {
		var existing []models.FundamentalsQuarter
		data, err := c.getObject(ctx, key)
		if err == nil {
			existing, err = unmarshalParquet[models.FundamentalsQuarter](data)
			if err != nil {
				return total, err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return total, err
		}

		merged := make(map[string]models.FundamentalsQuarter, len(existing)+len(newRows))
		for _, q := range existing {
			merged[q.PeriodEnd.Format(models.DateOnly)+q.Period] = q
		}
		for _, q := range newRows {
			merged[q.PeriodEnd.Format(models.DateOnly)+q.Period] = q
		}

		out := make([]models.FundamentalsQuarter, 0, len(merged))
		for _, q := range merged {
			out = append(out, q)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].PeriodEnd.Before(out[j].PeriodEnd) })

		encoded, err := marshalParquet(out)
		if err != nil {
			return total, err
		}
		if err := c.putObject(ctx, key, encoded); err != nil {
			return total, err
		}
		total += len(out)
	}
	return total, nil
}

// GetFundamentalsSeries reads a ticker's quarterly rows covering [start, end].
func (c *Client) GetFundamentalsSeries(ctx context.Context, ticker string, start, end time.Time) ([]models.FundamentalsQuarter, error) {
	var all []models.FundamentalsQuarter
	for _, key := range monthKeys(DatasetFundamentals, ticker, start, end) {
		data, err := c.getObject(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rows, err := unmarshalParquet[models.FundamentalsQuarter](data)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}

	filtered := all[:0]
	for _, q := range all {
		if !q.PeriodEnd.Before(start) && !q.PeriodEnd.After(end) {
			filtered = append(filtered, q)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].PeriodEnd.Before(filtered[j].PeriodEnd) })
	return filtered, nil
}

func (c *Client) getPriceFile(ctx context.Context, key string) ([]models.PriceBar, error) {
	data, err := c.getObject(ctx, key)
	if err != nil {
		return nil, err
	}
	return unmarshalParquet[models.PriceBar](data)
}

// monthKeys enumerates the monthly keys covering [start, end].
func monthKeys(dataset, ticker string, start, end time.Time) []string {
	var keys []string
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		keys = append(keys, TimeSeriesKey(dataset, ticker, cur.Year(), cur.Month()))
		cur = cur.AddDate(0, 1, 0)
	}
	return keys
}
