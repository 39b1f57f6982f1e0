package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stock-sentinel/alerts"
	"stock-sentinel/config"
	"stock-sentinel/features"
	"stock-sentinel/internal/api"
	"stock-sentinel/internal/app"
	"stock-sentinel/models"
	"stock-sentinel/observability"
	"stock-sentinel/pipeline"
	"stock-sentinel/repository"
	"stock-sentinel/services"
	"stock-sentinel/storage"
)

const usage = `usage: stock-sentinel <command> [flags]

commands:
  daily         run the daily pipeline once (snapshot, features, templates, alerts)
  weekly-stats  recompute valuation stats for all active tickers
  backfill      rebuild feature history over a date range
  ingest        fetch prices and fundamentals from EODHD into the store
  serve         run the HTTP API server
  schedule      run daily and weekly jobs on their cron schedules
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	observability.InitLogger(os.Getenv("ENV") == "production")
	observability.InitMetrics()

	cfg, err := config.Load()
	if err != nil {
		observability.Fatal("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		observability.Fatal("failed to initialize dependencies", "error", err)
	}
	defer deps.close()

	switch command {
	case "daily":
		err = runDaily(ctx, deps, args)
	case "weekly-stats":
		err = runWeeklyStats(ctx, deps)
	case "backfill":
		err = runBackfill(ctx, deps, args)
	case "ingest":
		err = runIngest(ctx, deps, args)
	case "serve":
		err = runServe(ctx, cfg, deps)
	case "schedule":
		err = runSchedule(ctx, cfg, deps)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		observability.Fatal("command failed", "command", command, "error", err)
	}
}

// deps holds the wired application dependencies. Components that are not
// configured stay nil; each command checks what it needs.
type deps struct {
	cfg      *config.Config
	repo     *repository.Repository
	store    *storage.Client
	reader   *services.TimeSeriesReader
	eodhd    *services.EODHDService
	computer *features.Computer
	notifier *alerts.Notifier
	ingestor *services.Ingestor
	daily    *pipeline.Daily
	weekly   *pipeline.WeeklyStats
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{cfg: cfg}
	logger := observability.Logger
	metrics := observability.GetMetrics()

	if cfg.HasDatabase() {
		repo, err := repository.NewRepository(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		d.repo = repo
	}

	if cfg.HasStorage() {
		store, err := storage.New(ctx, storage.Options{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		d.store = store
		d.reader = services.NewTimeSeriesReader(store)
	}

	if cfg.HasEODHD() {
		var cache services.ResponseCache
		if d.repo != nil {
			cache = d.repo
		}
		d.eodhd = services.NewEODHDService(cfg.EODHD.APIKey, cache)
	}

	if d.store != nil && d.repo != nil {
		d.computer = features.NewComputer(d.store, d.repo, d.reader, logger, cfg.Pipeline.DryRun)

		var sender alerts.Sender
		if cfg.HasSMTP() {
			sender = services.NewSMTPSender(services.SMTPConfig{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
			})
		}
		d.notifier = alerts.NewNotifier(d.repo, sender, logger, cfg.Pipeline.DryRun || sender == nil)

		d.daily = pipeline.NewDaily(d.store, d.repo, d.computer, d.notifier, logger, metrics, nil)
		d.weekly = pipeline.NewWeeklyStats(d.store, d.repo, d.reader, logger, metrics, cfg.Pipeline.WindowDays, nil)
	}

	if d.eodhd != nil && d.store != nil && d.repo != nil {
		d.ingestor = services.NewIngestor(d.eodhd, d.store, d.repo, logger)
	}

	return d, nil
}

func (d *deps) close() {
	if d.repo != nil {
		d.repo.Close()
	}
}

func (d *deps) requirePipelines() error {
	if d.daily == nil {
		return fmt.Errorf("pipelines require DATABASE_URL and storage configuration")
	}
	return nil
}

func runDaily(ctx context.Context, d *deps, args []string) error {
	fs := flag.NewFlagSet("daily", flag.ExitOnError)
	dateStr := fs.String("date", "", "evaluation date (YYYY-MM-DD, default: latest price date)")
	fs.Parse(args)

	if err := d.requirePipelines(); err != nil {
		return err
	}

	opts := pipeline.RunOptions{SkipStatsOnMiss: d.cfg.Pipeline.SkipStatsOnMiss}
	if *dateStr != "" {
		day, err := time.Parse(models.DateOnly, *dateStr)
		if err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
		opts.RunDate = day
	}

	result, err := d.daily.Run(ctx, opts)
	if err != nil {
		return err
	}

	observability.Info("daily run finished",
		"status", result.Status,
		"run_date", result.RunDate.Format(models.DateOnly),
		"triggers", result.Triggers,
		"axis_changes", result.AxisChanges)
	if result.Status != pipeline.StatusSuccess {
		return fmt.Errorf("daily run ended with status %s: %s", result.Status, result.ValidationError)
	}
	return nil
}

func runWeeklyStats(ctx context.Context, d *deps) error {
	if err := d.requirePipelines(); err != nil {
		return err
	}

	result, err := d.weekly.Run(ctx)
	if err != nil {
		return err
	}

	observability.Info("weekly stats run finished",
		"status", result.Status,
		"tickers_updated", result.TickersUpdated,
		"tickers_skipped", result.TickersSkipped,
		"fallbacks_used", result.FallbacksUsed)
	if result.Status != pipeline.StatusSuccess {
		return fmt.Errorf("weekly stats run ended with status %s: %s", result.Status, result.ValidationError)
	}
	return nil
}

func runBackfill(ctx context.Context, d *deps, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	startStr := fs.String("start", "", "first date to rebuild (YYYY-MM-DD, required)")
	endStr := fs.String("end", "", "last date to rebuild (YYYY-MM-DD, default: today)")
	fs.Parse(args)

	if d.computer == nil {
		return fmt.Errorf("backfill requires DATABASE_URL and storage configuration")
	}
	if *startStr == "" {
		return fmt.Errorf("-start is required")
	}

	start, err := time.Parse(models.DateOnly, *startStr)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if *endStr != "" {
		end, err = time.Parse(models.DateOnly, *endStr)
		if err != nil {
			return fmt.Errorf("invalid -end: %w", err)
		}
	}

	tickers, err := d.repo.GetActiveTickers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active tickers: %w", err)
	}

	summary, err := d.computer.Backfill(ctx, start, end, tickers)
	if err != nil {
		return err
	}

	observability.Info("backfill finished",
		"status", summary.Status,
		"tickers", summary.TickersProcessed,
		"tickers_failed", summary.TickersFailed,
		"rows_written", summary.TotalRows,
		"dates_written", summary.DatesWritten)
	return nil
}

func runIngest(ctx context.Context, d *deps, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	fromStr := fs.String("from", "", "first price date to fetch (YYYY-MM-DD, default: 30 days ago)")
	toStr := fs.String("to", "", "last price date to fetch (YYYY-MM-DD, default: today)")
	skipFundamentals := fs.Bool("skip-fundamentals", false, "fetch prices only")
	fs.Parse(args)

	if d.ingestor == nil {
		return fmt.Errorf("ingest requires DATABASE_URL, storage, and EODHD_API_KEY configuration")
	}

	now := time.Now().UTC().Truncate(24 * time.Hour)
	from := now.AddDate(0, 0, -30)
	to := now
	var err error
	if *fromStr != "" {
		from, err = time.Parse(models.DateOnly, *fromStr)
		if err != nil {
			return fmt.Errorf("invalid -from: %w", err)
		}
	}
	if *toStr != "" {
		to, err = time.Parse(models.DateOnly, *toStr)
		if err != nil {
			return fmt.Errorf("invalid -to: %w", err)
		}
	}

	tickers, err := d.repo.GetActiveTickers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active tickers: %w", err)
	}

	prices, err := d.ingestor.IngestPrices(ctx, tickers, from, to)
	if err != nil {
		return err
	}
	observability.Info("price ingest finished",
		"tickers", prices.TickersProcessed,
		"failed", prices.TickersFailed,
		"bars_written", prices.BarsWritten)

	if !*skipFundamentals {
		funds, err := d.ingestor.IngestFundamentals(ctx, tickers)
		if err != nil {
			return err
		}
		observability.Info("fundamentals ingest finished",
			"tickers", funds.TickersProcessed,
			"failed", funds.TickersFailed,
			"quarters_written", funds.QuartersWritten)
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, d *deps) error {
	application := newApp(cfg, d)
	application.Startup(ctx)

	handler := api.NewHandler(application, cfg)
	router := api.NewRouter(handler, cfg)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	observability.Info("shutting down http server")
	return server.Shutdown(shutdownCtx)
}

func runSchedule(ctx context.Context, cfg *config.Config, d *deps) error {
	if err := d.requirePipelines(); err != nil {
		return err
	}

	sched := pipeline.NewScheduler(ctx, observability.Logger)

	err := sched.Add(cfg.Pipeline.DailyCronSpec, "daily", func(ctx context.Context) error {
		result, err := d.daily.Run(ctx, pipeline.RunOptions{
			SkipStatsOnMiss: cfg.Pipeline.SkipStatsOnMiss,
		})
		if err != nil {
			return err
		}
		if result.Status != pipeline.StatusSuccess {
			return fmt.Errorf("daily run ended with status %s: %s", result.Status, result.ValidationError)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule daily job: %w", err)
	}

	err = sched.Add(cfg.Pipeline.WeeklyCronSpec, "weekly-stats", func(ctx context.Context) error {
		result, err := d.weekly.Run(ctx)
		if err != nil {
			return err
		}
		if result.Status != pipeline.StatusSuccess {
			return fmt.Errorf("weekly stats run ended with status %s: %s", result.Status, result.ValidationError)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule weekly job: %w", err)
	}

	sched.Start()
	<-ctx.Done()
	sched.Stop()
	return nil
}

// newApp wires the App used by the serve command. Components that were not
// configured stay nil so the handlers report them as unavailable instead of
// panicking on a typed-nil interface.
func newApp(cfg *config.Config, d *deps) *app.App {
	var repo app.RepositoryInterface
	if d.repo != nil {
		repo = d.repo
	}
	var store app.ObjectStoreInterface
	if d.store != nil {
		store = d.store
	}
	var daily app.DailyRunner
	if d.daily != nil {
		daily = d.daily
	}
	var weekly app.WeeklyRunner
	if d.weekly != nil {
		weekly = d.weekly
	}
	return app.New(cfg, repo, store, daily, weekly)
}
