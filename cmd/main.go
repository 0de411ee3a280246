package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/amirphl/quant-signals/internal/alpha"
	"github.com/amirphl/quant-signals/internal/backtest"
	"github.com/amirphl/quant-signals/internal/candle"
	"github.com/amirphl/quant-signals/internal/clock"
	"github.com/amirphl/quant-signals/internal/config"
	"github.com/amirphl/quant-signals/internal/db"
	"github.com/amirphl/quant-signals/internal/db/conf"
	"github.com/amirphl/quant-signals/internal/export"
	"github.com/amirphl/quant-signals/internal/market"
	"github.com/amirphl/quant-signals/internal/metrics"
	"github.com/amirphl/quant-signals/internal/notifier"
	"github.com/amirphl/quant-signals/internal/regime"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/scheduler"
	"github.com/amirphl/quant-signals/internal/strategy"
	"github.com/amirphl/quant-signals/internal/tracker"
	"github.com/amirphl/quant-signals/internal/utils"
)

func main() {
	cfg := config.MustLoadConfig()
	log := utils.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("mode", cfg.App.Mode).Strs("universe", cfg.Universe).Msg("Starting quant-signals")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("quant-signals exited")
	}
	log.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.App.Mode == config.ModeBacktest {
		return runBacktest(ctx, cfg, log)
	}

	storage, closeStorage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStorage()

	// The runtime config store must be reachable at startup.
	if err := storage.SeedRuntime(ctx, config.DefaultEntries()); err != nil {
		return fmt.Errorf("seed runtime config: %w", err)
	}

	feed, closeFeed, err := openFeed(cfg, log)
	if err != nil {
		return err
	}
	defer closeFeed()

	out, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}

	exporter, closeExporter, err := buildExporter(cfg, log)
	if err != nil {
		return err
	}
	defer closeExporter()

	detector := regime.NewDetector(cfg.Regime)
	riskManager := risk.NewManager(cfg.Risk, storage, log)
	policies, err := buildPolicies(cfg, detector, riskManager, log)
	if err != nil {
		return err
	}

	var broadcaster *notifier.Broadcaster
	if direct, ok := out.(notifier.DirectNotifier); ok {
		broadcaster = notifier.NewBroadcaster(direct, riskManager, log)
	}

	clk := clock.Real{}
	sched := scheduler.New(scheduler.Options{
		Universe:         cfg.Universe,
		Cadence:          cfg.Scheduler.Cadence,
		Buffer:           cfg.Scheduler.Buffer,
		MinWait:          cfg.Scheduler.MinWait,
		Backoff:          cfg.Scheduler.Backoff,
		Pacing:           cfg.Scheduler.Pacing,
		DedupWindow:      cfg.Scheduler.DedupWindow,
		DedupGranularity: cfg.Scheduler.DedupGranularity,
		HistoryBars:      cfg.Scheduler.HistoryBars,
		FetchTimeout:     cfg.Scheduler.FetchTimeout,
		FetchParallelism: cfg.Scheduler.FetchParallelism,
		Balance:          cfg.Scheduler.Balance,
		MacroDXY:         cfg.Macro.DXY,
		MacroTNX:         cfg.Macro.TNX,
		MacroEMA:         cfg.Macro.EMAPeriod,
	}, scheduler.Deps{
		Policies:    policies,
		Detector:    detector,
		Provider:    feed,
		News:        feed,
		Store:       storage,
		Notifier:    out,
		Broadcaster: broadcaster,
		Exporter:    exporter,
		Clock:       clk,
		Log:         log,
	})

	if cfg.Once() {
		sum, err := sched.RunCycle(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("persisted", sum.Persisted).Int("notified", sum.Notified).Msg("Single cycle done")
		return nil
	}

	trackerDeps := tracker.Deps{Store: storage, Prices: feed, Clock: clk, Log: log}
	if !cfg.Tracker.Mute {
		trackerDeps.Notifier = out
	}
	track := tracker.New(cfg.Tracker.Interval, trackerDeps)

	srv := metrics.Serve(cfg.App.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return track.Run(gctx) })
	return g.Wait()
}

func buildPolicies(cfg *config.Config, detector *regime.Detector, rm *risk.Manager, log zerolog.Logger) ([]strategy.Policy, error) {
	policies, err := strategy.Build(cfg.Policies, strategy.Deps{
		Combiner: alpha.NewCombiner(alpha.DefaultWeightTable()),
		Detector: detector,
		Risk:     rm,
		Log:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("build policies: %w", err)
	}
	return policies, nil
}

// runBacktest replays the configured CSV files and writes the trade log.
func runBacktest(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if len(cfg.Backtest.Data) == 0 {
		return errors.New("backtest mode needs backtest.data")
	}
	policies, err := buildPolicies(cfg, regime.NewDetector(cfg.Regime), risk.NewManager(cfg.Risk, nil, log), log)
	if err != nil {
		return err
	}

	data := map[string]map[string]*candle.Series{}
	for _, d := range cfg.Backtest.Data {
		s, err := backtest.LoadFile(d.Path, d.Instrument, d.Timeframe)
		if err != nil {
			return fmt.Errorf("load %s: %w", d.Path, err)
		}
		if data[d.Instrument] == nil {
			data[d.Instrument] = map[string]*candle.Series{}
		}
		data[d.Instrument][d.Timeframe] = s
		log.Info().Str("instrument", d.Instrument).Str("timeframe", d.Timeframe).Int("bars", s.Len()).Msg("Loaded bars for backtest")
	}

	rt := config.DefaultRuntime()
	replayer := backtest.New(policies, backtest.Options{
		Balance:          cfg.Scheduler.Balance,
		RiskPercent:      rt.RiskPerTrade,
		MinQuality:       rt.MinQualityScore,
		Warmup:           cfg.Backtest.Warmup,
		Window:           cfg.Backtest.Window,
		DedupWindow:      cfg.Scheduler.DedupWindow,
		DedupGranularity: cfg.Scheduler.DedupGranularity,
	}, log)
	out, err := replayer.RunUniverse(ctx, data)
	if err != nil {
		return err
	}

	f, err := os.Create(cfg.Backtest.Out)
	if err != nil {
		return fmt.Errorf("create trade log: %w", err)
	}
	defer f.Close()
	results := make([]backtest.Results, 0, len(out.Results))
	for _, res := range out.Results {
		results = append(results, res)
	}
	if err := backtest.SaveCSV(f, results...); err != nil {
		return err
	}
	log.Info().Interface("metrics", out.OverallMetrics).Str("trades", cfg.Backtest.Out).Msg("Backtest complete")
	return nil
}

type marketFeed interface {
	market.Provider
	market.NewsProvider
	market.PriceSource
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (db.Storage, func(), error) {
	if cfg.DB.Driver == "memory" {
		log.Warn().Msg("Using in-memory storage, signals are lost on restart")
		return db.NewMemory(), func() {}, nil
	}

	if err := runMigrations(ctx, cfg.DB.ConnStr, log); err != nil {
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	dbConfig, err := conf.NewConfig(ctx, cfg.DB.ConnStr, cfg.DB.MaxOpen, cfg.DB.MaxIdle)
	if err != nil {
		return nil, nil, err
	}
	storage, err := db.New(*dbConfig)
	if err != nil {
		dbConfig.DB.Close()
		return nil, nil, err
	}
	log.Info().Msg("Connected to Postgres")
	return storage, func() { dbConfig.DB.Close() }, nil
}

func openFeed(cfg *config.Config, log zerolog.Logger) (marketFeed, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Warn().Msg("No redis address configured, market data feed is empty")
		return market.NewStatic(), func() {}, nil
	}
	f, err := market.NewRedisFeed(market.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PriceKey: cfg.Redis.PriceKey,
		NewsKey:  cfg.Redis.NewsKey,
		MaxBars:  cfg.Redis.MaxBars,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("redis feed: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func buildNotifier(cfg *config.Config, log zerolog.Logger) (notifier.Notifier, error) {
	if cfg.Telegram.Token == "" {
		log.Warn().Msg("Telegram not configured, messages go to the log")
		return notifier.NewLogNotifier(log), nil
	}
	tg, err := notifier.NewTelegramNotifier(notifier.TelegramConfig{
		Token:      cfg.Telegram.Token,
		ChatID:     cfg.Telegram.ChatID,
		ProxyURL:   cfg.Telegram.ProxyURL,
		Attempts:   cfg.Telegram.Retries,
		RetryDelay: cfg.Telegram.RetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return tg, nil
}

func buildExporter(cfg *config.Config, log zerolog.Logger) (export.Exporter, func(), error) {
	ring := export.NewFileRing(cfg.Export.Path, cfg.Export.Limit, cfg.Export.MaxAge, nil)
	if len(cfg.Kafka.Brokers) == 0 {
		return ring, func() {}, nil
	}
	sink, err := export.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka sink: %w", err)
	}
	log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Bridge records also go to kafka")
	return export.Multi{ring, sink}, func() { sink.Close() }, nil
}

// runMigrations creates the database if it doesn't exist and applies
// scripts/schema.sql.
func runMigrations(ctx context.Context, connStr string, log zerolog.Logger) error {
	log.Info().Msg("Running database migrations")

	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return errors.New("database name not found in connection string")
	}

	admin := *u
	admin.Path = "/postgres"
	baseDB, err := sql.Open("postgres", admin.String())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}
	if !exists {
		log.Info().Str("database", dbName).Msg("Creating database")
		if _, err := baseDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName)); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	target, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer target.Close()

	path, err := conf.FindSchema()
	if err != nil {
		return err
	}
	schemaSQL, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	for _, stmt := range conf.SchemaStatements(string(schemaSQL)) {
		if _, err := target.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema.sql: %w", err)
		}
	}

	log.Info().Msg("Database migrations completed")
	return nil
}
