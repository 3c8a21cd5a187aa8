// Package main runs the driving exam slot notifier.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"termini-notifier/config"
	"termini-notifier/lock"
	"termini-notifier/message"
	"termini-notifier/metrics"
	"termini-notifier/notify"
	"termini-notifier/params"
	"termini-notifier/poll"
	"termini-notifier/schedule"
	"termini-notifier/scraper"
	"termini-notifier/server"
	"termini-notifier/storage"
)

func main() {
	var (
		configPath  = flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file (optional)")
		once        = flag.Bool("once", false, "Run one check cycle and exit")
		testMessage = flag.Bool("test-message", false, "Send the currently listed slots to every recipient and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "config_path", *configPath, "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, logger, *once, *testMessage); err != nil {
		logger.Error("Notifier failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, once, testMessage bool) error {
	loc, err := time.LoadLocation(cfg.Poll.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	filters, err := params.Decode(cfg.Source.Params)
	if err != nil {
		return fmt.Errorf("decode source params: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cycleLock, closeLock, err := newLock(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLock()

	httpClient := &http.Client{Timeout: cfg.Source.HTTPTimeout}
	notifier, err := newNotifier(ctx, cfg, httpClient, logger, m)
	if err != nil {
		return err
	}

	src := scraper.New(httpClient, cfg.Source.FetchURL, logger, scraper.WithAttempts(uint(cfg.Source.RetryAttempts)))
	monitor := poll.New(&poll.Config{
		Poller:     poll.NewPoller(src, loc, logger, m),
		Store:      store,
		Lock:       cycleLock,
		Composer:   message.New(cfg.Source.ClientURL, filters),
		Notifier:   notifier,
		Logger:     logger,
		Metrics:    m,
		Filters:    filters,
		MaxWindows: cfg.Poll.MaxWindows,
		MinEvents:  cfg.Poll.MinEvents,
		Location:   loc,
	})

	logger.Info("Effective config",
		"fetch_url", cfg.Source.FetchURL,
		"storage", cfg.Storage.Driver,
		"timezone", cfg.Poll.Timezone,
		"max_windows", cfg.Poll.MaxWindows,
		"min_events", cfg.Poll.MinEvents,
		"check_cron", cfg.Poll.CheckCron,
		"invalidate_cron", cfg.Poll.InvalidateCron,
		"recipients", notifier.Recipients(),
		"redis_lock", cfg.Redis.URL != "",
		"mock_notify", cfg.MockNotify)

	switch {
	case testMessage:
		return monitor.TestMessage(ctx)
	case once:
		return monitor.Check(ctx)
	}

	sched := schedule.New(loc, logger, schedule.WithJobTimeout(cfg.Lock.TTL))
	if err := sched.Add("check", cfg.Poll.CheckCron, monitor.Check); err != nil {
		return err
	}
	if err := sched.Add("invalidate", cfg.Poll.InvalidateCron, monitor.Invalidate); err != nil {
		return err
	}

	srv := server.New(&server.Config{
		Monitor:      monitor,
		Gatherer:     reg,
		Logger:       logger,
		CycleTimeout: cfg.Lock.TTL,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Listen)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (poll.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize storage client: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
		logger.Info("Using Cloud Storage seen-set", "bucket", cfg.Storage.Bucket, "object", cfg.Storage.Object)
		return storage.NewObject(client, cfg.Storage.Bucket, cfg.Storage.Object, logger), closeFn, nil

	case config.DriverPostgres, config.DriverSQLite:
		dialect := storage.SQLite
		if cfg.Storage.Driver == config.DriverPostgres {
			dialect = storage.Postgres
		}
		s, err := storage.Open(ctx, dialect, cfg.Storage.DSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open seen-set store: %w", err)
		}
		closeFn := func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close seen-set store", "error", err)
			}
		}
		logger.Info("Using SQL seen-set", "driver", cfg.Storage.Driver)
		return s, closeFn, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func newLock(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lock.Lock, func(), error) {
	if cfg.Redis.URL == "" {
		return lock.New(nil, "", 0), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close redis client", "error", err)
		}
	}
	return lock.New(client, "termini:seen-set", cfg.Lock.TTL), closeFn, nil
}

func newNotifier(ctx context.Context, cfg *config.Config, client *http.Client, logger *slog.Logger, m *metrics.Metrics) (*notify.Notifier, error) {
	if cfg.MockNotify {
		logger.Info("Mock notification mode enabled")
		recipients := append(append([]string{}, cfg.Telegram.ChatIDs...), cfg.Gmail.Recipients...)
		return notify.New([]notify.Channel{{Provider: notify.NewMockProvider(logger), Recipients: recipients}}, logger, m), nil
	}

	var channels []notify.Channel
	if cfg.Telegram.Token != "" && len(cfg.Telegram.ChatIDs) > 0 {
		channels = append(channels, notify.Channel{
			Provider:   notify.NewTelegramProvider(cfg.Telegram.Token, cfg.Telegram.APIURL, client, logger),
			Recipients: cfg.Telegram.ChatIDs,
		})
	}
	if cfg.Gmail.CredentialsJSON != "" && len(cfg.Gmail.Recipients) > 0 {
		svc, err := gmail.NewService(ctx, option.WithCredentialsJSON([]byte(cfg.Gmail.CredentialsJSON)))
		if err != nil {
			return nil, fmt.Errorf("initialize gmail service: %w", err)
		}
		channels = append(channels, notify.Channel{
			Provider:   notify.NewGmailProvider(svc, logger),
			Recipients: cfg.Gmail.Recipients,
		})
	}
	if len(channels) == 0 {
		return nil, errors.New("no notification channel configured")
	}
	return notify.New(channels, logger, m), nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
