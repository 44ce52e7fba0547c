package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insightstack/assist-sentinel/internal/api"
	"github.com/insightstack/assist-sentinel/internal/cache"
	"github.com/insightstack/assist-sentinel/internal/classify"
	"github.com/insightstack/assist-sentinel/internal/config"
	"github.com/insightstack/assist-sentinel/internal/detect"
	"github.com/insightstack/assist-sentinel/internal/metrics"
	"github.com/insightstack/assist-sentinel/internal/notify"
	"github.com/insightstack/assist-sentinel/internal/report"
	"github.com/insightstack/assist-sentinel/internal/store"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

func main() {
	var configPath string
	var workers int
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.IntVar(&workers, "workers", 4, "Concurrent detection workers per batch")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting assist-sentinel", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := store.Open(cfg.Storage.Path, logger, cfg.Storage.BusyRetries)
	if err != nil {
		logger.Error("failed to open storage", slog.String("path", cfg.Storage.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	var inner classify.Oracle
	if cfg.Classifier.BaseURL != "" {
		inner = classify.NewHTTPOracle(
			cfg.Classifier.BaseURL,
			cfg.Classifier.CategoryPath,
			cfg.Classifier.SentimentPath,
			cfg.Classifier.Timeout,
		)
		logger.Info("using remote classifier", slog.String("url", cfg.Classifier.BaseURL))
	} else {
		inner = classify.NewKeywordOracle()
		logger.Info("no classifier configured, using keyword tables")
	}

	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:        cfg.Cache.Addr,
			Password:    cfg.Cache.Password,
			DialTimeout: cfg.Cache.DialTimeout,
			IOTimeout:   cfg.Cache.IOTimeout,
		})
		if err != nil {
			logger.Warn("classification cache unavailable", slog.Any("error", err))
		} else {
			defer provider.Close()
			inner = classify.NewCached(inner, provider, logger, cfg.Cache.TTL)
			logger.Info("classification cache enabled", slog.String("addr", cfg.Cache.Addr))
		}
	}
	oracle := classify.NewFallback(inner, logger, cfg.Classifier.Timeout, cfg.Classifier.DefaultCategory)

	var notifier *notify.Notifier
	var sink detect.InsightSink
	if cfg.Notifier.Enabled {
		channel := notify.NewWebhookChannel(cfg.Notifier.WebhookURL, cfg.Notifier.Timeout)
		notifier = notify.New(logger, channel, db, cfg.Notifier)
		sink = notifier
		logger.Info("notifications enabled", slog.String("target", cfg.Notifier.DefaultTarget))
	}

	detector := detect.New(logger, db, db, oracle, cfg.Detection)
	processor := detect.NewProcessor(logger, detector, sink, workers)

	var deliverer report.Deliverer
	if notifier != nil {
		deliverer = notifier
	}
	reports := report.New(logger, db, db, deliverer)

	handlers := api.NewHandlers(logger, processor, db, reports)
	server, err := api.NewServer(cfg.Server, logger, handlers)
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("api server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give detached notification goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("assist-sentinel stopped")
}
