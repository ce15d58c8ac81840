package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netwatch/core-go/internal/config"
	"netwatch/core-go/internal/httpapi"
	"netwatch/core-go/internal/metrics"
	"netwatch/core-go/internal/notify"
	"netwatch/core-go/internal/orchestrator"
	"netwatch/core-go/internal/orchestrator/resilience"
	"netwatch/core-go/internal/scanner"
	"netwatch/core-go/internal/scanner/enrich"
	"netwatch/core-go/internal/scheduler"
	"netwatch/core-go/internal/store/pgstore"
)

func main() {
	cfg, cfgPath, err := config.Load()
	if err != nil {
		lg := httpapi.NewLogger("info")
		lg.Fatal().Err(err).Msg("failed to load config")
	}

	logger := httpapi.NewLogger(cfg.LogLevel)
	if cfgPath != "" {
		logger.Info().Str("path", cfgPath).Msg("config loaded")
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	enricher := enrich.New(logger, enrich.Options{
		MaxTargets:  cfg.Enrichment.MaxTargets,
		WorkerCount: cfg.Enrichment.Workers,
		DNSServer:   cfg.Enrichment.DNSServer,
		DNSTimeout:  cfg.Enrichment.DNSTimeout,
		SNMPEnabled: cfg.Enrichment.SNMPEnabled,
		SNMPConfig: enrich.SNMPConfig{
			Community: cfg.Enrichment.SNMPCommunity,
			Port:      cfg.Enrichment.SNMPPort,
			Timeout:   cfg.Enrichment.SNMPTimeout,
		},
	})
	adapter := scanner.NewNmap(logger, enricher)

	sinks := []notify.Sink{&notify.LogSink{Log: logger}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout))
	}
	notifier := notify.New(logger, sinks...)

	defaultScans := make([]orchestrator.RecurringScan, 0, len(cfg.Scans))
	for _, s := range cfg.Scans {
		defaultScans = append(defaultScans, orchestrator.RecurringScan{
			Target:   s.Target,
			Interval: s.Interval,
			Profile:  s.ProfileOrDefault(),
		})
	}

	orch := orchestrator.New(logger, orchestrator.Options{
		OpenStore: func(ctx context.Context) (orchestrator.Storage, error) {
			st, err := pgstore.Open(ctx, logger, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			return st, nil
		},
		Adapter: adapter,
		Scheduler: scheduler.Options{
			MaxConcurrentScans: cfg.Scheduler.MaxConcurrentScans,
			MaxRetries:         cfg.Scheduler.MaxRetries,
			RetryBaseDelay:     cfg.Scheduler.RetryBaseDelay,
			RetryMaxDelay:      cfg.Scheduler.RetryMaxDelay,
			MinInterval:        cfg.Scheduler.MinInterval,
			StopGrace:          cfg.Scheduler.StopGrace,
		},
		Notifier:                   notifier,
		Metrics:                    m,
		HealthInterval:             cfg.Monitor.HealthInterval,
		SignificantChangeThreshold: cfg.Monitor.SignificantChangeThreshold,
		DiffIdentity:               cfg.Monitor.DiffIdentity,
		DefaultScans:               defaultScans,
		RetentionMaxAge:            cfg.Monitor.RetentionMaxAge,
		RetentionSweepInterval:     cfg.Monitor.RetentionSweepInterval,
		StorageRetry: resilience.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    5 * time.Second,
		},
		BreakerFailureLimit: cfg.Monitor.BreakerFailureLimit,
		BreakerResetTimeout: cfg.Monitor.BreakerResetTimeout,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start monitoring")
	}

	h := httpapi.NewHandler(logger, orch, m)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("netwatch listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("monitoring shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}
