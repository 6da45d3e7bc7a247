package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"dailybudget/internal/amqp"
	"dailybudget/internal/cli"
	"dailybudget/internal/config"
	apphttp "dailybudget/internal/http"
	applog "dailybudget/internal/log"
	"dailybudget/internal/metrics"
	"dailybudget/internal/middleware/ratelimit"
	"dailybudget/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg := cli.MustLoadConfig((*config.Config).Validate)
	logger := cli.SetupLogger(cfg, os.Stdout, applog.ComponentApp)

	logger.Info("Starting dailybudget server",
		"addr", cfg.HTTPAddr,
		"backend", cfg.DataBackend,
		"pointer", cfg.PointerBackend)

	be, err := cli.OpenBackend(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	reg := metrics.New()
	opts := append(cli.ServiceOptions(cfg, logger), services.WithObserver(reg))

	// Ledger events are optional: without a broker the server runs standalone.
	var publisher *amqp.Client
	if cfg.AMQPURL != "" {
		publisher, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without ledger events", applog.FieldError, err)
		} else {
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
			opts = append(opts, services.WithPublisher(publisher))
		}
	}

	budget := services.NewBudgetService(be.Store, opts...)

	checks := make(map[string]apphttp.ReadyCheck, len(be.Pings))
	for name, ping := range be.Pings {
		checks[name] = apphttp.ReadyCheck(ping)
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:           cfg.HTTPAddr,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		},
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	}, apphttp.Deps{
		Budget:  budget,
		Pointer: be.Pointer,
		Checks:  checks,
		Metrics: reg,
		Logger:  logger,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Warn("AMQP client close error", applog.FieldError, err)
			}
		}
		if err := be.Cleanup(); err != nil {
			logger.Warn("Backend cleanup error", applog.FieldError, err)
		}
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "addr", cfg.HTTPAddr)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
