package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockwearhq/blockwear-backend/internal/cron"
	"github.com/blockwearhq/blockwear-backend/internal/fulfillment"
	"github.com/blockwearhq/blockwear-backend/internal/monitor"
	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/db"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
	"github.com/blockwearhq/blockwear-backend/pkg/metrics"
	"github.com/blockwearhq/blockwear-backend/pkg/migrate"
	"github.com/blockwearhq/blockwear-backend/pkg/outbox"
	"github.com/blockwearhq/blockwear-backend/pkg/redis"
	"github.com/blockwearhq/blockwear-backend/pkg/walletrpc"
)

const lockKeyFormat = "bw:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	walletPool, err := walletrpc.NewPool(cfg.WalletRPC, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet rpc pool", err)
		os.Exit(1)
	}

	fulfillmentClient, err := fulfillment.NewClient(context.Background(), cfg.Fulfillment, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment client", err)
		os.Exit(1)
	}
	fulfillmentService, err := fulfillment.NewService(fulfillment.ServiceParams{
		Client:     fulfillmentClient,
		MaxRetries: cfg.Fulfillment.MaxRetries,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)
	paymentsRepo := payments.NewRepository(dbClient.DB())

	// The cron worker carries its own lifecycle stack: the resume job must
	// re-arm pollers in this process, and the observations those pollers
	// produce have to land somewhere. Polling an order the api process also
	// watches is harmless; observation application is idempotent.
	stopper := monitor.NewStopper()
	lifecycle, err := payments.NewService(payments.ServiceParams{
		Repo:        paymentsRepo,
		Tx:          dbClient,
		Outbox:      outboxService,
		Monitors:    stopper,
		Fulfillment: fulfillmentService,
		Logger:      logg,
		Metrics:     paymentMetrics,
		Policy:      payments.PolicyFromConfig(cfg.Payments),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment lifecycle", err)
		os.Exit(1)
	}
	dispatcher, err := monitor.NewDispatcher(lifecycle, logg, 0, 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create observation dispatcher", err)
		os.Exit(1)
	}
	monitorRegistry, err := monitor.NewRegistry(monitor.RegistryParams{
		Wallets: walletPool,
		Sink:    dispatcher,
		Logger:  logg,
		Metrics: paymentMetrics,
		Config:  cfg.Payments,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create monitor registry", err)
		os.Exit(1)
	}
	stopper.Bind(monitorRegistry)
	defer monitorRegistry.Close()

	expirySweep, err := cron.NewPaymentExpirySweepJob(cron.PaymentExpirySweepParams{
		Logger:    logg,
		Payments:  paymentsRepo,
		Lifecycle: lifecycle,
		BatchSize: cfg.Payments.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry sweep job", err)
		os.Exit(1)
	}
	monitorResume, err := cron.NewMonitorResumeJob(cron.MonitorResumeParams{
		Logger:    logg,
		Payments:  paymentsRepo,
		Monitors:  monitorRegistry,
		BatchSize: cfg.Payments.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create monitor resume job", err)
		os.Exit(1)
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(expirySweep, monitorResume, outboxRetention)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go dispatcher.Run(ctx)

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
