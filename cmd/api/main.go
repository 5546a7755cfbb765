package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockwearhq/blockwear-backend/api/routes"
	"github.com/blockwearhq/blockwear-backend/internal/fulfillment"
	"github.com/blockwearhq/blockwear-backend/internal/monitor"
	"github.com/blockwearhq/blockwear-backend/internal/orders"
	"github.com/blockwearhq/blockwear-backend/internal/payments"
	"github.com/blockwearhq/blockwear-backend/internal/rates"
	btcpaywebhook "github.com/blockwearhq/blockwear-backend/internal/webhooks/btcpay"
	coinbasewebhook "github.com/blockwearhq/blockwear-backend/internal/webhooks/coinbase"
	fulfillmentwebhook "github.com/blockwearhq/blockwear-backend/internal/webhooks/fulfillment"
	"github.com/blockwearhq/blockwear-backend/pkg/btcpay"
	"github.com/blockwearhq/blockwear-backend/pkg/coinbase"
	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/db"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
	"github.com/blockwearhq/blockwear-backend/pkg/metrics"
	"github.com/blockwearhq/blockwear-backend/pkg/migrate"
	"github.com/blockwearhq/blockwear-backend/pkg/outbox"
	"github.com/blockwearhq/blockwear-backend/pkg/redis"
	"github.com/blockwearhq/blockwear-backend/pkg/walletrpc"
)

const shutdownGrace = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	ratesProvider, err := rates.NewHTTPProvider(cfg.Rates, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create rates provider", err)
		os.Exit(1)
	}
	ratesService, err := rates.NewService(rates.ServiceParams{
		Provider: ratesProvider,
		Cache:    redisClient,
		CacheTTL: cfg.Rates.CacheTTL,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create rates service", err)
		os.Exit(1)
	}

	walletPool, err := walletrpc.NewPool(cfg.WalletRPC, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet rpc pool", err)
		os.Exit(1)
	}

	var btcpayClient *btcpay.Client
	if cfg.BTCPay.APIKey != "" {
		btcpayClient, err = btcpay.NewClient(context.Background(), cfg.BTCPay, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create btcpay client", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "btcpay not configured, BTC orders disabled")
	}

	var coinbaseClient *coinbase.Client
	if cfg.Coinbase.APIKey != "" {
		coinbaseClient, err = coinbase.NewClient(context.Background(), cfg.Coinbase, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create coinbase client", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "coinbase commerce not configured, ETH orders disabled")
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

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	// The lifecycle manager, dispatcher and monitor registry reference each
	// other in a loop; the stopper is bound last to close it.
	stopper := monitor.NewStopper()
	lifecycle, err := payments.NewService(payments.ServiceParams{
		Repo:        payments.NewRepository(dbClient.DB()),
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

	orderParams := orders.ServiceParams{
		Repo:     orders.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Outbox:   outboxService,
		Rates:    ratesService,
		Wallets:  walletPool,
		Monitors: monitorRegistry,
		Payments: cfg.Payments,
		Logger:   logg,
	}
	if btcpayClient != nil {
		orderParams.BTCPay = btcpayClient
	}
	if coinbaseClient != nil {
		orderParams.Coinbase = coinbaseClient
	}
	orderService, err := orders.NewService(orderParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	fulfillmentGuard, err := fulfillmentwebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL, "fulfillment-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment webhook guard", err)
		os.Exit(1)
	}
	fulfillmentHook, err := fulfillmentwebhook.NewService(fulfillmentwebhook.ServiceParams{
		Lifecycle: lifecycle,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment webhook service", err)
		os.Exit(1)
	}

	routerParams := routes.Params{
		Config:             cfg,
		Logger:             logg,
		DB:                 dbClient,
		Redis:              redisClient,
		Orders:             orderService,
		Payments:           lifecycle,
		FulfillmentWebhook: fulfillmentHook,
		FulfillmentGuard:   fulfillmentGuard,
		FulfillmentHookKey: cfg.Fulfillment.WebhookKey,
	}
	if btcpayClient != nil {
		btcpayHook, err := btcpaywebhook.NewService(btcpaywebhook.ServiceParams{
			Invoices:  btcpayClient,
			Lifecycle: lifecycle,
			Logger:    logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create btcpay webhook service", err)
			os.Exit(1)
		}
		routerParams.BTCPayWebhook = btcpayHook
		routerParams.BTCPaySecret = btcpayClient
	}
	if coinbaseClient != nil {
		coinbaseHook, err := coinbasewebhook.NewService(coinbasewebhook.ServiceParams{
			Charges:   coinbaseClient,
			Lifecycle: lifecycle,
			Logger:    logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create coinbase webhook service", err)
			os.Exit(1)
		}
		routerParams.CoinbaseWebhook = coinbaseHook
		routerParams.CoinbaseSecret = coinbaseClient
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go dispatcher.Run(ctx)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(routerParams),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "error shutting down api server", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
