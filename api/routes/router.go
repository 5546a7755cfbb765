package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blockwearhq/blockwear-backend/api/controllers"
	webhookcontrollers "github.com/blockwearhq/blockwear-backend/api/controllers/webhooks"
	"github.com/blockwearhq/blockwear-backend/api/middleware"
	"github.com/blockwearhq/blockwear-backend/internal/orders"
	"github.com/blockwearhq/blockwear-backend/internal/payments"
	pkgauth "github.com/blockwearhq/blockwear-backend/pkg/auth"
	"github.com/blockwearhq/blockwear-backend/pkg/config"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

// Params collects everything the HTTP surface needs. Webhook services may be
// nil when a deployment runs without that rail; their routes then answer
// with an internal error instead of panicking at wire-up.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Orders   orders.Service
	Payments payments.Service

	BTCPayWebhook      webhookcontrollers.BTCPayWebhookService
	BTCPaySecret       webhookcontrollers.SigningSecretSource
	CoinbaseWebhook    webhookcontrollers.CoinbaseWebhookService
	CoinbaseSecret     webhookcontrollers.SigningSecretSource
	FulfillmentWebhook webhookcontrollers.FulfillmentWebhookService
	FulfillmentGuard   webhookcontrollers.FulfillmentWebhookGuard
	FulfillmentHookKey string
}

// NewRouter builds the chi handler for cmd/api.
func NewRouter(p Params) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.DB, p.Redis))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", controllers.CreateOrder(p.Orders, p.Logger))
		r.Get("/{orderRef}", controllers.GetOrder(p.Orders, p.Logger))
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(p.Config.JWT, p.Logger))
		r.Get("/ping", controllers.AdminPing())
		r.Get("/orders", controllers.AdminListOrders(p.Orders, p.Logger))
		r.Get("/orders/{orderRef}", controllers.AdminGetOrder(p.Orders, p.Logger))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(pkgauth.RoleAdmin, p.Logger))
			r.Post("/orders/{orderRef}/cancel", controllers.AdminCancelOrder(p.Payments, p.Logger))
			r.Post("/orders/{orderRef}/verify-payment", controllers.AdminVerifyPayment(p.Payments, p.Logger))
			r.Post("/orders/{orderRef}/retry-fulfillment", controllers.AdminRetryFulfillment(p.Payments, p.Logger))
			r.Post("/orders/{orderRef}/delivered", controllers.AdminMarkDelivered(p.Payments, p.Logger))
		})
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/btcpay", webhookcontrollers.BTCPayWebhook(p.BTCPayWebhook, p.BTCPaySecret, p.Logger))
		r.Post("/coinbase", webhookcontrollers.CoinbaseWebhook(p.CoinbaseWebhook, p.CoinbaseSecret, p.Logger))
		r.Post("/fulfillment", webhookcontrollers.FulfillmentWebhook(p.FulfillmentWebhook, p.FulfillmentHookKey, p.FulfillmentGuard, p.Logger))
	})

	return r
}
