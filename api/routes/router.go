package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/briankimutai/dukalink-backend/api/controllers"
	fulfillmentcontrollers "github.com/briankimutai/dukalink-backend/api/controllers/fulfillment"
	ordercontrollers "github.com/briankimutai/dukalink-backend/api/controllers/orders"
	paymentcontrollers "github.com/briankimutai/dukalink-backend/api/controllers/payments"
	"github.com/briankimutai/dukalink-backend/api/middleware"
	"github.com/briankimutai/dukalink-backend/internal/fulfillment"
	"github.com/briankimutai/dukalink-backend/internal/orders"
	"github.com/briankimutai/dukalink-backend/internal/payments"
	"github.com/briankimutai/dukalink-backend/pkg/config"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	deps map[string]controllers.Pinger,
	registry *prometheus.Registry,
	ordersSvc orders.Service,
	paymentsSvc payments.Service,
	fulfillmentSvc fulfillment.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// Provider-facing endpoints; the gateway cannot authenticate against us.
	r.Route("/payments", func(r chi.Router) {
		r.Get("/callback", paymentcontrollers.Callback(paymentsSvc, logg))
		r.Post("/callback", paymentcontrollers.Callback(paymentsSvc, logg))
		r.Get("/ipn", paymentcontrollers.IPN(paymentsSvc, logg))
		r.Post("/ipn", paymentcontrollers.IPN(paymentsSvc, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(ordersSvc, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
			r.Delete("/{orderId}", ordercontrollers.Remove(ordersSvc, logg))

			r.Post("/{orderId}/pay", paymentcontrollers.Initiate(paymentsSvc, logg))
			r.Post("/{orderId}/refresh-payment", paymentcontrollers.Refresh(paymentsSvc, logg))

			r.Patch("/{orderId}/status", fulfillmentcontrollers.UpdateStatus(fulfillmentSvc, logg))
			r.Post("/{orderId}/{action}", fulfillmentcontrollers.Transition(fulfillmentSvc, logg))
		})
		r.Post("/payments/refresh-status/bulk", paymentcontrollers.RefreshBulk(paymentsSvc, logg))
	})

	return r
}
