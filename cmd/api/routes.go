package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/travel-booking-api/api"
	"github.com/josh-kwaku/travel-booking-api/internal/app"
	"github.com/josh-kwaku/travel-booking-api/internal/booking"
	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/events"
	"github.com/josh-kwaku/travel-booking-api/internal/handler"
	"github.com/josh-kwaku/travel-booking-api/internal/middleware"
)

type paymentRoutes interface {
	Initiate(http.ResponseWriter, *http.Request)
	Callback(http.ResponseWriter, *http.Request)
	Status(http.ResponseWriter, *http.Request)
}

func newRouter(a *app.App) (http.Handler, error) {
	cfg := a.Config

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("newRouter: %w", err)
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	idempotent := middleware.Idempotency(a.Idempotency, handler.MaxInitiateBody)

	probes := []handler.Probe{{Name: "database", Check: a.DB.PingContext}}
	if cfg.Kafka.Enabled() {
		probes = append(probes, handler.Probe{Name: "kafka", Check: func(ctx context.Context) error {
			return events.Ping(ctx, cfg.Kafka.Brokers)
		}})
	}
	health := handler.NewHealthHandler(probes...)

	payments := map[domain.OrderKind]paymentRoutes{
		domain.KindTour:         handler.NewPaymentHandler[booking.TourRequest](a.Tours),
		domain.KindTransfer:     handler.NewPaymentHandler[booking.TransferRequest](a.Transfers),
		domain.KindQuickPayment: handler.NewPaymentHandler[booking.QuickPaymentRequest](a.QuickPayments),
		domain.KindInsurance:    handler.NewPaymentHandler[booking.InsuranceRequest](a.Insurance),
	}

	admins := make([]handler.OrderAdmin, 0, len(payments))
	for _, e := range a.Engines() {
		admins = append(admins, e)
	}
	admin := handler.NewAdminHandler(admins, a.Catalog, handler.AdminConfig{
		Email:        cfg.AdminEmail,
		PasswordHash: cfg.AdminPasswordHash,
		JWTSecret:    cfg.JWTSecret,
	})
	catalog := handler.NewCatalogHandler(a.Catalog)

	r := chi.NewRouter()
	r.Use(middleware.Tracing)
	r.Use(middleware.RealIP(proxies))
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	r.Get("/health", health.Liveness)
	r.Get("/ready", health.Readiness)
	r.Get("/docs", handler.ServeDocs())
	r.Get("/docs/openapi.yaml", handler.ServeSpec(api.OpenAPI))

	r.Route("/api/v1", func(r chi.Router) {
		for kind, h := range payments {
			r.Route("/"+app.RouteSegment(kind)+"/payments", func(r chi.Router) {
				// the gateway is not rate limited; it retries on its own schedule
				r.Post("/bog/callback", h.Callback)
				r.Group(func(r chi.Router) {
					r.Use(limiter.Middleware)
					r.With(idempotent).Post("/", h.Initiate)
					r.Get("/{ref}/status", h.Status)
				})
			})
		}

		r.With(limiter.Middleware).Get("/quick-payments/links/{slug}", catalog.GetPaymentLink)

		r.Route("/admin", func(r chi.Router) {
			r.With(limiter.Middleware).Post("/login", admin.Login)
			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminAuth(cfg.JWTSecret))
				r.Get("/orders/{kind}", admin.ListOrders)
				r.Post("/orders/{kind}/cleanup", admin.CleanupOrders)
				r.Post("/payment-links", admin.CreatePaymentLink)
			})
		})
	})

	return otelhttp.NewHandler(r, "travel-booking-api"), nil
}
