package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/credmart/credmart/internal/auth"
	"github.com/credmart/credmart/internal/order"
	"github.com/credmart/credmart/internal/payment"
	"github.com/credmart/credmart/internal/product"
	"github.com/credmart/credmart/internal/stats"
	"github.com/credmart/credmart/internal/transport/middleware"
	"github.com/credmart/credmart/internal/transport/swagger"
)

type Handlers struct {
	Auth    *auth.Handler
	Product *product.Handler
	Order   *order.Handler
	Payment *payment.Handler
	Webhook *order.WebhookHandler
	Stats   *stats.Handler
}

// RegisterAllRoutes wires the full HTTP surface. The webhook endpoint stays
// outside every auth group: the gateway authenticates with its signature, not
// a token.
func RegisterAllRoutes(router *chi.Mux, db *sql.DB, handlers Handlers, authService auth.ServiceAPI, allowSimulate bool, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Gateway webhook, both delivery styles.
		if handlers.Webhook != nil {
			r.Get("/payments/notify", handlers.Webhook.HandleGatewayNotification)
			r.Post("/payments/notify", handlers.Webhook.HandleGatewayNotification)
		}

		if handlers.Auth != nil {
			r.Route("/auth", func(sr chi.Router) {
				sr.Post("/register", handlers.Auth.Register)
				sr.Post("/login", handlers.Auth.Login)
				sr.Post("/refresh", handlers.Auth.RefreshToken)

				sr.Group(func(ar chi.Router) {
					ar.Use(middleware.RequireAuth(authService))
					ar.Get("/me", handlers.Auth.Me)
				})
			})
		}

		if handlers.Product != nil {
			r.Get("/products", handlers.Product.GetCatalog)
			r.Get("/products/{ref}", handlers.Product.GetProduct)
		}

		if handlers.Order != nil {
			r.Route("/orders", func(or chi.Router) {
				// Guest checkout allowed; an authenticated caller gets the
				// order attached to their account.
				or.With(middleware.OptionalAuth(authService)).Post("/", handlers.Order.CreateOrder)

				or.Group(func(ar chi.Router) {
					ar.Use(middleware.RequireAuth(authService))
					ar.Get("/mine", handlers.Order.ListMyOrders)
				})

				or.Get("/{orderNo}", handlers.Order.GetOrder)
				or.Get("/{orderNo}/payment-status", handlers.Order.CheckPaymentStatus)
				or.Post("/{orderNo}/confirm-payment", handlers.Order.ConfirmPayment)
			})
		}

		if handlers.Payment != nil {
			r.Route("/payments", func(pr chi.Router) {
				pr.Post("/qrcode", handlers.Payment.CreateQRPayment)
				pr.Post("/barcode", handlers.Payment.CreateBarcodePayment)
				pr.Get("/barcode/{orderNo}", handlers.Payment.GetBarcodeStatus)
			})
		}

		// Admin surface.
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(middleware.RequireAuth(authService))
			ar.Use(middleware.RequireAdmin)

			if handlers.Order != nil {
				ar.Get("/orders", handlers.Order.ListOrders)
				ar.Post("/orders/{orderNo}/confirm", handlers.Order.AdminConfirmPayment)
				if allowSimulate {
					ar.Post("/orders/{orderNo}/simulate-notification", handlers.Order.SimulateNotification)
				}
			}
			if handlers.Stats != nil {
				ar.Get("/stats", handlers.Stats.Overview)
			}
		})
	})
}
