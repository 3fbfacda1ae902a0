package api

import (
	"net/http"
	"time"

	apimw "github.com/example/ec-checkout/internal/api/middleware"
	"github.com/example/ec-checkout/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

type RouterConfig struct {
	Handlers       *Handlers
	JWTService     *auth.JWTService
	AllowedOrigins []string
	// CheckoutLimiter throttles session creation and retries per client IP.
	CheckoutLimiter *apimw.RateLimiter
	RequestTimeout  time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handlers
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", h.Health)

	// The webhook is authenticated by its signature, not by identity tokens.
	r.Post("/payments/webhook", h.Webhook)

	r.Group(func(r chi.Router) {
		if cfg.JWTService != nil {
			r.Use(apimw.OptionalAuth(cfg.JWTService))
		}

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/add", h.AddToCart)
			r.Patch("/item/{itemId}", h.UpdateCartItem)
			r.Delete("/item/{itemId}", h.RemoveCartItem)
			r.Post("/clear", h.ClearCart)
			r.Post("/coupon", h.ApplyCoupon)
			r.Delete("/coupon", h.RemoveCoupon)
		})

		r.Group(func(r chi.Router) {
			if cfg.CheckoutLimiter != nil {
				r.Use(cfg.CheckoutLimiter.Limit)
			}
			r.Post("/payments/create-checkout-session", h.CreateCheckoutSession)
			r.Post("/orders/{orderId}/retry-session", h.RetrySession)
		})

		r.Get("/orders/by-session/{sessionId}", h.GetOrderBySession)
		r.Get("/orders/{orderId}", h.GetOrder)
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)
}
