package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/example/ec-checkout/internal/api/middleware"
	"github.com/example/ec-checkout/internal/checkout"
	"github.com/example/ec-checkout/internal/domain/cart"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/webhook"
	"github.com/go-chi/chi/v5"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (*cart.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (*cart.Cart, error)
	UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID string) (*cart.Cart, error)
	Clear(ctx context.Context, userID string) (*cart.Cart, error)
	ApplyCoupon(ctx context.Context, userID, code string) (*cart.Cart, error)
	RemoveCoupon(ctx context.Context, userID string) (*cart.Cart, error)
}

type CheckoutService interface {
	CreateSession(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	RetrySession(ctx context.Context, orderID string, req checkout.RetryRequest) (*checkout.Result, error)
}

type WebhookProcessor interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) (*webhook.Ack, error)
}

type OrderReader interface {
	FindByID(ctx context.Context, orderID string) (*order.Order, error)
	FindBySession(ctx context.Context, sessionID string) (*order.Order, error)
}

type Handlers struct {
	carts    CartService
	checkout CheckoutService
	webhooks WebhookProcessor
	orders   OrderReader
}

func NewHandlers(carts CartService, checkout CheckoutService, webhooks WebhookProcessor, orders OrderReader) *Handlers {
	return &Handlers{
		carts:    carts,
		checkout: checkout,
		webhooks: webhooks,
		orders:   orders,
	}
}

// resolveUserID prefers the authenticated identity over the supplied one.
// The cart engine maps an empty id to the guest cart.
func resolveUserID(r *http.Request, supplied string) string {
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		return userID
	}
	return strings.TrimSpace(supplied)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Cart Handlers

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.GetOrCreateCart(r.Context(), resolveUserID(r, r.URL.Query().Get("userId")))
	if err != nil {
		writeError(w, err, "unable to load cart")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "unable to update cart")
		return
	}

	c, err := h.carts.AddItem(r.Context(), resolveUserID(r, req.UserID), req.ProductID, *req.Quantity)
	if err != nil {
		writeError(w, err, "unable to update cart")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "unable to update cart")
		return
	}

	c, err := h.carts.UpdateItemQuantity(r.Context(), resolveUserID(r, req.UserID), chi.URLParam(r, "itemId"), *req.Quantity)
	if err != nil {
		writeError(w, err, "unable to update cart")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveItem(r.Context(), resolveUserID(r, r.URL.Query().Get("userId")), chi.URLParam(r, "itemId"))
	if err != nil {
		writeError(w, err, "unable to update cart")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	var req ClearCartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "unable to clear cart")
		return
	}

	c, err := h.carts.Clear(r.Context(), resolveUserID(r, req.UserID))
	if err != nil {
		writeError(w, err, "unable to clear cart")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req ApplyCouponRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, "unable to apply coupon")
		return
	}

	c, err := h.carts.ApplyCoupon(r.Context(), resolveUserID(r, req.UserID), req.Code)
	if err != nil {
		writeError(w, err, "unable to apply coupon")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveCoupon(r.Context(), resolveUserID(r, r.URL.Query().Get("userId")))
	if err != nil {
		writeError(w, err, "unable to remove coupon")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Payment Handlers

func (h *Handlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, msgCheckoutFailed)
		return
	}

	creq := req.toCheckout(resolveUserID(r, req.UserID))
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok && claims.Email != "" {
		if _, set := creq.Metadata[checkout.MetadataEmail]; !set {
			metadata := make(map[string]string, len(creq.Metadata)+1)
			for k, v := range creq.Metadata {
				metadata[k] = v
			}
			metadata[checkout.MetadataEmail] = claims.Email
			creq.Metadata = metadata
		}
	}

	result, err := h.checkout.CreateSession(r.Context(), creq)
	if err != nil {
		writeError(w, err, msgCheckoutFailed)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	ack, err := h.webhooks.HandleEvent(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		writeError(w, err, "unable to process webhook")
		return
	}
	respondJSON(w, http.StatusOK, ack)
}

// Order Handlers

func (h *Handlers) GetOrderBySession(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.FindBySession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err, "unable to load order")
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.FindByID(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err, "unable to load order")
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) RetrySession(w http.ResponseWriter, r *http.Request) {
	var req RetrySessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, msgCheckoutFailed)
		return
	}

	result, err := h.checkout.RetrySession(r.Context(), chi.URLParam(r, "orderId"), checkout.RetryRequest{
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeError(w, err, msgCheckoutFailed)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
