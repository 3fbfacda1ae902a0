// Package checkout turns cart lines into provider checkout sessions and the
// pending orders that track them.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/domain/cart"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/domain/product"
	"github.com/example/ec-checkout/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MetadataEmail is the metadata key holding the customer's email.
const MetadataEmail = "email"

var (
	ErrNoItems           = fmt.Errorf("%w: at least one item is required", apperr.ErrInvalidInput)
	ErrNoPurchasableItem = fmt.Errorf("%w: none of the requested products exist", apperr.ErrInvalidInput)
	ErrInvalidQuantity   = fmt.Errorf("%w: quantity must be a positive integer", apperr.ErrInvalidInput)
	ErrMissingURL        = fmt.Errorf("%w: successUrl and cancelUrl are required", apperr.ErrInvalidInput)
)

type LineRequest struct {
	ProductID string
	Quantity  int
}

type Request struct {
	UserID     string
	Items      []LineRequest
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// RetryRequest optionally overrides the redirect URLs of a retried session.
type RetryRequest struct {
	SuccessURL string
	CancelURL  string
}

type Result struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"url"`
	OrderID     string `json:"orderId"`
}

type Config struct {
	Currency          string
	DefaultSuccessURL string
	DefaultCancelURL  string
}

type Service struct {
	catalog  product.Catalog
	orders   *order.Service
	provider payment.Provider
	cfg      Config
}

func NewService(catalog product.Catalog, orders *order.Service, provider payment.Provider, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = cart.DefaultCurrency
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	return &Service{
		catalog:  catalog,
		orders:   orders,
		provider: provider,
		cfg:      cfg,
	}
}

func (s *Service) urls(successURL, cancelURL string) (string, string, error) {
	if successURL == "" {
		successURL = s.cfg.DefaultSuccessURL
	}
	if cancelURL == "" {
		cancelURL = s.cfg.DefaultCancelURL
	}
	if successURL == "" || cancelURL == "" {
		return "", "", ErrMissingURL
	}
	return payment.WithSessionPlaceholder(successURL), cancelURL, nil
}

// resolve prices every requested line from the current catalog. Unknown
// products are skipped.
func (s *Service) resolve(ctx context.Context, lines []LineRequest) ([]order.Item, error) {
	items := make([]order.Item, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		p, err := s.catalog.GetProduct(ctx, line.ProductID)
		if errors.Is(err, apperr.ErrNotFound) {
			log.Printf("[Checkout] Skipping unknown product %q", line.ProductID)
			continue
		}
		if err != nil {
			return nil, err
		}
		unit := p.Price.Round(2)
		items = append(items, order.Item{
			ProductID:  p.ID,
			Title:      p.Title,
			Quantity:   line.Quantity,
			UnitPrice:  unit,
			UnitAmount: payment.ToMinorUnits(unit),
		})
	}
	return items, nil
}

func subtotalOf(items []order.Item) decimal.Decimal {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return subtotal
}

// lineItems builds the provider lines: one per product plus tax and shipping
// so the charged amount equals the order total.
func (s *Service) lineItems(items []order.Item, tax, shipping decimal.Decimal, currency string) []payment.LineItem {
	out := make([]payment.LineItem, 0, len(items)+2)
	for _, it := range items {
		out = append(out, payment.LineItem{
			Name:       it.Title,
			UnitAmount: it.UnitAmount,
			Quantity:   int64(it.Quantity),
			Currency:   currency,
		})
	}
	if tax.IsPositive() {
		out = append(out, payment.LineItem{Name: "Tax", UnitAmount: payment.ToMinorUnits(tax), Quantity: 1, Currency: currency})
	}
	if shipping.IsPositive() {
		out = append(out, payment.LineItem{Name: "Shipping", UnitAmount: payment.ToMinorUnits(shipping), Quantity: 1, Currency: currency})
	}
	return out
}

func providerError(err error) error {
	if errors.Is(err, apperr.ErrPaymentProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrPaymentProvider, err)
}

// CreateSession opens a provider checkout session for the requested lines and
// persists the pending order correlated to it.
func (s *Service) CreateSession(ctx context.Context, req Request) (*Result, error) {
	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	successURL, cancelURL, err := s.urls(req.SuccessURL, req.CancelURL)
	if err != nil {
		return nil, err
	}

	items, err := s.resolve(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoPurchasableItem
	}

	totals := cart.Compute(subtotalOf(items), decimal.Zero, false)
	orderID := uuid.New().String()
	attemptID := uuid.New().String()

	metadata := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[payment.MetadataOrderID] = orderID
	metadata[payment.MetadataAttemptID] = attemptID
	email := strings.TrimSpace(req.Metadata[MetadataEmail])

	session, err := s.provider.CreateCheckoutSession(ctx, payment.SessionRequest{
		LineItems:     s.lineItems(items, totals.Tax, totals.Shipping, s.cfg.Currency),
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		Metadata:      metadata,
		CustomerEmail: email,
	})
	if err != nil {
		log.Printf("[Checkout] Provider rejected session for order %s: %v", orderID, err)
		return nil, providerError(err)
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = cart.GuestUserID
	}
	o, err := s.orders.Create(ctx, &order.Order{
		ID:            orderID,
		UserID:        userID,
		SessionID:     session.ID,
		AttemptID:     attemptID,
		Items:         items,
		Subtotal:      totals.Subtotal,
		Tax:           totals.Tax,
		Shipping:      totals.Shipping,
		Total:         totals.Total,
		Currency:      s.cfg.Currency,
		CustomerEmail: email,
	})
	if err != nil {
		// the provider session exists without an order; operators reconcile
		// it from this log line
		log.Printf("[Checkout] Orphaned provider session %s: order %s not saved: %v", session.ID, orderID, err)
		return nil, err
	}

	log.Printf("[Checkout] Session %s opened for order %s (total %s %s)", session.ID, o.ID, o.Total.StringFixed(2), o.Currency)
	return &Result{SessionID: session.ID, RedirectURL: session.URL, OrderID: o.ID}, nil
}

// RetrySession opens a fresh session for an existing order from its stored
// items and makes it the order's current session.
func (s *Service) RetrySession(ctx context.Context, orderID string, req RetryRequest) (*Result, error) {
	o, err := s.orders.EnsureRetryable(ctx, orderID)
	if err != nil {
		return nil, err
	}
	successURL, cancelURL, err := s.urls(req.SuccessURL, req.CancelURL)
	if err != nil {
		return nil, err
	}

	attemptID := uuid.New().String()
	metadata := map[string]string{
		payment.MetadataOrderID:   o.ID,
		payment.MetadataAttemptID: attemptID,
	}
	if o.CustomerEmail != "" {
		metadata[MetadataEmail] = o.CustomerEmail
	}
	session, err := s.provider.CreateCheckoutSession(ctx, payment.SessionRequest{
		LineItems:     s.lineItems(o.Items, o.Tax, o.Shipping, o.Currency),
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		Metadata:      metadata,
		CustomerEmail: o.CustomerEmail,
	})
	if err != nil {
		log.Printf("[Checkout] Provider rejected retry for order %s: %v", o.ID, err)
		return nil, providerError(err)
	}

	o, err = s.orders.ResetSession(ctx, o.ID, session.ID, attemptID)
	if err != nil {
		log.Printf("[Checkout] Orphaned provider session %s: order %s not reset: %v", session.ID, orderID, err)
		return nil, err
	}
	return &Result{SessionID: session.ID, RedirectURL: session.URL, OrderID: o.ID}, nil
}
