// Package stripe adapts the Stripe API to the payment.Provider port.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/payment"
	"github.com/sony/gobreaker/v2"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// BreakerSettings tune the circuit breaker guarding session creation.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{MaxFailures: 5, OpenTimeout: 30 * time.Second}
}

type sessionFunc func(params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)

type Provider struct {
	newSession sessionFunc
	breaker    *gobreaker.CircuitBreaker[*stripeapi.CheckoutSession]
}

// NewProvider creates a Stripe-backed provider using secretKey.
func NewProvider(secretKey string, settings BreakerSettings) *Provider {
	api := client.New(secretKey, nil)
	return newProvider(api.CheckoutSessions.New, settings)
}

func newProvider(fn sessionFunc, settings BreakerSettings) *Provider {
	if settings.MaxFailures == 0 {
		settings = DefaultBreakerSettings()
	}
	breaker := gobreaker.NewCircuitBreaker[*stripeapi.CheckoutSession](gobreaker.Settings{
		Name:        "stripe-checkout",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[Stripe] Circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Provider{newSession: fn, breaker: breaker}
}

func buildParams(ctx context.Context, req payment.SessionRequest) *stripeapi.CheckoutSessionParams {
	params := &stripeapi.CheckoutSessionParams{
		Mode:       stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL: stripeapi.String(req.SuccessURL),
		CancelURL:  stripeapi.String(req.CancelURL),
	}
	params.Context = ctx

	for _, li := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripeapi.CheckoutSessionLineItemParams{
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripeapi.String(li.Currency),
				UnitAmount: stripeapi.Int64(li.UnitAmount),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String(li.Name),
				},
			},
			Quantity: stripeapi.Int64(li.Quantity),
		})
	}

	if len(req.Metadata) > 0 {
		// copied to the payment intent so its failure events can be correlated
		params.PaymentIntentData = &stripeapi.CheckoutSessionPaymentIntentDataParams{
			Metadata: make(map[string]string, len(req.Metadata)),
		}
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
			params.PaymentIntentData.Metadata[k] = v
		}
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}
	return params
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	params := buildParams(ctx, req)

	sess, err := p.breaker.Execute(func() (*stripeapi.CheckoutSession, error) {
		return p.newSession(params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: stripe temporarily unavailable: %w", apperr.ErrPaymentProvider, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %w", apperr.ErrPaymentProvider, err)
	}
	return &payment.Session{ID: sess.ID, URL: sess.URL}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header and decodes the
// event. API version mismatches between the account and this library are
// tolerated since only a few stable fields are read.
func (p *Provider) VerifyWebhookSignature(payload []byte, header, secret string) (*payment.Event, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty signing secret", payment.ErrSignatureInvalid)
	}
	_, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrSignatureInvalid, err)
	}
	return payment.DecodeEvent(payload)
}
