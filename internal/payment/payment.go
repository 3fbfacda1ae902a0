// Package payment is the port to the external payment provider.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/shopspring/decimal"
)

// SessionIDPlaceholder is replaced by the provider with the session id when
// it redirects the customer back.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// Webhook event types the processor reacts to.
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutExpired            = "checkout.session.expired"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
	EventPaymentIntentFailed        = "payment_intent.payment_failed"
)

// MetadataOrderID carries the order id through the provider so events that
// are not keyed by session can still be correlated.
const MetadataOrderID = "order_id"

// MetadataAttemptID identifies the checkout attempt that opened a session.
// Payment intent events carrying a stale attempt are ignored.
const MetadataAttemptID = "attempt_id"

var (
	ErrSignatureInvalid = fmt.Errorf("%w: webhook signature verification failed", apperr.ErrSignatureInvalid)
	ErrMalformedEvent   = fmt.Errorf("%w: malformed webhook payload", apperr.ErrInvalidInput)
)

type LineItem struct {
	Name string
	// UnitAmount is in minor currency units.
	UnitAmount int64
	Quantity   int64
	Currency   string
}

type SessionRequest struct {
	LineItems     []LineItem
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
	CustomerEmail string
}

type Session struct {
	ID  string
	URL string
}

// EventObject holds the fields of data.object the processor reads.
type EventObject struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	Metadata       map[string]string `json:"metadata"`
	PaymentIntent  string            `json:"-"`
	AmountTotal    int64             `json:"amount_total"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	PaymentStatus  string            `json:"payment_status"`
}

func (o *EventObject) UnmarshalJSON(data []byte) error {
	type plain EventObject
	var aux struct {
		plain
		PaymentIntent json.RawMessage `json:"payment_intent"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*o = EventObject(aux.plain)
	o.PaymentIntent = expandableID(aux.PaymentIntent)
	return nil
}

// expandableID reads a field that is either an id string or an expanded
// object with an id.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// Event is a provider webhook event.
type Event struct {
	ID     string
	Type   string
	Object EventObject
}

// DecodeEvent parses the provider's event envelope without verifying it.
func DecodeEvent(payload []byte) (*Event, error) {
	var env struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object EventObject `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	return &Event{ID: env.ID, Type: env.Type, Object: env.Data.Object}, nil
}

// Provider creates checkout sessions and authenticates webhook events.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
	// VerifyWebhookSignature returns ErrSignatureInvalid when header does not
	// authenticate payload under secret.
	VerifyWebhookSignature(payload []byte, header, secret string) (*Event, error)
}

// ToMinorUnits converts a decimal amount to integer cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts integer cents back to a decimal amount.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// WithSessionPlaceholder makes sure a success URL carries the session-id
// placeholder so the storefront can poll the order after the redirect.
func WithSessionPlaceholder(successURL string) string {
	if strings.Contains(successURL, SessionIDPlaceholder) {
		return successURL
	}
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id=" + SessionIDPlaceholder
}
