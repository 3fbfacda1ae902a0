// Package webhook verifies provider webhook deliveries, deduplicates them by
// event id and drives the order state machine.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/payment"
)

// LedgerEntry marks a provider event as processed.
type LedgerEntry struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	ProcessedAt time.Time `json:"processedAt"`
}

func (e *LedgerEntry) GetID() string   { return e.ID }
func (e *LedgerEntry) SetID(id string) { e.ID = id }

func (e *LedgerEntry) Touch(now time.Time) {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = now
	}
}

// Ack is the response body returned to the provider.
type Ack struct {
	Received   bool `json:"received"`
	Idempotent bool `json:"idempotent,omitempty"`
}

type Config struct {
	// Secret is the webhook signing secret.
	Secret string
	// InsecureSkipVerify accepts unsigned payloads when no secret is set.
	// Never enable it outside local development.
	InsecureSkipVerify bool
}

type Processor struct {
	provider payment.Provider
	orders   *order.Service
	ledger   *store.Collection[*LedgerEntry]
	locks    *store.KeyedMutex
	cfg      Config
}

func NewProcessor(s store.CollectionStore, provider payment.Provider, orders *order.Service, cfg Config) *Processor {
	if cfg.Secret == "" && cfg.InsecureSkipVerify {
		log.Printf("[Webhook] WARNING: signature verification disabled, accepting unsigned events")
	}
	return &Processor{
		provider: provider,
		orders:   orders,
		ledger:   store.NewCollection(s, store.CollectionStripeEvent, func() *LedgerEntry { return &LedgerEntry{} }),
		locks:    store.NewKeyedMutex(),
		cfg:      cfg,
	}
}

// WithClock overrides the ledger timestamp source (tests).
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.ledger.WithClock(now)
	return p
}

func (p *Processor) authenticate(payload []byte, signature string) (*payment.Event, error) {
	switch {
	case p.cfg.Secret != "":
		ev, err := p.provider.VerifyWebhookSignature(payload, signature, p.cfg.Secret)
		if err != nil {
			if errors.Is(err, apperr.ErrSignatureInvalid) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", payment.ErrSignatureInvalid, err)
		}
		return ev, nil
	case p.cfg.InsecureSkipVerify:
		return payment.DecodeEvent(payload)
	default:
		return nil, fmt.Errorf("%w: no signing secret configured", payment.ErrSignatureInvalid)
	}
}

// HandleEvent processes one webhook delivery. Only authentication failures
// and unreadable payloads are returned as errors; processing problems are
// logged and the event is still recorded and acknowledged.
func (p *Processor) HandleEvent(ctx context.Context, payload []byte, signature string) (*Ack, error) {
	ev, err := p.authenticate(payload, signature)
	if err != nil {
		log.Printf("[Webhook] Rejected delivery: %v", err)
		return nil, err
	}

	unlock := p.locks.Lock(ev.ID)
	defer unlock()

	_, seen, err := p.ledger.FindByID(ctx, ev.ID)
	if err != nil {
		log.Printf("[Webhook] Ledger lookup failed for %s, processing anyway: %v", ev.ID, err)
	} else if seen {
		log.Printf("[Webhook] Event %s already processed", ev.ID)
		return &Ack{Received: true, Idempotent: true}, nil
	}

	if err := p.dispatch(ctx, ev); err != nil {
		log.Printf("[Webhook] Failed to process %s (%s): %v", ev.ID, ev.Type, err)
	}

	if _, err := p.ledger.Insert(ctx, &LedgerEntry{ID: ev.ID, Type: ev.Type}); err != nil && !errors.Is(err, store.ErrDuplicateID) {
		log.Printf("[Webhook] Failed to record event %s: %v", ev.ID, err)
	}
	return &Ack{Received: true}, nil
}

func (p *Processor) dispatch(ctx context.Context, ev *payment.Event) error {
	switch ev.Type {
	case payment.EventCheckoutCompleted:
		o, err := p.orderForSession(ctx, ev)
		if err != nil {
			return err
		}
		if o == nil {
			return nil
		}
		_, err = p.orders.MarkPaid(ctx, o.ID, ev.ID, ev.Type, paymentSnapshot(ev))
		return err

	case payment.EventCheckoutExpired, payment.EventCheckoutAsyncPaymentFailed:
		o, err := p.orderForSession(ctx, ev)
		if err != nil {
			return err
		}
		if o == nil {
			return nil
		}
		_, err = p.orders.MarkFailed(ctx, o.ID, ev.ID, ev.Type)
		return err

	case payment.EventPaymentIntentFailed:
		o, err := p.orderForIntent(ctx, ev)
		if err != nil {
			return err
		}
		if o == nil {
			return nil
		}
		_, err = p.orders.MarkFailed(ctx, o.ID, ev.ID, ev.Type)
		return err

	default:
		log.Printf("[Webhook] Ignoring event %s of type %s", ev.ID, ev.Type)
		return nil
	}
}

// orderForSession resolves a checkout session event by session id only. A
// session replaced by a retry no longer matches any order. A nil order means
// no match.
func (p *Processor) orderForSession(ctx context.Context, ev *payment.Event) (*order.Order, error) {
	o, err := p.orders.FindBySession(ctx, ev.Object.ID)
	if errors.Is(err, order.ErrOrderNotFound) {
		log.Printf("[Webhook] WARNING: no order for event %s (%s, session %s)", ev.ID, ev.Type, ev.Object.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// orderForIntent resolves a payment intent event through the order id in its
// metadata. Intents opened by an earlier checkout attempt are ignored.
func (p *Processor) orderForIntent(ctx context.Context, ev *payment.Event) (*order.Order, error) {
	orderID := ev.Object.Metadata[payment.MetadataOrderID]
	if orderID == "" {
		log.Printf("[Webhook] WARNING: event %s (%s) carries no order id", ev.ID, ev.Type)
		return nil, nil
	}
	o, err := p.orders.FindByID(ctx, orderID)
	if errors.Is(err, order.ErrOrderNotFound) {
		log.Printf("[Webhook] WARNING: no order %s for event %s (%s)", orderID, ev.ID, ev.Type)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if attempt := ev.Object.Metadata[payment.MetadataAttemptID]; attempt != o.AttemptID {
		log.Printf("[Webhook] Ignoring event %s for order %s: attempt %q is not current", ev.ID, o.ID, attempt)
		return nil, nil
	}
	return o, nil
}

func paymentSnapshot(ev *payment.Event) *order.Payment {
	amount := ev.Object.AmountTotal
	if ev.Object.AmountReceived > 0 {
		amount = ev.Object.AmountReceived
	}
	return &order.Payment{
		AmountReceived: amount,
		Currency:       ev.Object.Currency,
		PaymentIntent:  ev.Object.PaymentIntent,
		PaymentStatus:  ev.Object.PaymentStatus,
	}
}
