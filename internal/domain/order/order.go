package order

import (
	"fmt"
	"slices"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// History entry types that are not provider webhook types.
const HistorySessionRetried = "session.retried"

var (
	ErrOrderNotFound    = fmt.Errorf("order %w", apperr.ErrNotFound)
	ErrEmptyOrder       = fmt.Errorf("%w: order must have at least one item", apperr.ErrInvalidInput)
	ErrMissingSession   = fmt.Errorf("%w: order requires a session id", apperr.ErrInvalidInput)
	ErrInvalidStatus    = fmt.Errorf("%w: invalid order status transition", apperr.ErrConflict)
	ErrOrderAlreadyPaid = fmt.Errorf("%w: order is already paid", apperr.ErrConflict)
)

// validTransitions defines allowed state transitions. paid -> failed is
// accepted: a failure event delivered after completion overwrites the payment.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusFailed, StatusPending},
	StatusFailed:  {StatusPending, StatusPaid, StatusFailed},
	StatusPaid:    {StatusPaid, StatusFailed},
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	return slices.Contains(allowed, target)
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch {
	case o.Status == StatusPaid && target == StatusPending:
		return ErrOrderAlreadyPaid
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
	}
}

type Item struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	// UnitAmount is UnitPrice in minor currency units.
	UnitAmount int64 `json:"unitAmount"`
}

// Payment is the provider's payment snapshot at completion time.
type Payment struct {
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
	PaymentIntent  string `json:"payment_intent"`
	PaymentStatus  string `json:"payment_status"`
}

// HistoryEntry is an immutable record of one state transition.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type Order struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	// AttemptID identifies the checkout attempt behind SessionID.
	AttemptID     string          `json:"attemptId,omitempty"`
	Items         []Item          `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Shipping      decimal.Decimal `json:"shipping"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	Payment       *Payment        `json:"payment"`
	Events        []HistoryEntry  `json:"events"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	DateCreated   time.Time       `json:"dateCreated"`
	DateModified  time.Time       `json:"dateModified"`
}

func (o *Order) GetID() string   { return o.ID }
func (o *Order) SetID(id string) { o.ID = id }

func (o *Order) Touch(now time.Time) {
	if o.DateCreated.IsZero() {
		o.DateCreated = now
	}
	o.DateModified = now
}

// HasEvent reports whether a history entry with id was already recorded.
func (o *Order) HasEvent(id string) bool {
	for _, e := range o.Events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// transition moves the order to target and appends the history entry.
func (o *Order) transition(target Status, entry HistoryEntry) error {
	if !o.CanTransitionTo(target) {
		return o.transitionError(target)
	}
	o.Status = target
	o.Events = append(o.Events, entry)
	return nil
}
