package order

import (
	"context"
	"time"
)

// Order event types published to the event bus.
const (
	EventOrderCreated = "order.created"
	EventOrderPaid    = "order.paid"
	EventOrderFailed  = "order.failed"
	EventOrderRetried = "order.retried"
)

// Event is the integration event emitted after every order state change.
type Event struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	SessionID     string    `json:"sessionId"`
	Status        Status    `json:"status"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	Items         []Item    `json:"items,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher delivers order events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event. It is used when no bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func newEvent(eventType string, o *Order, at time.Time) Event {
	return Event{
		Type:          eventType,
		OrderID:       o.ID,
		UserID:        o.UserID,
		SessionID:     o.SessionID,
		Status:        o.Status,
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		CustomerEmail: o.CustomerEmail,
		Items:         o.Items,
		OccurredAt:    at,
	}
}
