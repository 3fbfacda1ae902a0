package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/example/ec-checkout/internal/email"
	"github.com/shopspring/decimal"
)

// Mailer sends payment confirmations.
type Mailer interface {
	SendPaymentConfirmation(to string, c email.Confirmation) error
}

// Handler turns order events into customer notifications.
type Handler struct {
	mailer Mailer
}

func NewHandler(mailer Mailer) *Handler {
	return &Handler{mailer: mailer}
}

// HandledTypes lists the order event types the handler acts on.
var HandledTypes = []string{order.EventOrderPaid}

// HandleEvent processes one decoded order event.
func (h *Handler) HandleEvent(ctx context.Context, event order.Event) error {
	if event.Type == order.EventOrderPaid {
		return h.handleOrderPaid(event)
	}
	return nil
}

// HandleMessage decodes a raw RabbitMQ delivery and hands it to HandleEvent.
func (h *Handler) HandleMessage(ctx context.Context, body []byte) error {
	var event order.Event
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}
	return h.HandleEvent(ctx, event)
}

func (h *Handler) handleOrderPaid(event order.Event) error {
	if event.CustomerEmail == "" {
		log.Printf("[Notifier] Order %s has no customer email, skipping", event.OrderID)
		return nil
	}

	log.Printf("[Notifier] Processing order.paid for order %s", event.OrderID)

	if err := h.mailer.SendPaymentConfirmation(event.CustomerEmail, confirmationFor(event)); err != nil {
		log.Printf("[Notifier] Failed to send email to %s: %v", event.CustomerEmail, err)
		return fmt.Errorf("send confirmation for order %s: %w", event.OrderID, err)
	}

	log.Printf("[Notifier] Payment confirmation sent to %s for order %s", event.CustomerEmail, event.OrderID)
	return nil
}

func confirmationFor(event order.Event) email.Confirmation {
	items := make([]email.LineItem, 0, len(event.Items))
	for _, item := range event.Items {
		name := item.Title
		if name == "" {
			name = item.ProductID
		}
		items = append(items, email.LineItem{
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).StringFixed(2),
		})
	}
	return email.Confirmation{
		OrderID:  event.OrderID,
		Currency: event.Currency,
		Items:    items,
		Total:    event.Total,
	}
}
