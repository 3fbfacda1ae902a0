package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/ec-checkout/internal/domain/order"
	"github.com/segmentio/kafka-go"
)

// EventHandler receives one decoded order event.
type EventHandler func(ctx context.Context, event order.Event) error

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads order events from a topic as part of a consumer group.
type Consumer struct {
	reader messageReader
	types  map[string]bool
}

// NewConsumer joins groupID on topic. When eventTypes is given, events of
// other types are skipped before they reach the handler.
func NewConsumer(brokers []string, topic, groupID string, eventTypes ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,    // deliver single events promptly
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, eventTypes)
}

func newConsumer(reader messageReader, eventTypes []string) *Consumer {
	c := &Consumer{reader: reader}
	if len(eventTypes) > 0 {
		c.types = make(map[string]bool, len(eventTypes))
		for _, t := range eventTypes {
			c.types[t] = true
		}
	}
	return c
}

func (c *Consumer) accepts(eventType string) bool {
	return c.types == nil || c.types[eventType]
}

// Consume reads until ctx is cancelled. Undecodable messages and handler
// errors are logged and the offset still advances.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Kafka] Error reading message: %v", err)
			continue
		}

		event, ok := c.decode(msg)
		if !ok {
			continue
		}
		if err := handler(ctx, event); err != nil {
			log.Printf("[Kafka] Error handling %s for order %s (%s/%d@%d): %v",
				event.Type, event.OrderID, msg.Topic, msg.Partition, msg.Offset, err)
		}
	}
}

// decode filters on the event-type header before unmarshalling the value.
func (c *Consumer) decode(msg kafka.Message) (order.Event, bool) {
	if eventType := headerValue(msg.Headers, HeaderEventType); eventType != "" && !c.accepts(eventType) {
		return order.Event{}, false
	}
	var event order.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Printf("[Kafka] Skipping undecodable message %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		return order.Event{}, false
	}
	if event.OrderID == "" && len(msg.Key) > 0 {
		event.OrderID = string(msg.Key)
	}
	return event, c.accepts(event.Type)
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
