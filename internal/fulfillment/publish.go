package fulfillment

import (
	"context"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/pos-orders/internal/kafka"
	"github.com/ariefcatur/pos-orders/internal/orders"
)

const eventVersion = 1

// Sender is the synchronous half of kafkax.Producer.
type Sender interface {
	Send(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// Publisher is the fire-and-forget half of kafkax.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// KafkaAcknowledger hands an OrderCreated event to Kafka and waits for all
// in-sync replicas. A nil error means the order is durable downstream.
type KafkaAcknowledger struct {
	Producer Sender
	Service  string
}

func (a *KafkaAcknowledger) Acknowledge(ctx context.Context, o *orders.Order) error {
	ev := newEnvelope(ctx, orders.EventOrderCreated, a.Service, o.ID, orders.NewOrderCreatedPayload(o))
	return a.Producer.Send(ctx, orders.PartitionKey(o.ID), kafkax.MustMarshal(ev), eventHeaders(orders.EventOrderCreated)...)
}

// KafkaAlerts publishes LowStockAlert events, best effort.
type KafkaAlerts struct {
	Producer Publisher
	Service  string
}

func (k *KafkaAlerts) LowStock(ctx context.Context, adj orders.Adjustment, orderID string) {
	ev := newEnvelope(ctx, orders.EventLowStockAlert, k.Service, orderID, orders.LowStockAlertPayload{
		ProductID: adj.ProductID,
		Available: adj.NewQuantity,
		Threshold: adj.AlertThreshold,
		OrderID:   orderID,
	})
	k.Producer.Publish(orders.PartitionKey(adj.ProductID), kafkax.MustMarshal(ev), eventHeaders(orders.EventLowStockAlert)...)
}

func newEnvelope(ctx context.Context, eventType, producer, correlationID string, payload any) orders.Envelope {
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
}

func eventHeaders(eventType string) []kafkago.Header {
	return []kafkago.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	}
}
