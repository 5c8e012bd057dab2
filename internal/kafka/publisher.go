package kafka

import (
	"context"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/segmentio/kafka-go"
)

type publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// OrderPublisher announces committed orders on order.placed.
type OrderPublisher struct {
	p       publisher
	service string
}

func NewOrderPublisher(p publisher, service string) *OrderPublisher {
	return &OrderPublisher{p: p, service: service}
}

func (op *OrderPublisher) OrderPlaced(ctx context.Context, o orders.Order) error {
	env := NewEnvelope(ctx, orders.EventOrderPlaced, op.service, o.ID, orders.NewOrderPlacedPayload(o))
	return op.p.Publish(ctx, orders.PartitionKey(o.ID), MustMarshal(env), Headers(orders.EventOrderPlaced)...)
}
