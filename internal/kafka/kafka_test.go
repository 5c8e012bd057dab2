package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()
	v := validator.New()
	ctx := context.Background()

	t.Run("valid restock", func(t *testing.T) {
		env := NewEnvelope(ctx, orders.EventStockRestock, "test", "", orders.RestockPayload{ProductID: 7, Quantity: 3})
		got, p, err := Decode[orders.RestockPayload](MustMarshal(env), orders.EventStockRestock, v)
		require.NoError(t, err)
		assert.Equal(t, env.EventID, got.EventID)
		assert.Equal(t, orders.RestockPayload{ProductID: 7, Quantity: 3}, p)
	})

	t.Run("not json", func(t *testing.T) {
		_, _, err := Decode[orders.RestockPayload]([]byte("{"), orders.EventStockRestock, v)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("other event type", func(t *testing.T) {
		env := NewEnvelope(ctx, orders.EventOrderPlaced, "test", "", struct{}{})
		_, _, err := Decode[orders.RestockPayload](MustMarshal(env), orders.EventStockRestock, v)
		assert.ErrorIs(t, err, ErrOtherEvent)
	})

	t.Run("payload fails validation", func(t *testing.T) {
		env := NewEnvelope(ctx, orders.EventStockRestock, "test", "", orders.RestockPayload{ProductID: 7, Quantity: 0})
		_, _, err := Decode[orders.RestockPayload](MustMarshal(env), orders.EventStockRestock, v)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("status payload must carry a known status", func(t *testing.T) {
		env := NewEnvelope(ctx, orders.EventOrderStatusChanged, "test", "", orders.StatusChangedPayload{
			OrderID: "5b0a3c56-8a4e-4a36-9d0e-1a2b3c4d5e6f",
			Status:  "LOST",
		})
		_, _, err := Decode[orders.StatusChangedPayload](MustMarshal(env), orders.EventOrderStatusChanged, v)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

type capture struct {
	key     []byte
	value   []byte
	headers []kafka.Header
}

func (c *capture) Publish(_ context.Context, key, value []byte, headers ...kafka.Header) error {
	c.key, c.value, c.headers = key, value, headers
	return nil
}

func TestOrderPublisher_OrderPlaced(t *testing.T) {
	t.Parallel()

	c := &capture{}
	op := NewOrderPublisher(c, "order-api")
	o := orders.Order{
		ID:     "0d6f8a52-2d43-4c39-8a43-7a5c1f9d2b11",
		UserID: "u1",
		Status: orders.StatusPending,
		Items: []orders.LineItem{
			{Line: 1, ProductID: 3, Quantity: 2, UnitPrice: decimal.RequireFromString("1.25")},
		},
	}
	require.NoError(t, op.OrderPlaced(context.Background(), o))

	assert.Equal(t, []byte(o.ID), c.key)
	assert.Equal(t, Headers(orders.EventOrderPlaced), c.headers)

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(c.value, &env))
	assert.Equal(t, orders.EventOrderPlaced, env.EventType)
	assert.Equal(t, "order-api", env.Producer)
	assert.Equal(t, o.ID, env.CorrelationID)

	p, err := UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	require.NoError(t, err)
	assert.True(t, p.TotalAmount.Equal(decimal.RequireFromString("2.50")))
	require.Len(t, p.Items, 1)
	assert.Equal(t, int64(3), p.Items[0].ProductID)
}

func TestProducer_PublishAfterClose(t *testing.T) {
	t.Parallel()

	p := NewProducer([]string{"127.0.0.1:1"}, orders.TopicOrderPlaced, 1, nil)
	p.Start()
	p.Close()
	p.Close()

	done := make(chan struct{})
	go func() {
		p.WaitClosed()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not shut down")
	}

	err := p.Publish(context.Background(), []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrProducerClosed)
}
