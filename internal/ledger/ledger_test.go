package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/clock"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/go-playground/validator/v10"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
	}
}

func reserved() []orders.ReservedLine {
	return []orders.ReservedLine{
		{ProductID: 4, ProductName: "mug", Quantity: 2, UnitPrice: decimal.RequireFromString("7.50")},
		{ProductID: 1, ProductName: "tee", Quantity: 1, UnitPrice: decimal.RequireFromString("19.99")},
	}
}

func TestMemoryLedger_Commit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemoryLedger(WithClock(clock.NewFixed(now)), WithIDs(sequentialIDs()))

	o, err := l.Commit(ctx, "u1", "1 Main St", reserved())
	require.NoError(t, err)

	assert.Equal(t, "00000000-0000-4000-8000-000000000001", o.ID)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, now, o.CreatedAt)
	require.Len(t, o.Items, 2)
	assert.Equal(t, 1, o.Items[0].Line)
	assert.Equal(t, int64(4), o.Items[0].ProductID)
	assert.Equal(t, 2, o.Items[1].Line)
	assert.True(t, o.TotalAmount().Equal(decimal.RequireFromString("34.99")))

	assert.True(t, l.References(4))
	assert.False(t, l.References(99))

	o.Items[0].Quantity = 100
	got, err := l.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Items[0].Quantity, "returned orders are copies")
}

func TestMemoryLedger_GetAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := NewMemoryLedger(WithIDs(sequentialIDs()))
	first, err := l.Commit(ctx, "u1", "a", reserved())
	require.NoError(t, err)
	_, err = l.Commit(ctx, "u2", "b", reserved())
	require.NoError(t, err)
	second, err := l.Commit(ctx, "u1", "c", reserved())
	require.NoError(t, err)

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	list, err := l.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, []string{list[0].ID, list[1].ID})

	empty, err := l.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryLedger_SetStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name  string
		steps []orders.Status
		err   error
	}{
		{name: "pay then ship", steps: []orders.Status{orders.StatusPaid, orders.StatusShipped}},
		{name: "cancel pending", steps: []orders.Status{orders.StatusCancelled}},
		{name: "ship unpaid", steps: []orders.Status{orders.StatusShipped}, err: orders.ErrInvalidTransition},
		{name: "reopen cancelled", steps: []orders.Status{orders.StatusCancelled, orders.StatusPending}, err: orders.ErrInvalidTransition},
		{name: "unknown status", steps: []orders.Status{"LOST"}, err: orders.ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewMemoryLedger()
			o, err := l.Commit(ctx, "u1", "addr", reserved())
			require.NoError(t, err)

			for _, s := range tt.steps {
				o, err = l.SetStatus(ctx, o.ID, s)
				if err != nil {
					break
				}
			}
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.steps[len(tt.steps)-1], o.Status)
		})
	}

	_, err := NewMemoryLedger().SetStatus(ctx, "missing", orders.StatusPaid)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

type fakeKeys struct {
	claimed map[string]bool
	deleted []string
}

func (f *fakeKeys) Claim(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	if f.claimed == nil {
		f.claimed = map[string]bool{}
	}
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeKeys) Delete(_ context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func statusMessage(orderID string, status orders.Status) kafkago.Message {
	env := kafkax.NewEnvelope(context.Background(), orders.EventOrderStatusChanged, "payments", orderID,
		orders.StatusChangedPayload{OrderID: orderID, Status: status})
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestStatusService_HandleStatusChanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := NewMemoryLedger()
	o, err := l.Commit(ctx, "u1", "addr", reserved())
	require.NoError(t, err)

	keys := &fakeKeys{}
	svc := &StatusService{
		Ledger:      l,
		Keys:        keys,
		Validate:    validator.New(),
		Logger:      zap.NewNop(),
		ServiceName: "inventory",
	}

	m := statusMessage(o.ID, orders.StatusPaid)
	require.NoError(t, svc.HandleStatusChanged(ctx, m))
	require.NoError(t, svc.HandleStatusChanged(ctx, m), "redelivery is a no-op")

	got, err := l.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.Equal(t, []string{fmt.Sprintf(redisx.KeyOrder, o.ID)}, keys.deleted)

	err = svc.HandleStatusChanged(ctx, statusMessage(o.ID, orders.StatusPending))
	assert.ErrorIs(t, err, kafkax.ErrMalformed)

	err = svc.HandleStatusChanged(ctx, statusMessage("5b0a3c56-8a4e-4a36-9d0e-1a2b3c4d5e6f", orders.StatusPaid))
	assert.ErrorIs(t, err, kafkax.ErrMalformed)
}
