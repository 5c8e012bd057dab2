package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/go-playground/validator/v10"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDedup struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (f *fakeDedup) Claim(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeDedup) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.keys, k)
	}
	return f.err
}

func restockMessage(productID int64, qty int) kafkago.Message {
	env := kafkax.NewEnvelope(context.Background(), orders.EventStockRestock, "test", "",
		orders.RestockPayload{ProductID: productID, Quantity: qty})
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func newService(s *MemoryStore, d Deduper) *Service {
	return &Service{
		Engine:      NewEngine(s),
		Dedup:       d,
		Validate:    validator.New(),
		Logger:      zap.NewNop(),
		ServiceName: "inventory",
	}
}

func TestService_HandleRestock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("applies once per event", func(t *testing.T) {
		s := newStore(t, product(1, "1.00", 2))
		svc := newService(s, &fakeDedup{})
		m := restockMessage(1, 5)

		require.NoError(t, svc.HandleRestock(ctx, m))
		require.NoError(t, svc.HandleRestock(ctx, m))
		assert.Equal(t, 7, stockOf(t, s, 1))
	})

	t.Run("dedup outage still applies", func(t *testing.T) {
		s := newStore(t, product(1, "1.00", 2))
		svc := newService(s, &fakeDedup{err: errors.New("redis down")})

		require.NoError(t, svc.HandleRestock(ctx, restockMessage(1, 1)))
		assert.Equal(t, 3, stockOf(t, s, 1))
	})

	t.Run("unknown product is skipped as malformed", func(t *testing.T) {
		svc := newService(newStore(t), &fakeDedup{})
		err := svc.HandleRestock(ctx, restockMessage(42, 1))
		assert.ErrorIs(t, err, kafkax.ErrMalformed)
	})

	t.Run("invalid quantity never reaches the engine", func(t *testing.T) {
		s := newStore(t, product(1, "1.00", 2))
		svc := newService(s, &fakeDedup{})
		err := svc.HandleRestock(ctx, restockMessage(1, -3))
		assert.ErrorIs(t, err, kafkax.ErrMalformed)
		assert.Equal(t, 2, stockOf(t, s, 1))
	})

	t.Run("quantity above the column width is malformed", func(t *testing.T) {
		s := newStore(t, product(1, "1.00", 2))
		svc := newService(s, &fakeDedup{})
		err := svc.HandleRestock(ctx, restockMessage(1, orders.MaxQuantity+1))
		assert.ErrorIs(t, err, kafkax.ErrMalformed)
		assert.Equal(t, 2, stockOf(t, s, 1))
	})

	t.Run("restock past the stock limit is malformed", func(t *testing.T) {
		s := newStore(t, product(1, "1.00", orders.MaxQuantity))
		d := &fakeDedup{}
		svc := newService(s, d)
		err := svc.HandleRestock(ctx, restockMessage(1, 1))
		assert.ErrorIs(t, err, kafkax.ErrMalformed)
		assert.Equal(t, orders.MaxQuantity, stockOf(t, s, 1))
	})

	t.Run("transient failure releases the dedup key", func(t *testing.T) {
		s := newStore(t, product(1, "1.00", 2))
		row, err := s.Lock(ctx, 1)
		require.NoError(t, err)

		d := &fakeDedup{}
		svc := newService(s, d)
		m := restockMessage(1, 4)

		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, svc.HandleRestock(tctx, m), context.DeadlineExceeded)
		row.Unlock()

		require.NoError(t, svc.HandleRestock(ctx, m))
		assert.Equal(t, 6, stockOf(t, s, 1))
	})
}
