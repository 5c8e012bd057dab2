package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logx"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/go-playground/validator/v10"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KeyStore is the slice of Redis the status consumer needs: event dedup and
// order cache invalidation.
type KeyStore interface {
	Claim(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// StatusService applies order.status events from payment and shipping.
type StatusService struct {
	Ledger      Ledger
	Keys        KeyStore
	Validate    *validator.Validate
	Logger      *zap.Logger
	ServiceName string
}

func (s *StatusService) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	env, p, err := kafkax.Decode[orders.StatusChangedPayload](m.Value, orders.EventOrderStatusChanged, s.Validate)
	if err != nil {
		return err
	}
	log := s.Logger.With(
		zap.String("event_id", env.EventID),
		zap.String("order_id", p.OrderID),
		zap.String("status", string(p.Status)),
	)

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	claimed, err := s.Keys.Claim(ctx, dkey, "1", redisx.TTLDedup)
	if err != nil {
		logx.Warn(ctx, log, "Dedup unavailable, applying status change anyway", zap.Error(err))
		claimed = true
	}
	if !claimed {
		logx.Info(ctx, log, "Status event already processed, skipping")
		return nil
	}

	o, err := s.Ledger.SetStatus(ctx, p.OrderID, p.Status)
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrInvalidStatus):
		return fmt.Errorf("%w: %v", kafkax.ErrMalformed, err)
	default:
		if derr := s.Keys.Delete(context.WithoutCancel(ctx), dkey); derr != nil {
			logx.Warn(ctx, log, "Failed to release dedup key", zap.Error(derr))
		}
		return fmt.Errorf("set status of order %s: %w", p.OrderID, err)
	}

	if err := s.Keys.Delete(ctx, fmt.Sprintf(redisx.KeyOrder, o.ID)); err != nil {
		logx.Warn(ctx, log, "Failed to invalidate cached order", zap.Error(err))
	}
	logx.Info(ctx, log, "Order status changed")
	return nil
}
