package inventory

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

// Deduper remembers processed event IDs.
type Deduper interface {
	Claim(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Service applies restock events from inventory.restock to the engine.
type Service struct {
	Engine      *Engine
	Dedup       Deduper
	Validate    *validator.Validate
	Logger      *zap.Logger
	ServiceName string
}

// HandleRestock is installed as the consumer handler for inventory.restock.
func (s *Service) HandleRestock(ctx context.Context, m kafkago.Message) error {
	env, p, err := kafkax.Decode[orders.RestockPayload](m.Value, orders.EventStockRestock, s.Validate)
	if err != nil {
		return err
	}
	log := s.Logger.With(zap.String("event_id", env.EventID), zap.Int64("product_id", p.ProductID))

	// At-least-once: when Redis is down, the event is applied without dedup.
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	claimed, err := s.Dedup.Claim(ctx, dkey, "1", redisx.TTLDedup)
	if err != nil {
		logx.Warn(ctx, log, "Dedup unavailable, applying restock anyway", zap.Error(err))
		claimed = true
	}
	if !claimed {
		logx.Info(ctx, log, "Restock event already processed, skipping")
		return nil
	}

	if err := s.Engine.Restock(ctx, p.ProductID, p.Quantity); err != nil {
		if errors.Is(err, orders.ErrProductNotFound) || errors.Is(err, orders.ErrStockLimit) {
			return fmt.Errorf("%w: %v", kafkax.ErrMalformed, err)
		}
		// Let the redelivery try again.
		if derr := s.Dedup.Delete(context.WithoutCancel(ctx), dkey); derr != nil {
			logx.Warn(ctx, log, "Failed to release dedup key", zap.Error(derr))
		}
		return fmt.Errorf("restock product %d: %w", p.ProductID, err)
	}

	logx.Info(ctx, log, "Product restocked", zap.Int("quantity", p.Quantity))
	return nil
}
