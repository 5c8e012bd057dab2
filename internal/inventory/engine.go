package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ariefcatur/go-shop-orders/internal/logx"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine reserves, releases and restocks product stock. Every multi-product
// operation locks rows in ascending product ID order.
type Engine struct {
	store  Store
	tx     Transactor
	logger *zap.Logger
	tracer trace.Tracer
}

type Option func(*Engine)

// WithTransactor runs each engine call inside tx. Calls made while a unit
// of work is already open join it.
func WithTransactor(tx Transactor) Option {
	return func(e *Engine) {
		if tx != nil {
			e.tx = tx
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		tx:     noTx{},
		logger: zap.NewNop(),
		tracer: otel.Tracer("inventory/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reserve validates lines against live stock and, if every line fits,
// decrements stock and snapshots unit prices. On rejection no stock changes.
func (e *Engine) Reserve(ctx context.Context, lines []orders.LineRequest) ([]orders.ReservedLine, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Reserve")
	defer span.End()
	span.SetAttributes(attribute.Int("lines", len(lines)))

	if len(lines) == 0 {
		return nil, orders.ErrEmptyOrder
	}
	merged, err := orders.MergeLines(lines)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(merged))
	for _, l := range merged {
		ids = append(ids, l.ProductID)
	}
	sortIDs(ids)

	var reserved []orders.ReservedLine
	err = e.tx.WithTx(ctx, func(ctx context.Context) error {
		known, err := e.store.Products(ctx, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}
		for _, l := range merged {
			if p, ok := known[l.ProductID]; !ok || !p.IsActive {
				return orders.ProductUnavailable(l.ProductID)
			}
		}

		rows, unlock, err := e.lockAll(ctx, ids)
		defer unlock()
		if err != nil {
			return err
		}

		snapshot := make(map[int64]orders.Product, len(rows))
		for _, l := range merged {
			p := rows[l.ProductID].Product()
			if !p.IsActive {
				return orders.ProductUnavailable(l.ProductID)
			}
			if p.Stock < l.Quantity {
				return orders.InsufficientStock(l.ProductID, l.Quantity, p.Stock)
			}
			snapshot[l.ProductID] = p
		}

		out := make([]orders.ReservedLine, 0, len(merged))
		for i, l := range merged {
			if err := rows[l.ProductID].Adjust(ctx, -l.Quantity); err != nil {
				e.undo(ctx, rows, merged[:i])
				return fmt.Errorf("decrement stock for product %d: %w", l.ProductID, err)
			}
			p := snapshot[l.ProductID]
			out = append(out, orders.ReservedLine{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    l.Quantity,
				UnitPrice:   p.Price,
			})
		}
		reserved = out
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return reserved, nil
}

// Release puts reserved quantities back. It is the compensating action for
// a reservation whose order could not be persisted.
func (e *Engine) Release(ctx context.Context, lines []orders.ReservedLine) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Release")
	defer span.End()

	qty := make(map[int64]int, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if _, ok := qty[l.ProductID]; !ok {
			ids = append(ids, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}
	sortIDs(ids)

	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		rows, unlock, lockErr := e.lockAll(ctx, ids)
		defer unlock()

		var errs []error
		if lockErr != nil {
			errs = append(errs, lockErr)
		}
		for _, id := range ids {
			row, ok := rows[id]
			if !ok {
				continue
			}
			if err := row.Adjust(ctx, qty[id]); err != nil {
				errs = append(errs, fmt.Errorf("restock product %d: %w", id, err))
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Restock adds qty units to a product, serialized with reservations through
// the same product lock.
func (e *Engine) Restock(ctx context.Context, productID int64, qty int) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Restock")
	defer span.End()
	span.SetAttributes(attribute.Int64("product_id", productID), attribute.Int("quantity", qty))

	if qty <= 0 || qty > orders.MaxQuantity {
		return orders.InvalidQuantity(productID, qty)
	}
	return e.tx.WithTx(ctx, func(ctx context.Context) error {
		row, err := e.store.Lock(ctx, productID)
		if err != nil {
			return err
		}
		defer row.Unlock()
		return row.Adjust(ctx, qty)
	})
}

// lockAll locks ids in the given (ascending) order. The returned unlock
// releases whatever was acquired, in reverse order, and is always non-nil.
func (e *Engine) lockAll(ctx context.Context, ids []int64) (map[int64]Row, func(), error) {
	rows := make(map[int64]Row, len(ids))
	held := make([]Row, 0, len(ids))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
	for _, id := range ids {
		row, err := e.store.Lock(ctx, id)
		if err != nil {
			if errors.Is(err, orders.ErrProductNotFound) {
				return rows, unlock, orders.ProductUnavailable(id)
			}
			return rows, unlock, fmt.Errorf("lock product %d: %w", id, err)
		}
		rows[id] = row
		held = append(held, row)
	}
	return rows, unlock, nil
}

// undo reverts decrements already applied in the current critical section.
func (e *Engine) undo(ctx context.Context, rows map[int64]Row, applied []orders.LineRequest) {
	ctx = context.WithoutCancel(ctx)
	for _, l := range applied {
		if err := rows[l.ProductID].Adjust(ctx, l.Quantity); err != nil {
			logx.Warn(ctx, e.logger, "Failed to revert stock decrement",
				zap.Int64("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err),
			)
		}
	}
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
