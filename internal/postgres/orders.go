package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/clock"
	"github.com/ariefcatur/go-shop-orders/internal/ledger"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderLedger stores orders and their line items. Commit joins the
// transaction open in ctx, so a failed placement leaves no rows behind.
type OrderLedger struct {
	pool   *pgxpool.Pool
	clock  clock.Clock
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderLedger(pool *pgxpool.Pool, clk clock.Clock, logger *zap.Logger) *OrderLedger {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderLedger{pool: pool, clock: clk, logger: logger, tracer: otel.Tracer("postgres/orders")}
}

func (l *OrderLedger) Commit(ctx context.Context, userID, address string, lines []orders.ReservedLine) (orders.Order, error) {
	ctx, span := l.tracer.Start(ctx, "OrderLedger.Commit")
	defer span.End()

	// Microsecond precision matches timestamptz.
	o := ledger.Build(uuid.NewString(), userID, address, l.clock.Now().Truncate(time.Microsecond), lines)
	span.SetAttributes(attribute.String("order_id", o.ID), attribute.Int("items", len(o.Items)))

	err := withTx(ctx, l.pool, l.logger, func(ctx context.Context) error {
		q := conn(ctx, l.pool)
		if _, err := q.Exec(ctx, `
INSERT INTO orders (id, user_id, status, shipping_address, created_at)
VALUES ($1, $2, $3, $4, $5)`,
			o.ID, o.UserID, string(o.Status), o.ShippingAddress, o.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(`
INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5::numeric)`,
				o.ID, it.Line, it.ProductID, it.Quantity, it.UnitPrice.String())
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return orders.Order{}, err
	}
	return o, nil
}

func (l *OrderLedger) Get(ctx context.Context, id string) (orders.Order, error) {
	ctx, span := l.tracer.Start(ctx, "OrderLedger.Get")
	defer span.End()

	q := conn(ctx, l.pool)
	var o orders.Order
	err := q.QueryRow(ctx, `
SELECT id::text, user_id, status, shipping_address, created_at
FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.UserID, &o.Status, &o.ShippingAddress, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err != nil {
		span.RecordError(err)
		return orders.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := l.items(ctx, q, []string{o.ID})
	if err != nil {
		return orders.Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (l *OrderLedger) ListByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	ctx, span := l.tracer.Start(ctx, "OrderLedger.ListByUser")
	defer span.End()

	q := conn(ctx, l.pool)
	rows, err := q.Query(ctx, `
SELECT id::text, user_id, status, shipping_address, created_at
FROM orders WHERE user_id = $1
ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	out := make([]orders.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var o orders.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.ShippingAddress, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return out, nil
	}
	items, err := l.items(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (l *OrderLedger) SetStatus(ctx context.Context, id string, status orders.Status) (orders.Order, error) {
	ctx, span := l.tracer.Start(ctx, "OrderLedger.SetStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id), attribute.String("status", string(status)))

	var out orders.Order
	err := withTx(ctx, l.pool, l.logger, func(ctx context.Context) error {
		q := conn(ctx, l.pool)
		var current orders.Status
		err := q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return orders.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if err := ledger.CheckTransition(current, status); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, string(status)); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		out, err = l.Get(ctx, id)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return orders.Order{}, err
	}
	return out, nil
}

func (l *OrderLedger) items(ctx context.Context, q querier, orderIDs []string) (map[string][]orders.LineItem, error) {
	rows, err := q.Query(ctx, `
SELECT oi.order_id::text, oi.line_no, oi.product_id, p.name, oi.quantity, oi.unit_price::text
FROM order_items oi
JOIN products p ON p.id = oi.product_id
WHERE oi.order_id = ANY($1::uuid[])
ORDER BY oi.order_id, oi.line_no`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]orders.LineItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			it      orders.LineItem
			price   string
		)
		if err := rows.Scan(&orderID, &it.Line, &it.ProductID, &it.ProductName, &it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order %s line %d price %q: %w", orderID, it.Line, price, err)
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}
