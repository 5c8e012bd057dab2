package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var errNoTx = errors.New("row lock requires an open transaction")

const productColumns = `id, name, price::text, stock, is_active, created_at`

// ProductStore is the Postgres catalog. Lock takes a FOR UPDATE row lock in
// the transaction open in ctx; the lock is released at commit or rollback.
type ProductStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool, tracer: otel.Tracer("postgres/products")}
}

func (s *ProductStore) Products(ctx context.Context, ids []int64) (map[int64]orders.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductStore.Products")
	defer span.End()
	span.SetAttributes(attribute.Int("ids", len(ids)))

	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]orders.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

func (s *ProductStore) Lock(ctx context.Context, id int64) (inventory.Row, error) {
	tx := txFromContext(ctx)
	if tx == nil {
		return nil, errNoTx
	}
	p, err := scanProduct(tx.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock product %d: %w", id, err)
	}
	return &pgRow{tx: tx, p: p}, nil
}

type pgRow struct {
	tx pgx.Tx
	p  orders.Product
}

func (r *pgRow) Product() orders.Product { return r.p }

func (r *pgRow) Adjust(ctx context.Context, delta int) error {
	var stock int
	err := r.tx.QueryRow(ctx,
		`UPDATE products SET stock = stock + $2
		 WHERE id = $1 AND stock::bigint + $2 BETWEEN 0 AND $3
		 RETURNING stock`,
		r.p.ID, delta, orders.MaxQuantity,
	).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) && delta > 0 {
		return fmt.Errorf("product %d: %w", r.p.ID, orders.ErrStockLimit)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("product %d: stock %d cannot absorb %d", r.p.ID, r.p.Stock, delta)
	}
	if err != nil {
		return fmt.Errorf("update stock of product %d: %w", r.p.ID, err)
	}
	r.p.Stock = stock
	return nil
}

func (r *pgRow) Unlock() {}

// Create inserts a catalog product and returns it with its ID.
func (s *ProductStore) Create(ctx context.Context, p orders.Product) (orders.Product, error) {
	if p.Stock < 0 || p.Price.IsNegative() {
		return orders.Product{}, fmt.Errorf("product %q: negative stock or price", p.Name)
	}
	out, err := scanProduct(conn(ctx, s.pool).QueryRow(ctx, `
INSERT INTO products (name, price, stock, is_active)
VALUES ($1, $2::numeric, $3, $4)
RETURNING `+productColumns,
		p.Name, p.Price.String(), p.Stock, p.IsActive,
	))
	if err != nil {
		return orders.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return out, nil
}

func (s *ProductStore) Get(ctx context.Context, id int64) (orders.Product, error) {
	p, err := scanProduct(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, err
}

func (s *ProductStore) SetPrice(ctx context.Context, id int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("negative price %s", price)
	}
	return s.exec(ctx, `UPDATE products SET price = $2::numeric WHERE id = $1`, id, price.String())
}

func (s *ProductStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.exec(ctx, `UPDATE products SET is_active = $2 WHERE id = $1`, id, active)
}

// Delete removes a product no order line references.
func (s *ProductStore) Delete(ctx context.Context, id int64) error {
	err := s.exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return orders.ErrProductReferenced
	}
	return err
}

// StockLevels returns the stock of every product.
func (s *ProductStore) StockLevels(ctx context.Context) (map[int64]int, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, `SELECT id, stock FROM products`)
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var (
			id    int64
			stock int
		)
		if err := rows.Scan(&id, &stock); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		out[id] = stock
	}
	return out, rows.Err()
}

func (s *ProductStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrProductNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.IsActive, &p.CreatedAt); err != nil {
		return orders.Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return orders.Product{}, fmt.Errorf("product %d price %q: %w", p.ID, price, err)
	}
	p.Price = d
	return p, nil
}
