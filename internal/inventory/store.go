package inventory

import (
	"context"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

// Store is the product catalog as seen by the engine: a snapshot read and
// an exclusive per-product lock.
type Store interface {
	// Products returns the products that exist among ids. Missing IDs are
	// simply absent from the map.
	Products(ctx context.Context, ids []int64) (map[int64]orders.Product, error)
	// Lock blocks until the caller holds the product's stock exclusively or
	// ctx is done. It returns orders.ErrProductNotFound for unknown IDs.
	Lock(ctx context.Context, id int64) (Row, error)
}

// Row is a locked product.
type Row interface {
	Product() orders.Product
	// Adjust adds delta to stock. It must never leave stock negative.
	Adjust(ctx context.Context, delta int) error
	// Unlock releases the lock. Stores whose locks end with the surrounding
	// transaction may treat it as a no-op.
	Unlock()
}

// Transactor scopes a unit of work. Calls nested inside an open unit join it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
