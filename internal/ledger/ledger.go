// Package ledger records placed orders. An order and its line items are
// written once; afterwards only the status moves, along orders.CanTransition.
package ledger

import (
	"context"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

type Ledger interface {
	// Commit writes a PENDING order with one line item per reserved line, in
	// the given order, using the reserved unit prices.
	Commit(ctx context.Context, userID, address string, lines []orders.ReservedLine) (orders.Order, error)
	Get(ctx context.Context, id string) (orders.Order, error)
	// ListByUser returns the user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]orders.Order, error)
	// SetStatus moves an order to status and returns the updated order.
	SetStatus(ctx context.Context, id string, status orders.Status) (orders.Order, error)
}

// Build assembles the order Commit persists.
func Build(id, userID, address string, now time.Time, lines []orders.ReservedLine) orders.Order {
	items := make([]orders.LineItem, 0, len(lines))
	for i, l := range lines {
		items = append(items, orders.LineItem{
			Line:        i + 1,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return orders.Order{
		ID:              id,
		UserID:          userID,
		Status:          orders.StatusPending,
		ShippingAddress: address,
		CreatedAt:       now,
		Items:           items,
	}
}

// CheckTransition validates a status change requested by a collaborator.
func CheckTransition(from, to orders.Status) error {
	if !to.Valid() {
		return orders.ErrInvalidStatus
	}
	if !orders.CanTransition(from, to) {
		return orders.ErrInvalidTransition
	}
	return nil
}
