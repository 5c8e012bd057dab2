package orders

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MaxShippingAddressLen mirrors the width of orders.shipping_address.
const MaxShippingAddressLen = 255

// MaxQuantity is the largest line quantity or stock level, the width of the
// INTEGER stock and quantity columns.
const MaxQuantity = math.MaxInt32

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// LineRequest is one caller-supplied (product, quantity) pair.
type LineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// ReservedLine is a line whose stock was decremented and whose price was
// snapshotted under the product lock.
type ReservedLine struct {
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type Order struct {
	ID              string
	UserID          string
	Status          Status
	ShippingAddress string
	CreatedAt       time.Time
	Items           []LineItem
}

// TotalAmount is always derived from the line items.
func (o Order) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

type LineItem struct {
	Line        int
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// MergeLines sums quantities of repeated product IDs, keeping the order in
// which each product first appears. Every quantity must be positive; a line
// or a sum above MaxQuantity is rejected with InvalidQuantity.
func MergeLines(lines []LineRequest) ([]LineRequest, error) {
	idx := make(map[int64]int, len(lines))
	out := make([]LineRequest, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 || l.Quantity > MaxQuantity {
			return nil, InvalidQuantity(l.ProductID, l.Quantity)
		}
		if i, ok := idx[l.ProductID]; ok {
			if out[i].Quantity > MaxQuantity-l.Quantity {
				return nil, InvalidQuantity(l.ProductID, out[i].Quantity)
			}
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}
