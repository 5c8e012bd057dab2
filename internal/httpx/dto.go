package httpx

import (
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

type PlaceOrderReq struct {
	ShippingAddress string               `json:"shipping_address"`
	Items           []orders.LineRequest `json:"items"`
}

type UpdateStatusReq struct {
	Status orders.Status `json:"status" validate:"required,oneof=PENDING PAID SHIPPED CANCELLED"`
}

type ProductRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type OrderItemResp struct {
	Line      int        `json:"line"`
	Product   ProductRef `json:"product"`
	Quantity  int        `json:"quantity"`
	UnitPrice string     `json:"unit_price"`
	Subtotal  string     `json:"subtotal"`
}

type OrderResp struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Status          orders.Status   `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []OrderItemResp `json:"items"`
	TotalAmount     string          `json:"total_amount"`
}

// ErrorResp is the body of every non-2xx response. The stock fields are set
// only for the kinds that carry them.
type ErrorResp struct {
	Error     string      `json:"error"`
	Kind      orders.Kind `json:"kind,omitempty"`
	ProductID *int64      `json:"product_id,omitempty"`
	Requested *int        `json:"requested,omitempty"`
	Available *int        `json:"available,omitempty"`
}

func toOrderResp(o orders.Order) OrderResp {
	items := make([]OrderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResp{
			Line:      it.Line,
			Product:   ProductRef{ID: it.ProductID, Name: it.ProductName},
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Subtotal:  it.Subtotal().StringFixed(2),
		})
	}
	return OrderResp{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          o.Status,
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
		Items:           items,
		TotalAmount:     o.TotalAmount().StringFixed(2),
	}
}
