package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventStockRestock       = "StockRestock"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id for order events
	Payload       json.RawMessage `json:"payload"`
}

type PlacedItem struct {
	Line      int             `json:"line"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderPlacedPayload carries the stable fields payment and shipping read.
type OrderPlacedPayload struct {
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	Status          Status          `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []PlacedItem    `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
}

func NewOrderPlacedPayload(o Order) OrderPlacedPayload {
	items := make([]PlacedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, PlacedItem{
			Line:      it.Line,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return OrderPlacedPayload{
		OrderID:         o.ID,
		UserID:          o.UserID,
		Status:          o.Status,
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
		Items:           items,
		TotalAmount:     o.TotalAmount(),
	}
}

type RestockPayload struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0,lte=2147483647"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id" validate:"required,uuid4"`
	Status  Status `json:"status" validate:"required,oneof=PENDING PAID SHIPPED CANCELLED"`
}
