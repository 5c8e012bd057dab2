package orders

import (
	"errors"
	"fmt"
)

// Kind is the closed set of placement failure categories.
type Kind string

const (
	KindEmptyOrder         Kind = "EMPTY_ORDER"
	KindInvalidQuantity    Kind = "INVALID_QUANTITY"
	KindInvalidAddress     Kind = "INVALID_ADDRESS"
	KindProductUnavailable Kind = "PRODUCT_UNAVAILABLE"
	KindInsufficientStock  Kind = "INSUFFICIENT_STOCK"
	KindPersistFailed      Kind = "PERSIST_FAILED"
	KindCompensationFailed Kind = "COMPENSATION_FAILED"
)

// Error is returned by the reservation engine and the coordinator. Two
// errors match under errors.Is when their kinds are equal, so the sentinels
// below can be used for branching while the concrete value carries details.
type Error struct {
	Kind      Kind
	ProductID int64
	Requested int
	Available int
	Err       error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindEmptyOrder:
		msg = "order has no items"
	case KindInvalidQuantity:
		msg = "quantity must be positive"
		if e.ProductID != 0 {
			msg = fmt.Sprintf("invalid quantity %d for product %d", e.Requested, e.ProductID)
		}
	case KindInvalidAddress:
		msg = "invalid shipping address"
	case KindProductUnavailable:
		msg = "product unavailable"
		if e.ProductID != 0 {
			msg = fmt.Sprintf("product %d unavailable", e.ProductID)
		}
	case KindInsufficientStock:
		msg = "insufficient stock"
		if e.ProductID != 0 {
			msg = fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
				e.ProductID, e.Requested, e.Available)
		}
	case KindPersistFailed:
		msg = "persist order failed"
	case KindCompensationFailed:
		msg = "compensating restock failed"
	default:
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrEmptyOrder         = &Error{Kind: KindEmptyOrder}
	ErrInvalidQuantity    = &Error{Kind: KindInvalidQuantity}
	ErrInvalidAddress     = &Error{Kind: KindInvalidAddress}
	ErrProductUnavailable = &Error{Kind: KindProductUnavailable}
	ErrInsufficientStock  = &Error{Kind: KindInsufficientStock}
	ErrPersistFailed      = &Error{Kind: KindPersistFailed}
	ErrCompensationFailed = &Error{Kind: KindCompensationFailed}
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrProductReferenced = errors.New("product is referenced by orders")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStockLimit        = errors.New("stock would exceed the maximum quantity")
)

func InvalidQuantity(productID int64, qty int) *Error {
	return &Error{Kind: KindInvalidQuantity, ProductID: productID, Requested: qty}
}

func ProductUnavailable(productID int64) *Error {
	return &Error{Kind: KindProductUnavailable, ProductID: productID}
}

func InsufficientStock(productID int64, requested, available int) *Error {
	return &Error{Kind: KindInsufficientStock, ProductID: productID, Requested: requested, Available: available}
}

func PersistFailed(err error) *Error {
	return &Error{Kind: KindPersistFailed, Err: err}
}

func CompensationFailed(err error) *Error {
	return &Error{Kind: KindCompensationFailed, Err: err}
}

// KindOf returns the placement kind carried by err, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
