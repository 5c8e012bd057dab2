package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/placement"
)

var kindStatus = map[orders.Kind]int{
	orders.KindEmptyOrder:         http.StatusBadRequest,
	orders.KindInvalidQuantity:    http.StatusBadRequest,
	orders.KindInvalidAddress:     http.StatusBadRequest,
	orders.KindProductUnavailable: http.StatusConflict,
	orders.KindInsufficientStock:  http.StatusConflict,
	orders.KindPersistFailed:      http.StatusInternalServerError,
	orders.KindCompensationFailed: http.StatusInternalServerError,
}

func errorResponse(err error) (int, ErrorResp) {
	var oe *orders.Error
	if errors.As(err, &oe) {
		code, ok := kindStatus[oe.Kind]
		if !ok {
			code = http.StatusInternalServerError
		}
		resp := ErrorResp{Error: oe.Error(), Kind: oe.Kind}
		switch oe.Kind {
		case orders.KindPersistFailed, orders.KindCompensationFailed:
			resp.Error = "order could not be placed"
		case orders.KindInvalidQuantity:
			resp.ProductID = nonZero(oe.ProductID)
			resp.Requested = &oe.Requested
		case orders.KindProductUnavailable:
			resp.ProductID = nonZero(oe.ProductID)
		case orders.KindInsufficientStock:
			resp.ProductID = nonZero(oe.ProductID)
			resp.Requested = &oe.Requested
			resp.Available = &oe.Available
		}
		return code, resp
	}

	switch {
	case errors.Is(err, placement.ErrMissingUser):
		return http.StatusUnauthorized, ErrorResp{Error: err.Error()}
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, ErrorResp{Error: "not found"}
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrInvalidStatus):
		return http.StatusConflict, ErrorResp{Error: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResp{Error: "request timed out"}
	default:
		return http.StatusInternalServerError, ErrorResp{Error: "internal error"}
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, resp := errorResponse(err)
	writeJSON(w, code, resp)
}

func nonZero(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
