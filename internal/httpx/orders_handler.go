package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/ledger"
	"github.com/ariefcatur/go-shop-orders/internal/logx"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/placement"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type Placer interface {
	PlaceOrder(ctx context.Context, in placement.PlaceOrderInput) (orders.Order, error)
}

type OrdersHandler struct {
	Placer   Placer
	Ledger   ledger.Ledger
	Cache    *redisx.Cache
	Validate *validator.Validate
	Logger   *zap.Logger
	Timeout  time.Duration
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/status", h.updateStatus)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.Timeout)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		writeError(w, placement.ErrMissingUser)
		return
	}
	var req PlaceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Error: "invalid json"})
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	idemKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if idemKey != "" {
		key := fmt.Sprintf(redisx.KeyIdemOrderPlace, userID, idemKey)
		if done := h.replay(ctx, w, key); done {
			return
		}
		defer func() {
			if idemKey != "" {
				// Placement failed: let the client retry with the same key.
				_ = h.Cache.Delete(context.WithoutCancel(ctx), key)
			}
		}()
	}

	o, err := h.Placer.PlaceOrder(ctx, placement.PlaceOrderInput{
		UserID:          userID,
		ShippingAddress: req.ShippingAddress,
		Lines:           req.Items,
	})
	if err != nil {
		if code, _ := errorResponse(err); code >= http.StatusInternalServerError {
			logx.Error(ctx, h.Logger, "Failed to place order", zap.String("user_id", userID), zap.Error(err))
		}
		writeError(w, err)
		return
	}

	resp := toOrderResp(o)
	if idemKey != "" {
		key := fmt.Sprintf(redisx.KeyIdemOrderPlace, userID, idemKey)
		if err := h.Cache.Set(ctx, key, o.ID, redisx.TTLIdempotency); err != nil {
			logx.Warn(ctx, h.Logger, "Failed to record idempotency key", zap.Error(err))
		}
		idemKey = ""
	}
	h.cacheOrder(ctx, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// replay answers a repeated idempotent request and reports whether it did.
// When it returns false the key is claimed for this request.
func (h *OrdersHandler) replay(ctx context.Context, w http.ResponseWriter, key string) bool {
	claimed, err := h.Cache.Claim(ctx, key, redisx.IdemPending, redisx.TTLIdempotency)
	if err != nil {
		logx.Warn(ctx, h.Logger, "Idempotency store unavailable, placing without it", zap.Error(err))
		return false
	}
	if claimed {
		return false
	}

	orderID, ok, err := h.Cache.Get(ctx, key)
	if err != nil || !ok || orderID == redisx.IdemPending {
		writeJSON(w, http.StatusConflict, ErrorResp{Error: "a request with this idempotency key is in progress"})
		return true
	}
	o, err := h.Ledger.Get(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return true
	}
	w.Header().Set(HeaderReplayed, "true")
	writeJSON(w, http.StatusCreated, toOrderResp(o))
	return true
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		writeError(w, placement.ErrMissingUser)
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	// 1) cache
	key := fmt.Sprintf(redisx.KeyOrder, orderID)
	if s, ok, err := h.Cache.Get(ctx, key); err == nil && ok {
		var cached OrderResp
		if err := json.Unmarshal([]byte(s), &cached); err == nil {
			if cached.UserID != userID {
				writeError(w, orders.ErrOrderNotFound)
				return
			}
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	// 2) ledger
	o, err := h.Ledger.Get(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := toOrderResp(o)
	h.cacheOrder(ctx, resp)
	if o.UserID != userID {
		writeError(w, orders.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		writeError(w, placement.ErrMissingUser)
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	list, err := h.Ledger.ListByUser(ctx, userID)
	if err != nil {
		logx.Error(ctx, h.Logger, "Failed to list orders", zap.String("user_id", userID), zap.Error(err))
		writeError(w, err)
		return
	}
	out := make([]OrderResp, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderResp(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Error: "invalid json"})
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Error: validationMessage(err)})
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	o, err := h.Ledger.SetStatus(ctx, orderID, req.Status)
	if err != nil {
		if code, _ := errorResponse(err); code >= http.StatusInternalServerError {
			logx.Error(ctx, h.Logger, "Failed to update order status", zap.String("order_id", orderID), zap.Error(err))
		}
		writeError(w, err)
		return
	}
	if err := h.Cache.Delete(ctx, fmt.Sprintf(redisx.KeyOrder, o.ID)); err != nil {
		logx.Warn(ctx, h.Logger, "Failed to invalidate cached order", zap.String("order_id", o.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, resp OrderResp) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := h.Cache.Set(ctx, fmt.Sprintf(redisx.KeyOrder, resp.ID), string(b), redisx.TTLOrderCache); err != nil {
		logx.Debug(ctx, h.Logger, "Order cache unavailable", zap.Error(err))
	}
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}
