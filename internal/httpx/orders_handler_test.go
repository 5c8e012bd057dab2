package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/ariefcatur/go-shop-orders/internal/ledger"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/placement"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/ariefcatur/go-shop-orders/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router *chi.Mux
	store  *inventory.MemoryStore
	ledger *ledger.MemoryLedger
}

func newTestServer(t *testing.T, cache *redisx.Cache) *testServer {
	t.Helper()
	store := inventory.NewMemoryStore()
	store.Add(orders.Product{ID: 1, Name: "tee", Price: decimal.RequireFromString("19.99"), Stock: 10, IsActive: true})
	store.Add(orders.Product{ID: 2, Name: "mug", Price: decimal.RequireFromString("7.50"), Stock: 3, IsActive: true})
	l := ledger.NewMemoryLedger()

	reg := prometheus.NewRegistry()
	c := placement.NewCoordinator(inventory.NewEngine(store), l, placement.Sequential{},
		placement.WithMetrics(telemetry.NewMetrics(reg)))

	r := NewRouter(reg, nil)
	(&OrdersHandler{
		Placer:   c,
		Ledger:   l,
		Cache:    cache,
		Validate: validator.New(),
		Logger:   zap.NewNop(),
		Timeout:  2 * time.Second,
	}).Register(r)
	return &testServer{router: r, store: store, ledger: l}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func placeBody(items ...orders.LineRequest) PlaceOrderReq {
	return PlaceOrderReq{ShippingAddress: "1 Main St", Items: items}
}

func TestPlaceOrder_Created(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/orders", "u1", placeBody(
		orders.LineRequest{ProductID: 2, Quantity: 2},
		orders.LineRequest{ProductID: 1, Quantity: 1},
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	o := decode[OrderResp](t, rec)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, "34.99", o.TotalAmount)
	require.Len(t, o.Items, 2)
	assert.Equal(t, OrderItemResp{
		Line:      1,
		Product:   ProductRef{ID: 2, Name: "mug"},
		Quantity:  2,
		UnitPrice: "7.50",
		Subtotal:  "15.00",
	}, o.Items[0])
}

func TestPlaceOrder_Errors(t *testing.T) {
	t.Parallel()

	ptr := func(v int) *int { return &v }
	id := func(v int64) *int64 { return &v }

	tests := []struct {
		name string
		user string
		body any
		code int
		want ErrorResp
	}{
		{
			name: "no caller",
			body: placeBody(orders.LineRequest{ProductID: 1, Quantity: 1}),
			code: http.StatusUnauthorized,
			want: ErrorResp{Error: placement.ErrMissingUser.Error()},
		},
		{
			name: "bad json",
			user: "u1",
			body: "{",
			code: http.StatusBadRequest,
			want: ErrorResp{Error: "invalid json"},
		},
		{
			name: "empty order",
			user: "u1",
			body: placeBody(),
			code: http.StatusBadRequest,
			want: ErrorResp{Error: orders.ErrEmptyOrder.Error(), Kind: orders.KindEmptyOrder},
		},
		{
			name: "zero quantity",
			user: "u1",
			body: placeBody(orders.LineRequest{ProductID: 1, Quantity: 0}),
			code: http.StatusBadRequest,
			want: ErrorResp{
				Error:     orders.InvalidQuantity(1, 0).Error(),
				Kind:      orders.KindInvalidQuantity,
				ProductID: id(1),
				Requested: ptr(0),
			},
		},
		{
			name: "missing address",
			user: "u1",
			body: PlaceOrderReq{Items: []orders.LineRequest{{ProductID: 1, Quantity: 1}}},
			code: http.StatusBadRequest,
			want: ErrorResp{Error: orders.ErrInvalidAddress.Error(), Kind: orders.KindInvalidAddress},
		},
		{
			name: "unknown product",
			user: "u1",
			body: placeBody(orders.LineRequest{ProductID: 9, Quantity: 1}),
			code: http.StatusConflict,
			want: ErrorResp{Error: orders.ProductUnavailable(9).Error(), Kind: orders.KindProductUnavailable, ProductID: id(9)},
		},
		{
			name: "not enough stock",
			user: "u1",
			body: placeBody(orders.LineRequest{ProductID: 2, Quantity: 2}, orders.LineRequest{ProductID: 2, Quantity: 2}),
			code: http.StatusConflict,
			want: ErrorResp{
				Error:     orders.InsufficientStock(2, 4, 3).Error(),
				Kind:      orders.KindInsufficientStock,
				ProductID: id(2),
				Requested: ptr(4),
				Available: ptr(3),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := s.do(t, http.MethodPost, "/orders", tt.user, tt.body)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, decode[ErrorResp](t, rec))
		})
	}
}

type failingPlacer struct{ err error }

func (f failingPlacer) PlaceOrder(context.Context, placement.PlaceOrderInput) (orders.Order, error) {
	return orders.Order{}, f.err
}

func TestPlaceOrder_InternalFailuresHideCause(t *testing.T) {
	t.Parallel()

	for _, err := range []error{
		orders.PersistFailed(errors.New("password authentication failed for user app")),
		orders.CompensationFailed(errors.New("lock product 3: connection reset")),
	} {
		r := NewRouter(nil, nil)
		(&OrdersHandler{Placer: failingPlacer{err: err}, Logger: zap.NewNop()}).Register(r)

		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"shipping_address":"a","items":[{"product_id":1,"quantity":1}]}`))
		req.Header.Set(HeaderUserID, "u1")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		got := decode[ErrorResp](t, rec)
		assert.Equal(t, orders.KindOf(err), got.Kind)
		assert.Equal(t, "order could not be placed", got.Error)
	}
}

func TestGetAndListOrders(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	created := decode[OrderResp](t, s.do(t, http.MethodPost, "/orders", "u1", placeBody(orders.LineRequest{ProductID: 1, Quantity: 1})))

	rec := s.do(t, http.MethodGet, "/orders/"+created.ID, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[OrderResp](t, rec).ID)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/orders/"+created.ID, "u2", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/orders/nope", "u1", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/orders/"+created.ID, "", nil).Code)

	rec = s.do(t, http.MethodGet, "/orders", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]OrderResp](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	rec = s.do(t, http.MethodGet, "/orders", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]OrderResp](t, rec))
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	created := decode[OrderResp](t, s.do(t, http.MethodPost, "/orders", "u1", placeBody(orders.LineRequest{ProductID: 1, Quantity: 1})))
	path := "/orders/" + created.ID + "/status"

	rec := s.do(t, http.MethodPatch, path, "", UpdateStatusReq{Status: "LOST"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResp](t, rec).Error, "status must be one of")

	rec = s.do(t, http.MethodPatch, path, "", UpdateStatusReq{Status: orders.StatusShipped})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPatch, path, "", UpdateStatusReq{Status: orders.StatusPaid})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusPaid, decode[OrderResp](t, rec).Status)

	rec = s.do(t, http.MethodPatch, "/orders/missing/status", "", UpdateStatusReq{Status: orders.StatusPaid})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Cancelling does not put stock back.
	rec = s.do(t, http.MethodPatch, path, "", UpdateStatusReq{Status: orders.StatusCancelled})
	require.Equal(t, http.StatusOK, rec.Code)
	p, err := s.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 9, p.Stock)
}

func TestPlaceOrder_RedisDownStillPlaces(t *testing.T) {
	t.Parallel()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	s := newTestServer(t, redisx.NewCache(rdb, nil))

	for i := 0; i < 5; i++ {
		rec := s.do(t, http.MethodPost, "/orders", "u1", placeBody(orders.LineRequest{ProductID: 1, Quantity: 1}),
			HeaderIdempotencyKey, "k-1")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		created := decode[OrderResp](t, rec)

		rec = s.do(t, http.MethodGet, "/orders/"+created.ID, "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	p, err := s.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/orders", "u1", placeBody(orders.LineRequest{ProductID: 1, Quantity: 1}))

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shop_placement_orders_placed_total 1")

	r := NewRouter(nil, map[string]Pinger{"postgres": func(context.Context) error { return errors.New("down") }})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
