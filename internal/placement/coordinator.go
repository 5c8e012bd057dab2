// Package placement turns a caller's order request into a committed order.
//
// PlaceOrder runs reservation and ledger write in one unit of work. When the
// unit of work cannot roll back stock on its own (the in-memory backend), a
// failed ledger write is compensated by releasing the reserved stock.
package placement

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ariefcatur/go-shop-orders/internal/clock"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/ariefcatur/go-shop-orders/internal/ledger"
	"github.com/ariefcatur/go-shop-orders/internal/logx"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Phase string

const (
	PhaseValidating Phase = "VALIDATING"
	PhaseReserving  Phase = "RESERVING"
	PhasePersisting Phase = "PERSISTING"
	PhaseCommitted  Phase = "COMMITTED"
	PhaseAborted    Phase = "ABORTED"
)

// UnitOfWork scopes one placement. Atomic reports whether a failed unit
// undoes every write made inside it, stock decrements included.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Atomic() bool
}

// Notifier is told about committed orders.
type Notifier interface {
	OrderPlaced(ctx context.Context, o orders.Order) error
}

type PlaceOrderInput struct {
	UserID          string
	ShippingAddress string
	Lines           []orders.LineRequest
}

var ErrMissingUser = errors.New("caller identity required")

type Coordinator struct {
	engine   *inventory.Engine
	ledger   ledger.Ledger
	uow      UnitOfWork
	notifier Notifier
	metrics  *telemetry.Metrics
	clock    clock.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
	onPhase  func(Phase)
}

type Option func(*Coordinator)

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithPhaseHook observes every phase a placement enters.
func WithPhaseHook(fn func(Phase)) Option {
	return func(c *Coordinator) { c.onPhase = fn }
}

func NewCoordinator(engine *inventory.Engine, l ledger.Ledger, uow UnitOfWork, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine: engine,
		ledger: l,
		uow:    uow,
		clock:  clock.NewSystem(),
		logger: zap.NewNop(),
		tracer: otel.Tracer("placement/coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlaceOrder validates the request, reserves stock, writes the order and
// returns it. On any error no order exists and stock is as it was, except
// for CompensationFailed, which leaves reserved stock unreleased.
func (c *Coordinator) PlaceOrder(ctx context.Context, in PlaceOrderInput) (orders.Order, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", in.UserID), attribute.Int("lines", len(in.Lines)))
	start := c.clock.Now()

	o, err := c.place(ctx, in)
	elapsed := c.clock.Now().Sub(start)
	if err != nil {
		c.enter(PhaseAborted)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.Rejected(string(orders.KindOf(err)), elapsed)
		return orders.Order{}, err
	}
	c.enter(PhaseCommitted)
	c.metrics.Placed(elapsed)
	span.SetAttributes(attribute.String("order_id", o.ID))
	logx.Info(ctx, c.logger, "Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int("items", len(o.Items)),
		zap.String("total", o.TotalAmount().StringFixed(2)),
	)

	if c.notifier != nil {
		if err := c.notifier.OrderPlaced(ctx, o); err != nil {
			logx.Error(ctx, c.logger, "Failed to publish placed order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return o, nil
}

func (c *Coordinator) place(ctx context.Context, in PlaceOrderInput) (orders.Order, error) {
	c.enter(PhaseValidating)
	if err := validate(in); err != nil {
		return orders.Order{}, err
	}

	var (
		placed   orders.Order
		reserved []orders.ReservedLine
		persist  error
	)
	err := c.uow.WithTx(ctx, func(ctx context.Context) error {
		c.enter(PhaseReserving)
		var err error
		reserved, err = c.engine.Reserve(ctx, in.Lines)
		if err != nil {
			return err
		}

		c.enter(PhasePersisting)
		placed, persist = c.ledger.Commit(ctx, in.UserID, in.ShippingAddress, reserved)
		return persist
	})
	if err == nil {
		return placed, nil
	}
	if persist == nil && reserved != nil {
		// Reserve and Commit succeeded; the unit of work failed to commit.
		persist = err
	}
	if persist == nil {
		return orders.Order{}, err
	}

	if c.uow.Atomic() {
		return orders.Order{}, orders.PersistFailed(persist)
	}
	return orders.Order{}, c.compensate(ctx, reserved, persist)
}

// compensate puts back stock reserved for an order that was never written.
// It runs even if the caller has gone away.
func (c *Coordinator) compensate(ctx context.Context, reserved []orders.ReservedLine, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := c.engine.Release(ctx, reserved); err != nil {
		c.metrics.Compensated(false)
		logx.Critical(ctx, c.logger, "Compensating stock release failed, stock must be corrected by hand",
			zap.Any("lines", reserved),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return orders.CompensationFailed(errors.Join(cause, err))
	}
	c.metrics.Compensated(true)
	logx.Warn(ctx, c.logger, "Order persist failed, reserved stock released", zap.Error(cause))
	return orders.PersistFailed(cause)
}

func validate(in PlaceOrderInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(in.ShippingAddress) == "" ||
		utf8.RuneCountInString(in.ShippingAddress) > orders.MaxShippingAddressLen {
		return orders.ErrInvalidAddress
	}
	if len(in.Lines) == 0 {
		return orders.ErrEmptyOrder
	}
	for _, l := range in.Lines {
		if l.Quantity <= 0 || l.Quantity > orders.MaxQuantity {
			return orders.InvalidQuantity(l.ProductID, l.Quantity)
		}
	}
	return nil
}

func (c *Coordinator) enter(p Phase) {
	if c.onPhase != nil {
		c.onPhase(p)
	}
}

// Sequential is the unit of work of backends without transactions. Failed
// units leave their writes in place, so the coordinator compensates.
type Sequential struct{}

func (Sequential) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (Sequential) Atomic() bool { return false }
