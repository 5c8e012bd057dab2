package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-shop-orders/internal/clock"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/google/uuid"
)

// MemoryLedger keeps orders in process memory.
type MemoryLedger struct {
	mu     sync.RWMutex
	orders map[string]orders.Order
	refs   map[int64]int
	clock  clock.Clock
	newID  func() string
}

type MemoryOption func(*MemoryLedger)

func WithClock(c clock.Clock) MemoryOption {
	return func(l *MemoryLedger) { l.clock = c }
}

func WithIDs(fn func() string) MemoryOption {
	return func(l *MemoryLedger) { l.newID = fn }
}

func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		orders: make(map[string]orders.Order),
		refs:   make(map[int64]int),
		clock:  clock.NewSystem(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLedger) Commit(ctx context.Context, userID, address string, lines []orders.ReservedLine) (orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return orders.Order{}, err
	}
	o := Build(l.newID(), userID, address, l.clock.Now(), lines)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[o.ID] = o
	for _, it := range o.Items {
		l.refs[it.ProductID]++
	}
	return clone(o), nil
}

func (l *MemoryLedger) Get(_ context.Context, id string) (orders.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return clone(o), nil
}

func (l *MemoryLedger) ListByUser(_ context.Context, userID string) ([]orders.Order, error) {
	l.mu.RLock()
	out := make([]orders.Order, 0)
	for _, o := range l.orders {
		if o.UserID == userID {
			out = append(out, clone(o))
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (l *MemoryLedger) SetStatus(_ context.Context, id string, status orders.Status) (orders.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err := CheckTransition(o.Status, status); err != nil {
		return orders.Order{}, err
	}
	o.Status = status
	l.orders[id] = o
	return clone(o), nil
}

// References reports whether any line item points at productID. It backs
// the delete protection of the in-memory catalog.
func (l *MemoryLedger) References(productID int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refs[productID] > 0
}

func clone(o orders.Order) orders.Order {
	o.Items = append([]orders.LineItem(nil), o.Items...)
	return o
}
