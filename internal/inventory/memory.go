package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process catalog. Each product has its own lock; the
// store has no multi-row atomic commit, so the coordinator compensates on
// persist failures.
type MemoryStore struct {
	mu         sync.RWMutex
	products   map[int64]*memEntry
	nextID     int64
	referenced func(productID int64) bool
}

type memEntry struct {
	sem  chan struct{}
	p    orders.Product // guarded by sem
	dead bool           // guarded by sem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{products: make(map[int64]*memEntry)}
}

// SetReferenceCheck installs the lookup Delete uses to protect products that
// orders still point at.
func (s *MemoryStore) SetReferenceCheck(fn func(productID int64) bool) {
	s.mu.Lock()
	s.referenced = fn
	s.mu.Unlock()
}

// Add inserts p, assigning the next free ID when p.ID is zero.
func (s *MemoryStore) Add(p orders.Product) orders.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	s.products[p.ID] = &memEntry{sem: make(chan struct{}, 1), p: p}
	return p
}

// LoadSeed adds the products of a JSON array, e.g. a local catalog fixture.
func (s *MemoryStore) LoadSeed(r io.Reader) error {
	var seed []orders.Product
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode catalog seed: %w", err)
	}
	for _, p := range seed {
		if p.Stock < 0 || p.Price.IsNegative() {
			return fmt.Errorf("seed product %d: negative stock or price", p.ID)
		}
		s.Add(p)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (orders.Product, error) {
	e, err := s.entry(id)
	if err != nil {
		return orders.Product{}, err
	}
	if err := e.lockLive(ctx); err != nil {
		return orders.Product{}, err
	}
	defer e.unlock()
	return e.p, nil
}

func (s *MemoryStore) SetPrice(ctx context.Context, id int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("negative price %s", price)
	}
	return s.update(ctx, id, func(p *orders.Product) { p.Price = price })
}

func (s *MemoryStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.update(ctx, id, func(p *orders.Product) { p.IsActive = active })
}

// Delete removes a product unless an order line references it. Callers
// still holding the entry see ErrProductNotFound once they lock it.
//
// References only count committed orders: stock reserved for an order whose
// ledger write has not happened yet does not protect the product.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	if err := e.lockLive(ctx); err != nil {
		return err
	}
	defer e.unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.referenced != nil && s.referenced(id) {
		return orders.ErrProductReferenced
	}
	e.dead = true
	delete(s.products, id)
	return nil
}

// StockLevels returns the stock of every product.
func (s *MemoryStore) StockLevels(ctx context.Context) (map[int64]int, error) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sortIDs(ids)

	ps, err := s.Products(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int, len(ps))
	for id, p := range ps {
		out[id] = p.Stock
	}
	return out, nil
}

func (s *MemoryStore) Products(ctx context.Context, ids []int64) (map[int64]orders.Product, error) {
	out := make(map[int64]orders.Product, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if err == orders.ErrProductNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (s *MemoryStore) Lock(ctx context.Context, id int64) (Row, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	if err := e.lockLive(ctx); err != nil {
		return nil, err
	}
	return &memRow{e: e}, nil
}

func (s *MemoryStore) entry(id int64) (*memEntry, error) {
	s.mu.RLock()
	e, ok := s.products[id]
	s.mu.RUnlock()
	if !ok {
		return nil, orders.ErrProductNotFound
	}
	return e, nil
}

func (s *MemoryStore) update(ctx context.Context, id int64, fn func(p *orders.Product)) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	if err := e.lockLive(ctx); err != nil {
		return err
	}
	defer e.unlock()
	fn(&e.p)
	return nil
}

func (e *memEntry) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockLive locks e unless it was deleted while the caller waited.
func (e *memEntry) lockLive(ctx context.Context) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	if e.dead {
		e.unlock()
		return orders.ErrProductNotFound
	}
	return nil
}

func (e *memEntry) unlock() { <-e.sem }

type memRow struct {
	e    *memEntry
	once sync.Once
}

func (r *memRow) Product() orders.Product { return r.e.p }

func (r *memRow) Adjust(_ context.Context, delta int) error {
	if delta > 0 && r.e.p.Stock > orders.MaxQuantity-delta {
		return fmt.Errorf("product %d: %w", r.e.p.ID, orders.ErrStockLimit)
	}
	if r.e.p.Stock+delta < 0 {
		return fmt.Errorf("product %d: stock %d cannot absorb %d", r.e.p.ID, r.e.p.Stock, delta)
	}
	r.e.p.Stock += delta
	return nil
}

func (r *memRow) Unlock() { r.once.Do(r.e.unlock) }
