// Package memstore keeps products and orders in process memory. It honours the
// same locking contract as the Postgres store: exclusive per-row locks held
// until the transaction ends, writes invisible to others until commit.
package memstore

import (
	"context"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/pkg/errors"
	"sort"
	"strings"
	"sync"
)

type productRow struct {
	lock rowLock
	data orders.Product
}

type orderRow struct {
	lock rowLock
	data orders.Order // includes items
}

type Store struct {
	mu       sync.RWMutex
	products map[string]*productRow
	orders   map[string]*orderRow
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products: make(map[string]*productRow),
		orders:   make(map[string]*orderRow),
	}
}

// Seed stores products as they are, bypassing the ledger. Meant for fixtures.
func (s *Store) Seed(ps ...orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		s.products[p.ID] = &productRow{lock: newRowLock(), data: p}
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	t := newTx(s)
	defer t.release()
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "commit")
	}
	t.commit()
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	o := s.withNames(copyOrder(row.data))
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	s.mu.RLock()
	out := make([]orders.Order, 0, len(s.orders))
	search := strings.ToLower(f.Search)
	for _, row := range s.orders {
		o := row.data
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(o.Note), search) {
			continue
		}
		out = append(out, s.withNames(copyOrder(o)))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Ordering {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt) || a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID
		case "total":
			return a.Total.LessThan(b.Total) || a.Total.Equal(b.Total) && a.ID < b.ID
		case "-total":
			return a.Total.GreaterThan(b.Total) || a.Total.Equal(b.Total) && a.ID < b.ID
		default:
			return a.CreatedAt.After(b.CreatedAt) || a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID
		}
	})
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.products[id]
	if !ok {
		return nil, &orders.ProductNotFoundError{ProductID: id}
	}
	p := row.data
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, f orders.ProductFilter) ([]orders.Product, error) {
	s.mu.RLock()
	out := make([]orders.Product, 0, len(s.products))
	search := strings.ToLower(f.Search)
	for _, row := range s.products {
		if search != "" && !strings.Contains(strings.ToLower(row.data.Name), search) {
			continue
		}
		out = append(out, row.data)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Ordering {
		case "price":
			return a.Price.LessThan(b.Price) || a.Price.Equal(b.Price) && a.ID < b.ID
		case "-price":
			return a.Price.GreaterThan(b.Price) || a.Price.Equal(b.Price) && a.ID < b.ID
		case "-created_at":
			return a.CreatedAt.After(b.CreatedAt) || a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID
		default:
			return a.CreatedAt.Before(b.CreatedAt) || a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID
		}
	})
	return out, nil
}

// withNames fills item product names from the catalogue. Caller holds s.mu.
func (s *Store) withNames(o orders.Order) orders.Order {
	for i := range o.Items {
		if row, ok := s.products[o.Items[i].ProductID]; ok {
			o.Items[i].ProductName = row.data.Name
		}
	}
	return o
}

func copyOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.OrderItem(nil), o.Items...)
	if o.Items == nil {
		o.Items = []orders.OrderItem{}
	}
	return o
}
