package memstore

import (
	"context"
	"fmt"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"sort"
)

// tx buffers every write and applies it on commit. Rows it locked stay locked
// until release, which runs on commit and on rollback alike.
type tx struct {
	s *Store

	heldProducts map[string]*productRow
	heldOrders   map[string]*orderRow

	products        map[string]orders.Product // view of locked or inserted rows
	newProducts     map[string]bool
	deletedProducts map[string]bool

	orders        map[string]*orders.Order
	newOrders     map[string]bool
	deletedOrders map[string]bool
}

var _ orders.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:               s,
		heldProducts:    map[string]*productRow{},
		heldOrders:      map[string]*orderRow{},
		products:        map[string]orders.Product{},
		newProducts:     map[string]bool{},
		deletedProducts: map[string]bool{},
		orders:          map[string]*orders.Order{},
		newOrders:       map[string]bool{},
		deletedOrders:   map[string]bool{},
	}
}

func (t *tx) LockProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make(map[string]orders.Product, len(sorted))
	for _, id := range sorted {
		if t.deletedProducts[id] {
			continue
		}
		if p, ok := t.products[id]; ok {
			out[id] = p
			continue
		}

		t.s.mu.RLock()
		row := t.s.products[id]
		t.s.mu.RUnlock()
		if row == nil {
			continue
		}
		if err := row.lock.acquire(ctx); err != nil {
			return nil, fmt.Errorf("lock product %s: %w", id, err)
		}
		t.s.mu.RLock()
		current := t.s.products[id]
		data := row.data
		t.s.mu.RUnlock()
		if current != row {
			// deleted while we waited
			row.lock.release()
			continue
		}
		t.heldProducts[id] = row
		t.products[id] = data
		out[id] = data
	}
	return out, nil
}

func (t *tx) SetProductCounters(ctx context.Context, id string, stock, sold int) error {
	p, ok := t.products[id]
	if !ok || t.deletedProducts[id] {
		return fmt.Errorf("product %s is not locked by this transaction", id)
	}
	p.Stock, p.SoldCount = stock, sold
	t.products[id] = p
	return nil
}

func (t *tx) InsertProduct(ctx context.Context, p *orders.Product) error {
	t.products[p.ID] = *p
	t.newProducts[p.ID] = true
	return nil
}

func (t *tx) UpdateProduct(ctx context.Context, p *orders.Product) error {
	cur, ok := t.products[p.ID]
	if !ok || t.deletedProducts[p.ID] {
		return fmt.Errorf("product %s is not locked by this transaction", p.ID)
	}
	cur.Name, cur.Price, cur.UpdatedAt = p.Name, p.Price, p.UpdatedAt
	t.products[p.ID] = cur
	return nil
}

func (t *tx) DeleteProduct(ctx context.Context, id string) error {
	if _, ok := t.products[id]; !ok {
		return fmt.Errorf("product %s is not locked by this transaction", id)
	}
	for _, o := range t.orders {
		if !t.deletedOrders[o.ID] && references(o, id) {
			return orders.ErrProductInUse
		}
	}
	t.s.mu.RLock()
	for oid, row := range t.s.orders {
		if _, mine := t.orders[oid]; mine {
			continue
		}
		if references(&row.data, id) {
			t.s.mu.RUnlock()
			return orders.ErrProductInUse
		}
	}
	t.s.mu.RUnlock()
	t.deletedProducts[id] = true
	return nil
}

func references(o *orders.Order, productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

func (t *tx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	if t.deletedOrders[id] {
		return nil, orders.ErrOrderNotFound
	}
	if o, ok := t.orders[id]; ok {
		c := copyOrder(*o)
		return &c, nil
	}

	t.s.mu.RLock()
	row := t.s.orders[id]
	t.s.mu.RUnlock()
	if row == nil {
		return nil, orders.ErrOrderNotFound
	}
	if err := row.lock.acquire(ctx); err != nil {
		return nil, fmt.Errorf("lock order %s: %w", id, err)
	}
	t.s.mu.RLock()
	current := t.s.orders[id]
	data := t.s.withNames(copyOrder(row.data))
	t.s.mu.RUnlock()
	if current != row {
		row.lock.release()
		return nil, orders.ErrOrderNotFound
	}
	t.heldOrders[id] = row
	t.orders[id] = &data
	c := copyOrder(data)
	return &c, nil
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	c := copyOrder(*o)
	t.orders[o.ID] = &c
	t.newOrders[o.ID] = true
	return nil
}

func (t *tx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	cur, ok := t.orders[o.ID]
	if !ok || t.deletedOrders[o.ID] {
		return fmt.Errorf("order %s is not locked by this transaction", o.ID)
	}
	cur.Status, cur.Note, cur.Total, cur.UpdatedAt = o.Status, o.Note, o.Total, o.UpdatedAt
	return nil
}

func (t *tx) ReplaceOrderItems(ctx context.Context, orderID string, items []orders.OrderItem) error {
	cur, ok := t.orders[orderID]
	if !ok || t.deletedOrders[orderID] {
		return fmt.Errorf("order %s is not locked by this transaction", orderID)
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.ProductID] {
			return &orders.DuplicateItemError{ProductID: it.ProductID}
		}
		seen[it.ProductID] = true
	}
	cur.Items = append([]orders.OrderItem(nil), items...)
	return nil
}

func (t *tx) DeleteOrder(ctx context.Context, id string) error {
	if _, ok := t.orders[id]; !ok {
		return fmt.Errorf("order %s is not locked by this transaction", id)
	}
	t.deletedOrders[id] = true
	return nil
}

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range t.products {
		switch {
		case t.deletedProducts[id]:
			delete(s.products, id)
		case t.newProducts[id]:
			s.products[id] = &productRow{lock: newRowLock(), data: p}
		default:
			t.heldProducts[id].data = p
		}
	}
	for id, o := range t.orders {
		switch {
		case t.deletedOrders[id]:
			delete(s.orders, id)
		case t.newOrders[id]:
			s.orders[id] = &orderRow{lock: newRowLock(), data: copyOrder(*o)}
		default:
			t.heldOrders[id].data = copyOrder(*o)
		}
	}
}

func (t *tx) release() {
	for id, row := range t.heldProducts {
		row.lock.release()
		delete(t.heldProducts, id)
	}
	for id, row := range t.heldOrders {
		row.lock.release()
		delete(t.heldOrders, id)
	}
}
