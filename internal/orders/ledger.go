package orders

import (
	"context"
	"github.com/pkg/errors"
)

// Counters is the (stock, sold_count) pair the ledger owns.
type Counters struct {
	Stock int
	Sold  int
}

// Apply returns the counters after delta units are sold (delta > 0) or returned (delta < 0).
// sold_count never drops below zero; historical rows that are already short are absorbed here.
func (c Counters) Apply(delta int) Counters {
	if delta >= 0 {
		return Counters{Stock: c.Stock - delta, Sold: c.Sold + delta}
	}
	n := -delta
	return Counters{Stock: c.Stock + n, Sold: floorZero(c.Sold - n)}
}

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Ledger is the only code path allowed to change stock and sold_count.
type Ledger struct{}

// Adjust applies delta to one product inside tx. The row is locked first (a
// no-op when the caller already holds it), so the read and the write form a
// single atomic step.
func (Ledger) Adjust(ctx context.Context, tx Tx, productID string, delta int) (Product, error) {
	locked, err := tx.LockProducts(ctx, []string{productID})
	if err != nil {
		return Product{}, errors.Wrapf(err, "lock product %s", productID)
	}
	p, ok := locked[productID]
	if !ok {
		return Product{}, &ProductNotFoundError{ProductID: productID}
	}
	if delta == 0 {
		return p, nil
	}

	next := Counters{Stock: p.Stock, Sold: p.SoldCount}.Apply(delta)
	if next.Stock < 0 {
		return p, &InsufficientStockError{ProductID: p.ID, Product: p.Name, Available: p.Stock, Required: delta}
	}
	if err := tx.SetProductCounters(ctx, productID, next.Stock, next.Sold); err != nil {
		return p, errors.Wrapf(err, "update counters for product %s", productID)
	}
	p.Stock, p.SoldCount = next.Stock, next.Sold
	return p, nil
}

// SetStock overwrites the available stock after a physical count. sold_count is
// left alone: a recount is not a sale.
func (Ledger) SetStock(ctx context.Context, tx Tx, productID string, stock int) (Product, error) {
	locked, err := tx.LockProducts(ctx, []string{productID})
	if err != nil {
		return Product{}, errors.Wrapf(err, "lock product %s", productID)
	}
	p, ok := locked[productID]
	if !ok {
		return Product{}, &ProductNotFoundError{ProductID: productID}
	}
	if stock < 0 {
		return p, ErrInvalidProduct
	}
	if err := tx.SetProductCounters(ctx, productID, stock, p.SoldCount); err != nil {
		return p, errors.Wrapf(err, "update counters for product %s", productID)
	}
	p.Stock = stock
	return p, nil
}
