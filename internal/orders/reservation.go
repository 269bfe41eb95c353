package orders

import (
	"context"
	"github.com/pkg/errors"
	"sort"
)

// Reservations holds stock for orders. Every call runs inside the caller's tx:
// all affected product rows are locked up front in ascending id order, checked,
// and only then adjusted. Nothing is written when a check fails, and the
// caller's rollback undoes the rest.
type Reservations struct {
	Ledger Ledger
}

// Reserve takes quantity units of every line, or none at all.
// The returned map holds the locked products after adjustment.
func (r *Reservations) Reserve(ctx context.Context, tx Tx, lines []Line) (map[string]Product, error) {
	deltas := make(map[string]int, len(lines))
	for _, l := range lines {
		deltas[l.ProductID] += l.Quantity
	}
	return r.Apply(ctx, tx, deltas)
}

// Release gives back quantity units of every line. It never checks bounds and
// skips products that no longer exist.
func (r *Reservations) Release(ctx context.Context, tx Tx, lines []Line) error {
	deltas := make(map[string]int, len(lines))
	for _, l := range lines {
		deltas[l.ProductID] -= l.Quantity
	}
	ids := sortedIDs(deltas)
	locked, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "lock products")
	}
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			continue
		}
		if _, err := r.Ledger.Adjust(ctx, tx, id, deltas[id]); err != nil {
			return err
		}
	}
	return nil
}

// Apply runs signed per-product deltas: positive reserves, negative releases.
// Check phase: lock the union of products, verify existence and that every
// positive delta is covered by stock. Commit phase: adjust each product.
func (r *Reservations) Apply(ctx context.Context, tx Tx, deltas map[string]int) (map[string]Product, error) {
	ids := sortedIDs(deltas)
	locked, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}

	for _, id := range ids {
		p, ok := locked[id]
		if !ok {
			if deltas[id] > 0 {
				return nil, &ProductNotFoundError{ProductID: id}
			}
			continue
		}
		if need := deltas[id]; need > 0 && p.Stock < need {
			return nil, &InsufficientStockError{ProductID: id, Product: p.Name, Available: p.Stock, Required: need}
		}
	}

	for _, id := range ids {
		if _, ok := locked[id]; !ok || deltas[id] == 0 {
			continue
		}
		p, err := r.Ledger.Adjust(ctx, tx, id, deltas[id])
		if err != nil {
			return nil, err
		}
		locked[id] = p
	}
	return locked, nil
}

func sortedIDs(m map[string]int) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
