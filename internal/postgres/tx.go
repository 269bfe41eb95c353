package postgres

import (
	"context"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"sort"
)

type pgTx struct {
	tx pgx.Tx
}

var _ orders.Tx = (*pgTx)(nil)

// LockProducts locks in ascending id order. Postgres grants a row lock the
// transaction already holds without waiting, so re-locking is harmless.
func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	sort.Strings(valid)
	out := make(map[string]orders.Product, len(valid))
	if len(valid) == 0 {
		return out, nil
	}

	rows, err := t.tx.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1::text[]::uuid[])
		ORDER BY id
		FOR UPDATE`, valid)
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "lock products")
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(mapErr(err), "lock products")
		}
		out[p.ID] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(mapErr(err), "lock products")
	}
	return out, nil
}

func (t *pgTx) SetProductCounters(ctx context.Context, id string, stock, sold int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET stock = $2, sold_count = $3, updated_at = now() WHERE id = $1`, id, stock, sold)
	if err != nil {
		return errors.Wrap(err, "update counters")
	}
	if ct.RowsAffected() != 1 {
		return &orders.ProductNotFoundError{ProductID: id}
	}
	return nil
}

func (t *pgTx) InsertProduct(ctx context.Context, p *orders.Product) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO products (id, name, price, stock, sold_count, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`,
		p.ID, p.Name, p.Price.String(), p.Stock, p.SoldCount, p.CreatedAt, p.UpdatedAt)
	return errors.Wrap(err, "insert product")
}

func (t *pgTx) UpdateProduct(ctx context.Context, p *orders.Product) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET name = $2, price = $3::numeric, updated_at = $4 WHERE id = $1`,
		p.ID, p.Name, p.Price.String(), p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update product")
	}
	if ct.RowsAffected() != 1 {
		return &orders.ProductNotFoundError{ProductID: p.ID}
	}
	return nil
}

func (t *pgTx) DeleteProduct(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if mapped := mapErr(err); mapped == orders.ErrProductInUse {
			return mapped
		}
		return errors.Wrap(err, "delete product")
	}
	if ct.RowsAffected() != 1 {
		return &orders.ProductNotFoundError{ProductID: id}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	if !validID(id) {
		return nil, orders.ErrOrderNotFound
	}
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	items, err := loadItems(ctx, t.tx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, note, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
		o.ID, o.UserID, string(o.Status), o.Note, o.Total.String(), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}
	return t.insertItems(ctx, o.ID, o.Items)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, note = $3, total = $4::numeric, updated_at = $5 WHERE id = $1`,
		o.ID, string(o.Status), o.Note, o.Total.String(), o.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update order")
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) ReplaceOrderItems(ctx context.Context, orderID string, items []orders.OrderItem) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return errors.Wrap(err, "clear items")
	}
	return t.insertItems(ctx, orderID, items)
}

func (t *pgTx) insertItems(ctx context.Context, orderID string, items []orders.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(`
			INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, created_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
			it.ID, orderID, it.ProductID, it.Quantity, it.UnitPrice.String(), it.CreatedAt)
	}
	if err := t.tx.SendBatch(ctx, b).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &orders.DuplicateItemError{ProductID: duplicateProduct(items)}
		}
		return errors.Wrap(err, "insert items")
	}
	return nil
}

func duplicateProduct(items []orders.OrderItem) string {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.ProductID] {
			return it.ProductID
		}
		seen[it.ProductID] = true
	}
	return ""
}

func (t *pgTx) DeleteOrder(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete order")
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}
