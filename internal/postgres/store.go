package postgres

import (
	"context"
	"fmt"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgLockNotAvailable    = "55P03"
)

// ErrLockTimeout is returned when a row lock was not granted within lock_timeout.
var ErrLockTimeout = errors.New("timed out waiting for a row lock")

// Store runs the order core against Postgres. Row locks are plain
// SELECT ... FOR UPDATE taken in id order.
type Store struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

var _ orders.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{DB: db, LockTimeout: lockTimeout}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if s.LockTimeout > 0 {
		ms := fmt.Sprintf("%dms", s.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return errors.Wrap(err, "set lock_timeout")
		}
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(mapErr(err), "commit")
	}
	return nil
}

const orderColumns = `id::text, user_id, status, note, total::text, created_at, updated_at`
const productColumns = `id::text, name, price::text, stock, sold_count, created_at, updated_at`

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	if !validID(id) {
		return nil, orders.ErrOrderNotFound
	}
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	items, err := loadItems(ctx, s.DB, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, f.Search)
		where = append(where, fmt.Sprintf("note ILIKE '%%' || $%d || '%%'", len(args)))
	}
	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY ` + orderOrderBy[f.Ordering]

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var out []orders.Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if len(ids) == 0 {
		return []orders.Order{}, nil
	}

	items, err := loadItems(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

var orderOrderBy = map[string]string{
	"created_at":  "created_at ASC, id",
	"-created_at": "created_at DESC, id",
	"total":       "total ASC, id",
	"-total":      "total DESC, id",
	"":            "created_at DESC, id",
}

var productOrderBy = map[string]string{
	"price":       "price ASC, id",
	"-price":      "price DESC, id",
	"created_at":  "created_at ASC, id",
	"-created_at": "created_at DESC, id",
	"":            "created_at ASC, id",
}

func (s *Store) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	if !validID(id) {
		return nil, &orders.ProductNotFoundError{ProductID: id}
	}
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &orders.ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, f orders.ProductFilter) ([]orders.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products`
	var args []any
	if f.Search != "" {
		q += ` WHERE name ILIKE '%' || $1 || '%'`
		args = append(args, f.Search)
	}
	q += ` ORDER BY ` + productOrderBy[f.Ordering]

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	out := []orders.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, *p)
	}
	return out, errors.Wrap(rows.Err(), "list products")
}

// querier is what pgxpool.Pool and pgx.Tx have in common for reads.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT i.id::text, i.order_id::text, i.product_id::text, p.name, i.quantity, i.unit_price::text, i.created_at
		FROM order_items i
		JOIN products p ON p.id = i.product_id
		WHERE i.order_id = ANY($1::text[]::uuid[])
		ORDER BY i.created_at, i.id`, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "load items")
	}
	defer rows.Close()

	out := make(map[string][]orders.OrderItem, len(orderIDs))
	for _, id := range orderIDs {
		out[id] = []orders.OrderItem{}
	}
	for rows.Next() {
		var (
			it    orders.OrderItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &price, &it.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, errors.Wrapf(err, "item %s unit price", it.ID)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, errors.Wrap(rows.Err(), "load items")
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o      orders.Order
		status string
		total  string
	)
	err := row.Scan(&o.ID, &o.UserID, &status, &o.Note, &total, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan order")
	}
	o.Status = orders.Status(status)
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrapf(err, "order %s total", o.ID)
	}
	return &o, nil
}

func scanProduct(row pgx.Row) (*orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.SoldCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, errors.Wrapf(err, "product %s price", p.ID)
	}
	return &p, nil
}

// validID filters out ids Postgres would reject as malformed uuid input; they
// cannot name a row anyway.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// mapErr turns constraint and lock errors into the core's vocabulary.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgForeignKeyViolation:
		// raised against the referenced table when a delete is restricted
		if pgErr.TableName == "products" {
			return orders.ErrProductInUse
		}
	case pgLockNotAvailable:
		return errors.Wrap(ErrLockTimeout, pgErr.Message)
	}
	return err
}
