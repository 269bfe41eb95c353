package orders

import (
	"context"
	"github.com/shopspring/decimal"
)

// Store is the persistence the service runs against. Postgres in production,
// memstore in tests and local runs.
type Store interface {
	// WithTx runs fn in one transaction. fn returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]Product, error)
}

// Tx is the transaction scope. Row locks taken through it are held until the
// transaction ends.
type Tx interface {
	// LockProducts locks the given rows in ascending id order and returns the
	// ones that exist. Rows already locked by this tx are returned without
	// locking again.
	LockProducts(ctx context.Context, ids []string) (map[string]Product, error)
	SetProductCounters(ctx context.Context, id string, stock, sold int) error
	InsertProduct(ctx context.Context, p *Product) error
	// UpdateProduct persists name, price and updated_at. Counters only change
	// through SetProductCounters.
	UpdateProduct(ctx context.Context, p *Product) error
	// DeleteProduct returns ErrProductInUse while order items reference it.
	DeleteProduct(ctx context.Context, id string) error

	// LockOrder locks the order row and loads it with its items. ErrOrderNotFound if absent.
	LockOrder(ctx context.Context, id string) (*Order, error)
	InsertOrder(ctx context.Context, o *Order) error
	// UpdateOrder persists status, note, total and updated_at.
	UpdateOrder(ctx context.Context, o *Order) error
	ReplaceOrderItems(ctx context.Context, orderID string, items []OrderItem) error
	DeleteOrder(ctx context.Context, id string) error
}

type OrderFilter struct {
	UserID   string // empty means all users
	Status   Status
	Search   string // substring of note, case-insensitive
	Ordering string // created_at, -created_at, total, -total
}

type ProductFilter struct {
	Search   string // substring of name, case-insensitive
	Ordering string // price, -price, created_at, -created_at
}

type ProductInfo struct {
	Products []Product        `json:"products"`
	Count    int              `json:"count"`
	MaxPrice *decimal.Decimal `json:"max_price"`
}

var (
	orderOrderings   = map[string]bool{"created_at": true, "-created_at": true, "total": true, "-total": true}
	productOrderings = map[string]bool{"price": true, "-price": true, "created_at": true, "-created_at": true}
)

// Normalize drops unknown ordering keys. Orders default to newest first.
func (f OrderFilter) Normalize() OrderFilter {
	if !orderOrderings[f.Ordering] {
		f.Ordering = "-created_at"
	}
	return f
}

func (f ProductFilter) Normalize() ProductFilter {
	if !productOrderings[f.Ordering] {
		f.Ordering = ""
	}
	return f
}
