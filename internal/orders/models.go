package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	SoldCount int             `json:"sold_count"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Order struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Status    Status          `json:"status"` // see status.go
	Note      string          `json:"note"`
	Total     decimal.Decimal `json:"total"`
	Items     []OrderItem     `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RecalculateTotal sets Total from the live item set. Total is never written any other way.
func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	o.Total = total
}

// Lines returns the stock lines the order holds while it is active.
func (o *Order) Lines() []Line {
	out := make([]Line, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

func (o *Order) item(id string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return OrderItem{}, false
}

type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"` // snapshot, not the live product price
	CreatedAt   time.Time       `json:"created_at"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Line is a (product, quantity) pair handed to the reservation engine.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Actor is whoever calls the service. Authentication happens upstream.
type Actor struct {
	UserID string
	Admin  bool
}

func (a Actor) canAccess(o *Order) bool {
	return a.Admin || o.UserID == a.UserID
}
