package orders

import (
	"encoding/json"
	"github.com/shopspring/decimal"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderItemsUpdated  = "OrderItemsUpdated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderDeleted       = "OrderDeleted"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "stockkeeper-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// StockDelta is a net ledger movement; positive means units were reserved.
type StockDelta struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

// OrderPayload is shared by every order lifecycle event. StockDeltas carries what
// the event did to inventory.
type OrderPayload struct {
	OrderID            string          `json:"order_id"`
	UserID             string          `json:"user_id"`
	Status             Status          `json:"status"`
	PreviousStatus     Status          `json:"previous_status,omitempty"`
	Total              decimal.Decimal `json:"total"`
	AllowedTransitions []Action        `json:"allowed_transitions"`
	StockDeltas        []StockDelta    `json:"stock_deltas,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func newOrderPayload(o *Order, deltas map[string]int) OrderPayload {
	p := OrderPayload{
		OrderID:            o.ID,
		UserID:             o.UserID,
		Status:             o.Status,
		Total:              o.Total,
		AllowedTransitions: AllowedActions(o.Status),
		UpdatedAt:          o.UpdatedAt,
	}
	for _, id := range sortedIDs(deltas) {
		if deltas[id] != 0 {
			p.StockDeltas = append(p.StockDeltas, StockDelta{ProductID: id, Delta: deltas[id]})
		}
	}
	return p
}

func linesToDeltas(lines []Line, sign int) map[string]int {
	out := make(map[string]int, len(lines))
	for _, l := range lines {
		out[l.ProductID] += sign * l.Quantity
	}
	return out
}
