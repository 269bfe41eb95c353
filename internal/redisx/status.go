package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"time"
)

// OrderStatus is the read model kept under KeyOrderStatus.
type OrderStatus struct {
	OrderID            string          `json:"order_id"`
	UserID             string          `json:"user_id"`
	Status             orders.Status   `json:"status"`
	AllowedTransitions []orders.Action `json:"allowed_transitions"`
	Total              decimal.Decimal `json:"total"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func StatusOf(o *orders.Order) OrderStatus {
	return OrderStatus{
		OrderID:            o.ID,
		UserID:             o.UserID,
		Status:             o.Status,
		AllowedTransitions: orders.AllowedActions(o.Status),
		Total:              o.Total,
		UpdatedAt:          o.UpdatedAt,
	}
}

// StatusCache reads and writes the order status projection.
type StatusCache struct {
	Redis redis.Cmdable
}

// Set stores st unless a newer snapshot is already cached. Events for one
// order arrive in order, so the check only matters for replays.
func (c *StatusCache) Set(ctx context.Context, st OrderStatus) error {
	cur, ok, err := c.Get(ctx, st.OrderID)
	if err != nil {
		return err
	}
	if ok && cur.UpdatedAt.After(st.UpdatedAt) {
		return nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode order status")
	}
	key := fmt.Sprintf(KeyOrderStatus, st.OrderID)
	return errors.Wrap(c.Redis.Set(ctx, key, b, TTLStatusCache).Err(), "set order status")
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (OrderStatus, bool, error) {
	var st OrderStatus
	b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return st, false, nil
	}
	if err != nil {
		return st, false, errors.Wrap(err, "get order status")
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, false, errors.Wrap(err, "decode order status")
	}
	return st, true, nil
}

func (c *StatusCache) Delete(ctx context.Context, orderID string) error {
	return errors.Wrap(c.Redis.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err(), "delete order status")
}
