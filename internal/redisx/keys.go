package redisx

import "time"

const (
	// Idempotent create: idem:order:create:{user_id}:{idempotency_key} -> order_id ("" while in flight)
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Status projection: order_status:{order_id} -> OrderStatus JSON
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 30 * time.Minute
	TTLDedup       = 48 * time.Hour
)
