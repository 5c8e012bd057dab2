package redisx

import "time"

const (
	// Idempotent order placement: idem:order:place:{user_id}:{key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s:%s"

	// Cached order view: order:{order_id} -> JSON body of GET /orders/{id}
	KeyOrder = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

// IdemPending marks an idempotency key whose request is still running.
const IdemPending = "pending"

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
