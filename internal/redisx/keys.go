package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{submission_token} -> order_id
	// (atau "inflight" selama submission masih diproses)
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

const inflight = "inflight"

var (
	TTLIdempotency = 24 * time.Hour
	// In-flight marker outlives a stuck request but not by much; a crashed
	// submission frees its token on its own.
	TTLInFlight = 30 * time.Second
	TTLDedup    = 48 * time.Hour
)
