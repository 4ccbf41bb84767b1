package redis_admin

import (
	"context"
	"time"
)

// Scanner yields descriptor batches from a cursor-driven key space
// walk. Batches are strictly ordered: implementations never issue two
// cursor requests concurrently. An empty batch does not mean
// exhaustion, callers loop until Done reports true.
type Scanner interface {
	NextBatch(ctx context.Context) ([]KeyDescriptor, error)
	Done() bool
	Visited() int64
	Matched() int64
}

// Inspector enriches descriptors with type, TTL, memory usage and
// internal encoding. Detail fetches are independent per key and may
// run with bounded parallelism.
type Inspector interface {
	Describe(ctx context.Context, name string) (KeyDescriptor, error)
	Detail(ctx context.Context, descs []KeyDescriptor) ([]KeyDescriptor, error)
}

// Codec moves values between the store and the canonical envelope.
type Codec interface {
	Fetch(ctx context.Context, desc KeyDescriptor) (Value, error)
	Store(ctx context.Context, name string, value Value, ttl time.Duration) error
}
