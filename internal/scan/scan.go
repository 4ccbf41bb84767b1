// Package scan drives cursor-based key space walks with client-side
// filtering. A session owns one walk: the cursor advances strictly
// sequentially, and a key present for the whole walk is visited at
// least once. Keys created or deleted mid-walk may be seen zero or
// more times, which is a property of the underlying iteration, not a
// bug.
package scan

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	schema "gitlab.diskarte.net/engineering/redis-admin"
	"gitlab.diskarte.net/engineering/redis-admin/internal/redis"
)

// DefaultBatchSize is the COUNT hint used when the caller passes none.
const DefaultBatchSize = 100

// Bloom sizing for the opt-in duplicate filter. The false positive
// rate is the chance of wrongly skipping a key, so Dedup stays off
// unless a duplicate is only wasted work.
const (
	dedupCapacity      = 1 << 20
	dedupFalsePositive = 0.001
)

// Filters narrow a walk after each batch. The iteration primitive
// only matches on name, everything else is applied client-side.
// Zero values mean "no bound".
type Filters struct {
	Type    schema.KeyType
	TTLMin  time.Duration
	TTLMax  time.Duration
	SizeMin int64
	SizeMax int64
	// Dedup suppresses keys the walk already yielded. Backed by a
	// bloom filter, so it can wrongly skip a key with probability
	// dedupFalsePositive.
	Dedup bool
}

func (f Filters) needInspect() bool {
	return f.Type != "" || f.TTLMin > 0 || f.TTLMax > 0 || f.SizeMin > 0 || f.SizeMax > 0
}

func (f Filters) match(d schema.KeyDescriptor) bool {
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	if f.TTLMin > 0 && (d.TTL == schema.TTLNone || d.TTL < f.TTLMin) {
		return false
	}
	if f.TTLMax > 0 && (d.TTL == schema.TTLNone || d.TTL > f.TTLMax) {
		return false
	}
	if f.SizeMin > 0 && (d.ApproxSize == schema.SizeUnknown || d.ApproxSize < f.SizeMin) {
		return false
	}
	if f.SizeMax > 0 && (d.ApproxSize == schema.SizeUnknown || d.ApproxSize > f.SizeMax) {
		return false
	}
	return true
}

// Session is a one-shot walk. Restarting means opening a fresh
// session with a fresh cursor.
type Session struct {
	client    *redis.Client
	pattern   string
	batchSize int
	filters   Filters

	cursor  string
	started bool
	done    bool

	visited atomic.Int64
	matched atomic.Int64

	seen *bloom.BloomFilter
}

var _ schema.Scanner = (*Session)(nil)

// Open validates the pattern and prepares a session. No store round
// trip happens until the first NextBatch.
func Open(client *redis.Client, pattern string, batchSize int, filters Filters) (*Session, error) {
	if err := schema.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	s := &Session{
		client:    client,
		pattern:   pattern,
		batchSize: batchSize,
		filters:   filters,
		cursor:    "0",
	}
	if filters.Dedup {
		s.seen = bloom.NewWithEstimates(dedupCapacity, dedupFalsePositive)
	}
	return s, nil
}

// Done reports exhaustion: the store handed the start cursor back
// after at least one round trip.
func (s *Session) Done() bool { return s.done }

// Visited counts keys the store returned, before filtering.
func (s *Session) Visited() int64 { return s.visited.Load() }

// Matched counts keys that passed all filters.
func (s *Session) Matched() int64 { return s.matched.Load() }

// NextBatch advances the cursor one step and returns the descriptors
// that pass the filters. The batch may be empty without the walk
// being exhausted; callers loop until Done.
func (s *Session) NextBatch(ctx context.Context) ([]schema.KeyDescriptor, error) {
	if s.done {
		return nil, nil
	}
	batch, err := s.client.ScanBatch(ctx, s.cursor, s.pattern, s.batchSize)
	if err != nil {
		return nil, err
	}
	s.cursor = batch.Cursor
	s.started = true
	if batch.Cursor == "0" {
		s.done = true
	}

	out := make([]schema.KeyDescriptor, 0, len(batch.Keys))
	for _, key := range batch.Keys {
		s.visited.Add(1)
		if s.seen != nil && s.seen.TestAndAddString(key) {
			continue
		}
		desc := schema.KeyDescriptor{
			Name:       key,
			Type:       schema.TypeUnknown,
			TTL:        schema.TTLNone,
			ApproxSize: schema.SizeUnknown,
		}
		if s.filters.needInspect() {
			d, err := s.client.Inspect(ctx, key)
			if errors.Is(err, schema.ErrNotFound) {
				continue // deleted mid-walk, skip
			}
			if err != nil {
				return nil, err
			}
			if !s.filters.match(d) {
				continue
			}
			desc = d
		}
		s.matched.Add(1)
		out = append(out, desc)
	}
	return out, nil
}
