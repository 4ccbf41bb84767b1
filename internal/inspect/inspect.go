// Package inspect enriches key descriptors with type, TTL, memory
// usage and internal encoding.
package inspect

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	schema "gitlab.diskarte.net/engineering/redis-admin"
	"gitlab.diskarte.net/engineering/redis-admin/internal/redis"
)

// DefaultLimit bounds parallel detail fetches.
const DefaultLimit = 10

type Inspector struct {
	client *redis.Client
	limit  int
}

var _ schema.Inspector = (*Inspector)(nil)

func New(client *redis.Client, limit int) *Inspector {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Inspector{client: client, limit: limit}
}

// Describe resolves the type of a single key.
func (i *Inspector) Describe(ctx context.Context, name string) (schema.KeyDescriptor, error) {
	typ, err := i.client.TypeOf(ctx, name)
	if err != nil {
		return schema.KeyDescriptor{}, err
	}
	return schema.KeyDescriptor{
		Name:       name,
		Type:       typ,
		TTL:        schema.TTLNone,
		ApproxSize: schema.SizeUnknown,
	}, nil
}

// DetailOne re-fetches the full descriptor for one key.
func (i *Inspector) DetailOne(ctx context.Context, desc schema.KeyDescriptor) (schema.KeyDescriptor, error) {
	return i.client.Inspect(ctx, desc.Name)
}

// Detail enriches a batch with bounded parallelism, preserving input
// order. Keys deleted since the scan are dropped, not reported.
func (i *Inspector) Detail(ctx context.Context, descs []schema.KeyDescriptor) ([]schema.KeyDescriptor, error) {
	results := make([]*schema.KeyDescriptor, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.limit)
	for idx, desc := range descs {
		idx, desc := idx, desc
		g.Go(func() error {
			d, err := i.client.Inspect(gctx, desc.Name)
			if errors.Is(err, schema.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			results[idx] = &d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]schema.KeyDescriptor, 0, len(descs))
	for _, d := range results {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}
