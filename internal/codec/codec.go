// Package codec moves values between the store's five shapes and the
// canonical envelope, and between the envelope and its text forms.
package codec

import (
	"context"
	"errors"
	"log"
	"time"

	schema "gitlab.diskarte.net/engineering/redis-admin"
	"gitlab.diskarte.net/engineering/redis-admin/internal/redis"
)

type Codec struct {
	client *redis.Client
}

var _ schema.Codec = (*Codec)(nil)

func New(client *redis.Client) *Codec {
	return &Codec{client: client}
}

// Fetch dispatches to the type-appropriate read command. A key whose
// type changed since the descriptor was taken yields TypeMismatch; a
// key that vanished yields ErrNotFound.
func (c *Codec) Fetch(ctx context.Context, desc schema.KeyDescriptor) (schema.Value, error) {
	typ := desc.Type
	if typ == "" || typ == schema.TypeUnknown {
		t, err := c.client.TypeOf(ctx, desc.Name)
		if err != nil {
			return schema.Value{}, err
		}
		typ = t
	}

	v := schema.Value{Type: typ}
	var err error
	switch typ {
	case schema.TypeString:
		v.Str, err = c.client.GetString(ctx, desc.Name)
	case schema.TypeHash:
		v.Hash, err = c.client.GetHash(ctx, desc.Name)
	case schema.TypeList:
		v.List, err = c.client.GetList(ctx, desc.Name)
	case schema.TypeSet:
		v.Set, err = c.client.GetSet(ctx, desc.Name)
	case schema.TypeSortedSet:
		v.Sorted, err = c.client.GetSortedSet(ctx, desc.Name)
	default:
		return schema.Value{}, &schema.TypeMismatchError{Key: desc.Name, Want: desc.Type, Got: typ}
	}
	if err != nil {
		if redis.IsWrongType(err) {
			return schema.Value{}, &schema.TypeMismatchError{Key: desc.Name, Want: typ}
		}
		return schema.Value{}, err
	}
	// Aggregates never exist empty; an empty reply means the key is
	// gone.
	if typ != schema.TypeString && v.Len() == 0 {
		return schema.Value{}, schema.ErrNotFound
	}
	return v, nil
}

// Store dispatches to the type-appropriate write commands. Aggregate
// writes replace, not merge. String TTLs apply atomically via PX; for
// other types the expire follows the write, and its failure is a
// warning rather than an error.
func (c *Codec) Store(ctx context.Context, name string, value schema.Value, ttl time.Duration) error {
	if value.Type == schema.TypeString {
		return c.client.SetString(ctx, name, value.Str, ttl)
	}

	if _, err := c.client.Del(ctx, name); err != nil {
		return err
	}
	var err error
	switch value.Type {
	case schema.TypeHash:
		err = c.client.SetHash(ctx, name, value.Hash)
	case schema.TypeList:
		err = c.client.PushList(ctx, name, value.List)
	case schema.TypeSet:
		err = c.client.AddSet(ctx, name, value.Set)
	case schema.TypeSortedSet:
		err = c.client.AddSortedSet(ctx, name, value.Sorted)
	default:
		return &schema.SerializationError{Key: name, Err: errors.New("unsupported value type")}
	}
	if err != nil {
		return err
	}
	if ttl > 0 {
		ok, expErr := c.client.PExpire(ctx, name, ttl)
		if expErr != nil || !ok {
			log.Printf("[WARN] could not apply ttl to %q: %v\n", name, expErr)
		}
	}
	return nil
}
