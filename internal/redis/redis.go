// Package redis wraps a radix client with the typed operations the
// scanning and bulk-mutation core needs: explicit-cursor SCAN,
// pipelined key inspection, per-type reads and writes, DUMP/RESTORE.
package redis

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mediocregopher/radix/v3"
	"github.com/mediocregopher/radix/v3/resp/resp2"

	schema "gitlab.diskarte.net/engineering/redis-admin"
)

// Options describe one connection target. The zero value is not
// usable, Addr is required.
type Options struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	PoolSize int
	Timeout  time.Duration
}

// Client is a thin typed layer over a shared radix client. It is safe
// for concurrent use up to the pool size.
type Client struct {
	c radix.Client
}

// New connects a pool against opts.
func New(opts Options) (*Client, error) {
	size := opts.PoolSize
	if size <= 0 {
		size = 10
	}
	connFunc := func(network, addr string) (radix.Conn, error) {
		var dialOpts []radix.DialOpt
		if opts.Timeout > 0 {
			dialOpts = append(dialOpts, radix.DialTimeout(opts.Timeout))
		}
		if opts.Password != "" {
			dialOpts = append(dialOpts, radix.DialAuthPass(opts.Password))
		}
		if opts.DB != 0 {
			dialOpts = append(dialOpts, radix.DialSelectDB(opts.DB))
		}
		if opts.TLS {
			dialOpts = append(dialOpts, radix.DialUseTLS(&tls.Config{}))
		}
		return radix.Dial(network, addr, dialOpts...)
	}
	pool, err := radix.NewPool("tcp", opts.Addr, size, radix.PoolConnFunc(connFunc))
	if err != nil {
		return nil, &schema.ConnectionError{Op: "connect", Err: err}
	}
	return &Client{c: pool}, nil
}

// Wrap adopts an existing radix client, used by tests and by callers
// that manage their own pool.
func Wrap(c radix.Client) *Client { return &Client{c: c} }

func (c *Client) Close() error { return c.c.Close() }

// Ping verifies the connection end to end.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.wrap("PING", c.c.Do(radix.Cmd(nil, "PING")))
}

// wrap classifies an error: application-level replies (WRONGTYPE, no
// such key) pass through, everything else is a connection failure.
func (c *Client) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr resp2.Error
	if errors.As(err, &appErr) {
		return err
	}
	return &schema.ConnectionError{Op: op, Err: err}
}

// ScanBatch is one SCAN round trip: the continuation cursor plus the
// raw key names of this page.
type ScanBatch struct {
	Cursor string
	Keys   []string
}

// scanReply unmarshals the two-element SCAN response. Shaped after
// the scan result handling inside radix itself.
type scanReply struct {
	cursor string
	keys   []string
}

func (r *scanReply) UnmarshalRESP(br *bufio.Reader) error {
	var head resp2.ArrayHeader
	if err := head.UnmarshalRESP(br); err != nil {
		return err
	}
	if head.N != 2 {
		return errors.New("unexpected SCAN reply shape")
	}
	var cur resp2.BulkString
	if err := cur.UnmarshalRESP(br); err != nil {
		return err
	}
	r.cursor = cur.S
	r.keys = r.keys[:0]
	return (resp2.Any{I: &r.keys}).UnmarshalRESP(br)
}

// ScanBatch issues one cursor step. Cursor "0" starts a walk; the
// returned cursor "0" after at least one step means exhaustion.
// Callers must not issue two steps of one walk concurrently.
func (c *Client) ScanBatch(ctx context.Context, cursor, pattern string, count int) (ScanBatch, error) {
	if err := ctx.Err(); err != nil {
		return ScanBatch{}, err
	}
	var reply scanReply
	err := c.c.Do(radix.Cmd(&reply, "SCAN", cursor, "MATCH", pattern, "COUNT", strconv.Itoa(count)))
	if err != nil {
		return ScanBatch{}, c.wrap("SCAN", err)
	}
	return ScanBatch{Cursor: reply.cursor, Keys: reply.keys}, nil
}

// TypeOf resolves the key type. Missing keys yield ErrNotFound.
func (c *Client) TypeOf(ctx context.Context, key string) (schema.KeyType, error) {
	if err := ctx.Err(); err != nil {
		return schema.TypeUnknown, err
	}
	var typ string
	if err := c.c.Do(radix.Cmd(&typ, "TYPE", key)); err != nil {
		return schema.TypeUnknown, c.wrap("TYPE", err)
	}
	if typ == "none" {
		return schema.TypeUnknown, schema.ErrNotFound
	}
	return schema.ParseKeyType(typ), nil
}

// PTTL returns the remaining TTL, TTLNone for keys without expiry and
// ErrNotFound for missing keys.
func (c *Client) PTTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var millis int64
	if err := c.c.Do(radix.Cmd(&millis, "PTTL", key)); err != nil {
		return 0, c.wrap("PTTL", err)
	}
	switch millis {
	case -2:
		return 0, schema.ErrNotFound
	case -1:
		return schema.TTLNone, nil
	default:
		return time.Duration(millis) * time.Millisecond, nil
	}
}

// Inspect fetches the full descriptor in one pipelined round trip:
// TYPE, PTTL, MEMORY USAGE and OBJECT ENCODING.
func (c *Client) Inspect(ctx context.Context, key string) (schema.KeyDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return schema.KeyDescriptor{}, err
	}
	var (
		typ    string
		millis int64
		mem    int64
		enc    string
	)
	memNil := radix.MaybeNil{Rcv: &mem}
	encNil := radix.MaybeNil{Rcv: &enc}
	err := c.c.Do(radix.Pipeline(
		radix.Cmd(&typ, "TYPE", key),
		radix.Cmd(&millis, "PTTL", key),
		radix.Cmd(&memNil, "MEMORY", "USAGE", key),
		radix.Cmd(&encNil, "OBJECT", "ENCODING", key),
	))
	if err != nil {
		if isNoSuchKey(err) {
			return schema.KeyDescriptor{}, schema.ErrNotFound
		}
		return schema.KeyDescriptor{}, c.wrap("INSPECT", err)
	}
	if typ == "none" || millis == -2 {
		return schema.KeyDescriptor{}, schema.ErrNotFound
	}
	desc := schema.KeyDescriptor{
		Name:       key,
		Type:       schema.ParseKeyType(typ),
		TTL:        schema.TTLNone,
		ApproxSize: schema.SizeUnknown,
	}
	if millis >= 0 {
		desc.TTL = time.Duration(millis) * time.Millisecond
	}
	if !memNil.Nil {
		desc.ApproxSize = mem
	}
	if !encNil.Nil {
		desc.Encoding = enc
	}
	return desc, nil
}

func isNoSuchKey(err error) bool {
	var appErr resp2.Error
	return errors.As(err, &appErr) && strings.Contains(appErr.Error(), "no such key")
}

// IsWrongType reports the WRONGTYPE application error.
func IsWrongType(err error) bool {
	var appErr resp2.Error
	return errors.As(err, &appErr) && strings.HasPrefix(appErr.Error(), "WRONGTYPE")
}

// GetString returns the string value, ErrNotFound when missing.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var v string
	mn := radix.MaybeNil{Rcv: &v}
	if err := c.c.Do(radix.Cmd(&mn, "GET", key)); err != nil {
		return "", c.wrap("GET", err)
	}
	if mn.Nil {
		return "", schema.ErrNotFound
	}
	return v, nil
}

// SetString writes a string value, applying the TTL atomically with
// PX when one is set.
func (c *Client) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl > 0 {
		return c.wrap("SET", c.c.Do(radix.FlatCmd(nil, "SET", key, value, "PX", ttl.Milliseconds())))
	}
	return c.wrap("SET", c.c.Do(radix.Cmd(nil, "SET", key, value)))
}

// GetHash returns all fields of a hash.
func (c *Client) GetHash(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var v map[string]string
	if err := c.c.Do(radix.Cmd(&v, "HGETALL", key)); err != nil {
		return nil, c.wrap("HGETALL", err)
	}
	return v, nil
}

// SetHash writes all fields of a hash in one HSET.
func (c *Client) SetHash(ctx context.Context, key string, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	return c.wrap("HSET", c.c.Do(radix.FlatCmd(nil, "HSET", key, fields)))
}

// GetList returns the whole list in order.
func (c *Client) GetList(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var v []string
	if err := c.c.Do(radix.Cmd(&v, "LRANGE", key, "0", "-1")); err != nil {
		return nil, c.wrap("LRANGE", err)
	}
	return v, nil
}

// PushList appends items preserving order.
func (c *Client) PushList(ctx context.Context, key string, items []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return c.wrap("RPUSH", c.c.Do(radix.FlatCmd(nil, "RPUSH", key, items)))
}

// GetSet returns the set members.
func (c *Client) GetSet(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var v []string
	if err := c.c.Do(radix.Cmd(&v, "SMEMBERS", key)); err != nil {
		return nil, c.wrap("SMEMBERS", err)
	}
	return v, nil
}

// AddSet inserts members into a set.
func (c *Client) AddSet(ctx context.Context, key string, members []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	return c.wrap("SADD", c.c.Do(radix.FlatCmd(nil, "SADD", key, members)))
}

// GetSortedSet returns members ordered by score, then member.
func (c *Client) GetSortedSet(ctx context.Context, key string) ([]schema.ScoredMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var flat []string
	if err := c.c.Do(radix.Cmd(&flat, "ZRANGE", key, "0", "-1", "WITHSCORES")); err != nil {
		return nil, c.wrap("ZRANGE", err)
	}
	members := make([]schema.ScoredMember, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		score, err := strconv.ParseFloat(flat[i+1], 64)
		if err != nil {
			return nil, &schema.SerializationError{Key: key, Err: err}
		}
		members = append(members, schema.ScoredMember{Member: flat[i], Score: score})
	}
	return members, nil
}

// AddSortedSet inserts scored members.
func (c *Client) AddSortedSet(ctx context.Context, key string, members []schema.ScoredMember) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(members)*2)
	for _, m := range members {
		args = append(args, m.Score, m.Member)
	}
	return c.wrap("ZADD", c.c.Do(radix.FlatCmd(nil, "ZADD", key, args...)))
}

// Del removes a key, reporting whether it existed.
func (c *Client) Del(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var n int
	if err := c.c.Do(radix.Cmd(&n, "DEL", key)); err != nil {
		return false, c.wrap("DEL", err)
	}
	return n > 0, nil
}

// Exists reports key presence.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var n int
	if err := c.c.Do(radix.Cmd(&n, "EXISTS", key)); err != nil {
		return false, c.wrap("EXISTS", err)
	}
	return n > 0, nil
}

// PExpire sets a TTL, reporting whether the key existed.
func (c *Client) PExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var n int
	err := c.c.Do(radix.FlatCmd(&n, "PEXPIRE", key, ttl.Milliseconds()))
	if err != nil {
		return false, c.wrap("PEXPIRE", err)
	}
	return n > 0, nil
}

// Dump returns the opaque serialized form of a key, ErrNotFound when
// missing.
func (c *Client) Dump(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var payload string
	mn := radix.MaybeNil{Rcv: &payload}
	if err := c.c.Do(radix.Cmd(&mn, "DUMP", key)); err != nil {
		return "", c.wrap("DUMP", err)
	}
	if mn.Nil {
		return "", schema.ErrNotFound
	}
	return payload, nil
}

// Restore recreates a key from a Dump payload. ttlMillis 0 means no
// expiry, matching RESTORE semantics.
func (c *Client) Restore(ctx context.Context, key string, ttlMillis int64, payload string, replace bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args := []string{key, strconv.FormatInt(ttlMillis, 10), payload}
	if replace {
		args = append(args, "REPLACE")
	}
	return c.wrap("RESTORE", c.c.Do(radix.Cmd(nil, "RESTORE", args...)))
}
