// Package redistest serves an in-memory key space through a radix
// stub connection, covering the command subset the tool issues. Tests
// use it instead of a live store.
package redistest

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mediocregopher/radix/v3"
	"github.com/mediocregopher/radix/v3/resp/resp2"
	"github.com/vmihailenco/msgpack/v5"

	schema "gitlab.diskarte.net/engineering/redis-admin"
	"gitlab.diskarte.net/engineering/redis-admin/internal/redis"
)

type entry struct {
	typ      string
	str      string
	hash     map[string]string
	list     []string
	set      map[string]struct{}
	zset     map[string]float64
	expireAt time.Time // zero means no expiry
}

// dumpBlob is the self-contained DUMP payload, so archives restore
// across separate servers.
type dumpBlob struct {
	Typ  string             `msgpack:"typ"`
	Str  string             `msgpack:"str"`
	Hash map[string]string  `msgpack:"hash"`
	List []string           `msgpack:"list"`
	Set  []string           `msgpack:"set"`
	Zset map[string]float64 `msgpack:"zset"`
}

// Server is one fake store instance. Safe for concurrent use; the
// stub connection is serialized behind a mutex.
type Server struct {
	mu   sync.Mutex
	data map[string]*entry
}

func NewServer() *Server {
	return &Server{data: map[string]*entry{}}
}

// Client returns a typed client speaking to this server.
func (s *Server) Client() *redis.Client {
	conn := radix.Stub("tcp", "127.0.0.1:6379", s.handle)
	return redis.Wrap(&lockedClient{conn: conn})
}

// lockedClient serializes commands: a stub connection is not safe for
// concurrent use, a pool against a real server is.
type lockedClient struct {
	mu   sync.Mutex
	conn radix.Conn
}

func (c *lockedClient) Do(a radix.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Do(a)
}

func (c *lockedClient) Close() error { return c.conn.Close() }

// --- seeding helpers ---

func (s *Server) SetString(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &entry{typ: "string", str: value}
}

func (s *Server) SetHash(key string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := map[string]string{}
	for k, v := range fields {
		h[k] = v
	}
	s.data[key] = &entry{typ: "hash", hash: h}
}

func (s *Server) SetList(key string, items ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &entry{typ: "list", list: append([]string(nil), items...)}
}

func (s *Server) SetSet(key string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := map[string]struct{}{}
	for _, m := range members {
		set[m] = struct{}{}
	}
	s.data[key] = &entry{typ: "set", set: set}
}

func (s *Server) SetZSet(key string, members map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := map[string]float64{}
	for k, v := range members {
		z[k] = v
	}
	s.data[key] = &entry{typ: "zset", zset: z}
}

func (s *Server) SetTTL(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok {
		e.expireAt = time.Now().Add(ttl)
	}
}

// Keys returns the live key names, sorted.
func (s *Server) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return s.sortedKeysLocked()
}

// Snapshot serializes the whole key space for before/after
// comparisons in dry-run tests.
func (s *Server) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	out := map[string]string{}
	for k, e := range s.data {
		b, _ := msgpack.Marshal(blobOf(e))
		out[k] = string(b)
	}
	return out
}

func (s *Server) sortedKeysLocked() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Server) sweepLocked() {
	now := time.Now()
	for k, e := range s.data {
		if !e.expireAt.IsZero() && e.expireAt.Before(now) {
			delete(s.data, k)
		}
	}
}

func blobOf(e *entry) dumpBlob {
	b := dumpBlob{Typ: e.typ, Str: e.str, Hash: e.hash, List: e.list, Zset: e.zset}
	for m := range e.set {
		b.Set = append(b.Set, m)
	}
	sort.Strings(b.Set)
	return b
}

func entryOf(b dumpBlob) *entry {
	e := &entry{typ: b.Typ, str: b.Str, hash: b.Hash, list: b.List, zset: b.Zset}
	if b.Typ == "set" {
		e.set = map[string]struct{}{}
		for _, m := range b.Set {
			e.set[m] = struct{}{}
		}
	}
	return e
}

// --- command handling ---

// Application-level replies are returned as resp2.Error so they pass
// through the stub's RESP encoding like a real server reply; a bare
// error would be returned from Do directly as a transport failure.
var (
	errWrongType = resp2.Error{E: errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")}
	errNoSuchKey = resp2.Error{E: errors.New("ERR no such key")}
	errBusyKey   = resp2.Error{E: errors.New("BUSYKEY Target key name already exists.")}
)

func (s *Server) handle(args []string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	cmd := strings.ToUpper(args[0])
	switch cmd {
	case "PING":
		return "PONG"
	case "SCAN":
		return s.scan(args[1:])
	case "TYPE":
		if e, ok := s.data[args[1]]; ok {
			return e.typ
		}
		return "none"
	case "PTTL":
		e, ok := s.data[args[1]]
		if !ok {
			return -2
		}
		if e.expireAt.IsZero() {
			return -1
		}
		return int(time.Until(e.expireAt).Milliseconds())
	case "MEMORY":
		e, ok := s.data[args[2]]
		if !ok {
			return nil
		}
		return approxSize(e)
	case "OBJECT":
		e, ok := s.data[args[2]]
		if !ok {
			return errNoSuchKey
		}
		return encodingOf(e)
	case "GET":
		e, ok := s.data[args[1]]
		if !ok {
			return nil
		}
		if e.typ != "string" {
			return errWrongType
		}
		return e.str
	case "SET":
		e := &entry{typ: "string", str: args[2]}
		if len(args) >= 5 && strings.ToUpper(args[3]) == "PX" {
			ms, _ := strconv.ParseInt(args[4], 10, 64)
			e.expireAt = time.Now().Add(time.Duration(ms) * time.Millisecond)
		}
		s.data[args[1]] = e
		return "OK"
	case "HGETALL":
		e, ok := s.data[args[1]]
		if !ok {
			return map[string]string{}
		}
		if e.typ != "hash" {
			return errWrongType
		}
		return e.hash
	case "HSET":
		e, ok := s.data[args[1]]
		if !ok {
			e = &entry{typ: "hash", hash: map[string]string{}}
			s.data[args[1]] = e
		}
		if e.typ != "hash" {
			return errWrongType
		}
		added := 0
		for i := 2; i+1 < len(args); i += 2 {
			if _, exists := e.hash[args[i]]; !exists {
				added++
			}
			e.hash[args[i]] = args[i+1]
		}
		return added
	case "LRANGE":
		e, ok := s.data[args[1]]
		if !ok {
			return []string{}
		}
		if e.typ != "list" {
			return errWrongType
		}
		return e.list
	case "RPUSH":
		e, ok := s.data[args[1]]
		if !ok {
			e = &entry{typ: "list"}
			s.data[args[1]] = e
		}
		if e.typ != "list" {
			return errWrongType
		}
		e.list = append(e.list, args[2:]...)
		return len(e.list)
	case "SMEMBERS":
		e, ok := s.data[args[1]]
		if !ok {
			return []string{}
		}
		if e.typ != "set" {
			return errWrongType
		}
		members := make([]string, 0, len(e.set))
		for m := range e.set {
			members = append(members, m)
		}
		sort.Strings(members)
		return members
	case "SADD":
		e, ok := s.data[args[1]]
		if !ok {
			e = &entry{typ: "set", set: map[string]struct{}{}}
			s.data[args[1]] = e
		}
		if e.typ != "set" {
			return errWrongType
		}
		added := 0
		for _, m := range args[2:] {
			if _, exists := e.set[m]; !exists {
				added++
			}
			e.set[m] = struct{}{}
		}
		return added
	case "ZRANGE":
		e, ok := s.data[args[1]]
		if !ok {
			return []string{}
		}
		if e.typ != "zset" {
			return errWrongType
		}
		members := sortedZSet(e.zset)
		flat := make([]string, 0, len(members)*2)
		for _, m := range members {
			flat = append(flat, m.Member, strconv.FormatFloat(m.Score, 'g', -1, 64))
		}
		return flat
	case "ZADD":
		e, ok := s.data[args[1]]
		if !ok {
			e = &entry{typ: "zset", zset: map[string]float64{}}
			s.data[args[1]] = e
		}
		if e.typ != "zset" {
			return errWrongType
		}
		added := 0
		for i := 2; i+1 < len(args); i += 2 {
			score, _ := strconv.ParseFloat(args[i], 64)
			if _, exists := e.zset[args[i+1]]; !exists {
				added++
			}
			e.zset[args[i+1]] = score
		}
		return added
	case "DEL":
		n := 0
		for _, k := range args[1:] {
			if _, ok := s.data[k]; ok {
				delete(s.data, k)
				n++
			}
		}
		return n
	case "EXISTS":
		n := 0
		for _, k := range args[1:] {
			if _, ok := s.data[k]; ok {
				n++
			}
		}
		return n
	case "PEXPIRE":
		e, ok := s.data[args[1]]
		if !ok {
			return 0
		}
		ms, _ := strconv.ParseInt(args[2], 10, 64)
		e.expireAt = time.Now().Add(time.Duration(ms) * time.Millisecond)
		return 1
	case "DUMP":
		e, ok := s.data[args[1]]
		if !ok {
			return nil
		}
		b, err := msgpack.Marshal(blobOf(e))
		if err != nil {
			return err
		}
		return string(b)
	case "RESTORE":
		key := args[1]
		replace := len(args) >= 5 && strings.ToUpper(args[4]) == "REPLACE"
		if _, ok := s.data[key]; ok && !replace {
			return errBusyKey
		}
		var blob dumpBlob
		if err := msgpack.Unmarshal([]byte(args[3]), &blob); err != nil {
			return resp2.Error{E: errors.New("ERR Bad data format")}
		}
		e := entryOf(blob)
		ms, _ := strconv.ParseInt(args[2], 10, 64)
		if ms > 0 {
			e.expireAt = time.Now().Add(time.Duration(ms) * time.Millisecond)
		}
		s.data[key] = e
		return "OK"
	default:
		return fmt.Errorf("ERR unknown command %q", cmd)
	}
}

// scan pages through the sorted key names. The cursor encodes the
// last name served, so concurrent deletions never skip survivors.
func (s *Server) scan(args []string) interface{} {
	cursor := args[0]
	pattern := "*"
	count := 10
	for i := 1; i+1 < len(args); i += 2 {
		switch strings.ToUpper(args[i]) {
		case "MATCH":
			pattern = args[i+1]
		case "COUNT":
			count, _ = strconv.Atoi(args[i+1])
		}
	}
	after := ""
	if cursor != "0" {
		after = strings.TrimPrefix(cursor, "k:")
	}
	keys := s.sortedKeysLocked()
	page := make([]string, 0, count)
	next := "0"
	for _, k := range keys {
		if after != "" && k <= after {
			continue
		}
		if len(page) == count {
			next = "k:" + page[len(page)-1]
			break
		}
		page = append(page, k)
	}
	matched := make([]string, 0, len(page))
	for _, k := range page {
		if schema.MatchPattern(pattern, k) {
			matched = append(matched, k)
		}
	}
	return []interface{}{next, matched}
}

func sortedZSet(z map[string]float64) []schema.ScoredMember {
	members := make([]schema.ScoredMember, 0, len(z))
	for m, score := range z {
		members = append(members, schema.ScoredMember{Member: m, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	return members
}

func approxSize(e *entry) int {
	size := 16
	switch e.typ {
	case "string":
		size += len(e.str)
	case "hash":
		for k, v := range e.hash {
			size += len(k) + len(v)
		}
	case "list":
		for _, v := range e.list {
			size += len(v)
		}
	case "set":
		for m := range e.set {
			size += len(m)
		}
	case "zset":
		size += 8 * len(e.zset)
		for m := range e.zset {
			size += len(m)
		}
	}
	return size
}

func encodingOf(e *entry) string {
	switch e.typ {
	case "string":
		return "embstr"
	case "hash":
		return "hashtable"
	case "list":
		return "quicklist"
	case "set":
		return "hashtable"
	case "zset":
		return "skiplist"
	default:
		return "unknown"
	}
}
