// Package redis_admin holds the shared vocabulary of the admin tool:
// key descriptors, value envelopes, bulk reports and the contracts
// between the scanning, inspection and codec layers.
package redis_admin

import (
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// KeyType is the value shape reported by the TYPE command.
type KeyType string

const (
	TypeString    KeyType = "string"
	TypeHash      KeyType = "hash"
	TypeList      KeyType = "list"
	TypeSet       KeyType = "set"
	TypeSortedSet KeyType = "zset"
	TypeUnknown   KeyType = "unknown"
)

// ParseKeyType maps a TYPE reply onto a KeyType. "none" is not a type,
// callers translate it to ErrNotFound before getting here.
func ParseKeyType(s string) KeyType {
	switch s {
	case "string", "hash", "list", "set", "zset":
		return KeyType(s)
	default:
		return TypeUnknown
	}
}

const (
	// TTLNone marks a key without expiry.
	TTLNone time.Duration = -1
	// SizeUnknown marks a descriptor whose memory usage was not fetched.
	SizeUnknown int64 = -1
)

// KeyDescriptor is an immutable snapshot of key metadata. Stale
// descriptors are re-fetched, never patched in place.
type KeyDescriptor struct {
	Name       string
	Type       KeyType
	TTL        time.Duration // TTLNone when the key has no expiry
	ApproxSize int64         // bytes, SizeUnknown when not fetched
	Encoding   string        // empty when not fetched
}

// ScoredMember is one sorted-set entry.
type ScoredMember struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// MarshalJSON keeps integral scores as "1.0" rather than "1" so a
// score survives an export/import round trip as a float.
func (m ScoredMember) MarshalJSON() ([]byte, error) {
	name, err := sonic.ConfigStd.Marshal(m.Member)
	if err != nil {
		return nil, err
	}
	score := strconv.FormatFloat(m.Score, 'g', -1, 64)
	if !strings.ContainsAny(score, ".eEIN") {
		score += ".0"
	}
	var b strings.Builder
	b.WriteString(`{"member":`)
	b.Write(name)
	b.WriteString(`,"score":`)
	b.WriteString(score)
	b.WriteString("}")
	return []byte(b.String()), nil
}

// Value is the canonical envelope over the five store value shapes.
// Exactly the field matching Type is meaningful.
type Value struct {
	Type   KeyType
	Str    string
	Hash   map[string]string
	List   []string
	Set    []string
	Sorted []ScoredMember // ordered by score, then member
}

// Len reports the element count of the envelope (1 for strings).
func (v Value) Len() int {
	switch v.Type {
	case TypeHash:
		return len(v.Hash)
	case TypeList:
		return len(v.List)
	case TypeSet:
		return len(v.Set)
	case TypeSortedSet:
		return len(v.Sorted)
	default:
		return 1
	}
}

// Progress is an incremental counter snapshot emitted while a bulk
// operation runs, decoupled from any rendering.
type Progress struct {
	Scanned   int64
	Succeeded int64
	Failed    int64
	Skipped   int64
}

// Status summarizes a finished Report.
type Status string

const (
	StatusOK             Status = "ok"
	StatusPartialFailure Status = "partial_failure"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
)

// KeyError is one recorded per-key failure.
type KeyError struct {
	Key     string
	Kind    ErrorKind
	Message string
}

// Report accumulates the outcome of one bulk invocation. It is owned
// by the orchestrator until returned and never mutated afterwards.
type Report struct {
	Scanned    int64
	Succeeded  int64
	Failed     int64
	Skipped    int64
	Errors     []KeyError
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status
	Fatal      error // set when a connection-level failure aborted the run
}
