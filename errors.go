package redis_admin

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a recorded failure for report entries.
type ErrorKind string

const (
	KindConnection    ErrorKind = "connection"
	KindPattern       ErrorKind = "pattern"
	KindTypeMismatch  ErrorKind = "type_mismatch"
	KindNotFound      ErrorKind = "not_found"
	KindSerialization ErrorKind = "serialization"
	KindExpired       ErrorKind = "expired"
	KindOther         ErrorKind = "other"
)

// ErrNotFound signals a key that vanished between scan and access.
// Callers treat it as "skip", not as a failure.
var ErrNotFound = errors.New("key not found")

// PatternError reports an empty or malformed glob pattern. It is
// raised before any store round trip.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
}

// TypeMismatchError reports a key whose type changed between
// observation and access.
type TypeMismatchError struct {
	Key  string
	Want KeyType
	Got  KeyType
}

func (e *TypeMismatchError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("key %q is no longer a %s", e.Key, e.Want)
	}
	return fmt.Sprintf("key %q is a %s, expected %s", e.Key, e.Got, e.Want)
}

// ConnectionError wraps a transport-level failure. Unlike per-key
// errors it is fatal and aborts the remaining batches.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SerializationError reports a malformed entry on import or a value
// that cannot be rendered on export. Recorded and skipped.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("serialization failed: %v", e.Err)
	}
	return fmt.Sprintf("serialization failed for %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ConfirmationRequired is a control signal, not a failure: a
// destructive request arrived unconfirmed, so only a preview ran.
// Callers prompt and re-invoke with Confirmed set.
type ConfirmationRequired struct {
	Preview int64 // keys the confirmed run would touch
}

func (e *ConfirmationRequired) Error() string {
	return fmt.Sprintf("confirmation required: %d keys would be affected", e.Preview)
}

// KindOf buckets an error into the report taxonomy.
func KindOf(err error) ErrorKind {
	var (
		pe *PatternError
		tm *TypeMismatchError
		ce *ConnectionError
		se *SerializationError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &pe):
		return KindPattern
	case errors.As(err, &tm):
		return KindTypeMismatch
	case errors.As(err, &ce):
		return KindConnection
	case errors.As(err, &se):
		return KindSerialization
	default:
		return KindOther
	}
}
