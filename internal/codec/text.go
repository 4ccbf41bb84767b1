package codec

import (
	"fmt"

	"github.com/bytedance/sonic"

	schema "gitlab.diskarte.net/engineering/redis-admin"
)

// json is pinned to the std-compatible config so map keys come out
// sorted and text forms are deterministic.
var json = sonic.ConfigStd

// Format names a text rendering of an envelope.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// JSONValue returns the envelope's native JSON shape: string, object
// for hashes, array for lists and sets, array of {member,score} for
// sorted sets.
func JSONValue(v schema.Value) interface{} {
	switch v.Type {
	case schema.TypeHash:
		if v.Hash == nil {
			return map[string]string{}
		}
		return v.Hash
	case schema.TypeList:
		if v.List == nil {
			return []string{}
		}
		return v.List
	case schema.TypeSet:
		if v.Set == nil {
			return []string{}
		}
		return v.Set
	case schema.TypeSortedSet:
		if v.Sorted == nil {
			return []schema.ScoredMember{}
		}
		return v.Sorted
	default:
		return v.Str
	}
}

// ToText renders an envelope. JSON renders the tagged union; a string
// whose bytes parse as JSON is pretty-printed, best effort. The CSV
// form is the single value cell used by the export row: the raw
// string for strings, compact JSON otherwise.
func ToText(v schema.Value, format Format) (string, error) {
	switch format {
	case FormatJSON:
		if v.Type == schema.TypeString {
			return PrettyJSON(v.Str), nil
		}
		b, err := json.MarshalIndent(JSONValue(v), "", "  ")
		if err != nil {
			return "", &schema.SerializationError{Err: err}
		}
		return string(b), nil
	case FormatCSV:
		if v.Type == schema.TypeString {
			return v.Str, nil
		}
		b, err := json.Marshal(JSONValue(v))
		if err != nil {
			return "", &schema.SerializationError{Err: err}
		}
		return string(b), nil
	default:
		return "", &schema.SerializationError{Err: fmt.Errorf("unknown format %q", format)}
	}
}

// PrettyJSON re-indents s when it parses as JSON and returns it
// untouched otherwise. Never fails.
func PrettyJSON(s string) string {
	data := []byte(s)
	if !json.Valid(data) {
		return s
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return s
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s
	}
	return string(b)
}

// FromText is the inverse of ToText. Both formats share the value
// encoding: raw text for strings, JSON for everything else. Malformed
// input fails with SerializationError.
func FromText(t schema.KeyType, text string, format Format) (schema.Value, error) {
	if format != FormatJSON && format != FormatCSV {
		return schema.Value{}, &schema.SerializationError{Err: fmt.Errorf("unknown format %q", format)}
	}
	v := schema.Value{Type: t}
	var err error
	switch t {
	case schema.TypeString:
		v.Str = text
	case schema.TypeHash:
		err = json.Unmarshal([]byte(text), &v.Hash)
	case schema.TypeList:
		err = json.Unmarshal([]byte(text), &v.List)
	case schema.TypeSet:
		err = json.Unmarshal([]byte(text), &v.Set)
	case schema.TypeSortedSet:
		err = json.Unmarshal([]byte(text), &v.Sorted)
	default:
		err = fmt.Errorf("unknown key type %q", t)
	}
	if err != nil {
		return schema.Value{}, &schema.SerializationError{Err: err}
	}
	return v, nil
}
