package redis_admin

import (
	"errors"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoredMemberJSON(t *testing.T) {
	members := []ScoredMember{
		{Member: "a", Score: 1},
		{Member: "b", Score: 2.5},
		{Member: "c", Score: -3},
		{Member: `q"uote`, Score: 1e21},
	}
	b, err := sonic.ConfigStd.Marshal(members)
	require.NoError(t, err)
	assert.Equal(t,
		`[{"member":"a","score":1.0},{"member":"b","score":2.5},{"member":"c","score":-3.0},{"member":"q\"uote","score":1e+21}]`,
		string(b))
}

func TestParseKeyType(t *testing.T) {
	assert.Equal(t, TypeString, ParseKeyType("string"))
	assert.Equal(t, TypeSortedSet, ParseKeyType("zset"))
	assert.Equal(t, TypeUnknown, ParseKeyType("stream"))
	assert.Equal(t, TypeUnknown, ParseKeyType("none"))
}

func TestValueLen(t *testing.T) {
	assert.Equal(t, 1, Value{Type: TypeString, Str: "x"}.Len())
	assert.Equal(t, 2, Value{Type: TypeHash, Hash: map[string]string{"a": "1", "b": "2"}}.Len())
	assert.Equal(t, 3, Value{Type: TypeList, List: []string{"a", "b", "c"}}.Len())
	assert.Equal(t, 0, Value{Type: TypeSet}.Len())
	assert.Equal(t, 1, Value{Type: TypeSortedSet, Sorted: []ScoredMember{{Member: "a"}}}.Len())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(ErrNotFound))
	assert.Equal(t, KindPattern, KindOf(&PatternError{Pattern: "", Reason: "empty pattern"}))
	assert.Equal(t, KindTypeMismatch, KindOf(&TypeMismatchError{Key: "k", Want: TypeHash}))
	assert.Equal(t, KindConnection, KindOf(&ConnectionError{Op: "GET", Err: errors.New("eof")}))
	assert.Equal(t, KindSerialization, KindOf(&SerializationError{Err: errors.New("bad json")}))
	assert.Equal(t, KindOther, KindOf(errors.New("something else")))

	wrapped := &ConnectionError{Op: "SCAN", Err: errors.New("reset")}
	assert.Equal(t, KindConnection, KindOf(wrapped))
}
