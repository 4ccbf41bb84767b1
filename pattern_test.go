package redis_admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePattern(t *testing.T) {
	valid := []string{"*", "user:*", "?", "h[a-z]llo", "h[^e]llo", `h\*llo`, "plain"}
	for _, p := range valid {
		assert.NoError(t, ValidatePattern(p), "pattern %q", p)
	}

	cases := map[string]string{
		"":        "empty pattern",
		`user:\`:  "trailing escape",
		"h[a-z":   "unclosed character class",
		`h[a\]bc`: "unclosed character class",
	}
	for p, reason := range cases {
		err := ValidatePattern(p)
		require.Error(t, err, "pattern %q", p)
		var pe *PatternError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, reason, pe.Reason)
	}
}

func TestMatchPattern(t *testing.T) {
	match := []struct{ pattern, name string }{
		{"*", ""},
		{"*", "anything"},
		{"user:*", "user:1"},
		{"user:*", "user:"},
		{"*:1", "user:1"},
		{"u*r:1", "user:1"},
		{"user:?", "user:1"},
		{"h?llo", "hello"},
		{"h[a-z]llo", "hello"},
		{"h[^a]llo", "hello"},
		{"h[abe]llo", "hello"},
		{`h\*llo`, "h*llo"},
		{"**", "x"},
		{"user:1", "user:1"},
	}
	for _, c := range match {
		assert.True(t, MatchPattern(c.pattern, c.name), "%q should match %q", c.pattern, c.name)
	}

	noMatch := []struct{ pattern, name string }{
		{"user:*", "order:1"},
		{"user:?", "user:12"},
		{"h[a-c]llo", "hello"},
		{"h[^e]llo", "hello"},
		{`h\*llo`, "hallo"},
		{"user:1", "user:12"},
		{"?", ""},
	}
	for _, c := range noMatch {
		assert.False(t, MatchPattern(c.pattern, c.name), "%q should not match %q", c.pattern, c.name)
	}
}
