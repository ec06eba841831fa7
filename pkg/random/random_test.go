package random

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := Token(32)
		require.NotEmpty(t, tok)
		assert.False(t, seen[tok], "token collision")
		seen[tok] = true
		// base64url without padding
		assert.NotContains(t, tok, "=")
		assert.NotContains(t, tok, "+")
		assert.NotContains(t, tok, "/")
	}
}

func TestUserCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := UserCode()
		require.Len(t, code, UserCodeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(userCodeCharset, c), "unexpected char %q", c)
		}
		// Ambiguous characters never appear.
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
	}
}

func TestFormatUserCode(t *testing.T) {
	assert.Equal(t, "ABCD-2345", FormatUserCode("ABCD2345"))
	assert.Equal(t, "TOOSHORT1", FormatUserCode("TOOSHORT1"))
}
