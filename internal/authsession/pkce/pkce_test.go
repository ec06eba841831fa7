package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	// Verify(v, Challenge(v)) holds for arbitrary byte strings.
	for i := 0; i < 50; i++ {
		buf := make([]byte, 32)
		_, err := rand.Read(buf)
		require.NoError(t, err)
		verifier := base64.RawURLEncoding.EncodeToString(buf)

		assert.True(t, Verify(verifier, Challenge(verifier)))
	}
}

func TestVerifyRejectsWrongVerifier(t *testing.T) {
	challenge := Challenge("correct-verifier-value-000000000000000000000")
	assert.False(t, Verify("wrong-verifier-value-00000000000000000000000", challenge))
}

func TestVerifyRejectsEmptyChallenge(t *testing.T) {
	assert.False(t, Verify("any-verifier", ""))
}

func TestChallengeIsBase64URLNoPadding(t *testing.T) {
	c := Challenge("some-verifier")
	assert.NotContains(t, c, "=")
	assert.NotContains(t, c, "+")
	assert.NotContains(t, c, "/")
	assert.Len(t, c, 43) // 32 bytes -> 43 base64url chars
}

func TestKnownVector(t *testing.T) {
	// RFC 7636 appendix B test vector.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", Challenge(verifier))
	assert.True(t, Verify(verifier, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"))
}
