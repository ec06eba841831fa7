// Package pkce implements Proof Key for Code Exchange verification
// (RFC 7636). Only the S256 transform is supported; plain is rejected at
// session initiation so it never reaches verification.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// MethodS256 is the only accepted code challenge method.
const MethodS256 = "S256"

// Challenge computes the S256 challenge for a verifier: base64url (no
// padding) of the SHA-256 digest.
func Challenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// Verify reports whether verifier hashes to the stored challenge. Pure and
// stateless; the comparison is constant-time. Callers surface a failure as
// invalid_grant, indistinguishable from an unknown code.
func Verify(verifier, storedChallenge string) bool {
	if storedChallenge == "" {
		return false
	}
	computed := Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) == 1
}
