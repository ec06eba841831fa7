// Package random generates the opaque identifiers used across the
// authorization protocol. Everything here draws from crypto/rand.
package random

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

// userCodeCharset avoids characters easily confused when read aloud or typed
// from a TV screen: 0/O, 1/I/L.
const userCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// UserCodeLength is the number of characters in a device-flow user code.
const UserCodeLength = 8

// Token returns a URL-safe opaque token with n bytes of entropy.
func Token(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process cannot safely mint
		// credentials at all.
		panic("random: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// UserCode returns a short human-typable code like "ABCD2345". Stored and
// compared without the display dash.
func UserCode() string {
	code := make([]byte, UserCodeLength)
	max := big.NewInt(int64(len(userCodeCharset)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("random: " + err.Error())
		}
		code[i] = userCodeCharset[n.Int64()]
	}
	return string(code)
}

// FormatUserCode renders a user code for display ("ABCD2345" -> "ABCD-2345").
func FormatUserCode(code string) string {
	if len(code) != UserCodeLength {
		return code
	}
	return code[:4] + "-" + code[4:]
}
