// Package random supplies the random values the token lifecycle needs:
// token identifiers, token secrets, session handles, and verifiers.
package random

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"

	"github.com/google/uuid"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces cryptographically random strings. The zero value
// is ready to use.
type Generator struct{}

// TokenValue returns a fresh unique token identifier.
func (Generator) TokenValue() string {
	return uuid.NewString()
}

// URLSafeString returns the URL-safe base64 encoding of n random
// bytes. Used for token secrets and session handles.
func (Generator) URLSafeString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return base64.RawURLEncoding.EncodeToString(b)
}

// AlphanumericString returns a random string of length n drawn from
// [A-Za-z0-9]. Used for verifiers, which users may have to retype.
func (Generator) AlphanumericString(n int) string {
	max := big.NewInt(int64(len(alphanumeric)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		out[i] = alphanumeric[idx.Int64()]
	}

	return string(out)
}
