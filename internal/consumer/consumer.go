// Package consumer defines registered OAuth consumers and their
// durable registry.
package consumer

import (
	"crypto/rsa"
	"fmt"
	"net/url"
)

// SignatureMethod is the request-signing scheme a consumer uses.
type SignatureMethod string

const (
	// HMACSHA1 signs with the shared consumer secret.
	HMACSHA1 SignatureMethod = "HMAC_SHA1"

	// RSASHA1 signs with the consumer's private key; the registry
	// holds the matching public key for verification.
	RSASHA1 SignatureMethod = "RSA_SHA1"
)

// Consumer is an immutable registered third-party identity. Build one
// with the Builder; updates replace the whole entry, fields are never
// mutated in place.
type Consumer struct {
	// Key uniquely identifies the consumer. Case-sensitive.
	Key string

	// Name and Description are for display to the resource owner.
	Name        string
	Description string

	SignatureMethod SignatureMethod

	// PublicKey is set iff SignatureMethod is RSASHA1.
	PublicKey *rsa.PublicKey

	// Secret is the optional shared secret for HMAC signing. It is
	// not required server-side: signature verification of HMAC
	// requests uses it when present.
	Secret string

	// Callback is the default redirect URI used when a token request
	// does not carry one.
	Callback *url.URL
}

// Builder assembles a Consumer and validates it at Build time.
type Builder struct {
	c Consumer
}

// New starts building a consumer with the given key.
func New(key string) *Builder {
	return &Builder{c: Consumer{Key: key, SignatureMethod: HMACSHA1}}
}

// Name sets the display name.
func (b *Builder) Name(name string) *Builder {
	b.c.Name = name
	return b
}

// Description sets the display description.
func (b *Builder) Description(description string) *Builder {
	b.c.Description = description
	return b
}

// Secret sets the shared consumer secret.
func (b *Builder) Secret(secret string) *Builder {
	b.c.Secret = secret
	return b
}

// SignatureMethod sets the signing scheme.
func (b *Builder) SignatureMethod(m SignatureMethod) *Builder {
	b.c.SignatureMethod = m
	return b
}

// PublicKey sets the RSA public key and switches the signature method
// to RSA_SHA1.
func (b *Builder) PublicKey(key *rsa.PublicKey) *Builder {
	b.c.PublicKey = key
	b.c.SignatureMethod = RSASHA1
	return b
}

// Callback sets the default post-authorization redirect URI.
func (b *Builder) Callback(callback *url.URL) *Builder {
	b.c.Callback = callback
	return b
}

// Build validates and returns the consumer.
func (b *Builder) Build() (Consumer, error) {
	switch {
	case b.c.Key == "":
		return Consumer{}, fmt.Errorf("consumer key must not be empty")
	case b.c.Name == "":
		return Consumer{}, fmt.Errorf("consumer name must not be empty")
	case b.c.SignatureMethod != HMACSHA1 && b.c.SignatureMethod != RSASHA1:
		return Consumer{}, fmt.Errorf("unknown signature method %q", b.c.SignatureMethod)
	case b.c.SignatureMethod == RSASHA1 && b.c.PublicKey == nil:
		return Consumer{}, fmt.Errorf("public key must be set when the signature method is RSA_SHA1")
	case b.c.SignatureMethod == HMACSHA1 && b.c.PublicKey != nil:
		return Consumer{}, fmt.Errorf("public key must not be set when the signature method is HMAC_SHA1")
	}

	return b.c, nil
}
