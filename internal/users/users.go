// Package users supplies the authenticated resource-owner identity for
// the authorize endpoint. Credentials are a configured list of
// username:bcrypt-hash pairs; anything else is anonymous.
package users

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Credentials maps usernames to bcrypt password hashes.
type Credentials map[string]string

// ParseCredentials parses a comma-separated "user:hash,user:hash"
// list. Bcrypt hashes contain no commas or colons beyond the $
// prefix, so the simple split is unambiguous.
func ParseCredentials(s string) (Credentials, error) {
	creds := Credentials{}
	if strings.TrimSpace(s) == "" {
		return creds, nil
	}

	for _, pair := range strings.Split(s, ",") {
		name, hash, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("invalid credential entry %q: want user:bcrypt-hash", pair)
		}
		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("credential for %q is not a bcrypt hash", name)
		}
		creds[name] = hash
	}

	return creds, nil
}

// Authenticate returns true when the username exists and the password
// matches its hash.
func (c Credentials) Authenticate(username, password string) bool {
	hash, ok := c[username]
	if !ok {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
