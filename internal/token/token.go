// Package token implements service-provider OAuth tokens: the
// immutable token and session values, the durable token store, and the
// factory that mints fresh tokens.
package token

import (
	"fmt"
	"net/url"
	"time"

	"github.com/oauth1x/provider/internal/consumer"
)

// Default lifetimes, matching the values consumers of this provider
// historically relied on: short-lived request tokens, long-lived
// access tokens, and a session that outlives the access token so a
// just-expired token can still be renewed.
const (
	DefaultRequestTokenTTL = 10 * time.Minute
	DefaultAccessTokenTTL  = 5 * 365 * 24 * time.Hour
	DefaultSessionTTL      = DefaultAccessTokenTTL + 30*24*time.Hour
)

// Kind distinguishes request tokens from access tokens. It is fixed at
// creation; exchange mints a new token rather than converting one.
type Kind string

const (
	KindRequest Kind = "REQUEST"
	KindAccess  Kind = "ACCESS"
)

// Authorization is the resource owner's decision on a request token.
// Access tokens are implicitly authorized.
type Authorization string

const (
	AuthorizationNone       Authorization = "NONE"
	AuthorizationAuthorized Authorization = "AUTHORIZED"
	AuthorizationDenied     Authorization = "DENIED"
)

// Session allows an access token to be renewed without repeating user
// authorization. The session is valid while LastRenewalTime plus
// TimeToLive is in the future.
type Session struct {
	Handle          string
	CreationTime    time.Time
	LastRenewalTime time.Time
	TimeToLive      time.Duration
}

// HasExpired reports whether the session can no longer renew tokens.
func (s Session) HasExpired(now time.Time) bool {
	return now.After(s.LastRenewalTime.Add(s.TimeToLive))
}

// ServiceProviderToken is an immutable OAuth token. State changes
// (authorize, deny) return a new value; the store replaces the entry
// wholesale.
type ServiceProviderToken struct {
	// Token is the unique token value and the store's primary key.
	Token       string
	TokenSecret string

	Kind Kind

	// Consumer the token was issued to. Nil when the serialized
	// consumer reference can no longer be resolved; protocol handlers
	// reject such tokens.
	Consumer *consumer.Consumer

	// Authorization is only meaningful for request tokens.
	Authorization Authorization

	// User is the resource owner, set once Authorization is decided.
	User string

	// Verifier must be presented to redeem an authorized request
	// token.
	Verifier string

	// Callback supplied at issuance, or defaulted from the consumer.
	// Nil means out-of-band verifier delivery.
	Callback *url.URL

	CreationTime time.Time
	TimeToLive   time.Duration

	// Properties carries opaque host-application metadata through the
	// token's lifecycle.
	Properties map[string]string

	// Session is present only on access tokens.
	Session *Session
}

// IsRequestToken reports whether the token is a request token.
func (t ServiceProviderToken) IsRequestToken() bool { return t.Kind == KindRequest }

// IsAccessToken reports whether the token is an access token.
func (t ServiceProviderToken) IsAccessToken() bool { return t.Kind == KindAccess }

// HasExpired reports whether the token's time to live has elapsed.
func (t ServiceProviderToken) HasExpired(now time.Time) bool {
	return now.After(t.CreationTime.Add(t.TimeToLive))
}

// HasBeenAuthorized reports whether the resource owner approved the
// token.
func (t ServiceProviderToken) HasBeenAuthorized() bool {
	return t.Authorization == AuthorizationAuthorized
}

// HasBeenDenied reports whether the resource owner refused the token.
func (t ServiceProviderToken) HasBeenDenied() bool {
	return t.Authorization == AuthorizationDenied
}

// Authorize returns a copy of this request token approved by user with
// the given verifier. A token whose authorization has already been
// decided cannot transition again.
func (t ServiceProviderToken) Authorize(user, verifier string) (ServiceProviderToken, error) {
	if err := t.checkUndecided(user); err != nil {
		return ServiceProviderToken{}, err
	}
	if verifier == "" {
		return ServiceProviderToken{}, fmt.Errorf("verifier must not be empty")
	}

	authorized := t
	authorized.Authorization = AuthorizationAuthorized
	authorized.User = user
	authorized.Verifier = verifier

	return authorized, nil
}

// Deny returns a copy of this request token refused by user.
func (t ServiceProviderToken) Deny(user string) (ServiceProviderToken, error) {
	if err := t.checkUndecided(user); err != nil {
		return ServiceProviderToken{}, err
	}

	denied := t
	denied.Authorization = AuthorizationDenied
	denied.User = user

	return denied, nil
}

func (t ServiceProviderToken) checkUndecided(user string) error {
	switch {
	case user == "":
		return fmt.Errorf("user must not be empty")
	case !t.IsRequestToken():
		return fmt.Errorf("token is not a request token")
	case t.HasBeenAuthorized():
		return fmt.Errorf("token has already been authorized")
	case t.HasBeenDenied():
		return fmt.Errorf("token has already been denied")
	}

	return nil
}
