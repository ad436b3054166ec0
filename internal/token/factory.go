package token

import (
	"fmt"
	"net/url"
	"time"

	"github.com/oauth1x/provider/internal/consumer"
	"github.com/oauth1x/provider/internal/random"
)

const (
	tokenSecretBytes   = 80
	sessionHandleBytes = 80
)

// Factory mints fresh tokens with correct defaults. TTLs are fixed at
// construction; a zero TTL falls back to the package default.
type Factory struct {
	rand       random.Generator
	requestTTL time.Duration
	accessTTL  time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// NewFactory returns a factory minting tokens with the given
// lifetimes. Pass zero to use the defaults.
func NewFactory(requestTTL, accessTTL, sessionTTL time.Duration) *Factory {
	if requestTTL <= 0 {
		requestTTL = DefaultRequestTokenTTL
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	return &Factory{
		requestTTL: requestTTL,
		accessTTL:  accessTTL,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// GenerateRequestToken mints an unauthorized request token for the
// consumer. A nil callback falls back to the consumer's default
// callback; nil overall means out-of-band verifier delivery.
func (f *Factory) GenerateRequestToken(c *consumer.Consumer, callback *url.URL) (ServiceProviderToken, error) {
	if c == nil {
		return ServiceProviderToken{}, fmt.Errorf("consumer must not be nil")
	}
	if callback == nil {
		callback = c.Callback
	}

	return ServiceProviderToken{
		Token:         f.rand.TokenValue(),
		TokenSecret:   f.rand.URLSafeString(tokenSecretBytes),
		Kind:          KindRequest,
		Consumer:      c,
		Authorization: AuthorizationNone,
		Callback:      callback,
		CreationTime:  f.now(),
		TimeToLive:    f.requestTTL,
	}, nil
}

// GenerateAccessToken exchanges an authorized, unexpired request token
// for a brand-new access token with a fresh session. The source
// request token is not modified; the caller deletes it after storing
// the result.
func (f *Factory) GenerateAccessToken(requestToken ServiceProviderToken) (ServiceProviderToken, error) {
	now := f.now()
	switch {
	case !requestToken.IsRequestToken():
		return ServiceProviderToken{}, fmt.Errorf("token is not a request token")
	case requestToken.User == "" || requestToken.Verifier == "":
		return ServiceProviderToken{}, fmt.Errorf("request token is not authorized")
	case requestToken.HasExpired(now):
		return ServiceProviderToken{}, fmt.Errorf("request token has expired")
	}

	return ServiceProviderToken{
		Token:         f.rand.TokenValue(),
		TokenSecret:   f.rand.URLSafeString(tokenSecretBytes),
		Kind:          KindAccess,
		Consumer:      requestToken.Consumer,
		Authorization: AuthorizationAuthorized,
		User:          requestToken.User,
		Verifier:      requestToken.Verifier,
		Callback:      requestToken.Callback,
		CreationTime:  now,
		TimeToLive:    f.accessTTL,
		Properties:    requestToken.Properties,
		Session: &Session{
			Handle:          f.rand.URLSafeString(sessionHandleBytes),
			CreationTime:    now,
			LastRenewalTime: now,
			TimeToLive:      f.sessionTTL,
		},
	}, nil
}

// RenewAccessToken mints a replacement for an access token whose
// session is still valid: a wholly new token, secret, and session
// handle rather than an extension of the old session. The caller
// deletes the source token after storing the result.
func (f *Factory) RenewAccessToken(accessToken ServiceProviderToken) (ServiceProviderToken, error) {
	if !accessToken.IsAccessToken() {
		return ServiceProviderToken{}, fmt.Errorf("token is not an access token")
	}
	if accessToken.Session == nil {
		return ServiceProviderToken{}, fmt.Errorf("access token has no session")
	}

	now := f.now()
	renewed := accessToken
	renewed.Token = f.rand.TokenValue()
	renewed.TokenSecret = f.rand.URLSafeString(tokenSecretBytes)
	renewed.CreationTime = now
	renewed.TimeToLive = f.accessTTL
	renewed.Session = &Session{
		Handle:          f.rand.URLSafeString(sessionHandleBytes),
		CreationTime:    now,
		LastRenewalTime: now,
		TimeToLive:      f.sessionTTL,
	}

	return renewed, nil
}
