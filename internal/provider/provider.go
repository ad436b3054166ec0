// Package provider implements the OAuth 1.0a three-legged protocol
// state machine: request-token issuance, resource-owner authorization,
// access-token exchange, and session-based renewal.
package provider

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/oauth1x/provider/internal/consumer"
	"github.com/oauth1x/provider/internal/oauth1"
	"github.com/oauth1x/provider/internal/random"
	"github.com/oauth1x/provider/internal/token"
)

// verifierLength is the length of the alphanumeric verifier shown to
// the resource owner; kept short because it may be retyped out of
// band.
const verifierLength = 6

// invalidCallbackAdvice is the advice attached to a rejected
// oauth_callback parameter.
const invalidCallbackAdvice = "As per OAuth spec version 1.0 Revision A Section 6.1 <http://oauth.net/core/1.0a#auth_step1>, " +
	"the oauth_callback parameter is required and must be either a valid, absolute URI using the http or https scheme, " +
	"or 'oob' if the callback has been established out of band. The following invalid URI was supplied '%s'"

// outOfBand is the literal oauth_callback value meaning the verifier
// is delivered out of band rather than by redirect.
const outOfBand = "oob"

// SignatureValidator verifies that a request was signed with the
// consumer's credential material and the relevant token secret.
type SignatureValidator interface {
	Validate(msg *oauth1.Message, c *consumer.Consumer, tokenSecret string) error
}

// Provider is the protocol state machine. Each operation reads the
// current token state, decides, and writes back; no operation depends
// on history beyond what the token record captures.
type Provider struct {
	consumers consumer.Store
	tokens    token.Store
	factory   *token.Factory
	validator SignatureValidator
	rand      random.Generator
	logger    *slog.Logger
	now       func() time.Time
}

// New wires a provider from its collaborators.
func New(consumers consumer.Store, tokens token.Store, factory *token.Factory, validator SignatureValidator, logger *slog.Logger) *Provider {
	return &Provider{
		consumers: consumers,
		tokens:    tokens,
		factory:   factory,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// RequestTokenResult is the response to a request-token call.
type RequestTokenResult struct {
	Token             string
	TokenSecret       string
	CallbackConfirmed bool
}

// IssueRequestToken resolves the consumer, verifies the request
// signature, validates the callback, and mints and stores a fresh
// unauthorized request token.
func (p *Provider) IssueRequestToken(msg *oauth1.Message) (*RequestTokenResult, error) {
	if problem := msg.Require(oauth1.ParamConsumerKey); problem != nil {
		return nil, problem
	}

	c, err := p.consumers.Get(msg.ConsumerKey())
	if err != nil {
		return nil, err
	}
	if c == nil {
		p.logger.Warn("request token for unknown consumer", slog.String("consumer_key", msg.ConsumerKey()))
		return nil, oauth1.NewProblem(oauth1.ProblemConsumerKeyUnknown)
	}

	// An unissued token has no secret yet, so the signature covers
	// the consumer secret alone.
	if err := p.validator.Validate(msg, c, ""); err != nil {
		p.logProblem("request token", msg, err)
		return nil, err
	}

	callback, err := p.resolveCallback(msg)
	if err != nil {
		return nil, err
	}

	t, err := p.factory.GenerateRequestToken(c, callback)
	if err != nil {
		return nil, fmt.Errorf("generating request token: %w", err)
	}
	stored, err := p.tokens.Put(t)
	if err != nil {
		return nil, err
	}

	p.logger.Info("issued request token",
		slog.String("consumer_key", c.Key),
		slog.String("token", stored.Token),
	)

	return &RequestTokenResult{
		Token:             stored.Token,
		TokenSecret:       stored.TokenSecret,
		CallbackConfirmed: true,
	}, nil
}

// resolveCallback maps the oauth_callback parameter onto a stored
// callback: absent or "oob" mean out of band (nil); anything else must
// be an absolute http(s) URI.
func (p *Provider) resolveCallback(msg *oauth1.Message) (*url.URL, error) {
	raw := msg.Get(oauth1.ParamCallback)
	if raw == "" || raw == outOfBand {
		return nil, nil
	}

	callback, err := url.Parse(raw)
	if err != nil || !isValidCallback(callback) {
		p.logger.Warn("rejected callback URI", slog.String("callback", raw))
		return nil, oauth1.RejectedParameter(oauth1.ParamCallback, fmt.Sprintf(invalidCallbackAdvice, raw))
	}

	return callback, nil
}

func isValidCallback(callback *url.URL) bool {
	return callback.IsAbs() && (callback.Scheme == "http" || callback.Scheme == "https")
}

// Authorize marks the request token approved by user and returns the
// verifier the consumer must present at exchange. The caller is
// responsible for having authenticated the user; an empty user is a
// caller error and is rejected.
func (p *Provider) Authorize(tokenValue, user string) (string, error) {
	t, err := p.tokenForAuthorization(tokenValue, user)
	if err != nil {
		return "", err
	}

	verifier := p.rand.AlphanumericString(verifierLength)
	authorized, err := t.Authorize(user, verifier)
	if err != nil {
		return "", oauth1.NewProblem(oauth1.ProblemTokenRejected)
	}
	if _, err := p.tokens.Put(authorized); err != nil {
		return "", err
	}

	p.logger.Info("request token authorized",
		slog.String("token", tokenValue),
		slog.String("user", user),
	)

	return verifier, nil
}

// Deny marks the request token refused by user. A denied token can
// never be authorized or exchanged afterwards.
func (p *Provider) Deny(tokenValue, user string) error {
	t, err := p.tokenForAuthorization(tokenValue, user)
	if err != nil {
		return err
	}

	denied, err := t.Deny(user)
	if err != nil {
		return oauth1.NewProblem(oauth1.ProblemTokenRejected)
	}
	if _, err := p.tokens.Put(denied); err != nil {
		return err
	}

	p.logger.Info("request token denied",
		slog.String("token", tokenValue),
		slog.String("user", user),
	)

	return nil
}

// tokenForAuthorization fetches a request token that is still awaiting
// the resource owner's decision.
func (p *Provider) tokenForAuthorization(tokenValue, user string) (*token.ServiceProviderToken, error) {
	if user == "" {
		return nil, oauth1.NewProblem(oauth1.ProblemTokenRejected)
	}

	t, err := p.tokens.Get(tokenValue)
	if err != nil {
		return nil, err
	}
	switch {
	case t == nil, !t.IsRequestToken():
		return nil, oauth1.NewProblem(oauth1.ProblemTokenRejected)
	case t.Authorization != token.AuthorizationNone:
		return nil, oauth1.NewProblem(oauth1.ProblemTokenUsed)
	case t.HasExpired(p.now()):
		return nil, oauth1.NewProblem(oauth1.ProblemTokenExpired)
	}

	return t, nil
}

// AccessTokenResult is the response to both exchange and renewal.
type AccessTokenResult struct {
	Token            string
	TokenSecret      string
	ExpiresIn        time.Duration
	SessionHandle    string
	SessionExpiresIn time.Duration
}

// ExchangeAccessToken swaps an authorized request token for a new
// access token, or renews an existing access token by session handle.
// The source token is deleted once the replacement is stored.
func (p *Provider) ExchangeAccessToken(msg *oauth1.Message) (*AccessTokenResult, error) {
	if problem := msg.Require(oauth1.ParamToken); problem != nil {
		return nil, problem
	}

	t, err := p.tokens.Get(msg.Token())
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, oauth1.NewProblem(oauth1.ProblemTokenRejected)
	}

	if t.IsRequestToken() {
		if err := p.checkRequestToken(msg, t); err != nil {
			return nil, err
		}
	} else {
		if err := p.checkAccessToken(msg, t); err != nil {
			return nil, err
		}
	}

	if err := p.validator.Validate(msg, t.Consumer, t.TokenSecret); err != nil {
		p.logProblem("access token", msg, err)
		return nil, err
	}

	var minted token.ServiceProviderToken
	if t.IsRequestToken() {
		minted, err = p.factory.GenerateAccessToken(*t)
	} else {
		minted, err = p.factory.RenewAccessToken(*t)
	}
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	stored, err := p.tokens.Put(minted)
	if err != nil {
		return nil, err
	}
	if err := p.tokens.Remove(t.Token); err != nil {
		return nil, err
	}

	p.logger.Info("issued access token",
		slog.String("consumer_key", stored.Consumer.Key),
		slog.String("token", stored.Token),
		slog.String("user", stored.User),
		slog.Bool("renewal", t.IsAccessToken()),
	)

	return &AccessTokenResult{
		Token:            stored.Token,
		TokenSecret:      stored.TokenSecret,
		ExpiresIn:        stored.TimeToLive,
		SessionHandle:    stored.Session.Handle,
		SessionExpiresIn: stored.Session.TimeToLive,
	}, nil
}

// checkRequestToken validates the first exchange of a request token
// for an access token.
func (p *Provider) checkRequestToken(msg *oauth1.Message, t *token.ServiceProviderToken) error {
	switch {
	case t.HasExpired(p.now()):
		return oauth1.NewProblem(oauth1.ProblemTokenExpired)
	case t.Authorization == token.AuthorizationNone:
		return oauth1.NewProblem(oauth1.ProblemPermissionUnknown)
	case t.Authorization == token.AuthorizationDenied:
		return oauth1.NewProblem(oauth1.ProblemPermissionDenied)
	case t.Consumer == nil, t.Consumer.Key != msg.ConsumerKey():
		return oauth1.NewProblem(oauth1.ProblemTokenRejected)
	}

	if problem := msg.Require(oauth1.ParamVerifier); problem != nil {
		return problem
	}
	if msg.Get(oauth1.ParamVerifier) != t.Verifier {
		return oauth1.NewProblem(oauth1.ProblemTokenRejected)
	}

	return nil
}

// checkAccessToken validates a session-based renewal.
func (p *Provider) checkAccessToken(msg *oauth1.Message, t *token.ServiceProviderToken) error {
	if t.Session == nil || t.Consumer == nil {
		return oauth1.NewProblem(oauth1.ProblemTokenRejected)
	}
	if problem := msg.Require(oauth1.ParamSessionHandle); problem != nil {
		return problem
	}
	if msg.Get(oauth1.ParamSessionHandle) != t.Session.Handle {
		return oauth1.NewProblem(oauth1.ProblemTokenRejected)
	}
	if t.Session.HasExpired(p.now()) {
		return oauth1.NewProblem(oauth1.ProblemPermissionDenied)
	}

	return nil
}

// RevokeConsumer removes a consumer and, in sequence, every token
// issued to it. The two stores are independent; the cross-store
// invariant is enforced here by explicit sequential calls.
func (p *Provider) RevokeConsumer(consumerKey string) error {
	if err := p.consumers.Delete(consumerKey); err != nil {
		return err
	}

	return p.tokens.RemoveByConsumer(consumerKey)
}

func (p *Provider) logProblem(operation string, msg *oauth1.Message, err error) {
	p.logger.Warn("rejecting "+operation+" request",
		slog.String("consumer_key", msg.ConsumerKey()),
		slog.Any("error", err),
	)
}
