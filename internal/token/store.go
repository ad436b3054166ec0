package token

// Store is the durable, concurrency-safe token store keyed by token
// value. Get returns nil without error when the token is unknown;
// Remove of an unknown token is a no-op. Expiry is never enforced by
// the store itself beyond the explicit sweep operations; readers check
// validity against the clock.
type Store interface {
	Get(tokenValue string) (*ServiceProviderToken, error)

	// Put upserts by the Token field and returns the stored value.
	Put(t ServiceProviderToken) (*ServiceProviderToken, error)

	Remove(tokenValue string) error

	// RemoveExpiredTokens sweeps every token whose TTL has elapsed.
	RemoveExpiredTokens() error

	// RemoveExpiredSessions sweeps every access token whose session
	// has expired.
	RemoveExpiredSessions() error

	// RemoveByConsumer sweeps every token issued to the consumer,
	// used when a consumer is deleted or revoked.
	RemoveByConsumer(consumerKey string) error

	// GetAccessTokensForUser returns all access tokens whose user
	// matches case-insensitively.
	GetAccessTokensForUser(username string) ([]ServiceProviderToken, error)

	// Batch runs fn with durable saves suppressed until it returns.
	Batch(fn func() error) error
}
