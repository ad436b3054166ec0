package consumer

import "errors"

var (
	// ErrExists is returned by Add when the consumer key is taken.
	ErrExists = errors.New("consumer already exists")

	// ErrNotFound is returned by Update when no consumer has the key.
	ErrNotFound = errors.New("consumer not found")
)

// Store is the registry of consumers keyed by consumer key. Get
// returns nil without error when the key is unknown; Delete is a no-op
// when the key is absent.
type Store interface {
	Add(c Consumer) error
	Get(key string) (*Consumer, error)
	GetAll() ([]Consumer, error)
	Update(c Consumer) error
	Delete(key string) error
}
