package token

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/oauth1x/provider/internal/consumer"
	"github.com/oauth1x/provider/internal/secrets"
)

const (
	storeFilePerm = fs.FileMode(0o600)
	storeOpenWait = 5 * time.Second
)

var tokensBucket = []byte("oauth-tokens")

// PersistentStore is a Store backed by its own bbolt database file,
// independent of the consumer database. Secret-bearing fields (token
// secret, verifier, session handle) pass through the secret cipher on
// the way to disk and back. The token map is copy-on-write: mutations
// build a new map, publish it, then rewrite the whole bucket in one
// transaction, so readers are served from the last-published snapshot
// and never wait out a durable save.
type PersistentStore struct {
	db        *bolt.DB
	consumers consumer.Store
	cipher    secrets.Cipher
	logger    *slog.Logger
	now       func() time.Time

	// writeMu serializes load-mutate-save; mu guards only the
	// publication of the tokens pointer.
	writeMu  sync.Mutex
	mu       sync.RWMutex
	tokens   map[string]ServiceProviderToken // nil until first load
	deferred int
	dirty    bool
}

// NewPersistentStore opens (creating if needed) the token database at
// path. Serialized tokens reference consumers by key; consumers
// resolves those references at load time.
func NewPersistentStore(path string, consumers consumer.Store, cipher secrets.Cipher, logger *slog.Logger) (*PersistentStore, error) {
	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenWait})
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing token store: %w", err)
	}

	return &PersistentStore{
		db:        db,
		consumers: consumers,
		cipher:    cipher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *PersistentStore) Close() error {
	return s.db.Close()
}

// Get returns the token with the given value, or nil.
func (s *PersistentStore) Get(tokenValue string) (*ServiceProviderToken, error) {
	if tokenValue == "" {
		return nil, fmt.Errorf("token value must not be empty")
	}

	tokens, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if t, ok := tokens[tokenValue]; ok {
		return &t, nil
	}

	return nil, nil
}

// Put upserts the token under its Token field and returns the stored
// value.
func (s *PersistentStore) Put(t ServiceProviderToken) (*ServiceProviderToken, error) {
	if t.Token == "" {
		return nil, fmt.Errorf("token value must not be empty")
	}

	err := s.mutate(func(tokens map[string]ServiceProviderToken) bool {
		tokens[t.Token] = t
		return true
	})
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// Remove deletes the token with the given value. Removing an unknown
// token is a no-op.
func (s *PersistentStore) Remove(tokenValue string) error {
	if tokenValue == "" {
		return fmt.Errorf("token value must not be empty")
	}

	return s.mutate(func(tokens map[string]ServiceProviderToken) bool {
		if _, ok := tokens[tokenValue]; !ok {
			return false
		}
		delete(tokens, tokenValue)
		return true
	})
}

// RemoveExpiredTokens sweeps every token whose TTL has elapsed.
func (s *PersistentStore) RemoveExpiredTokens() error {
	now := s.now()
	return s.removeMatching(func(t ServiceProviderToken) bool {
		return t.HasExpired(now)
	})
}

// RemoveExpiredSessions sweeps every access token whose session has
// expired.
func (s *PersistentStore) RemoveExpiredSessions() error {
	now := s.now()
	return s.removeMatching(func(t ServiceProviderToken) bool {
		return t.Session != nil && t.Session.HasExpired(now)
	})
}

// RemoveByConsumer sweeps every token issued to the given consumer.
func (s *PersistentStore) RemoveByConsumer(consumerKey string) error {
	if consumerKey == "" {
		return fmt.Errorf("consumer key must not be empty")
	}

	return s.removeMatching(func(t ServiceProviderToken) bool {
		return t.Consumer != nil && t.Consumer.Key == consumerKey
	})
}

func (s *PersistentStore) removeMatching(match func(ServiceProviderToken) bool) error {
	return s.mutate(func(tokens map[string]ServiceProviderToken) bool {
		removed := false
		for value, t := range tokens {
			if match(t) {
				delete(tokens, value)
				removed = true
			}
		}
		return removed
	})
}

// GetAccessTokensForUser returns all access tokens whose user matches
// case-insensitively.
func (s *PersistentStore) GetAccessTokensForUser(username string) ([]ServiceProviderToken, error) {
	if username == "" {
		return nil, fmt.Errorf("username must not be empty")
	}

	tokens, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	var matches []ServiceProviderToken
	for _, t := range tokens {
		if t.IsAccessToken() && strings.EqualFold(t.User, username) {
			matches = append(matches, t)
		}
	}

	return matches, nil
}

// Batch runs fn with durable saves suppressed; a single save flushes
// the final state when fn returns.
func (s *PersistentStore) Batch(fn func() error) error {
	s.writeMu.Lock()
	s.deferred++
	s.writeMu.Unlock()

	fnErr := fn()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.deferred--
	if s.deferred == 0 && s.dirty {
		s.dirty = false
		s.mu.RLock()
		tokens := s.tokens
		s.mu.RUnlock()
		if err := s.save(tokens); err != nil {
			if fnErr == nil {
				fnErr = err
			}
		}
	}

	return fnErr
}

// snapshot returns the last-published token map, loading it from disk
// on first access. Readers share the snapshot and must not modify it.
func (s *PersistentStore) snapshot() (map[string]ServiceProviderToken, error) {
	s.mu.RLock()
	tokens := s.tokens
	s.mu.RUnlock()
	if tokens != nil {
		return tokens, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.load()
}

// mutate clones the published map, applies fn to the clone, publishes
// the clone, then saves it. fn returns false to report that nothing
// changed, skipping the save.
func (s *PersistentStore) mutate(fn func(map[string]ServiceProviderToken) bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}

	next := make(map[string]ServiceProviderToken, len(current)+1)
	for value, t := range current {
		next[value] = t
	}
	if !fn(next) {
		return nil
	}

	s.mu.Lock()
	s.tokens = next
	s.mu.Unlock()

	return s.save(next)
}

// load returns the published map, populating it from disk on first
// access. Callers must hold writeMu.
func (s *PersistentStore) load() (map[string]ServiceProviderToken, error) {
	s.mu.RLock()
	published := s.tokens
	s.mu.RUnlock()
	if published != nil {
		return published, nil
	}

	tokens := make(map[string]ServiceProviderToken)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(k, v []byte) error {
			var rec tokenRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("token %q: %w", k, err)
			}

			t, err := s.fromRecord(string(k), rec)
			if err != nil {
				return fmt.Errorf("token %q: %w", k, err)
			}
			tokens[string(k)] = t

			return nil
		})
	})
	if err != nil {
		s.logger.Error("failed to load tokens from disk", slog.Any("error", err))
		return nil, fmt.Errorf("loading token store: %w", err)
	}

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()

	return tokens, nil
}

// save rewrites the whole bucket from the given map. Callers must hold
// writeMu.
func (s *PersistentStore) save(tokens map[string]ServiceProviderToken) error {
	if s.deferred > 0 {
		s.dirty = true
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(tokensBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(tokensBucket)
		if err != nil {
			return err
		}

		for value, t := range tokens {
			rec, err := s.toRecord(t)
			if err != nil {
				return fmt.Errorf("token %q: %w", value, err)
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("token %q: %w", value, err)
			}
			if err := b.Put([]byte(value), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		s.logger.Error("failed to persist tokens to disk", slog.Any("error", err))
		return fmt.Errorf("saving token store: %w", err)
	}

	return nil
}

// tokenRecord is the serialized form of a token. Unknown fields on
// disk are ignored on read for forward compatibility; times are epoch
// milliseconds.
type tokenRecord struct {
	AccessToken   bool              `json:"access-token"`
	TokenSecret   string            `json:"token-secret,omitempty"`
	ConsumerKey   string            `json:"consumer-key,omitempty"`
	Authorization string            `json:"authorization"`
	User          string            `json:"user,omitempty"`
	Verifier      string            `json:"verifier,omitempty"`
	Callback      string            `json:"callback,omitempty"`
	CreationTime  int64             `json:"creation-time"`
	TimeToLive    int64             `json:"time-to-live"`
	Properties    map[string]string `json:"properties,omitempty"`
	Session       *sessionRecord    `json:"session,omitempty"`
}

type sessionRecord struct {
	Handle          string `json:"handle"`
	CreationTime    int64  `json:"creation-time"`
	LastRenewalTime int64  `json:"last-renewal-time"`
	TimeToLive      int64  `json:"time-to-live"`
}

func (s *PersistentStore) toRecord(t ServiceProviderToken) (tokenRecord, error) {
	encSecret, err := s.cipher.Encrypt(t.TokenSecret)
	if err != nil {
		return tokenRecord{}, fmt.Errorf("encrypting token secret: %w", err)
	}
	encVerifier, err := s.cipher.Encrypt(t.Verifier)
	if err != nil {
		return tokenRecord{}, fmt.Errorf("encrypting verifier: %w", err)
	}

	rec := tokenRecord{
		AccessToken:   t.IsAccessToken(),
		TokenSecret:   encSecret,
		Authorization: string(t.Authorization),
		User:          t.User,
		Verifier:      encVerifier,
		CreationTime:  t.CreationTime.UnixMilli(),
		TimeToLive:    t.TimeToLive.Milliseconds(),
		Properties:    t.Properties,
	}
	if t.Consumer != nil {
		rec.ConsumerKey = t.Consumer.Key
	}
	if t.Callback != nil {
		rec.Callback = t.Callback.String()
	}
	if t.Session != nil {
		encHandle, err := s.cipher.Encrypt(t.Session.Handle)
		if err != nil {
			return tokenRecord{}, fmt.Errorf("encrypting session handle: %w", err)
		}
		rec.Session = &sessionRecord{
			Handle:          encHandle,
			CreationTime:    t.Session.CreationTime.UnixMilli(),
			LastRenewalTime: t.Session.LastRenewalTime.UnixMilli(),
			TimeToLive:      t.Session.TimeToLive.Milliseconds(),
		}
	}

	return rec, nil
}

func (s *PersistentStore) fromRecord(tokenValue string, rec tokenRecord) (ServiceProviderToken, error) {
	secret, err := s.cipher.Decrypt(rec.TokenSecret)
	if err != nil {
		return ServiceProviderToken{}, fmt.Errorf("decrypting token secret: %w", err)
	}
	verifier, err := s.cipher.Decrypt(rec.Verifier)
	if err != nil {
		return ServiceProviderToken{}, fmt.Errorf("decrypting verifier: %w", err)
	}

	t := ServiceProviderToken{
		Token:         tokenValue,
		TokenSecret:   secret,
		Kind:          KindRequest,
		Authorization: Authorization(rec.Authorization),
		User:          rec.User,
		Verifier:      verifier,
		CreationTime:  time.UnixMilli(rec.CreationTime),
		TimeToLive:    time.Duration(rec.TimeToLive) * time.Millisecond,
		Properties:    rec.Properties,
	}
	if rec.AccessToken {
		t.Kind = KindAccess
	}
	if rec.Authorization == "" {
		t.Authorization = AuthorizationNone
		if rec.AccessToken {
			t.Authorization = AuthorizationAuthorized
		}
	}

	if rec.Callback != "" {
		callback, err := url.Parse(rec.Callback)
		if err != nil {
			return ServiceProviderToken{}, fmt.Errorf("parsing callback url: %w", err)
		}
		t.Callback = callback
	}

	if rec.ConsumerKey != "" {
		// A missing consumer is tolerated: the token loads with no
		// consumer and the protocol handlers reject it.
		c, err := s.consumers.Get(rec.ConsumerKey)
		if err != nil {
			return ServiceProviderToken{}, fmt.Errorf("resolving consumer %q: %w", rec.ConsumerKey, err)
		}
		t.Consumer = c
	}

	if rec.Session != nil {
		handle, err := s.cipher.Decrypt(rec.Session.Handle)
		if err != nil {
			return ServiceProviderToken{}, fmt.Errorf("decrypting session handle: %w", err)
		}
		t.Session = &Session{
			Handle:          handle,
			CreationTime:    time.UnixMilli(rec.Session.CreationTime),
			LastRenewalTime: time.UnixMilli(rec.Session.LastRenewalTime),
			TimeToLive:      time.Duration(rec.Session.TimeToLive) * time.Millisecond,
		}
	}

	return t, nil
}
