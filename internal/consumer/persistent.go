package consumer

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	storeFilePerm   = fs.FileMode(0o600)
	storeOpenWait   = 5 * time.Second
	publicKeyAlgRSA = "RSA"
	publicKeyFormat = "X.509"
)

var consumersBucket = []byte("oauth-consumers")

// PersistentStore is a Store backed by its own bbolt database file.
// The consumer map is copy-on-write: mutations build a new map,
// publish it, then rewrite the whole bucket in a single transaction,
// so readers are served from the last-published snapshot and never
// wait out a durable save.
type PersistentStore struct {
	db     *bolt.DB
	logger *slog.Logger

	// writeMu serializes load-mutate-save; mu guards only the
	// publication of the consumers pointer.
	writeMu   sync.Mutex
	mu        sync.RWMutex
	consumers map[string]Consumer // nil until first load
	deferred  int
	dirty     bool
}

// NewPersistentStore opens (creating if needed) the consumer database
// at path.
func NewPersistentStore(path string, logger *slog.Logger) (*PersistentStore, error) {
	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenWait})
	if err != nil {
		return nil, fmt.Errorf("opening consumer store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(consumersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing consumer store: %w", err)
	}

	return &PersistentStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *PersistentStore) Close() error {
	return s.db.Close()
}

// Add stores a new consumer, failing with ErrExists if the key is
// already registered.
func (s *PersistentStore) Add(c Consumer) error {
	if c.Key == "" {
		return fmt.Errorf("consumer key must not be empty")
	}

	return s.mutate(func(consumers map[string]Consumer) (bool, error) {
		if _, ok := consumers[c.Key]; ok {
			s.logger.Warn("consumer already exists", slog.String("key", c.Key))
			return false, fmt.Errorf("adding consumer %q: %w", c.Key, ErrExists)
		}
		consumers[c.Key] = c
		return true, nil
	})
}

// Get returns the consumer with the given key, or nil.
func (s *PersistentStore) Get(key string) (*Consumer, error) {
	if key == "" {
		return nil, fmt.Errorf("consumer key must not be empty")
	}

	consumers, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if c, ok := consumers[key]; ok {
		return &c, nil
	}

	return nil, nil
}

// GetAll returns every registered consumer.
func (s *PersistentStore) GetAll() ([]Consumer, error) {
	consumers, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	all := make([]Consumer, 0, len(consumers))
	for _, c := range consumers {
		all = append(all, c)
	}

	return all, nil
}

// Update replaces an existing consumer, failing with ErrNotFound when
// the key is not registered.
func (s *PersistentStore) Update(c Consumer) error {
	if c.Key == "" {
		return fmt.Errorf("consumer key must not be empty")
	}

	return s.mutate(func(consumers map[string]Consumer) (bool, error) {
		if _, ok := consumers[c.Key]; !ok {
			s.logger.Warn("consumer does not exist", slog.String("key", c.Key))
			return false, fmt.Errorf("updating consumer %q: %w", c.Key, ErrNotFound)
		}
		consumers[c.Key] = c
		return true, nil
	})
}

// Delete removes the consumer with the given key. Removing an unknown
// key is a no-op.
func (s *PersistentStore) Delete(key string) error {
	if key == "" {
		return fmt.Errorf("consumer key must not be empty")
	}

	return s.mutate(func(consumers map[string]Consumer) (bool, error) {
		if _, ok := consumers[key]; !ok {
			return false, nil
		}
		delete(consumers, key)
		return true, nil
	})
}

// Batch runs fn with durable saves suppressed; mutations made inside
// accumulate in memory and a single save flushes the final state when
// fn returns.
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
		consumers := s.consumers
		s.mu.RUnlock()
		if err := s.save(consumers); err != nil {
			if fnErr == nil {
				fnErr = err
			}
		}
	}

	return fnErr
}

// snapshot returns the last-published consumer map, loading it from
// disk on first access. Readers share the snapshot and must not modify
// it.
func (s *PersistentStore) snapshot() (map[string]Consumer, error) {
	s.mu.RLock()
	consumers := s.consumers
	s.mu.RUnlock()
	if consumers != nil {
		return consumers, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.load()
}

// mutate clones the published map, applies fn to the clone, publishes
// the clone, then saves it. fn reports whether anything changed;
// returning an error leaves the published map untouched.
func (s *PersistentStore) mutate(fn func(map[string]Consumer) (bool, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}

	next := make(map[string]Consumer, len(current)+1)
	for key, c := range current {
		next[key] = c
	}
	changed, err := fn(next)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.mu.Lock()
	s.consumers = next
	s.mu.Unlock()

	return s.save(next)
}

// load returns the published map, populating it from disk on first
// access. Callers must hold writeMu.
func (s *PersistentStore) load() (map[string]Consumer, error) {
	s.mu.RLock()
	published := s.consumers
	s.mu.RUnlock()
	if published != nil {
		return published, nil
	}

	consumers := make(map[string]Consumer)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(consumersBucket).ForEach(func(k, v []byte) error {
			var rec consumerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("consumer %q: %w", k, err)
			}

			c, err := rec.toConsumer(string(k))
			if err != nil {
				return fmt.Errorf("consumer %q: %w", k, err)
			}
			consumers[string(k)] = c

			return nil
		})
	})
	if err != nil {
		s.logger.Error("failed to load consumers from disk", slog.Any("error", err))
		return nil, fmt.Errorf("loading consumer store: %w", err)
	}

	s.mu.Lock()
	s.consumers = consumers
	s.mu.Unlock()

	return consumers, nil
}

// save rewrites the whole bucket from the given map. Callers must hold
// writeMu.
func (s *PersistentStore) save(consumers map[string]Consumer) error {
	if s.deferred > 0 {
		s.dirty = true
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(consumersBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(consumersBucket)
		if err != nil {
			return err
		}

		for key, c := range consumers {
			data, err := json.Marshal(newConsumerRecord(c))
			if err != nil {
				return fmt.Errorf("consumer %q: %w", key, err)
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		s.logger.Error("failed to persist consumers to disk", slog.Any("error", err))
		return fmt.Errorf("saving consumer store: %w", err)
	}

	return nil
}

// consumerRecord is the serialized form of a Consumer. Unknown fields
// on disk are ignored on read for forward compatibility.
type consumerRecord struct {
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	CallbackURL     string           `json:"callback-url,omitempty"`
	Secret          string           `json:"secret,omitempty"`
	SignatureMethod string           `json:"signature-method"`
	PublicKey       *publicKeyRecord `json:"public-key,omitempty"`
}

type publicKeyRecord struct {
	Encoded   string `json:"key"`
	Algorithm string `json:"algorithm"`
	Format    string `json:"format"`
}

func newConsumerRecord(c Consumer) consumerRecord {
	rec := consumerRecord{
		Name:            c.Name,
		Description:     c.Description,
		Secret:          c.Secret,
		SignatureMethod: string(c.SignatureMethod),
	}
	if c.Callback != nil {
		rec.CallbackURL = c.Callback.String()
	}
	if c.PublicKey != nil {
		// MarshalPKIXPublicKey cannot fail for a well-formed RSA key.
		der, _ := x509.MarshalPKIXPublicKey(c.PublicKey)
		rec.PublicKey = &publicKeyRecord{
			Encoded:   base64.StdEncoding.EncodeToString(der),
			Algorithm: publicKeyAlgRSA,
			Format:    publicKeyFormat,
		}
	}

	return rec
}

func (r consumerRecord) toConsumer(key string) (Consumer, error) {
	b := New(key).
		Name(r.Name).
		Description(r.Description).
		Secret(r.Secret).
		SignatureMethod(SignatureMethod(r.SignatureMethod))

	if r.CallbackURL != "" {
		callback, err := url.Parse(r.CallbackURL)
		if err != nil {
			return Consumer{}, fmt.Errorf("parsing callback url: %w", err)
		}
		b.Callback(callback)
	}

	if r.PublicKey != nil {
		key, err := parsePublicKey(r.PublicKey.Encoded)
		if err != nil {
			return Consumer{}, err
		}
		b.PublicKey(key)
	}

	return b.Build()
}

func parsePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, expected RSA", parsed)
	}

	return key, nil
}
