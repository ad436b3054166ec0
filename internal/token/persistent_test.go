package token

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/oauth1x/provider/internal/consumer"
	"github.com/oauth1x/provider/internal/secrets"
)

// fakeConsumerStore is an in-memory consumer.Store for resolving
// serialized consumer references without a second database file.
type fakeConsumerStore struct {
	consumers map[string]consumer.Consumer
}

func newFakeConsumerStore(cs ...consumer.Consumer) *fakeConsumerStore {
	s := &fakeConsumerStore{consumers: make(map[string]consumer.Consumer)}
	for _, c := range cs {
		s.consumers[c.Key] = c
	}
	return s
}

func (s *fakeConsumerStore) Add(c consumer.Consumer) error {
	s.consumers[c.Key] = c
	return nil
}

func (s *fakeConsumerStore) Get(key string) (*consumer.Consumer, error) {
	if c, ok := s.consumers[key]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *fakeConsumerStore) GetAll() ([]consumer.Consumer, error) {
	all := make([]consumer.Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		all = append(all, c)
	}
	return all, nil
}

func (s *fakeConsumerStore) Update(c consumer.Consumer) error {
	s.consumers[c.Key] = c
	return nil
}

func (s *fakeConsumerStore) Delete(key string) error {
	delete(s.consumers, key)
	return nil
}

func testStoreLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTokenStore(t *testing.T, path string, consumers consumer.Store) *PersistentStore {
	t.Helper()

	cipher, err := secrets.NewAESCipher("test-master-key")
	require.NoError(t, err)

	s, err := NewPersistentStore(path, consumers, cipher, testStoreLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestPersistentStore_PutAndGet(t *testing.T) {
	c := testConsumer(t)
	s := openTokenStore(t, filepath.Join(t.TempDir(), "tokens.db"), newFakeConsumerStore(*c))

	tok := requestToken(t)
	stored, err := s.Put(tok)
	require.NoError(t, err)
	assert.Equal(t, tok.Token, stored.Token)

	got, err := s.Get(tok.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tok.TokenSecret, got.TokenSecret)
}

func TestPersistentStore_ReadsDoNotWaitForWriters(t *testing.T) {
	c := testConsumer(t)
	s := openTokenStore(t, filepath.Join(t.TempDir(), "tokens.db"), newFakeConsumerStore(*c))

	tok := requestToken(t)
	_, err := s.Put(tok)
	require.NoError(t, err)

	// With a mutator mid-save, reads are served from the published
	// snapshot and must not queue behind the durable write.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	done := make(chan *ServiceProviderToken, 1)
	go func() {
		got, err := s.Get(tok.Token)
		assert.NoError(t, err)
		done <- got
	}()

	select {
	case got := <-done:
		require.NotNil(t, got)
		assert.Equal(t, tok.Token, got.Token)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Get queued behind an in-flight mutation")
	}
}

func TestPersistentStore_GetUnknown(t *testing.T) {
	s := openTokenStore(t, filepath.Join(t.TempDir(), "tokens.db"), newFakeConsumerStore())

	got, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPersistentStore_Remove(t *testing.T) {
	c := testConsumer(t)
	s := openTokenStore(t, filepath.Join(t.TempDir(), "tokens.db"), newFakeConsumerStore(*c))

	tok := requestToken(t)
	_, err := s.Put(tok)
	require.NoError(t, err)
	require.NoError(t, s.Remove(tok.Token))

	got, err := s.Get(tok.Token)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Remove(tok.Token))
}

func TestPersistentStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	c := testConsumer(t)
	consumers := newFakeConsumerStore(*c)

	s := openTokenStore(t, path, consumers)
	f := NewFactory(0, 0, 0)
	req, err := f.GenerateRequestToken(c, nil)
	require.NoError(t, err)
	authorized, err := req.Authorize("alice", "ver123")
	require.NoError(t, err)
	access, err := f.GenerateAccessToken(authorized)
	require.NoError(t, err)
	access.Properties = map[string]string{"note": "hello"}
	_, err = s.Put(access)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openTokenStore(t, path, consumers)
	got, err := reopened.Get(access.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsAccessToken())
	assert.Equal(t, access.TokenSecret, got.TokenSecret)
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, "ver123", got.Verifier)
	assert.Equal(t, "hello", got.Properties["note"])
	require.NotNil(t, got.Consumer)
	assert.Equal(t, c.Key, got.Consumer.Key)
	require.NotNil(t, got.Session)
	assert.Equal(t, access.Session.Handle, got.Session.Handle)
	assert.Equal(t, access.Session.CreationTime.UnixMilli(), got.Session.CreationTime.UnixMilli())
}

func TestPersistentStore_SecretsEncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	c := testConsumer(t)

	s := openTokenStore(t, path, newFakeConsumerStore(*c))
	f := NewFactory(0, 0, 0)
	req, err := f.GenerateRequestToken(c, nil)
	require.NoError(t, err)
	authorized, err := req.Authorize("alice", "ver123")
	require.NoError(t, err)
	access, err := f.GenerateAccessToken(authorized)
	require.NoError(t, err)
	_, err = s.Put(access)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Inspect the raw database: neither the token secret, the
	// verifier, nor the session handle may appear in plaintext.
	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true})
	require.NoError(t, err)
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(tokensBucket).Get([]byte(access.Token))
		require.NotNil(t, raw)
		assert.NotContains(t, string(raw), access.TokenSecret)
		assert.NotContains(t, string(raw), access.Verifier)
		assert.NotContains(t, string(raw), access.Session.Handle)
		assert.Contains(t, string(raw), `"user":"alice"`)
		return nil
	})
	require.NoError(t, err)
}

func TestPersistentStore_UnknownConsumerLoadsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	c := testConsumer(t)
	consumers := newFakeConsumerStore(*c)

	s := openTokenStore(t, path, consumers)
	tok := requestToken(t)
	_, err := s.Put(tok)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Deregister the consumer; the token still loads, referencing no
	// consumer, and handlers will reject it.
	require.NoError(t, consumers.Delete(c.Key))

	reopened := openTokenStore(t, path, consumers)
	got, err := reopened.Get(tok.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Consumer)
}

func TestPersistentStore_IgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(tokensBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte("old-token"), []byte(`{"access-token":false,"creation-time":1000,"time-to-live":600000,"future-field":"ignored"}`))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s := openTokenStore(t, path, newFakeConsumerStore())
	got, err := s.Get("old-token")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsRequestToken())
	assert.Equal(t, AuthorizationNone, got.Authorization)
}

func TestPersistentStore_RemoveExpiredTokens(t *testing.T) {
	c := testConsumer(t)
	s := openTokenStore(t, filepath.Join(t.TempDir(), "tokens.db"), newFakeConsumerStore(*c))

	fresh := requestToken(t)
	stale := requestToken(t)
	stale.CreationTime = time.Now().Add(-time.Hour)

	_, err := s.Put(fresh)
	require.NoError(t, err)
	_, err = s.Put(stale)
	require.NoError(t, err)

	require.NoError(t, s.RemoveExpiredTokens())

	got, err := s.Get(stale.Token)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Get(fresh.Token)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPersistentStore_RemoveExpiredSessions(t *testing.T) {
	c := testConsumer(t)
	s := openTokenStore(t, filepath.Join(t.TempDir(), "tokens.db"), newFakeConsumerStore(*c))
	f := NewFactory(0, 0, 0)

	authorized, err := requestToken(t).Authorize("alice", "v1")
	require.NoError(t, err)
	live, err := f.GenerateAccessToken(authorized)
	require.NoError(t, err)

	authorized2, err := requestToken(t).Authorize("bob", "v2")
	require.NoError(t, err)
	dead, err := f.GenerateAccessToken(authorized2)
	require.NoError(t, err)
	dead.Session.LastRenewalTime = time.Now().Add(-2 * DefaultSessionTTL)

	_, err = s.Put(live)
	require.NoError(t, err)
	_, err = s.Put(dead)
	require.NoError(t, err)

	require.NoError(t, s.RemoveExpiredSessions())

	got, err := s.Get(dead.Token)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Get(live.Token)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPersistentStore_RemoveByConsumer(t *testing.T) {
	c := testConsumer(t)
	other, err := consumer.New("other-app").Name("Other").Build()
	require.NoError(t, err)

	s := openTokenStore(t, filepath.Join(t.TempDir(), "tokens.db"), newFakeConsumerStore(*c, other))
	f := NewFactory(0, 0, 0)

	mine, err := f.GenerateRequestToken(c, nil)
	require.NoError(t, err)
	theirs, err := f.GenerateRequestToken(&other, nil)
	require.NoError(t, err)

	_, err = s.Put(mine)
	require.NoError(t, err)
	_, err = s.Put(theirs)
	require.NoError(t, err)

	require.NoError(t, s.RemoveByConsumer(c.Key))

	got, err := s.Get(mine.Token)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Get(theirs.Token)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPersistentStore_GetAccessTokensForUser(t *testing.T) {
	c := testConsumer(t)
	s := openTokenStore(t, filepath.Join(t.TempDir(), "tokens.db"), newFakeConsumerStore(*c))
	f := NewFactory(0, 0, 0)

	authorized, err := requestToken(t).Authorize("Alice", "v1")
	require.NoError(t, err)
	access, err := f.GenerateAccessToken(authorized)
	require.NoError(t, err)
	_, err = s.Put(access)
	require.NoError(t, err)

	// A request token for the same user is not an access token and
	// must not match.
	reqAuthorized, err := requestToken(t).Authorize("Alice", "v2")
	require.NoError(t, err)
	_, err = s.Put(reqAuthorized)
	require.NoError(t, err)

	// Lookup is case-insensitive.
	matches, err := s.GetAccessTokensForUser("aLiCe")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, access.Token, matches[0].Token)

	matches, err = s.GetAccessTokensForUser("bob")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestPersistentStore_Batch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	c := testConsumer(t)
	consumers := newFakeConsumerStore(*c)

	s := openTokenStore(t, path, consumers)
	first := requestToken(t)
	second := requestToken(t)

	err := s.Batch(func() error {
		if _, err := s.Put(first); err != nil {
			return err
		}
		_, err := s.Put(second)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openTokenStore(t, path, consumers)
	got, err := reopened.Get(first.Token)
	require.NoError(t, err)
	assert.NotNil(t, got)
	got, err = reopened.Get(second.Token)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
