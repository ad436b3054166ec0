package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauth1x/provider/internal/consumer"
	"github.com/oauth1x/provider/internal/provider"
	"github.com/oauth1x/provider/internal/secrets"
	"github.com/oauth1x/provider/internal/signature"
	"github.com/oauth1x/provider/internal/token"
	"github.com/oauth1x/provider/internal/users"
)

func testMux(t *testing.T) *http.ServeMux {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	dir := t.TempDir()

	consumers, err := consumer.NewPersistentStore(filepath.Join(dir, "consumers.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { consumers.Close() })

	cipher, err := secrets.NewAESCipher("test-master-key")
	require.NoError(t, err)

	tokens, err := token.NewPersistentStore(filepath.Join(dir, "tokens.db"), consumers, cipher, logger)
	require.NoError(t, err)
	t.Cleanup(func() { tokens.Close() })

	p := provider.New(consumers, tokens, token.NewFactory(0, 0, 0), signature.NewValidator(), logger)

	return NewMux(MuxConfig{
		Provider: p,
		Users:    users.Credentials{},
		Realm:    "test",
		Logger:   logger,
	})
}

func TestNewMux_Routes(t *testing.T) {
	mux := testMux(t)

	// Each endpoint is wired: no route answers 404, and each enforces
	// its method.
	for path, allowed := range map[string]string{
		"/oauth/request-token": http.MethodPost,
		"/oauth/authorize":     http.MethodGet,
		"/oauth/access-token":  http.MethodPost,
	} {
		wrong := http.MethodGet
		if allowed == http.MethodGet {
			wrong = http.MethodPost
		}

		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(wrong, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "path %s", path)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
