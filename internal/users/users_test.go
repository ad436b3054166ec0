package users

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashOf(t *testing.T, password string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	return string(hash)
}

func TestParseCredentials(t *testing.T) {
	aliceHash := hashOf(t, "s3cret")
	bobHash := hashOf(t, "hunter2")

	creds, err := ParseCredentials("alice:" + aliceHash + ", bob:" + bobHash)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, aliceHash, creds["alice"])
	assert.Equal(t, bobHash, creds["bob"])
}

func TestParseCredentials_Empty(t *testing.T) {
	creds, err := ParseCredentials("")
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestParseCredentials_Invalid(t *testing.T) {
	_, err := ParseCredentials("alice")
	require.Error(t, err)

	_, err = ParseCredentials("alice:")
	require.Error(t, err)

	_, err = ParseCredentials(":hash")
	require.Error(t, err)

	// Plaintext passwords are rejected, only bcrypt hashes pass.
	_, err = ParseCredentials("alice:plaintext-password")
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	creds := Credentials{"alice": hashOf(t, "s3cret")}

	assert.True(t, creds.Authenticate("alice", "s3cret"))
	assert.False(t, creds.Authenticate("alice", "wrong"))
	assert.False(t, creds.Authenticate("bob", "s3cret"))
	assert.False(t, creds.Authenticate("", ""))
}
