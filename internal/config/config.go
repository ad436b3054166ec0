// Package config loads environment-based configuration for the OAuth
// provider service.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/oauth1x/provider/internal/users"
)

// Config holds all environment-based configuration for the provider.
type Config struct {
	// Directory holding the consumer and token store files.
	DataDir string `env:"OAUTH_DATA_DIR" envDefault:"data"`

	// Master key used to derive the secret-encryption key for values
	// persisted in the token store.
	MasterKey string `env:"OAUTH_MASTER_KEY"`

	// Address the HTTP server binds to.
	ListenAddr string `env:"OAUTH_LISTEN_ADDR" envDefault:":8080"`

	// Realm reported in WWW-Authenticate challenges.
	Realm string `env:"OAUTH_REALM" envDefault:"oauth-provider"`

	// Resource-owner credentials for the authorization endpoint.
	// Format: "user1:bcrypt-hash1,user2:bcrypt-hash2"
	AuthUsers string `env:"OAUTH_AUTH_USERS"`

	// Token lifetimes. Zero values fall back to the package defaults
	// (10 minutes for request tokens, five years for access tokens,
	// five years plus thirty days for sessions).
	RequestTokenTTL time.Duration `env:"OAUTH_REQUEST_TOKEN_TTL"`
	AccessTokenTTL  time.Duration `env:"OAUTH_ACCESS_TOKEN_TTL"`
	SessionTTL      time.Duration `env:"OAUTH_SESSION_TTL"`

	// Interval between expired-token sweeps of the token store.
	SweepInterval time.Duration `env:"OAUTH_SWEEP_INTERVAL" envDefault:"1h"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve DataDir to an absolute path at startup so the store file
	// locations do not depend on the working directory at open time.
	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	cfg.DataDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MasterKey == "" {
		return fmt.Errorf("OAUTH_MASTER_KEY is required")
	}

	if c.AuthUsers == "" {
		return fmt.Errorf("OAUTH_AUTH_USERS is required")
	}

	if c.RequestTokenTTL < 0 || c.AccessTokenTTL < 0 || c.SessionTTL < 0 {
		return fmt.Errorf("token lifetimes must not be negative")
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("OAUTH_SWEEP_INTERVAL must be positive")
	}

	return nil
}

// ParseAuthUsers parses the OAUTH_AUTH_USERS string into a
// credentials map for the authorization endpoint.
func (c *Config) ParseAuthUsers() (users.Credentials, error) {
	return users.ParseCredentials(c.AuthUsers)
}

// ConsumerStorePath returns the on-disk location of the consumer store.
func (c *Config) ConsumerStorePath() string {
	return filepath.Join(c.DataDir, "consumers.db")
}

// TokenStorePath returns the on-disk location of the token store.
func (c *Config) TokenStorePath() string {
	return filepath.Join(c.DataDir, "tokens.db")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
