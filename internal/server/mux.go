// Package server provides HTTP server construction for the OAuth
// provider endpoints.
package server

import (
	"log/slog"
	"net/http"

	"github.com/oauth1x/provider/internal/provider"
	"github.com/oauth1x/provider/internal/users"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Provider *provider.Provider
	Users    users.Credentials
	Realm    string
	Logger   *slog.Logger
}

// NewMux builds the HTTP mux with the three-legged OAuth endpoints:
// request-token issuance, resource-owner authorization, and access
// token exchange/renewal.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/request-token", provider.HandleRequestToken(cfg.Provider, cfg.Realm, cfg.Logger))
	mux.HandleFunc("/oauth/authorize", provider.HandleAuthorize(cfg.Provider, cfg.Users, cfg.Realm, cfg.Logger))
	mux.HandleFunc("/oauth/access-token", provider.HandleAccessToken(cfg.Provider, cfg.Realm, cfg.Logger))
	return mux
}
