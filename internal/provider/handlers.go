package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oauth1x/provider/internal/oauth1"
	"github.com/oauth1x/provider/internal/users"
)

// HandleRequestToken returns the request-token endpoint handler. The
// consumer POSTs a signed request and receives the token, its secret,
// and callback confirmation as a form-encoded body.
func HandleRequestToken(p *Provider, realm string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		msg, err := oauth1.ParseRequest(r)
		if err != nil {
			writeError(w, err, realm, logger)
			return
		}

		result, err := p.IssueRequestToken(msg)
		if err != nil {
			writeError(w, err, realm, logger)
			return
		}

		writeFormEncoded(w, []oauth1.Parameter{
			{Name: oauth1.ParamToken, Value: result.Token},
			{Name: oauth1.ParamTokenSecret, Value: result.TokenSecret},
			{Name: oauth1.ParamCallbackConfirmed, Value: strconv.FormatBool(result.CallbackConfirmed)},
		})
	}
}

// HandleAuthorize returns the authorize endpoint handler. The resource
// owner authenticates with basic auth and GETs with oauth_token; the
// verifier comes back as JSON for out-of-band display or for the host
// application to fold into a redirect.
func HandleAuthorize(p *Provider, creds users.Credentials, realm string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok || !creds.Authenticate(username, password) {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		msg, err := oauth1.ParseRequest(r)
		if err != nil {
			writeError(w, err, realm, logger)
			return
		}
		if problem := msg.Require(oauth1.ParamToken); problem != nil {
			writeError(w, problem, realm, logger)
			return
		}

		verifier, err := p.Authorize(msg.Token(), username)
		if err != nil {
			writeError(w, err, realm, logger)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"authorizeCode": verifier})
	}
}

// HandleAccessToken returns the access-token endpoint handler,
// covering both the verifier exchange and session-handle renewal.
func HandleAccessToken(p *Provider, realm string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		msg, err := oauth1.ParseRequest(r)
		if err != nil {
			writeError(w, err, realm, logger)
			return
		}

		result, err := p.ExchangeAccessToken(msg)
		if err != nil {
			writeError(w, err, realm, logger)
			return
		}

		writeFormEncoded(w, []oauth1.Parameter{
			{Name: oauth1.ParamToken, Value: result.Token},
			{Name: oauth1.ParamTokenSecret, Value: result.TokenSecret},
			{Name: oauth1.ParamExpiresIn, Value: strconv.FormatInt(int64(result.ExpiresIn.Seconds()), 10)},
			{Name: oauth1.ParamSessionHandle, Value: result.SessionHandle},
			{Name: oauth1.ParamAuthorizationExpires, Value: strconv.FormatInt(int64(result.SessionExpiresIn.Seconds()), 10)},
		})
	}
}

// writeFormEncoded writes an OAuth form-encoded success body. OAuth
// form encoding never writes spaces as '+', so the content type is
// text/plain rather than application/x-www-form-urlencoded.
func writeFormEncoded(w http.ResponseWriter, params []oauth1.Parameter) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, oauth1.FormEncode(params))
}

// writeError maps an operation failure onto the wire: problems become
// a single oauth_problem line with their status code; anything else is
// an opaque storage failure that must not leak partial state.
func writeError(w http.ResponseWriter, err error, realm string, logger *slog.Logger) {
	problem, ok := err.(*oauth1.Problem)
	if !ok {
		logger.Error("internal failure handling OAuth request", slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	status := problem.HTTPStatus()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("OAuth realm=%q", realm))
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprint(w, problem.Encode())
}
