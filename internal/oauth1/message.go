package oauth1

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Message is a parsed OAuth request: the HTTP method, the base URL the
// request was made against, and every oauth_* and body/query parameter
// that participates in the protocol. Parameters are collected from the
// Authorization header, the POST body, and the query string, in that
// order of precedence for lookups.
type Message struct {
	Method  string
	BaseURL string

	params []Parameter
}

// NewMessage builds a message directly from parameters. Used by tests
// and by callers that already hold decoded parameters.
func NewMessage(method, baseURL string, params []Parameter) *Message {
	return &Message{Method: method, BaseURL: baseURL, params: params}
}

// ParseRequest extracts the OAuth message from an incoming HTTP
// request. Parameters are gathered from the Authorization: OAuth header
// (realm excluded), a form-encoded POST body, and the query string.
func ParseRequest(r *http.Request) (*Message, error) {
	var params []Parameter

	if auth := r.Header.Get("Authorization"); hasOAuthScheme(auth) {
		params = append(params, parseAuthorizationHeader(auth)...)
	}

	if err := r.ParseForm(); err != nil {
		return nil, &Problem{Code: ProblemParameterRejected, Advice: "request body is not valid form encoding"}
	}
	// PostForm never includes the query string, so the two sources
	// below cannot duplicate each other.
	params = append(params, sortedValues(r.PostForm)...)
	params = append(params, sortedValues(r.URL.Query())...)

	return &Message{
		Method:  r.Method,
		BaseURL: requestBaseURL(r),
		params:  params,
	}, nil
}

// hasOAuthScheme reports whether the header carries the "OAuth" auth
// scheme. The scheme token must stand alone; "OAuth2" or "OAuthFoo"
// are different schemes.
func hasOAuthScheme(header string) bool {
	if len(header) < 5 || !strings.EqualFold(header[:5], "OAuth") {
		return false
	}

	return len(header) == 5 || header[5] == ' ' || header[5] == '\t'
}

// parseAuthorizationHeader splits an "OAuth a="b", c="d"" header into
// decoded parameters, skipping the realm.
func parseAuthorizationHeader(header string) []Parameter {
	var params []Parameter
	for _, part := range strings.Split(header[5:], ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.EqualFold(name, "realm") {
			continue
		}
		value = strings.Trim(value, `"`)
		decoded, err := url.PathUnescape(value)
		if err != nil {
			decoded = value
		}
		params = append(params, Parameter{Name: name, Value: decoded})
	}

	return params
}

func sortedValues(values url.Values) []Parameter {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var params []Parameter
	for _, name := range names {
		for _, value := range values[name] {
			params = append(params, Parameter{Name: name, Value: value})
		}
	}

	return params
}

// requestBaseURL reconstructs the signature base URL per RFC 5849
// section 3.4.1.2: lowercase scheme and host, default ports omitted.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	host := strings.ToLower(r.Host)
	switch scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}

	return scheme + "://" + host + r.URL.EscapedPath()
}

// Get returns the first value of the named parameter, or "".
func (m *Message) Get(name string) string {
	for _, p := range m.params {
		if p.Name == name {
			return p.Value
		}
	}

	return ""
}

// Has reports whether the named parameter is present, even if blank.
func (m *Message) Has(name string) bool {
	for _, p := range m.params {
		if p.Name == name {
			return true
		}
	}

	return false
}

// Require returns a parameter_absent problem naming every listed
// parameter the message is missing, or nil when all are present.
func (m *Message) Require(names ...string) *Problem {
	var absent []string
	for _, name := range names {
		if !m.Has(name) {
			absent = append(absent, name)
		}
	}
	if len(absent) > 0 {
		return MissingParameters(absent...)
	}

	return nil
}

// Parameters returns a copy of every parameter in the message.
func (m *Message) Parameters() []Parameter {
	out := make([]Parameter, len(m.params))
	copy(out, m.params)

	return out
}

// ConsumerKey is shorthand for Get(ParamConsumerKey).
func (m *Message) ConsumerKey() string { return m.Get(ParamConsumerKey) }

// Token is shorthand for Get(ParamToken).
func (m *Message) Token() string { return m.Get(ParamToken) }
