package oauth1

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- percent encoding ---

func TestPercentEncode_Unreserved(t *testing.T) {
	assert.Equal(t, "abcXYZ019-._~", PercentEncode("abcXYZ019-._~"))
}

func TestPercentEncode_Space(t *testing.T) {
	// Never '+': the strict encoding writes spaces as %20.
	assert.Equal(t, "a%20b", PercentEncode("a b"))
}

func TestPercentEncode_Reserved(t *testing.T) {
	assert.Equal(t, "%26%3D%2B%2F%3A", PercentEncode("&=+/:"))
}

func TestPercentEncode_UppercaseHex(t *testing.T) {
	assert.Equal(t, "%2F", PercentEncode("/"))
}

func TestPercentEncode_UTF8(t *testing.T) {
	assert.Equal(t, "%C3%A9", PercentEncode("é"))
}

func TestFormEncode(t *testing.T) {
	body := FormEncode([]Parameter{
		{"oauth_token", "abc 123"},
		{"oauth_callback_confirmed", "true"},
	})
	assert.Equal(t, "oauth_token=abc%20123&oauth_callback_confirmed=true", body)
}

// --- problems ---

func TestProblem_Encode(t *testing.T) {
	p := NewProblem(ProblemTokenExpired)
	assert.Equal(t, "oauth_problem=token_expired", p.Encode())
}

func TestProblem_Encode_AbsentParameters(t *testing.T) {
	p := MissingParameters("oauth_token", "oauth_verifier")
	// Names are joined with '&' and then encoded as a single value.
	assert.Equal(t, "oauth_problem=parameter_absent&oauth_parameters_absent=oauth_token%26oauth_verifier", p.Encode())
}

func TestProblem_Encode_RejectedWithAdvice(t *testing.T) {
	p := RejectedParameter("oauth_callback", "must be absolute")
	assert.Equal(t,
		"oauth_problem=parameter_rejected&oauth_parameters_rejected=oauth_callback&oauth_problem_advice=must%20be%20absolute",
		p.Encode())
}

func TestProblem_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewProblem(ProblemParameterAbsent).HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, NewProblem(ProblemParameterRejected).HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, NewProblem(ProblemVersionRejected).HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, NewProblem(ProblemSignatureMethodRejected).HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, NewProblem(ProblemTokenRejected).HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, NewProblem(ProblemConsumerKeyUnknown).HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, NewProblem(ProblemSignatureInvalid).HTTPStatus())
}

func TestProblem_Error(t *testing.T) {
	p := &Problem{Code: ProblemParameterAbsent, ParametersAbsent: []string{"oauth_token"}, Advice: "supply it"}
	assert.Equal(t, "parameter_absent (absent: oauth_token): supply it", p.Error())
}

// --- request parsing ---

func TestParseRequest_AuthorizationHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://provider.example/oauth/request-token", nil)
	r.Header.Set("Authorization",
		`OAuth realm="http://provider.example", oauth_consumer_key="key%20one", oauth_signature_method="HMAC-SHA1"`)

	msg, err := ParseRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "key one", msg.Get(ParamConsumerKey))
	assert.Equal(t, "HMAC-SHA1", msg.Get(ParamSignatureMethod))
	assert.False(t, msg.Has("realm"))
}

func TestParseRequest_PostBodyAndQuery(t *testing.T) {
	body := strings.NewReader("oauth_token=tok&oauth_verifier=ver")
	r := httptest.NewRequest(http.MethodPost, "http://provider.example/oauth/access-token?extra=1", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	msg, err := ParseRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "tok", msg.Token())
	assert.Equal(t, "ver", msg.Get(ParamVerifier))
	assert.Equal(t, "1", msg.Get("extra"))
}

func TestParseRequest_BaseURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://provider.example/oauth/authorize?oauth_token=tok", nil)

	msg, err := ParseRequest(r)
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, msg.Method)
	assert.Equal(t, "http://provider.example/oauth/authorize", msg.BaseURL)
}

func TestParseRequest_BaseURL_DefaultPortOmitted(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://provider.example/oauth/request-token", nil)
	r.Host = "Provider.Example:80"

	msg, err := ParseRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "http://provider.example/oauth/request-token", msg.BaseURL)

	r = httptest.NewRequest(http.MethodPost, "https://provider.example:443/oauth/request-token", nil)

	msg, err = ParseRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "https://provider.example/oauth/request-token", msg.BaseURL)
}

func TestParseRequest_BaseURL_NonDefaultPortKept(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://provider.example:8080/oauth/request-token", nil)

	msg, err := ParseRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "http://provider.example:8080/oauth/request-token", msg.BaseURL)
}

func TestParseRequest_OtherAuthSchemeIgnored(t *testing.T) {
	for _, header := range []string{
		`OAuth2 oauth_token="tok"`,
		`OAuthFoo oauth_token="tok"`,
		`Basic dXNlcjpwYXNz`,
	} {
		r := httptest.NewRequest(http.MethodGet, "http://provider.example/oauth/authorize", nil)
		r.Header.Set("Authorization", header)

		msg, err := ParseRequest(r)
		require.NoError(t, err)
		assert.False(t, msg.Has(ParamToken), "header %q must not contribute parameters", header)
	}
}

func TestParseRequest_MalformedBody(t *testing.T) {
	body := strings.NewReader("oauth_token=%zz")
	r := httptest.NewRequest(http.MethodPost, "http://provider.example/oauth/access-token", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := ParseRequest(r)
	var problem *Problem
	require.ErrorAs(t, err, &problem)
	assert.Equal(t, ProblemParameterRejected, problem.Code)
	assert.Empty(t, problem.ParametersRejected)
	assert.NotContains(t, problem.Encode(), ParamParametersRejected)
}

func TestMessage_Require(t *testing.T) {
	msg := NewMessage(http.MethodPost, "http://provider.example/x", []Parameter{
		{ParamToken, "tok"},
	})

	require.Nil(t, msg.Require(ParamToken))

	problem := msg.Require(ParamToken, ParamVerifier, ParamSignature)
	require.NotNil(t, problem)
	assert.Equal(t, ProblemParameterAbsent, problem.Code)
	assert.Equal(t, []string{ParamVerifier, ParamSignature}, problem.ParametersAbsent)
}

func TestMessage_Get_BlankParameterPresent(t *testing.T) {
	msg := NewMessage(http.MethodPost, "http://provider.example/x", []Parameter{
		{ParamCallback, ""},
	})

	assert.True(t, msg.Has(ParamCallback))
	assert.Equal(t, "", msg.Get(ParamCallback))
	assert.Nil(t, msg.Require(ParamCallback))
}
