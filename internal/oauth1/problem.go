// Package oauth1 holds the wire-level vocabulary of OAuth 1.0a:
// parameter names, problem codes, the percent/form encoding rules, and
// parsing of signed requests. It has no storage or protocol state of
// its own; the provider package layers the token lifecycle on top.
package oauth1

import (
	"fmt"
	"net/http"
	"strings"
)

// Protocol parameter names, as defined by OAuth Core 1.0 Revision A and
// the session extension.
const (
	ParamConsumerKey          = "oauth_consumer_key"
	ParamToken                = "oauth_token"
	ParamTokenSecret          = "oauth_token_secret"
	ParamCallback             = "oauth_callback"
	ParamCallbackConfirmed    = "oauth_callback_confirmed"
	ParamVerifier             = "oauth_verifier"
	ParamSignature            = "oauth_signature"
	ParamSignatureMethod      = "oauth_signature_method"
	ParamTimestamp            = "oauth_timestamp"
	ParamNonce                = "oauth_nonce"
	ParamVersion              = "oauth_version"
	ParamSessionHandle        = "oauth_session_handle"
	ParamExpiresIn            = "oauth_expires_in"
	ParamAuthorizationExpires = "oauth_authorization_expires_in"
)

// Problem reporting parameter names.
const (
	ParamProblem            = "oauth_problem"
	ParamParametersAbsent   = "oauth_parameters_absent"
	ParamParametersRejected = "oauth_parameters_rejected"
	ParamProblemAdvice      = "oauth_problem_advice"
)

// Problem codes from the OAuth problem reporting extension.
const (
	ProblemConsumerKeyUnknown      = "consumer_key_unknown"
	ProblemSignatureInvalid        = "signature_invalid"
	ProblemSignatureMethodRejected = "signature_method_rejected"
	ProblemTokenRejected           = "token_rejected"
	ProblemTokenExpired            = "token_expired"
	ProblemTokenUsed               = "token_used"
	ProblemPermissionUnknown       = "permission_unknown"
	ProblemPermissionDenied        = "permission_denied"
	ProblemParameterAbsent         = "parameter_absent"
	ProblemParameterRejected       = "parameter_rejected"
	ProblemVersionRejected         = "version_rejected"
)

// Problem is the failure type every protocol operation reports. It maps
// one-to-one onto the oauth_problem wire format.
type Problem struct {
	Code               string
	Advice             string
	ParametersAbsent   []string
	ParametersRejected []string
}

func (p *Problem) Error() string {
	var b strings.Builder
	b.WriteString(p.Code)
	if len(p.ParametersAbsent) > 0 {
		fmt.Fprintf(&b, " (absent: %s)", strings.Join(p.ParametersAbsent, ", "))
	}
	if len(p.ParametersRejected) > 0 {
		fmt.Fprintf(&b, " (rejected: %s)", strings.Join(p.ParametersRejected, ", "))
	}
	if p.Advice != "" {
		fmt.Fprintf(&b, ": %s", p.Advice)
	}

	return b.String()
}

// NewProblem returns a Problem with just a code.
func NewProblem(code string) *Problem {
	return &Problem{Code: code}
}

// MissingParameters reports a parameter_absent problem naming the
// parameters the request failed to supply.
func MissingParameters(names ...string) *Problem {
	return &Problem{Code: ProblemParameterAbsent, ParametersAbsent: names}
}

// RejectedParameter reports a parameter_rejected problem for a single
// named parameter, with human-readable advice on how to correct it.
func RejectedParameter(name, advice string) *Problem {
	return &Problem{Code: ProblemParameterRejected, ParametersRejected: []string{name}, Advice: advice}
}

// HTTPStatus maps the problem code onto the response status: 400 for
// malformed or missing parameters, 401 for everything token- or
// signature-related.
func (p *Problem) HTTPStatus() int {
	switch p.Code {
	case ProblemParameterAbsent, ProblemParameterRejected, ProblemVersionRejected, ProblemSignatureMethodRejected:
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

// Encode renders the problem as a single form-encoded line, the body
// format shared by all three endpoints.
func (p *Problem) Encode() string {
	params := []Parameter{{ParamProblem, p.Code}}
	if len(p.ParametersAbsent) > 0 {
		params = append(params, Parameter{ParamParametersAbsent, strings.Join(p.ParametersAbsent, "&")})
	}
	if len(p.ParametersRejected) > 0 {
		params = append(params, Parameter{ParamParametersRejected, strings.Join(p.ParametersRejected, "&")})
	}
	if p.Advice != "" {
		params = append(params, Parameter{ParamProblemAdvice, p.Advice})
	}

	return FormEncode(params)
}
