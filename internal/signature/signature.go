// Package signature verifies OAuth 1.0a request signatures against a
// consumer's credential material: HMAC-SHA1 with the shared secret, or
// RSA-SHA1 with the consumer's registered public key.
package signature

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"sort"
	"strings"

	"github.com/oauth1x/provider/internal/consumer"
	"github.com/oauth1x/provider/internal/oauth1"
)

// Wire names of the signature methods, as they appear in the
// oauth_signature_method parameter.
const (
	methodHMACSHA1 = "HMAC-SHA1"
	methodRSASHA1  = "RSA-SHA1"
)

// Validator checks that a request was signed by the consumer it claims
// to come from. The zero value is ready to use.
type Validator struct{}

// NewValidator returns a request signature validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate verifies the signature of msg using the consumer's
// credential material and the secret of the token named in the request
// (empty for the initial request-token call). Failures are reported as
// oauth_problem values.
func (v *Validator) Validate(msg *oauth1.Message, c *consumer.Consumer, tokenSecret string) error {
	if problem := msg.Require(
		oauth1.ParamSignature,
		oauth1.ParamSignatureMethod,
		oauth1.ParamTimestamp,
		oauth1.ParamNonce,
	); problem != nil {
		return problem
	}

	if version := msg.Get(oauth1.ParamVersion); version != "" && version != "1.0" {
		return oauth1.NewProblem(oauth1.ProblemVersionRejected)
	}

	method := msg.Get(oauth1.ParamSignatureMethod)
	base := baseString(msg)
	sig := msg.Get(oauth1.ParamSignature)

	switch c.SignatureMethod {
	case consumer.HMACSHA1:
		if method != methodHMACSHA1 {
			return oauth1.NewProblem(oauth1.ProblemSignatureMethodRejected)
		}
		return verifyHMAC(base, sig, c.Secret, tokenSecret)
	case consumer.RSASHA1:
		if method != methodRSASHA1 {
			return oauth1.NewProblem(oauth1.ProblemSignatureMethodRejected)
		}
		return verifyRSA(base, sig, c.PublicKey)
	default:
		return oauth1.NewProblem(oauth1.ProblemSignatureMethodRejected)
	}
}

func verifyHMAC(base, signature, consumerSecret, tokenSecret string) error {
	key := oauth1.PercentEncode(consumerSecret) + "&" + oauth1.PercentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return oauth1.NewProblem(oauth1.ProblemSignatureInvalid)
	}

	return nil
}

func verifyRSA(base, signature string, key *rsa.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return oauth1.NewProblem(oauth1.ProblemSignatureInvalid)
	}

	digest := sha1.Sum([]byte(base))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA1, digest[:], sig); err != nil {
		return oauth1.NewProblem(oauth1.ProblemSignatureInvalid)
	}

	return nil
}

// baseString builds the signature base string of RFC 5849 section
// 3.4.1: METHOD&enc(url)&enc(normalized-parameters).
func baseString(msg *oauth1.Message) string {
	params := make([]oauth1.Parameter, 0, len(msg.Parameters()))
	for _, p := range msg.Parameters() {
		if p.Name == oauth1.ParamSignature {
			continue
		}
		params = append(params, p)
	}

	sort.Slice(params, func(i, j int) bool {
		if params[i].Name != params[j].Name {
			return params[i].Name < params[j].Name
		}
		return params[i].Value < params[j].Value
	})

	normalized := oauth1.FormEncode(params)

	return strings.ToUpper(msg.Method) + "&" +
		oauth1.PercentEncode(msg.BaseURL) + "&" +
		oauth1.PercentEncode(normalized)
}

// Sign computes the signature for msg with the given credentials.
// Consumer-side tooling and the test suite use it; the provider only
// verifies.
func Sign(msg *oauth1.Message, method, consumerSecret, tokenSecret string, key *rsa.PrivateKey) (string, error) {
	base := baseString(msg)
	switch method {
	case methodHMACSHA1:
		hmacKey := oauth1.PercentEncode(consumerSecret) + "&" + oauth1.PercentEncode(tokenSecret)
		mac := hmac.New(sha1.New, []byte(hmacKey))
		mac.Write([]byte(base))
		return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
	case methodRSASHA1:
		digest := sha1.Sum([]byte(base))
		sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA1, digest[:])
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(sig), nil
	default:
		return "", oauth1.NewProblem(oauth1.ProblemSignatureMethodRejected)
	}
}
