package oauth1

import "strings"

// Parameter is a single name/value pair in a form-encoded body or a
// signature base string.
type Parameter struct {
	Name  string
	Value string
}

// PercentEncode applies the strict RFC 3986 encoding OAuth 1.0 requires
// (section 5.1): only ALPHA, DIGIT, '-', '.', '_', '~' pass through.
// Notably a space becomes %20, never '+', which is why responses are
// served as text/plain rather than application/x-www-form-urlencoded.
func PercentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}

	return b.String()
}

const upperhex = "0123456789ABCDEF"

func isUnreserved(c byte) bool {
	return c >= 'A' && c <= 'Z' ||
		c >= 'a' && c <= 'z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// FormEncode renders parameters as name=value pairs joined by '&', with
// both sides percent-encoded per PercentEncode.
func FormEncode(params []Parameter) string {
	pairs := make([]string, len(params))
	for i, p := range params {
		pairs[i] = PercentEncode(p.Name) + "=" + PercentEncode(p.Value)
	}

	return strings.Join(pairs, "&")
}
