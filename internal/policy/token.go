package policy

import (
	"encoding/base64"
	"strings"
)

var tokenReplacer = strings.NewReplacer("+", "-", "/", "_")
var tokenReverser = strings.NewReplacer("-", "+", "_", "/")

// EncodeToken renders b as a URL-safe token: standard base64 with the
// padding stripped and "+" and "/" swapped for "-" and "_".
func EncodeToken(b []byte) string {
	s := base64.StdEncoding.EncodeToString(b)
	s = strings.TrimRight(s, "=")
	return tokenReplacer.Replace(s)
}

// DecodeToken reverses EncodeToken.
func DecodeToken(token string) ([]byte, error) {
	if strings.ContainsAny(token, "+/=") {
		return nil, NewEncodingError("token", ErrMalformedToken)
	}
	s := tokenReverser.Replace(token)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, NewEncodingError("token", err)
	}
	return b, nil
}
