package auth

import (
	"crypto/subtle"
	"strings"
)

// SchemeApplePass is the authorization scheme wallet devices use for web
// service callbacks.
const SchemeApplePass = "ApplePass"

// MatchScheme reports whether header is "<scheme> <secret>". The secret is
// compared in constant time and an empty configured secret never matches.
func MatchScheme(header string, scheme string, secret string) bool {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return false
	}
	prefix, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(prefix, scheme) {
		return false
	}
	return ConstantTimeEqual(strings.TrimSpace(token), secret)
}

func ConstantTimeEqual(a string, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
