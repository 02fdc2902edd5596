package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/goliatone/go-walletsync/core"
)

// SignatureHeader carries the HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Perk-Signature"

// SignatureVerifier checks the webhook signature header against the raw body.
// Hex and base64 encodings are accepted, with an optional "sha256=" prefix.
type SignatureVerifier struct {
	Secret string
	Header string
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &SignatureVerifier{Secret: secret, Header: SignatureHeader}
}

// Verify is a no-op on a nil verifier so an unset secret disables checking.
func (v *SignatureVerifier) Verify(headers http.Header, body []byte) error {
	if v == nil {
		return nil
	}
	header := v.Header
	if header == "" {
		header = SignatureHeader
	}
	signature := strings.TrimSpace(headers.Get(header))
	if signature == "" {
		return core.UnauthorizedError("webhooks: " + header + " header is required")
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(v.Secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	decoded, err := hex.DecodeString(signature)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(signature)
	}
	if err != nil || subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return core.UnauthorizedError("webhooks: signature verification failed")
	}
	return nil
}

// Sign returns the hex signature a sender would attach to body.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
