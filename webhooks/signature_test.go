package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/goliatone/go-walletsync/core"
)

func TestSignatureVerifier_AcceptsHexAndBase64(t *testing.T) {
	verifier := NewSignatureVerifier("whsec")
	body := []byte(`{"event":"participant_created"}`)

	headers := http.Header{}
	headers.Set(SignatureHeader, "sha256="+verifier.Sign(body))
	if err := verifier.Verify(headers, body); err != nil {
		t.Fatalf("hex signature: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("whsec"))
	_, _ = mac.Write(body)
	headers.Set(SignatureHeader, base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	if err := verifier.Verify(headers, body); err != nil {
		t.Fatalf("base64 signature: %v", err)
	}
}

func TestSignatureVerifier_RejectsTamperedAndMissing(t *testing.T) {
	verifier := NewSignatureVerifier("whsec")
	body := []byte(`{"event":"participant_created"}`)

	if err := verifier.Verify(http.Header{}, body); !core.IsUnauthorized(err) {
		t.Fatalf("expected missing header to be unauthorized, got %v", err)
	}
	headers := http.Header{}
	headers.Set(SignatureHeader, verifier.Sign(body))
	if err := verifier.Verify(headers, append(body, ' ')); !core.IsUnauthorized(err) {
		t.Fatalf("expected tampered body to be unauthorized, got %v", err)
	}
}

func TestSignatureVerifier_NilWhenSecretUnset(t *testing.T) {
	verifier := NewSignatureVerifier("  ")
	if verifier != nil {
		t.Fatalf("expected nil verifier")
	}
	if err := verifier.Verify(http.Header{}, []byte("{}")); err != nil {
		t.Fatalf("nil verifier should accept, got %v", err)
	}
}
