package security

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-walletsync/core"
)

func TestCredentialCipher_RoundTrip(t *testing.T) {
	cipher, err := NewCredentialCipherFromString("super-secret-test-key", WithKeyID("walletsync-v1"), WithVersion(3))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	plaintext := []byte("perk-api-key-123")
	encrypted, err := cipher.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(encrypted, plaintext) {
		t.Fatalf("expected ciphertext not to contain the plaintext")
	}
	if !IsEnvelope(encrypted) {
		t.Fatalf("expected envelope prefix")
	}
	meta, err := ParseEnvelopeMetadata(encrypted)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.KeyID != "walletsync-v1" || meta.Version != 3 || meta.Algorithm != envelopeAlgorithm {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	decrypted, err := cipher.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected round trip, got %q", decrypted)
	}
}

func TestCredentialCipher_FreshNoncePerSeal(t *testing.T) {
	cipher, _ := NewCredentialCipherFromString("key")
	first, _ := cipher.Encrypt(context.Background(), []byte("same"))
	second, _ := cipher.Encrypt(context.Background(), []byte("same"))
	if bytes.Equal(first, second) {
		t.Fatalf("expected distinct ciphertexts for repeated plaintext")
	}
}

func TestCredentialCipher_RejectsMismatchedKeys(t *testing.T) {
	issuer, _ := NewCredentialCipherFromString("key-a", WithKeyID("walletsync-v1"))
	otherMaterial, _ := NewCredentialCipherFromString("key-b", WithKeyID("walletsync-v1"))
	otherID, _ := NewCredentialCipherFromString("key-a", WithKeyID("walletsync-v2"))

	encrypted, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := otherMaterial.Decrypt(context.Background(), encrypted); err == nil {
		t.Fatalf("expected authentication failure under another key")
	}
	if _, err := otherID.Decrypt(context.Background(), encrypted); err == nil || !strings.Contains(err.Error(), "key id mismatch") {
		t.Fatalf("expected key id mismatch, got %v", err)
	}
}

func TestCredentialCipher_RejectsTamperedEnvelope(t *testing.T) {
	cipher, _ := NewCredentialCipherFromString("key")
	encrypted, _ := cipher.Encrypt(context.Background(), []byte("payload"))
	tampered := bytes.Replace(encrypted, []byte(`"ver":1`), []byte(`"ver":2`), 1)
	if _, err := cipher.Decrypt(context.Background(), tampered); err == nil {
		t.Fatalf("expected tampered version to fail")
	}
	if _, err := cipher.Decrypt(context.Background(), []byte("plain-text")); err == nil {
		t.Fatalf("expected missing prefix to fail")
	}
}

func TestNewCredentialCipher_RequiresKey(t *testing.T) {
	_, err := NewCredentialCipher([]byte("  "))
	if !core.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
