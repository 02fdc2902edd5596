// Package security encrypts program API credentials before they are stored.
package security

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/goliatone/go-walletsync/core"
)

const keySize = 32

var hkdfInfoCredential = []byte("walletsync.program.credential.v1")

type Option func(*CredentialCipher)

// CredentialCipher seals secrets with XChaCha20-Poly1305 under a key derived
// from the configured key material with HKDF-SHA256. The key id and version
// are bound as additional data.
type CredentialCipher struct {
	key     []byte
	keyID   string
	version int
}

func WithKeyID(id string) Option {
	return func(c *CredentialCipher) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(c *CredentialCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

func NewCredentialCipher(keyMaterial []byte, opts ...Option) (*CredentialCipher, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, core.ConfigurationError("WALLETSYNC_SECURITY_CREDENTIAL_KEY", "security: key material is required")
	}
	key, err := deriveKey(material)
	if err != nil {
		return nil, err
	}
	c := &CredentialCipher{key: key, keyID: "credential-key", version: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func NewCredentialCipherFromString(key string, opts ...Option) (*CredentialCipher, error) {
	return NewCredentialCipher([]byte(key), opts...)
}

func deriveKey(material []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, material, nil, hkdfInfoCredential)
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}
	return key, nil
}

func (c *CredentialCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: credential cipher is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, c.additionalData(c.keyID, c.version))
	return encodeEnvelope(envelope{
		KeyID:      c.keyID,
		Version:    c.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
}

func (c *CredentialCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: credential cipher is nil")
	}
	parsed, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	if parsed.Algorithm != "" && parsed.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("security: unsupported algorithm %q", parsed.Algorithm)
	}
	if parsed.KeyID != c.keyID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, c.keyID)
	}
	if parsed.Version != c.version {
		return nil, fmt.Errorf("security: key version mismatch: got %d want %d", parsed.Version, c.version)
	}
	nonce, err := decodeField("nonce", parsed.Nonce)
	if err != nil {
		return nil, err
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("security: nonce has %d bytes", len(nonce))
	}
	sealed, err := decodeField("ciphertext", parsed.Ciphertext)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, sealed, c.additionalData(parsed.KeyID, parsed.Version))
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (c *CredentialCipher) additionalData(keyID string, version int) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", envelopeAlgorithm, keyID, version))
}

func (c *CredentialCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *CredentialCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.version
}

var _ core.SecretProvider = (*CredentialCipher)(nil)
